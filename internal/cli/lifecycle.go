package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/unitforge/internal/handler"
	"github.com/danieljhkim/unitforge/internal/manager"
)

// forwardOp is a command that moves one unit forward through its lifecycle.
type forwardOp struct {
	name  string
	short string
	long  string
	group string
	run   func(*manager.Manager, context.Context, *manager.Request) (*manager.OpResult, error)
}

// teardownOp is a command that undoes lifecycle phases, optionally for
// every installed unit.
type teardownOp struct {
	name  string
	short string
	long  string
	group string
	run   func(*manager.Manager, context.Context, *manager.Request) ([]*manager.OpResult, error)
}

var forwardOps = []forwardOp{
	{name: "download", short: "Fetch a unit's sources", group: "build-lifecycle", run: (*manager.Manager).Download},
	{name: "extract", short: "Unpack a unit's sources", group: "build-lifecycle", run: (*manager.Manager).Extract},
	{name: "patch", short: "Apply a unit's patches", group: "build-lifecycle", run: (*manager.Manager).Patch},
	{name: "configure", short: "Configure a unit's build tree", group: "build-lifecycle", run: (*manager.Manager).Configure},
	{name: "build", short: "Build a unit", group: "build-lifecycle", run: (*manager.Manager).Build},
	{name: "destroot", short: "Stage a unit's install tree", group: "build-lifecycle", run: (*manager.Manager).Destroot},
	{
		name:  "install",
		short: "Build, activate and mark a unit installed",
		long: `Build the unit and link its staged tree into the live filesystem.

Dependencies are brought up first. If another version of the unit is active,
it is deactivated once the new version has been staged.`,
		group: "activation",
		run:   (*manager.Manager).Install,
	},
	{
		name:  "activate",
		short: "Link a unit's staged tree into the live filesystem",
		long: `Link every file of the unit's staged tree into the live filesystem.

Fails if another version of the unit is active; use install to switch versions.`,
		group: "activation",
		run:   (*manager.Manager).Activate,
	},
}

var teardownOps = []teardownOp{
	{name: "deactivate", short: "Unlink a unit from the live filesystem", group: "activation", run: (*manager.Manager).Deactivate},
	{name: "uninstall", short: "Deactivate a unit and clear its installed mark", group: "activation", run: (*manager.Manager).Uninstall},
	{name: "clean", short: "Run a unit's clean step", group: "teardown", run: (*manager.Manager).Clean},
	{name: "distclean", short: "Run a unit's distclean step", group: "teardown", run: (*manager.Manager).Distclean},
	{name: "unpatch", short: "Revert a unit's patches", group: "teardown", run: (*manager.Manager).Unpatch},
	{name: "delete-destroot", short: "Remove a unit's staged tree", group: "teardown", run: (*manager.Manager).DeleteDestroot},
	{name: "delete-build", short: "Remove a unit's build tree", group: "teardown", run: (*manager.Manager).DeleteBuild},
	{name: "delete-source", short: "Remove a unit's source tree", group: "teardown", run: (*manager.Manager).DeleteSource},
	{
		name:  "delete-download",
		short: "Remove a unit's downloads and everything built from them",
		group: "teardown",
		run:   (*manager.Manager).DeleteDownload,
	},
}

func newForwardCmd(op forwardOp) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     op.name + " <unit>",
		Short:   op.short,
		Long:    op.long,
		GroupID: op.group,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			sess, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			result, err := op.run(sess.mgr, ctx, &manager.Request{Unit: args[0], Force: force})
			if err != nil {
				printConflicts(err)
				return err
			}
			if jsonOutput {
				return outputJSON(result)
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Run the step again even if it already completed")
	return cmd
}

func newTeardownCmd(op teardownOp) *cobra.Command {
	var force, all bool
	cmd := &cobra.Command{
		Use:     op.name + " [unit]",
		Short:   op.short,
		Long:    op.long,
		GroupID: op.group,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("a unit name cannot be combined with --all")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("accepts 1 arg or --all, received %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			sess, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			req := &manager.Request{Force: force, All: all}
			if len(args) > 0 {
				req.Unit = args[0]
			}
			results, err := op.run(sess.mgr, ctx, req)
			if jsonOutput {
				if err != nil {
					return err
				}
				return outputJSON(results)
			}
			for _, r := range results {
				printResult(r)
			}
			if err != nil {
				return err
			}
			if all && len(results) == 0 {
				PrintEmptyState("No installed units.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Run the step even if its phase is not recorded")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Apply to every installed unit")
	return cmd
}

func printResult(r *manager.OpResult) {
	key := r.Unit + "@" + r.Version
	if r.AlreadyActive {
		PrintWarning(fmt.Sprintf("%s: already activated", key))
		return
	}
	if len(r.Executed) == 0 {
		PrintInfo(fmt.Sprintf("%s: nothing to do for %s", key, r.Sequence))
		return
	}
	PrintSuccess(fmt.Sprintf("%s: %s", key, r.Sequence))
	PrintLabelValue("Ran", strings.Join(r.Executed, " -> "))
	if len(r.Dependencies) > 0 {
		PrintLabelValue("Dependencies", strings.Join(r.Dependencies, ", "))
	}
	if r.Replaced != "" {
		PrintLabelValue("Replaced", r.Replaced)
	}
	PrintPhases(r.Phases)
}

func printConflicts(err error) {
	var ce *handler.ConflictError
	if !errors.As(err, &ce) {
		return
	}
	PrintSection("Conflicts Detected")
	for _, c := range ce.Conflicts {
		PrintError(fmt.Sprintf("%s: %s", c.Path, c.Reason))
	}
	fmt.Println()
	PrintWarning("Set activation.on_conflict: skip to activate the remaining files.")
}
