package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var providesCmd = &cobra.Command{
	Use:   "provides",
	Short: "Manage dependencies provided by the host system",
	Long: `Manage the registry of dependencies satisfied by the host system.

A name listed here is never built as a unit; the resolver treats it as present.`,
}

var providesAddCmd = &cobra.Command{
	Use:   "add <name> [version]",
	Short: "Mark a dependency as system-provided",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(context.Background())
		if err != nil {
			return err
		}
		defer sess.Close()

		version := ""
		if len(args) > 1 {
			version = args[1]
		}
		if err := sess.mgr.ProvidesAdd(args[0], version); err != nil {
			return err
		}
		PrintSuccess(fmt.Sprintf("%s is now system-provided", args[0]))
		return nil
	},
}

var providesRmCmd = &cobra.Command{
	Use:     "rm <name>",
	Aliases: []string{"remove"},
	Short:   "Stop treating a dependency as system-provided",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(context.Background())
		if err != nil {
			return err
		}
		defer sess.Close()

		if err := sess.mgr.ProvidesRemove(args[0]); err != nil {
			return err
		}
		PrintSuccess(fmt.Sprintf("%s removed from system-provided dependencies", args[0]))
		return nil
	},
}

var providesLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List system-provided dependencies",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(context.Background())
		if err != nil {
			return err
		}
		defer sess.Close()

		entries, err := sess.mgr.ProvidesList()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(entries)
		}
		PrintSection("System-Provided Dependencies")
		if len(entries) == 0 {
			PrintEmptyState("None registered.")
			return nil
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.Name, e.Version})
		}
		PrintTable([]string{"NAME", "VERSION"}, rows)
		return nil
	},
}

func init() {
	providesCmd.AddCommand(providesAddCmd)
	providesCmd.AddCommand(providesRmCmd)
	providesCmd.AddCommand(providesLsCmd)
}
