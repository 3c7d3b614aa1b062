package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/unitforge/internal/depend"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed units",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		sess, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		installed, err := sess.mgr.List(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(installed)
		}

		PrintSection("Installed Units")
		if len(installed) == 0 {
			PrintEmptyState("No units installed.")
			return nil
		}
		rows := make([][]string, 0, len(installed))
		for _, inst := range installed {
			rows = append(rows, []string{inst.Unit, inst.Version, inst.Date.Local().Format("2006-01-02 15:04")})
		}
		PrintTable([]string{"UNIT", "VERSION", "INSTALLED"}, rows)
		return nil
	},
}

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "List defined units",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(context.Background())
		if err != nil {
			return err
		}
		defer sess.Close()

		names, err := sess.mgr.Units()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(names)
		}
		PrintSection("Defined Units")
		if len(names) == 0 {
			PrintEmptyState("No unit definitions found.")
			return nil
		}
		PrintList(names, 1)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <unit>",
	Short: "Show the recorded state of a unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		sess, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		st, err := sess.mgr.Status(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(st)
		}

		PrintSection(st.Unit + "@" + st.Version)
		if !st.Defined {
			PrintWarning("No definition found; showing recorded state only.")
		}
		if st.Info != nil && st.Info.Description != "" {
			PrintLabelValue("Description", st.Info.Description)
		}
		PrintLabelValue("Stage", st.Stage.String())
		PrintPhases(st.Phases)
		if st.Info != nil && st.Info.Homepage != "" {
			PrintLabelValue("Homepage", st.Info.Homepage)
		}
		if st.Installed != nil {
			PrintLabelValue("Installed", st.Installed.Date.Local().Format("2006-01-02 15:04"))
		}
		if len(st.Active) > 0 {
			PrintLabelValue("Active", strings.Join(st.Active, ", "))
		}
		PrintLabelValue("Files", PrintCount(st.Files, "file", "files"))

		dirs := st.Directories
		if dirs.Download == "" && dirs.Source == "" && dirs.Build == "" && dirs.Destroot == "" {
			return nil
		}
		PrintSubsection("Directories")
		for _, d := range []struct{ label, path string }{
			{"Download", dirs.Download},
			{"Source", dirs.Source},
			{"Build", dirs.Build},
			{"Destroot", dirs.Destroot},
		} {
			if d.path != "" {
				PrintLabelValue(d.label, d.path)
			}
		}
		return nil
	},
}

var depsRuntime bool

var depsCmd = &cobra.Command{
	Use:   "deps <unit>",
	Short: "Show the dependency tree of a unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(context.Background())
		if err != nil {
			return err
		}
		defer sess.Close()

		res, err := sess.mgr.Deps(args[0], depsRuntime)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(res)
		}

		title := "Build Dependencies"
		if res.Runtime {
			title = "Runtime Dependencies"
		}
		PrintSection(title + " of " + res.Unit)
		if len(res.Tree) == 0 {
			PrintEmptyState("No dependencies.")
			return nil
		}
		depend.Walk(res.Tree, func(d *depend.Dependency, depth int) {
			line := fmt.Sprintf("%s%s", strings.Repeat("  ", depth+1), d.Name)
			if d.Version != "" {
				line += " " + d.Version
			}
			switch d.Kind {
			case depend.SystemProvided:
				_, _ = dimColor.Printf("%s (system)\n", line)
			case depend.None:
				_, _ = errorColor.Printf("%s (missing)\n", line)
			default:
				_, _ = infoColor.Println(line)
			}
		})
		if len(res.Order) > 0 {
			fmt.Println()
			PrintLabelValue("Install order", strings.Join(res.Order, ", "))
		}
		if len(res.Missing) > 0 {
			fmt.Println()
			PrintWarning(fmt.Sprintf("%s unresolved", PrintCount(len(res.Missing), "dependency", "dependencies")))
		}
		return nil
	},
}

func init() {
	depsCmd.Flags().BoolVarP(&depsRuntime, "runtime", "r", false, "Include runtime dependencies")
}
