package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/taskgrid/internal/manifest"
	"github.com/marcus/taskgrid/internal/registry"
	"github.com/marcus/taskgrid/internal/resolver"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the task database and check the graph",
	Long: `Open (creating if needed) the task database, repair any dependents left
BLOCKED after their dependencies completed, and report dependency cycles and
the critical path.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		w := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(w, a.ready)
		}
		st := newOutputStyles()
		_, _ = fmt.Fprintf(w, "%s %s\n", st.OK.Render("✓"), a.cfg.DB.Path)
		_, _ = fmt.Fprintf(w, "  tasks: %d\n", a.ready.Tasks)
		printCycles(w, a.ready.Cycles)
		printCriticalPath(w, a.ready.CriticalPath)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <manifest>",
	Short: "Import tasks from a YAML manifest",
	Long: `Validate a task manifest and create its tasks. Tasks whose id already
exists are skipped, so re-importing an extended manifest only adds the new
ones. Nothing is created if any entry fails validation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		m, err := manifest.Load(args[0])
		if err != nil {
			return err
		}
		if err := m.Validate(a.reg.Roster()); err != nil {
			return err
		}
		report, err := a.reg.CreateTasks(cmd.Context(), m.TaskList())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(w, report)
		}
		printCreateReport(w, report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(importCmd)
}

func printCreateReport(w io.Writer, r registry.CreateReport) {
	st := newOutputStyles()
	_, _ = fmt.Fprintf(w, "%s created %d task(s): %d available, %d blocked\n",
		st.OK.Render("✓"), len(r.Created), len(r.Available), len(r.Blocked))
	if len(r.Skipped) > 0 {
		_, _ = fmt.Fprintf(w, "  skipped (already present): %s\n", strings.Join(r.Skipped, ", "))
	}
	printCycles(w, r.Cycles)
}

func printCycles(w io.Writer, cycles []resolver.Cycle) {
	if len(cycles) == 0 {
		return
	}
	st := newOutputStyles()
	_, _ = fmt.Fprintf(w, "%s %d dependency cycle(s); these tasks can never become available:\n",
		st.Warn.Render("!"), len(cycles))
	for _, c := range cycles {
		_, _ = fmt.Fprintf(w, "  %s\n", c)
	}
}

func printCriticalPath(w io.Writer, p resolver.Path) {
	if len(p.IDs) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "  critical path: %s (%sh)\n",
		strings.Join(p.IDs, " -> "), trimFloat(p.Hours))
}
