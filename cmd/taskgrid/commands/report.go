package commands

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/taskgrid/internal/manifest"
	"github.com/marcus/taskgrid/internal/registry"
	"github.com/marcus/taskgrid/internal/swarm"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show sprint progress and forecast",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		sm, err := a.reg.SprintMetrics(cmd.Context())
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return printJSON(cmd.OutOrStdout(), sm)
		}
		printSprintMetrics(cmd.OutOrStdout(), sm)
		return nil
	},
}

var workloadCmd = &cobra.Command{
	Use:   "workload <agent>",
	Short: "Show one agent's tasks by status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		wl, err := a.reg.AgentWorkload(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(w, wl)
		}
		_, _ = fmt.Fprintf(w, "%s: %d task(s), %d complete, %d in progress, %d available, %d blocked, %d in review\n\n",
			wl.Agent, wl.Total, wl.Completed, wl.InProgress, wl.Available, wl.Blocked, wl.NeedsReview)
		if len(wl.Tasks) > 0 {
			printTaskTable(w, wl.Tasks)
		}
		return nil
	},
}

var swarmCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Analyse swarm utilisation",
	Long: `Report each configured swarm's workload: tasks in progress against the
swarm's capacity (agents x optimal tasks per agent), with advice when the
swarm is over or under used.

Swarms come from the config file; --manifest adds those defined in a task
manifest.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestPath, _ := cmd.Flags().GetString("manifest")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		var extra []swarm.Swarm
		if manifestPath != "" {
			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			if err := m.Validate(a.reg.Roster()); err != nil {
				return err
			}
			extra = m.Swarms
		}

		reports, err := a.coordinator(extra...).Analyze(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(w, reports)
		}
		if len(reports) == 0 {
			_, _ = fmt.Fprintln(w, "No swarms configured.")
			return nil
		}
		printSwarmReports(w, reports)
		return nil
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect the dependency graph",
}

var graphCyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "List dependency cycles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		cycles, err := a.reg.Cycles(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(w, cycles)
		}
		if len(cycles) == 0 {
			_, _ = fmt.Fprintln(w, "No cycles.")
			return nil
		}
		printCycles(w, cycles)
		return nil
	},
}

var graphCriticalPathCmd = &cobra.Command{
	Use:   "critical-path",
	Short: "Show the longest dependency chain by estimated hours",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		path, err := a.reg.CriticalPath(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(w, path)
		}
		if len(path.IDs) == 0 {
			_, _ = fmt.Fprintln(w, "No tasks outside cycles.")
			return nil
		}
		printCriticalPath(w, path)
		return nil
	},
}

var graphOrderCmd = &cobra.Command{
	Use:   "order",
	Short: "List tasks in dependency order",
	Long: `List every task after all of its dependencies. Tasks on a dependency
cycle, or downstream of one, cannot be ordered and are listed separately.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		order, err := a.reg.Order(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(w, order)
		}
		printGraphOrder(w, order)
		return nil
	},
}

func init() {
	swarmCmd.Flags().String("manifest", "", "Also analyse swarms defined in this manifest")

	graphCmd.AddCommand(graphCyclesCmd)
	graphCmd.AddCommand(graphCriticalPathCmd)
	graphCmd.AddCommand(graphOrderCmd)

	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(workloadCmd)
	rootCmd.AddCommand(swarmCmd)
	rootCmd.AddCommand(graphCmd)
}

func printSprintMetrics(w io.Writer, sm registry.SprintMetrics) {
	st := newOutputStyles()
	_, _ = fmt.Fprintln(w, st.Title.Render(fmt.Sprintf("Sprint: %d%% complete", sm.CompletionPercentage)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Total\t%d\n", sm.Total)
	_, _ = fmt.Fprintf(tw, "Blocked\t%d\n", sm.Counts.Blocked)
	_, _ = fmt.Fprintf(tw, "Available\t%d\n", sm.Counts.Available)
	_, _ = fmt.Fprintf(tw, "Claimed\t%d\n", sm.Counts.Claimed)
	_, _ = fmt.Fprintf(tw, "In progress\t%d\n", sm.Counts.InProgress)
	_, _ = fmt.Fprintf(tw, "Complete\t%d\n", sm.Counts.Complete)
	_, _ = fmt.Fprintf(tw, "Needs review\t%d\n", sm.Counts.NeedsReview)
	_, _ = fmt.Fprintf(tw, "Velocity\t%s (%d samples, acceleration %s)\n",
		trimFloat(sm.AverageVelocity), sm.VelocitySamples, trimFloat(sm.Acceleration))
	_, _ = fmt.Fprintf(tw, "Remaining\t%sh estimated\n", trimFloat(sm.RemainingHours))
	_, _ = fmt.Fprintf(tw, "ETA\t%sh\n", trimFloat(sm.ETAHours))
	if sm.ProjectedCompletion != nil {
		_, _ = fmt.Fprintf(tw, "Projected\t%s\n", formatTime(sm.ProjectedCompletion))
	}
	_ = tw.Flush()
}

func printSwarmReports(w io.Writer, reports []swarm.Report) {
	st := newOutputStyles()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SWARM\tAGENTS\tIN PROGRESS\tCAPACITY\tWORKLOAD\tAVAILABLE\tBLOCKED")
	for _, r := range reports {
		load := strconv.Itoa(r.Workload) + "%"
		switch {
		case r.Overloaded:
			load = st.Error.Render(load)
		case r.Underutilized:
			load = st.Warn.Render(load)
		default:
			load = st.OK.Render(load)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%d\t%d\n",
			r.Swarm, len(r.Agents), r.InProgress, r.Capacity, load, r.Available, r.Blocked)
	}
	_ = tw.Flush()
	for _, r := range reports {
		if r.Advice != "" {
			_, _ = fmt.Fprintf(w, "%s %s: %s\n", st.Muted.Render("›"), r.Swarm, r.Advice)
		}
	}
}

func printGraphOrder(w io.Writer, g registry.GraphOrder) {
	for i, id := range g.Order {
		_, _ = fmt.Fprintf(w, "%3d. %s\n", i+1, id)
	}
	if len(g.Stuck) == 0 {
		return
	}
	st := newOutputStyles()
	_, _ = fmt.Fprintf(w, "%s %d task(s) cannot be ordered:\n", st.Warn.Render("!"), len(g.Stuck))
	for _, line := range stuckLines(g) {
		_, _ = fmt.Fprintf(w, "  %s\n", line)
	}
}

func stuckLines(g registry.GraphOrder) []string {
	lines := make([]string, 0, len(g.Stuck))
	for _, id := range g.Stuck {
		if g.InCycle[id] {
			lines = append(lines, id+" (in cycle)")
		} else {
			lines = append(lines, id+" (depends on a cycle)")
		}
	}
	return lines
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
