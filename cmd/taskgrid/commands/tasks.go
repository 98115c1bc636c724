package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/taskgrid/internal/task"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List every task in creation order.

Use --status, --agent or --phase to filter.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var availableCmd = &cobra.Command{
	Use:   "available <agent>",
	Short: "List tasks an agent can claim now",
	Long: `List the tasks assigned to an agent that are AVAILABLE with every
dependency complete, best candidate first.

Tasks are ranked by readiness: priority, how many tasks each one unblocks,
and how long it has been waiting.`,
	Args: cobra.ExactArgs(1),
	RunE: runAvailable,
}

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show a task's status transitions",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	listCmd.Flags().String("status", "", "Filter by status (BLOCKED, AVAILABLE, CLAIMED, IN_PROGRESS, COMPLETE, NEEDS_REVIEW)")
	listCmd.Flags().String("agent", "", "Filter by assigned agent")
	listCmd.Flags().String("phase", "", "Filter by phase")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(availableCmd)
	rootCmd.AddCommand(historyCmd)
}

type taskFilter struct {
	status task.Status
	agent  string
	phase  string
}

func parseTaskFilter(status, agent, phase string) (taskFilter, error) {
	f := taskFilter{agent: agent, phase: phase}
	if status != "" {
		f.status = task.Status(strings.ToUpper(strings.ReplaceAll(status, "-", "_")))
		if !f.status.Valid() {
			return taskFilter{}, fmt.Errorf("unknown status %q", status)
		}
	}
	return f, nil
}

func (f taskFilter) apply(tasks []task.Task) []task.Task {
	out := tasks[:0:0]
	for _, t := range tasks {
		if f.status != "" && t.Status != f.status {
			continue
		}
		if f.agent != "" && t.Agent != f.agent {
			continue
		}
		if f.phase != "" && t.Phase != f.phase {
			continue
		}
		out = append(out, t)
	}
	return out
}

func runList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	agent, _ := cmd.Flags().GetString("agent")
	phase, _ := cmd.Flags().GetString("phase")
	filter, err := parseTaskFilter(status, agent, phase)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	tasks, err := a.reg.Tasks(cmd.Context())
	if err != nil {
		return err
	}
	tasks = filter.apply(tasks)

	w := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(w, tasks)
	}
	if len(tasks) == 0 {
		_, _ = fmt.Fprintln(w, "No tasks match the given filters.")
		return nil
	}
	printTaskTable(w, tasks)
	_, _ = fmt.Fprintf(w, "\n%d task(s)\n", len(tasks))
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := a.reg.Task(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !res.Success {
		return printResult(cmd, "show", res)
	}
	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), res.Task)
	}
	printTaskDetail(cmd.OutOrStdout(), res.Task)
	return nil
}

func runAvailable(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	tasks, err := a.reg.AvailableTasks(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(w, tasks)
	}
	if len(tasks) == 0 {
		_, _ = fmt.Fprintf(w, "Nothing available for %s.\n", args[0])
		return nil
	}
	printTaskTable(w, tasks)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	history, err := a.reg.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(w, history)
	}
	if len(history) == 0 {
		_, _ = fmt.Fprintf(w, "No transitions recorded for %s.\n", args[0])
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "AT\tFROM\tTO\tACTOR")
	for _, h := range history {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			h.At.Local().Format("2006-01-02 15:04:05"),
			h.From,
			statusBadge(h.To),
			h.Actor,
		)
	}
	return tw.Flush()
}
