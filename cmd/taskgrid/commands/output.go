package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/marcus/taskgrid/internal/registry"
	"github.com/marcus/taskgrid/internal/task"
)

type outputStyles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Muted lipgloss.Style
	OK    lipgloss.Style
	Warn  lipgloss.Style
	Error lipgloss.Style
}

func newOutputStyles() outputStyles {
	return outputStyles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")),
		Label: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Muted: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		OK:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Error: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

var statusColors = map[task.Status]string{
	task.StatusBlocked:     "241",
	task.StatusAvailable:   "42",
	task.StatusClaimed:     "81",
	task.StatusInProgress:  "69",
	task.StatusComplete:    "34",
	task.StatusNeedsReview: "214",
}

func statusBadge(s task.Status) string {
	color, ok := statusColors[s]
	if !ok {
		return string(s)
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(string(s))
}

func wantJSON(cmd *cobra.Command) bool {
	asJSON, _ := cmd.Flags().GetBool("json")
	return asJSON
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTaskTable(w io.Writer, tasks []task.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tAGENT\tPRIORITY\tSTATUS\tDEPENDENCIES\tEST")
	for _, t := range tasks {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			truncate(t.Name, 40),
			t.Agent,
			t.Priority,
			statusBadge(t.Status),
			joinOr(t.Dependencies, "-"),
			formatHours(t.EstimatedHours),
		)
	}
	_ = tw.Flush()
}

func printTaskDetail(w io.Writer, t *task.Task) {
	st := newOutputStyles()
	row := func(label, value string) {
		if value == "" {
			return
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", st.Label.Render(fmt.Sprintf("%-14s", label+":")), value)
	}

	_, _ = fmt.Fprintln(w, st.Title.Render(t.ID+"  "+t.Name))
	row("Status", statusBadge(t.Status))
	row("Agent", t.Agent)
	row("Priority", string(t.Priority))
	row("Phase", t.Phase)
	row("Location", t.Location)
	row("Depends on", joinOr(t.Dependencies, ""))
	row("Deliverables", joinOr(t.Deliverables, ""))
	row("Acceptance", joinOr(t.AcceptanceCriteria, ""))
	row("Estimate", formatHours(t.EstimatedHours))
	row("Claimed by", t.ClaimedBy)
	row("Claimed at", formatTime(t.ClaimedAt))
	row("Started at", formatTime(t.StartedAt))
	row("Completed at", formatTime(t.CompletedAt))
	if t.ActualMinutes != nil {
		row("Actual", strconv.FormatFloat(*t.ActualMinutes, 'f', 0, 64)+"m")
	}
	if t.Velocity != nil {
		row("Velocity", strconv.FormatFloat(*t.Velocity, 'f', 2, 64))
	}
	row("Files", joinOr(t.FilesCreated, ""))
	row("Review note", t.ReviewNote)
}

// printResult renders a mutation outcome and turns a failed result into an
// error so the process exits non-zero.
func printResult(cmd *cobra.Command, verb string, res registry.Result) error {
	w := cmd.OutOrStdout()
	if wantJSON(cmd) {
		if err := printJSON(w, res); err != nil {
			return err
		}
	} else {
		st := newOutputStyles()
		if res.Success {
			_, _ = fmt.Fprintf(w, "%s %s %s\n", st.OK.Render("✓"), verb, res.Task.ID)
			if len(res.Unblocked) > 0 {
				_, _ = fmt.Fprintf(w, "  unblocked: %s\n", strings.Join(res.Unblocked, ", "))
			}
		} else {
			_, _ = fmt.Fprintf(w, "%s %s\n", st.Error.Render("✗"), describeError(res.Error))
		}
	}
	if !res.Success {
		cmd.SilenceErrors = true
		return res.Error
	}
	return nil
}

func describeError(e *registry.Error) string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s (%s)", e.Message, e.Reason)
	if len(e.BlockingDeps) > 0 {
		msg += "; waiting on " + strings.Join(e.BlockingDeps, ", ")
	}
	return msg
}

func formatHours(h *float64) string {
	if h == nil {
		return "-"
	}
	return strconv.FormatFloat(*h, 'f', -1, 64) + "h"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// parseList splits a comma separated flag value, dropping blanks.
func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
