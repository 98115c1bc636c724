// Package commands implements the taskgrid CLI commands using cobra.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "taskgrid",
	Short: "Dependency-aware task coordination for agent swarms",
	Long: `Taskgrid coordinates a fixed roster of agents working through a graph of
interdependent tasks. Agents claim tasks whose dependencies are complete;
completing a task unblocks its dependents automatically.

Define tasks in a YAML manifest, import them, and let agents pull work with
'taskgrid available' and 'taskgrid claim'.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ~/.config/taskgrid/config.yaml + ./taskgrid.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Task database path (overrides db.path)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
}
