package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var claimCmd = &cobra.Command{
	Use:   "claim <id> <agent>",
	Short: "Claim an available task",
	Long: `Claim a task for an agent. The task must be AVAILABLE, assigned to the
agent, and have every dependency COMPLETE. Exactly one concurrent claimer wins.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		res, err := a.reg.ClaimTask(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printResult(cmd, "claimed", res)
	},
}

var startCmd = &cobra.Command{
	Use:   "start <id> <agent>",
	Short: "Mark a claimed task as in progress",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		res, err := a.reg.StartTask(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printResult(cmd, "started", res)
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <id> <agent>",
	Short: "Complete a held task and unblock its dependents",
	Long: `Complete a task held by the agent. Dependents whose dependencies are now
all complete move from BLOCKED to AVAILABLE.

Use --files to record created files and --velocity to override the velocity
derived from the estimate and the time worked.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetString("files")

		var velocity *float64
		if cmd.Flags().Changed("velocity") {
			v, _ := cmd.Flags().GetFloat64("velocity")
			if v < 0 {
				return fmt.Errorf("--velocity must not be negative")
			}
			velocity = &v
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		res, err := a.reg.CompleteTask(cmd.Context(), args[0], args[1], parseList(files), velocity)
		if err != nil {
			return err
		}
		return printResult(cmd, "completed", res)
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review <id> <agent> --note <text>",
	Short: "Flag a held task for review",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		res, err := a.reg.FlagForReview(cmd.Context(), args[0], args[1], note)
		if err != nil {
			return err
		}
		return printResult(cmd, "flagged", res)
	},
}

func init() {
	completeCmd.Flags().String("files", "", "Comma separated list of files created")
	completeCmd.Flags().Float64("velocity", 0, "Velocity (estimated / actual); derived when omitted")

	reviewCmd.Flags().String("note", "", "Why the task needs review")
	_ = reviewCmd.MarkFlagRequired("note")

	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(reviewCmd)
}
