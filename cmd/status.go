package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusCommand prints a run's progress and completion state.
func statusCommand() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show progress and completion state for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			state, stats, err := a.detector.Status(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("run status: %w", err)
			}

			fmt.Printf("run %s: %s\n\n", runID, state)
			fmt.Printf("  pending      %6d (available %d)\n", stats.Pending, stats.PendingAvailable)
			fmt.Printf("  in_progress  %6d\n", stats.InProgress)
			fmt.Printf("  completed    %6d\n", stats.Completed)
			fmt.Printf("  zero_result  %6d\n", stats.ZeroResult)
			fmt.Printf("  failed       %6d\n", stats.Failed)
			fmt.Printf("  blocked      %6d\n", stats.Blocked)
			fmt.Printf("\n  %d/%d terminal (%.1f%%), %d remaining\n",
				stats.Terminal(), stats.Total(), stats.TerminalFraction()*100, stats.Remaining())
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}
