package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// checkpointCommand groups checkpoint inspection and reset.
func checkpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or clear pipeline checkpoints",
	}

	cmd.AddCommand(checkpointListCommand())
	cmd.AddCommand(checkpointClearCommand())

	return cmd
}

func checkpointListCommand() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded steps for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			steps, err := a.checkpoints.Steps(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				fmt.Printf("run %s: no checkpoints recorded\n", runID)
				return nil
			}

			fmt.Printf("run %s:\n", runID)
			for i := range steps {
				step := &steps[i]
				fmt.Printf("  step %d  %-24s %8s  %d outputs\n",
					step.StepNumber, step.StepName, step.Duration(), len(step.Outputs))
			}

			timing, err := a.checkpoints.Timing(cmd.Context(), runID)
			if err != nil {
				return err
			}
			fmt.Printf("\n  total %s, slowest step %s\n", timing.TotalDuration, timing.SlowestStep)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func checkpointClearCommand() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear all checkpoints for a run so it starts from step one",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.checkpoints.Clear(cmd.Context(), runID); err != nil {
				return err
			}
			fmt.Printf("run %s: checkpoints cleared\n", runID)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}
