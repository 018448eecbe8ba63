package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// purgeCommand deletes all state for a run: work items and checkpoints.
func purgeCommand() *cobra.Command {
	var runID string
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete all work items and checkpoints for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("purge is destructive; re-run with --yes to confirm")
			}

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			deleted, err := a.workItems.DeleteRun(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("delete work items: %w", err)
			}
			if err := a.checkpoints.Clear(cmd.Context(), runID); err != nil {
				return err
			}

			fmt.Printf("run %s: %d work items deleted, checkpoints cleared\n", runID, deleted)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}
