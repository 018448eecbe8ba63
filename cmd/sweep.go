package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/gridscrape/coordinator/internal/logger"
)

// sweepCommand runs the standalone recovery watchdog. Worker pools sweep
// for themselves; this command covers runs whose workers all died.
func sweepCommand() *cobra.Command {
	var runID string
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Recover leaked leases and stuck tails for a run",
		Long: `Resets items whose lease expired without a terminal status back to
pending and force-resolves near-complete runs whose tail stopped moving.
By default the sweep repeats on the configured interval until interrupted;
with --once it sweeps a single time and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			if once {
				reset, sweepErr := a.recovery.Sweep(cmd.Context(), runID)
				if sweepErr != nil {
					return sweepErr
				}
				fmt.Printf("run %s: %d items reset to pending\n", runID, reset)
				return nil
			}

			c := cron.New()
			_, err = c.AddFunc(fmt.Sprintf("@every %s", a.cfg.Recovery.SweepInterval), func() {
				if _, sweepErr := a.recovery.Sweep(cmd.Context(), runID); sweepErr != nil {
					a.log.Error("sweep failed", logger.String("run_id", runID), logger.Error(sweepErr))
				}
			})
			if err != nil {
				return fmt.Errorf("schedule sweep: %w", err)
			}

			a.log.Info("sweep watchdog started",
				logger.String("run_id", runID),
				logger.Duration("interval", a.cfg.Recovery.SweepInterval))
			c.Start()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			<-c.Stop().Done()
			a.log.Info("sweep watchdog stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID")
	cmd.Flags().BoolVar(&once, "once", false, "sweep once and exit")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}
