package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/gridscrape/coordinator/internal/checkpoint"
	"github.com/gridscrape/coordinator/internal/database"
	"github.com/gridscrape/coordinator/internal/domain"
	"github.com/gridscrape/coordinator/internal/logger"
)

// Driver executes a pipeline with checkpoint-based resume: completed steps
// whose outputs still exist are skipped, and execution restarts at the
// first step without a valid checkpoint.
type Driver struct {
	checkpoints *checkpoint.Manager
	log         logger.Logger

	now func() time.Time
}

// NewDriver creates a pipeline driver.
func NewDriver(checkpoints *checkpoint.Manager, log logger.Logger) *Driver {
	return &Driver{checkpoints: checkpoints, log: log, now: time.Now}
}

// Run executes p for runID and reports where the run ended up. With fresh
// set, existing checkpoints are cleared first so every step runs. A step
// failure stops the run as failed; an interrupted run reports running, and
// either way the next Run resumes at the first step without a valid
// checkpoint.
func (d *Driver) Run(ctx context.Context, p Pipeline, runID string, fresh bool) (domain.RunStatus, error) {
	if err := p.Validate(); err != nil {
		return domain.RunStatusFailed, err
	}

	if fresh {
		if err := d.checkpoints.Clear(ctx, runID); err != nil {
			return domain.RunStatusFailed, err
		}
	}

	next, err := d.checkpoints.NextStep(ctx, runID, len(p.Steps))
	if err != nil {
		return domain.RunStatusFailed, err
	}
	if next > len(p.Steps) {
		d.log.Info("pipeline already complete",
			logger.String("pipeline", p.Name),
			logger.String("run_id", runID))
		return domain.RunStatusCompleted, nil
	}
	if next > 1 {
		d.log.Info("resuming pipeline",
			logger.String("pipeline", p.Name),
			logger.String("run_id", runID),
			logger.Int("from_step", next))
	}

	for _, step := range p.Steps[next-1:] {
		if err := d.runStep(ctx, runID, step); err != nil {
			wrapped := fmt.Errorf("pipeline %s step %d (%s): %w", p.Name, step.Number, step.Name, err)
			if ctx.Err() != nil {
				// Interrupted, not broken: the run stays resumable.
				return domain.RunStatusRunning, wrapped
			}
			return domain.RunStatusFailed, wrapped
		}
	}

	d.log.Info("pipeline complete",
		logger.String("pipeline", p.Name),
		logger.String("run_id", runID),
		logger.Int("steps", len(p.Steps)))
	return domain.RunStatusCompleted, nil
}

func (d *Driver) runStep(ctx context.Context, runID string, step Step) error {
	// Steps completed in an earlier run keep their checkpoints even when a
	// later step failed, so only rerun when the checkpoint is invalid.
	done, err := d.checkpoints.IsStepComplete(ctx, runID, step.Number, true)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	d.log.Info("running step",
		logger.String("run_id", runID),
		logger.Int("step", step.Number),
		logger.String("step_name", step.Name))

	started := d.now()
	result, err := step.Run(ctx)
	if err != nil {
		return err
	}
	if result == nil {
		result = &StepResult{}
	}

	return d.checkpoints.MarkStepComplete(ctx, database.StepCompletionParams{
		RunID:       runID,
		StepNumber:  step.Number,
		StepName:    step.Name,
		StartedAt:   started,
		CompletedAt: d.now(),
		Outputs:     result.Outputs,
		Metadata:    result.Metadata,
	})
}
