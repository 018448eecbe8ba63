// Package checkpoint manages step-level completion records for resumable
// pipeline runs. A step checkpoint is only trusted when every output path
// it recorded still exists on disk; otherwise the step runs again.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gridscrape/coordinator/internal/database"
	"github.com/gridscrape/coordinator/internal/domain"
	"github.com/gridscrape/coordinator/internal/logger"
)

// Store is the persistence contract the manager needs.
// *database.CheckpointRepository satisfies it.
type Store interface {
	UpsertStepComplete(ctx context.Context, params database.StepCompletionParams) error
	GetStep(ctx context.Context, runID string, stepNumber int) (*domain.StepRecord, error)
	ListSteps(ctx context.Context, runID string) ([]domain.StepRecord, error)
	ClearRun(ctx context.Context, runID string) error
}

// FS abstracts output-path existence checks so tests can run without a
// real filesystem.
type FS interface {
	Exists(path string) bool
}

type osFS struct{}

func (osFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Manager records and verifies step checkpoints.
type Manager struct {
	store Store
	fs    FS
	log   logger.Logger
}

// New creates a checkpoint manager backed by the real filesystem.
func New(store Store, log logger.Logger) *Manager {
	return &Manager{store: store, fs: osFS{}, log: log}
}

// NewWithFS creates a manager with a custom filesystem, for tests.
func NewWithFS(store Store, fs FS, log logger.Logger) *Manager {
	return &Manager{store: store, fs: fs, log: log}
}

// MarkStepComplete records a step as complete with its outputs and timing.
// Recording the same step again overwrites the previous record.
func (m *Manager) MarkStepComplete(ctx context.Context, params database.StepCompletionParams) error {
	if err := m.store.UpsertStepComplete(ctx, params); err != nil {
		return fmt.Errorf("record step %d completion: %w", params.StepNumber, err)
	}

	m.log.Info("step checkpoint recorded",
		logger.String("run_id", params.RunID),
		logger.Int("step", params.StepNumber),
		logger.String("step_name", params.StepName),
		logger.Duration("duration", params.CompletedAt.Sub(params.StartedAt)),
		logger.Int("outputs", len(params.Outputs)))

	return nil
}

// IsStepComplete reports whether a step's checkpoint is valid: the step was
// recorded complete and, with verifyOutputs set, every recorded output path
// still exists. A record with missing outputs is treated as absent so the
// step reruns.
func (m *Manager) IsStepComplete(ctx context.Context, runID string, stepNumber int, verifyOutputs bool) (bool, error) {
	rec, err := m.store.GetStep(ctx, runID, stepNumber)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load step %d checkpoint: %w", stepNumber, err)
	}

	if !rec.Completed {
		return false, nil
	}

	if !verifyOutputs {
		return true, nil
	}

	for _, path := range rec.Outputs {
		if !m.fs.Exists(path) {
			m.log.Warn("checkpoint output missing, step will rerun",
				logger.String("run_id", runID),
				logger.Int("step", stepNumber),
				logger.String("path", path))
			return false, nil
		}
	}

	return true, nil
}

// NextStep returns the lowest step number in [1, totalSteps] without a
// valid checkpoint, or totalSteps+1 when the whole run is complete.
// Outputs are always verified here: resuming past a step whose files are
// gone would starve every later step of its inputs.
func (m *Manager) NextStep(ctx context.Context, runID string, totalSteps int) (int, error) {
	for step := 1; step <= totalSteps; step++ {
		done, err := m.IsStepComplete(ctx, runID, step, true)
		if err != nil {
			return 0, err
		}
		if !done {
			return step, nil
		}
	}
	return totalSteps + 1, nil
}

// Clear removes all checkpoints for a run so it starts from step one.
func (m *Manager) Clear(ctx context.Context, runID string) error {
	if err := m.store.ClearRun(ctx, runID); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	m.log.Info("checkpoints cleared", logger.String("run_id", runID))
	return nil
}

// Steps returns every recorded step for a run ordered by step number.
func (m *Manager) Steps(ctx context.Context, runID string) ([]domain.StepRecord, error) {
	steps, err := m.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return steps, nil
}

// Timing aggregates the recorded durations of a run.
func (m *Manager) Timing(ctx context.Context, runID string) (*domain.RunTiming, error) {
	steps, err := m.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run timing: %w", err)
	}

	timing := &domain.RunTiming{
		RunID:   runID,
		PerStep: make(map[string]time.Duration, len(steps)),
	}

	var slowest time.Duration
	for i := range steps {
		d := steps[i].Duration()
		timing.PerStep[steps[i].StepName] = d
		timing.TotalDuration += d
		if d > slowest {
			slowest = d
			timing.SlowestStep = steps[i].StepName
		}
	}

	return timing, nil
}
