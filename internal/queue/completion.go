package queue

import (
	"context"
	"fmt"

	"github.com/gridscrape/coordinator/internal/domain"
)

// RunState classifies a run for the worker loop's next move.
type RunState string

const (
	// RunComplete means every item is terminal; workers should drain and exit.
	RunComplete RunState = "complete"
	// RunHasWork means eligible items exist; a claim is worth attempting.
	RunHasWork RunState = "has_work"
	// RunEmptyRetryable means non-terminal items exist but none is claimable
	// right now (held by other workers or gated by backoff); poll again later.
	RunEmptyRetryable RunState = "empty_retryable"
	// RunStuck means a near-complete tail has not moved for the stuck
	// timeout; the recovery sweep will force-resolve it.
	RunStuck RunState = "stuck"
)

// Detector decides whether a run is finished, still has claimable work,
// is waiting on gated items, or is stuck. It shares the stuck tracker with
// the recovery sweeper so both see the same timer.
type Detector struct {
	store   Store
	tracker *StuckTracker
}

// NewDetector creates a completion detector.
func NewDetector(store Store, tracker *StuckTracker) *Detector {
	return &Detector{store: store, tracker: tracker}
}

// Status returns the current state of a run along with the stats the
// decision was made from. A run with zero items counts as complete.
func (d *Detector) Status(ctx context.Context, runID string) (RunState, *domain.RunStats, error) {
	stats, err := d.store.Stats(ctx, runID)
	if err != nil {
		return "", nil, domain.Transient(fmt.Errorf("completion stats: %w", err))
	}

	if stats.Remaining() == 0 {
		d.tracker.Reset(runID)
		return RunComplete, stats, nil
	}

	if d.tracker.Observe(runID, stats) {
		return RunStuck, stats, nil
	}

	if stats.PendingAvailable > 0 {
		return RunHasWork, stats, nil
	}

	return RunEmptyRetryable, stats, nil
}
