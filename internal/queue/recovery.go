package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridscrape/coordinator/internal/config"
	"github.com/gridscrape/coordinator/internal/domain"
	"github.com/gridscrape/coordinator/internal/logger"
	"github.com/gridscrape/coordinator/internal/metrics"
)

// StuckTracker remembers, per run, when a near-complete remainder was first
// observed. The clock only starts once the run crosses the terminal-fraction
// threshold, and restarts whenever the remaining count changes, so a run
// that is still making progress is never force-resolved. State is
// in-memory: a watchdog restart just restarts the timer.
type StuckTracker struct {
	thresholdPct float64
	timeout      time.Duration

	mu    sync.Mutex
	byRun map[string]stuckObservation

	now func() time.Time
}

type stuckObservation struct {
	remaining int64
	since     time.Time
}

// NewStuckTracker creates a tracker with the given near-completion threshold
// (percent terminal) and hold time.
func NewStuckTracker(thresholdPct float64, timeout time.Duration) *StuckTracker {
	return &StuckTracker{
		thresholdPct: thresholdPct,
		timeout:      timeout,
		byRun:        make(map[string]stuckObservation),
		now:          time.Now,
	}
}

// Observe feeds the latest stats for a run and reports whether the run has
// been stuck near completion for at least the configured timeout.
func (t *StuckTracker) Observe(runID string, stats *domain.RunStats) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := stats.Remaining()
	if remaining == 0 || stats.TerminalFraction()*100 < t.thresholdPct {
		delete(t.byRun, runID)
		return false
	}

	obs, seen := t.byRun[runID]
	if !seen || obs.remaining != remaining {
		t.byRun[runID] = stuckObservation{remaining: remaining, since: t.now()}
		return false
	}

	return t.now().Sub(obs.since) >= t.timeout
}

// Reset clears the tracked state for a run.
func (t *StuckTracker) Reset(runID string) {
	t.mu.Lock()
	delete(t.byRun, runID)
	t.mu.Unlock()
}

// Recovery reclaims work lost to crashed or partitioned workers and
// force-resolves runs stuck at the tail.
type Recovery struct {
	store    Store
	queueCfg config.QueueConfig
	cfg      config.RecoveryConfig
	tracker  *StuckTracker
	log      logger.Logger
	metrics  *metrics.Metrics
}

// NewRecovery creates a recovery sweeper sharing tracker with the
// completion detector.
func NewRecovery(store Store, queueCfg config.QueueConfig, cfg config.RecoveryConfig, tracker *StuckTracker, log logger.Logger, m *metrics.Metrics) *Recovery {
	return &Recovery{
		store:    store,
		queueCfg: queueCfg,
		cfg:      cfg,
		tracker:  tracker,
		log:      log,
		metrics:  m,
	}
}

// Sweep resets items whose lease expired without a terminal status back to
// pending (or to failed when their retry budget is spent), then checks for
// a stuck tail and force-resolves it. Returns the number of items reset to
// pending.
func (r *Recovery) Sweep(ctx context.Context, runID string) (int64, error) {
	reset, exhausted, err := r.store.RecoverExpired(ctx, runID, r.queueCfg.LeaseTimeout, r.queueCfg.MaxAttempts)
	if err != nil {
		return 0, domain.Transient(fmt.Errorf("recover expired leases: %w", err))
	}

	if reset > 0 || exhausted > 0 {
		r.log.Info("recovered expired leases",
			logger.String("run_id", runID),
			logger.Int64("reset", reset),
			logger.Int64("exhausted", exhausted))
	}
	if r.metrics != nil {
		r.metrics.LeasesRecovered.Add(float64(reset))
		r.metrics.LeasesExhausted.Add(float64(exhausted))
	}

	if err := r.resolveStuck(ctx, runID); err != nil {
		return reset, err
	}

	return reset, nil
}

// resolveStuck force-resolves a run whose tail has not moved for the
// configured timeout: backoff gates on pending items are cleared and
// expired leases are recovered immediately, making the remainder claimable
// so workers can finish or exhaust it.
func (r *Recovery) resolveStuck(ctx context.Context, runID string) error {
	stats, err := r.store.Stats(ctx, runID)
	if err != nil {
		return domain.Transient(fmt.Errorf("stats for stuck check: %w", err))
	}

	if !r.tracker.Observe(runID, stats) {
		return nil
	}

	cleared, err := r.store.ClearFutureLeases(ctx, runID)
	if err != nil {
		return domain.Transient(fmt.Errorf("clear backoff gates: %w", err))
	}
	reset, exhausted, err := r.store.RecoverExpired(ctx, runID, r.queueCfg.LeaseTimeout, r.queueCfg.MaxAttempts)
	if err != nil {
		return domain.Transient(fmt.Errorf("recover stuck leases: %w", err))
	}

	r.tracker.Reset(runID)
	if r.metrics != nil {
		r.metrics.StuckResolutions.Inc()
	}
	r.log.Warn("force-resolved stuck run tail",
		logger.String("run_id", runID),
		logger.Int64("remaining", stats.Remaining()),
		logger.Int64("gates_cleared", cleared),
		logger.Int64("leases_reset", reset),
		logger.Int64("leases_exhausted", exhausted))

	return nil
}
