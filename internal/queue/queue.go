// Package queue implements the lease-based distributed work queue shared by
// every country scraper: atomic batch claiming, terminal marks, lease
// heartbeats, retry backoff, stale-lease recovery and completion detection.
// All coordination between workers goes through the store's row-locking
// claim primitive; workers never coordinate in-process.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridscrape/coordinator/internal/config"
	"github.com/gridscrape/coordinator/internal/database"
	"github.com/gridscrape/coordinator/internal/domain"
	"github.com/gridscrape/coordinator/internal/logger"
	"github.com/gridscrape/coordinator/internal/metrics"
)

// ErrLeaseLost is returned when a heartbeat finds the item no longer owned:
// stale recovery reclaimed it or another path marked it terminal.
var ErrLeaseLost = errors.New("lease lost")

// Store is the data access contract the queue needs from the work item
// store. *database.WorkItemRepository satisfies it; tests use an in-memory
// implementation.
type Store interface {
	ClaimBatch(ctx context.Context, params database.ClaimParams) ([]domain.WorkItem, error)
	MarkTerminal(ctx context.Context, id int64, status domain.ItemStatus, lastError *string) error
	Heartbeat(ctx context.Context, id int64, owner string) (bool, error)
	Requeue(ctx context.Context, id int64, delay time.Duration, lastError string) error
	RecoverExpired(ctx context.Context, runID string, leaseTimeout time.Duration, maxAttempts int) (int64, int64, error)
	ClearFutureLeases(ctx context.Context, runID string) (int64, error)
	Stats(ctx context.Context, runID string) (*domain.RunStats, error)
}

// Queue claims batches of eligible work items and marks them terminal.
type Queue struct {
	store   Store
	cfg     config.QueueConfig
	log     logger.Logger
	metrics *metrics.Metrics
}

// New creates a work queue over the given store.
func New(store Store, cfg config.QueueConfig, log logger.Logger, m *metrics.Metrics) *Queue {
	return &Queue{
		store:   store,
		cfg:     cfg,
		log:     log,
		metrics: m,
	}
}

// Claim atomically claims up to the configured batch size of eligible
// items for owner. A transient store failure is retried once before being
// surfaced; the caller retries the whole claim call with its own backoff
// beyond that. An empty result is not an error.
func (q *Queue) Claim(ctx context.Context, runID, owner string) ([]domain.WorkItem, error) {
	params := database.ClaimParams{
		RunID:       runID,
		Owner:       owner,
		MaxAttempts: q.cfg.MaxAttempts,
		Limit:       q.cfg.BatchSize,
	}

	items, err := q.store.ClaimBatch(ctx, params)
	if err != nil {
		q.log.Warn("claim failed, retrying once",
			logger.String("run_id", runID),
			logger.String("owner", owner),
			logger.Error(err))

		items, err = q.store.ClaimBatch(ctx, params)
		if err != nil {
			return nil, domain.Transient(fmt.Errorf("claim batch: %w", err))
		}
	}

	if q.metrics != nil {
		q.metrics.ClaimsTotal.Inc()
		q.metrics.ClaimBatchSize.Observe(float64(len(items)))
		if len(items) == 0 {
			q.metrics.ClaimsEmpty.Inc()
		} else {
			q.metrics.ItemsClaimed.Add(float64(len(items)))
		}
	}

	if len(items) > 0 {
		q.log.Debug("claimed batch",
			logger.String("run_id", runID),
			logger.String("owner", owner),
			logger.Int("count", len(items)))
	}

	return items, nil
}

// MarkTerminal transitions an item to a terminal status, recording procErr
// as the last error when present. Safe to call twice; the second call is a
// store-level no-op.
func (q *Queue) MarkTerminal(ctx context.Context, itemID int64, status domain.ItemStatus, procErr error) error {
	var lastError *string
	if procErr != nil {
		msg := procErr.Error()
		lastError = &msg
	}

	if err := q.store.MarkTerminal(ctx, itemID, status, lastError); err != nil {
		return domain.Transient(fmt.Errorf("mark terminal: %w", err))
	}

	if q.metrics != nil {
		q.metrics.ItemsTerminal.WithLabelValues(string(status)).Inc()
	}

	return nil
}

// Stats returns aggregate counts for the run.
func (q *Queue) Stats(ctx context.Context, runID string) (*domain.RunStats, error) {
	stats, err := q.store.Stats(ctx, runID)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("run stats: %w", err))
	}
	return stats, nil
}
