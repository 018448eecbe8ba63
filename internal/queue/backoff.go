package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/gridscrape/coordinator/internal/config"
	"github.com/gridscrape/coordinator/internal/domain"
	"github.com/gridscrape/coordinator/internal/logger"
	"github.com/gridscrape/coordinator/internal/metrics"
)

// Backoff schedules retries for items that failed transiently: the item goes
// back to pending with a delayed lease acting as a not-before gate, or to
// failed once the attempt budget is exhausted.
type Backoff struct {
	store       Store
	cfg         config.BackoffConfig
	maxAttempts int
	log         logger.Logger
	metrics     *metrics.Metrics
}

// NewBackoff creates a retry scheduler.
func NewBackoff(store Store, cfg config.BackoffConfig, maxAttempts int, log logger.Logger, m *metrics.Metrics) *Backoff {
	return &Backoff{
		store:       store,
		cfg:         cfg,
		maxAttempts: maxAttempts,
		log:         log,
		metrics:     m,
	}
}

// Delay returns the capped exponential delay before retry number attempt.
// Delay(0) is the base delay; each further attempt doubles it up to the cap.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.cfg.MaxDelay {
			return b.cfg.MaxDelay
		}
	}
	if d > b.cfg.MaxDelay {
		return b.cfg.MaxDelay
	}
	return d
}

// Requeue schedules a retry for an item whose processing failed with
// procErr. Returns true when the item went back to pending, false when the
// retry budget was exhausted and the item was marked failed instead.
func (b *Backoff) Requeue(ctx context.Context, item *domain.WorkItem, procErr error) (bool, error) {
	if item.AttemptCount+1 >= b.maxAttempts {
		msg := fmt.Sprintf("retry budget exhausted after %d attempts: %v", item.AttemptCount+1, procErr)
		if err := b.store.MarkTerminal(ctx, item.ID, domain.ItemStatusFailed, &msg); err != nil {
			return false, domain.Transient(fmt.Errorf("mark failed: %w", err))
		}
		if b.metrics != nil {
			b.metrics.ItemsTerminal.WithLabelValues(string(domain.ItemStatusFailed)).Inc()
		}
		b.log.Warn("item exhausted retry budget",
			logger.Int64("item_id", item.ID),
			logger.String("item_key", item.ItemKey),
			logger.Int("attempts", item.AttemptCount+1),
			logger.Error(procErr))
		return false, nil
	}

	delay := b.Delay(item.AttemptCount)
	if err := b.store.Requeue(ctx, item.ID, delay, procErr.Error()); err != nil {
		return false, domain.Transient(fmt.Errorf("requeue item %d: %w", item.ID, err))
	}

	if b.metrics != nil {
		b.metrics.ItemsRequeued.Inc()
	}
	b.log.Info("item requeued for retry",
		logger.Int64("item_id", item.ID),
		logger.String("item_key", item.ItemKey),
		logger.Int("attempt", item.AttemptCount+1),
		logger.Duration("delay", delay),
		logger.Error(procErr))

	return true, nil
}
