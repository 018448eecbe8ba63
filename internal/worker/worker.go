// Package worker runs the claim-process loops that drain a run's work
// queue. Each worker claims batches, processes items with a leased
// heartbeat, and routes failures through the retry scheduler or the
// circuit breaker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gridscrape/coordinator/internal/circuitbreaker"
	"github.com/gridscrape/coordinator/internal/domain"
	"github.com/gridscrape/coordinator/internal/logger"
	"github.com/gridscrape/coordinator/internal/queue"
)

// Processor executes the scraper-specific work for one item: fetching,
// parsing and persisting results. When processing finishes it returns the
// terminal status the item should get (completed, zero_result, or blocked
// for items the site will never serve). Failures are classified through
// the domain error kinds; transient and business errors go back through
// the retry schedule, fatal ones stop the pool.
type Processor interface {
	Process(ctx context.Context, item *domain.WorkItem) (domain.ItemStatus, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, item *domain.WorkItem) (domain.ItemStatus, error)

func (f ProcessorFunc) Process(ctx context.Context, item *domain.WorkItem) (domain.ItemStatus, error) {
	return f(ctx, item)
}

// Worker is one claim-process loop. Several workers share the same queue
// and coordinate only through it.
type Worker struct {
	owner     string
	runID     string
	queue     *queue.Queue
	heartbeat *queue.Heartbeat
	backoff   *queue.Backoff
	detector  *queue.Detector
	recovery  *queue.Recovery
	breaker   *circuitbreaker.Breaker
	processor Processor

	pollInterval time.Duration
	hbInterval   time.Duration

	log logger.Logger
}

// run claims and processes items until the run completes, the context is
// cancelled, or a fatal error demands a full stop.
func (w *Worker) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if !w.breaker.AllowRequest() {
			stats := w.breaker.GetStats()
			w.log.Warn("claims paused by open circuit",
				logger.String("owner", w.owner),
				logger.Int("consecutive_failures", stats.FailureCount),
				logger.Error(w.breaker.OpenError()))
			w.sleep(ctx, w.breaker.RemainingCooldown())
			continue
		}

		items, err := w.queue.Claim(ctx, w.runID, w.owner)
		if err != nil {
			w.log.Warn("claim error, backing off", logger.String("owner", w.owner), logger.Error(err))
			w.sleep(ctx, jitter(w.pollInterval))
			continue
		}

		if len(items) == 0 {
			state, _, stateErr := w.detector.Status(ctx, w.runID)
			if stateErr != nil {
				w.sleep(ctx, jitter(w.pollInterval))
				continue
			}
			if state == queue.RunComplete {
				w.log.Info("run complete, worker draining", logger.String("owner", w.owner))
				return nil
			}

			// Empty claim with work outstanding: another worker may have
			// died holding it. Sweep now instead of waiting for the
			// watchdog tick.
			if _, sweepErr := w.recovery.Sweep(ctx, w.runID); sweepErr != nil {
				w.log.Warn("opportunistic sweep failed", logger.Error(sweepErr))
			}
			if state != queue.RunStuck {
				w.sleep(ctx, jitter(w.pollInterval))
			}
			continue
		}

		for i := range items {
			if err := w.processItem(ctx, &items[i]); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// processItem runs the processor for one claimed item while a background
// heartbeat keeps the lease fresh. A fatal error is returned to stop the
// whole pool; every other outcome is absorbed into the item's state.
func (w *Worker) processItem(ctx context.Context, item *domain.WorkItem) error {
	itemCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	leaseLost := make(chan struct{})
	hbDone := make(chan struct{})
	go w.heartbeatLoop(itemCtx, item.ID, leaseLost, hbDone)

	status, procErr := w.processor.Process(itemCtx, item)

	cancel()
	<-hbDone
	w.heartbeat.Forget(item.ID)

	select {
	case <-leaseLost:
		// Another worker owns the item now; writing a terminal status here
		// would race with its processing.
		w.log.Warn("abandoning item after lost lease",
			logger.Int64("item_id", item.ID),
			logger.String("item_key", item.ItemKey))
		return nil
	default:
	}

	if procErr == nil {
		if !status.IsTerminal() {
			status = domain.ItemStatusCompleted
		}
		w.breaker.RecordSuccess()
		if err := w.queue.MarkTerminal(ctx, item.ID, status, nil); err != nil {
			w.log.Error("failed to mark item terminal",
				logger.Int64("item_id", item.ID), logger.Error(err))
		}
		return nil
	}

	switch domain.KindOf(procErr) {
	case domain.KindFatal:
		return fmt.Errorf("fatal error on item %s: %w", item.ItemKey, procErr)

	case domain.KindTransient:
		w.breaker.RecordFailure()
		if _, err := w.backoff.Requeue(ctx, item, procErr); err != nil {
			w.log.Error("failed to requeue item",
				logger.Int64("item_id", item.ID), logger.Error(err))
		}
		return nil

	default:
		// Business errors burn a retry attempt and go back through the
		// backoff schedule like transient ones, ending up failed once the
		// budget runs out. The upstream answered, so the breaker stays out
		// of it.
		if _, err := w.backoff.Requeue(ctx, item, procErr); err != nil {
			w.log.Error("failed to requeue item",
				logger.Int64("item_id", item.ID), logger.Error(err))
		}
		return nil
	}
}

// heartbeatLoop refreshes the item's lease until the item context is
// cancelled. A lost lease closes leaseLost and cancels in-flight work via
// the context the processor received.
func (w *Worker) heartbeatLoop(ctx context.Context, itemID int64, leaseLost chan<- struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.hbInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := w.heartbeat.Touch(ctx, itemID, w.owner)
			if errors.Is(err, queue.ErrLeaseLost) {
				close(leaseLost)
				return
			}
			if err != nil {
				w.log.Warn("heartbeat failed",
					logger.Int64("item_id", itemID), logger.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// jitter spreads worker wakeups so idle workers do not poll in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}
