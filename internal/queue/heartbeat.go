package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridscrape/coordinator/internal/logger"
	"github.com/gridscrape/coordinator/internal/metrics"
)

// Heartbeat refreshes item leases during long-running processing. Refreshes
// are throttled per item through an in-memory map so tight processing loops
// can call Touch on every sub-fetch without hammering the store.
type Heartbeat struct {
	store       Store
	minInterval time.Duration
	log         logger.Logger
	metrics     *metrics.Metrics

	mu       sync.Mutex
	lastSent map[int64]time.Time

	now func() time.Time
}

// NewHeartbeat creates a heartbeat manager. minInterval is the minimum gap
// between store-level refreshes for the same item.
func NewHeartbeat(store Store, minInterval time.Duration, log logger.Logger, m *metrics.Metrics) *Heartbeat {
	return &Heartbeat{
		store:       store,
		minInterval: minInterval,
		log:         log,
		metrics:     m,
		lastSent:    make(map[int64]time.Time),
		now:         time.Now,
	}
}

// Touch refreshes the lease on an item held by owner. Calls inside the
// throttle window are silent no-ops. Returns ErrLeaseLost when the item is
// no longer owned by owner, meaning the worker must abandon it without
// writing a terminal status.
func (h *Heartbeat) Touch(ctx context.Context, itemID int64, owner string) error {
	h.mu.Lock()
	last, seen := h.lastSent[itemID]
	now := h.now()
	if seen && now.Sub(last) < h.minInterval {
		h.mu.Unlock()
		return nil
	}
	h.lastSent[itemID] = now
	h.mu.Unlock()

	ok, err := h.store.Heartbeat(ctx, itemID, owner)
	if err != nil {
		// Leave the throttle entry in place; the next Touch past the
		// window retries naturally.
		return fmt.Errorf("heartbeat item %d: %w", itemID, err)
	}

	if h.metrics != nil {
		h.metrics.Heartbeats.Inc()
	}

	if !ok {
		h.log.Warn("lease lost during processing",
			logger.Int64("item_id", itemID),
			logger.String("owner", owner))
		return ErrLeaseLost
	}

	return nil
}

// Forget drops the throttle entry for an item. Called after the item
// reaches a terminal status so the map does not grow without bound.
func (h *Heartbeat) Forget(itemID int64) {
	h.mu.Lock()
	delete(h.lastSent, itemID)
	h.mu.Unlock()
}
