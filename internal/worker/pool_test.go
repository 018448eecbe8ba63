package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridscrape/coordinator/internal/circuitbreaker"
	"github.com/gridscrape/coordinator/internal/config"
	"github.com/gridscrape/coordinator/internal/database"
	"github.com/gridscrape/coordinator/internal/domain"
	"github.com/gridscrape/coordinator/internal/logger"
	"github.com/gridscrape/coordinator/internal/queue"
)

// memStore is an in-memory queue.Store with the same claim, lease and
// terminal semantics as the SQL repository. It lets the pool tests run the
// full coordination protocol without a database.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*domain.WorkItem
}

func newMemStore() *memStore {
	return &memStore{items: make(map[int64]*domain.WorkItem)}
}

func (s *memStore) seed(runID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.nextID++
		s.items[s.nextID] = &domain.WorkItem{
			ID:      s.nextID,
			RunID:   runID,
			ItemKey: fmt.Sprintf("term-%04d", i),
			Status:  domain.ItemStatusPending,
		}
	}
}

// seedStale adds items claimed by a worker that died without heartbeating.
func (s *memStore) seedStale(runID, deadOwner string, n int, age time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := time.Now().Add(-age)
	for i := 0; i < n; i++ {
		s.nextID++
		owner := deadOwner
		lease := stale
		s.items[s.nextID] = &domain.WorkItem{
			ID:        s.nextID,
			RunID:     runID,
			ItemKey:   fmt.Sprintf("stale-%04d", i),
			Status:    domain.ItemStatusInProgress,
			Owner:     &owner,
			LeaseTime: &lease,
		}
	}
}

func (s *memStore) ClaimBatch(_ context.Context, params database.ClaimParams) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var eligible []*domain.WorkItem
	for _, item := range s.items {
		if item.RunID != params.RunID || item.Status != domain.ItemStatusPending {
			continue
		}
		if item.LeaseTime != nil && item.LeaseTime.After(now) {
			continue
		}
		if item.AttemptCount >= params.MaxAttempts {
			continue
		}
		eligible = append(eligible, item)
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].AttemptCount != eligible[j].AttemptCount {
			return eligible[i].AttemptCount < eligible[j].AttemptCount
		}
		return eligible[i].ItemKey < eligible[j].ItemKey
	})
	if len(eligible) > params.Limit {
		eligible = eligible[:params.Limit]
	}

	claimed := make([]domain.WorkItem, 0, len(eligible))
	for _, item := range eligible {
		owner := params.Owner
		lease := now
		item.Status = domain.ItemStatusInProgress
		item.Owner = &owner
		item.LeaseTime = &lease
		claimed = append(claimed, *item)
	}
	return claimed, nil
}

func (s *memStore) MarkTerminal(_ context.Context, id int64, status domain.ItemStatus, lastError *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status.IsTerminal() {
		return nil
	}
	item.Status = status
	item.AttemptCount++
	item.LastError = lastError
	item.Owner = nil
	item.LeaseTime = nil
	return nil
}

func (s *memStore) Heartbeat(_ context.Context, id int64, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status != domain.ItemStatusInProgress || item.Owner == nil || *item.Owner != owner {
		return false, nil
	}
	now := time.Now()
	item.LeaseTime = &now
	return true, nil
}

func (s *memStore) Requeue(_ context.Context, id int64, delay time.Duration, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	notBefore := time.Now().Add(delay)
	item.Status = domain.ItemStatusPending
	item.Owner = nil
	item.LeaseTime = &notBefore
	item.AttemptCount++
	item.LastError = &lastError
	return nil
}

func (s *memStore) RecoverExpired(_ context.Context, runID string, leaseTimeout time.Duration, maxAttempts int) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var reset, exhausted int64
	for _, item := range s.items {
		if item.RunID != runID || item.Status != domain.ItemStatusInProgress {
			continue
		}
		if item.LeaseTime != nil && now.Sub(*item.LeaseTime) <= leaseTimeout {
			continue
		}
		item.Owner = nil
		item.LeaseTime = nil
		if item.AttemptCount < maxAttempts {
			item.Status = domain.ItemStatusPending
			reset++
		} else {
			item.Status = domain.ItemStatusFailed
			exhausted++
		}
	}
	return reset, exhausted, nil
}

func (s *memStore) ClearFutureLeases(_ context.Context, runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var cleared int64
	for _, item := range s.items {
		if item.RunID == runID && item.Status == domain.ItemStatusPending &&
			item.LeaseTime != nil && item.LeaseTime.After(now) {
			item.LeaseTime = nil
			cleared++
		}
	}
	return cleared, nil
}

func (s *memStore) Stats(_ context.Context, runID string) (*domain.RunStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	stats := &domain.RunStats{}
	for _, item := range s.items {
		if item.RunID != runID {
			continue
		}
		switch item.Status {
		case domain.ItemStatusPending:
			stats.Pending++
			if item.LeaseTime == nil || !item.LeaseTime.After(now) {
				stats.PendingAvailable++
			}
		case domain.ItemStatusInProgress:
			stats.InProgress++
		case domain.ItemStatusCompleted:
			stats.Completed++
		case domain.ItemStatusZeroResult:
			stats.ZeroResult++
		case domain.ItemStatusFailed:
			stats.Failed++
		case domain.ItemStatusBlocked:
			stats.Blocked++
		}
	}
	return stats, nil
}

func (s *memStore) snapshot() map[string]domain.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.WorkItem, len(s.items))
	for _, item := range s.items {
		out[item.ItemKey] = *item
	}
	return out
}

// countingProcessor records how many times each item key was processed.
type countingProcessor struct {
	mu      sync.Mutex
	counts  map[string]int
	process func(attempt int, item *domain.WorkItem) (domain.ItemStatus, error)
}

func newCountingProcessor(process func(attempt int, item *domain.WorkItem) (domain.ItemStatus, error)) *countingProcessor {
	return &countingProcessor{counts: make(map[string]int), process: process}
}

func (p *countingProcessor) Process(_ context.Context, item *domain.WorkItem) (domain.ItemStatus, error) {
	p.mu.Lock()
	p.counts[item.ItemKey]++
	attempt := p.counts[item.ItemKey]
	p.mu.Unlock()
	if p.process == nil {
		return domain.ItemStatusCompleted, nil
	}
	return p.process(attempt, item)
}

func (p *countingProcessor) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[key]
}

func testPool(store queue.Store, proc Processor, breakerThreshold int) *Pool {
	queueCfg := config.QueueConfig{
		LeaseTimeout:         60 * time.Millisecond,
		MaxAttempts:          5,
		BatchSize:            10,
		HeartbeatMinInterval: 10 * time.Millisecond,
		PollInterval:         5 * time.Millisecond,
	}
	recoveryCfg := config.RecoveryConfig{
		StuckThresholdPct: 99.5,
		StuckTimeout:      time.Second,
		SweepInterval:     20 * time.Millisecond,
	}
	backoffCfg := config.BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
	poolCfg := config.WorkerConfig{PoolSize: 5, SubFetchLimit: 4}

	log := logger.NewNop()
	tracker := queue.NewStuckTracker(recoveryCfg.StuckThresholdPct, recoveryCfg.StuckTimeout)
	deps := PoolDeps{
		Queue:     queue.New(store, queueCfg, log, nil),
		Heartbeat: queue.NewHeartbeat(store, queueCfg.HeartbeatMinInterval, log, nil),
		Backoff:   queue.NewBackoff(store, backoffCfg, queueCfg.MaxAttempts, log, nil),
		Detector:  queue.NewDetector(store, tracker),
		Recovery:  queue.NewRecovery(store, queueCfg, recoveryCfg, tracker, log, nil),
		Breaker: circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: breakerThreshold,
			Cooldown:         10 * time.Millisecond,
		}),
		Processor: proc,
	}
	return NewPool("run-test", "worker", deps, queueCfg, poolCfg, recoveryCfg, log)
}

func runPool(t *testing.T, p *Pool) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := p.Run(ctx)
	require.NoError(t, ctx.Err(), "pool did not finish in time")
	return err
}

func TestPoolDrainsRunWithoutDoubleProcessing(t *testing.T) {
	store := newMemStore()
	store.seed("run-test", 500)
	proc := newCountingProcessor(nil)

	require.NoError(t, runPool(t, testPool(store, proc, 100)))

	items := store.snapshot()
	require.Len(t, items, 500)
	for key, item := range items {
		assert.Equal(t, domain.ItemStatusCompleted, item.Status, key)
		assert.Equal(t, 1, proc.count(key), "item %s processed more than once", key)
	}
}

func TestPoolRecoversItemsFromCrashedWorker(t *testing.T) {
	store := newMemStore()
	store.seed("run-test", 50)
	// A previous worker claimed these and died mid-processing.
	store.seedStale("run-test", "dead-worker-0", 10, time.Minute)
	proc := newCountingProcessor(nil)

	require.NoError(t, runPool(t, testPool(store, proc, 100)))

	items := store.snapshot()
	require.Len(t, items, 60)
	for key, item := range items {
		assert.Equal(t, domain.ItemStatusCompleted, item.Status, key)
		assert.Equal(t, 1, proc.count(key), key)
	}
}

func TestPoolRetriesTransientFailures(t *testing.T) {
	store := newMemStore()
	store.seed("run-test", 40)
	// Every third item fails twice before succeeding; term-0001 never
	// succeeds and must exhaust its budget.
	proc := newCountingProcessor(func(attempt int, item *domain.WorkItem) (domain.ItemStatus, error) {
		if item.ItemKey == "term-0001" {
			return "", domain.Transient(errors.New("upstream timeout"))
		}
		if item.ID%3 == 0 && attempt <= 2 {
			return "", domain.Transient(errors.New("upstream timeout"))
		}
		return domain.ItemStatusCompleted, nil
	})

	require.NoError(t, runPool(t, testPool(store, proc, 1000)))

	items := store.snapshot()
	for key, item := range items {
		if key == "term-0001" {
			assert.Equal(t, domain.ItemStatusFailed, item.Status)
			assert.Equal(t, 5, item.AttemptCount)
			require.NotNil(t, item.LastError)
			assert.Contains(t, *item.LastError, "retry budget exhausted")
			continue
		}
		assert.Equal(t, domain.ItemStatusCompleted, item.Status, key)
	}
}

func TestPoolMarksBusinessOutcomesTerminal(t *testing.T) {
	store := newMemStore()
	store.seed("run-test", 30)
	proc := newCountingProcessor(func(_ int, item *domain.WorkItem) (domain.ItemStatus, error) {
		switch {
		case item.ID%10 == 0:
			return domain.ItemStatusZeroResult, nil
		case item.ID%7 == 0:
			// The site answered but will never serve this item (login
			// wall, geo block): a declared outcome, not an error.
			return domain.ItemStatusBlocked, nil
		default:
			return domain.ItemStatusCompleted, nil
		}
	})

	require.NoError(t, runPool(t, testPool(store, proc, 100)))

	items := store.snapshot()
	var zero, blocked int
	for key, item := range items {
		require.True(t, item.Status.IsTerminal(), key)
		// Declared outcomes are single-shot: no retries burned.
		assert.Equal(t, 1, proc.count(key), key)
		switch item.Status {
		case domain.ItemStatusZeroResult:
			zero++
		case domain.ItemStatusBlocked:
			blocked++
		}
	}
	assert.Equal(t, 3, zero)
	assert.Greater(t, blocked, 0)
}

func TestPoolRetriesBusinessFailuresUntilExhausted(t *testing.T) {
	store := newMemStore()
	store.seed("run-test", 5)
	// Business failures, explicit or unclassified, are requeued with
	// backoff until the attempt budget runs out, then marked failed,
	// never terminal after a single attempt.
	proc := newCountingProcessor(func(_ int, item *domain.WorkItem) (domain.ItemStatus, error) {
		if item.ID%2 == 0 {
			return "", domain.Business(errors.New("listing page layout changed"))
		}
		return "", errors.New("parse failed: unexpected listing markup")
	})

	require.NoError(t, runPool(t, testPool(store, proc, 1000)))

	items := store.snapshot()
	require.Len(t, items, 5)
	for key, item := range items {
		assert.Equal(t, domain.ItemStatusFailed, item.Status, key)
		assert.Equal(t, 5, item.AttemptCount, key)
		assert.Equal(t, 5, proc.count(key), key)
		require.NotNil(t, item.LastError, key)
		assert.Contains(t, *item.LastError, "retry budget exhausted")
	}
}

func TestPoolStopsOnFatalError(t *testing.T) {
	store := newMemStore()
	store.seed("run-test", 50)
	proc := newCountingProcessor(func(_ int, item *domain.WorkItem) (domain.ItemStatus, error) {
		if item.ItemKey == "term-0005" {
			return "", domain.Fatal(errors.New("schema changed upstream"))
		}
		return domain.ItemStatusCompleted, nil
	})

	err := runPool(t, testPool(store, proc, 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema changed upstream")

	stats, statsErr := store.Stats(context.Background(), "run-test")
	require.NoError(t, statsErr)
	assert.Positive(t, stats.Remaining(), "fatal stop must leave unfinished work, not mark it")
}
