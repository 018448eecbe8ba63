package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridscrape/coordinator/internal/domain"
)

func TestDetectorStatus(t *testing.T) {
	tests := []struct {
		name  string
		stats *domain.RunStats
		want  RunState
	}{
		{
			name:  "all terminal",
			stats: &domain.RunStats{Completed: 480, ZeroResult: 12, Failed: 5, Blocked: 3},
			want:  RunComplete,
		},
		{
			name:  "empty run",
			stats: &domain.RunStats{},
			want:  RunComplete,
		},
		{
			name:  "claimable items",
			stats: &domain.RunStats{Pending: 40, PendingAvailable: 25, InProgress: 10, Completed: 450},
			want:  RunHasWork,
		},
		{
			name:  "all pending gated by backoff",
			stats: &domain.RunStats{Pending: 3, PendingAvailable: 0, Completed: 497},
			want:  RunEmptyRetryable,
		},
		{
			name:  "only in-progress items held elsewhere",
			stats: &domain.RunStats{InProgress: 2, Completed: 498},
			want:  RunEmptyRetryable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{
				t: t,
				stats: func(_ context.Context, runID string) (*domain.RunStats, error) {
					assert.Equal(t, "run-cl-2026-08", runID)
					return tt.stats, nil
				},
			}
			d := NewDetector(store, NewStuckTracker(99.5, 10*time.Minute))

			state, stats, err := d.Status(context.Background(), "run-cl-2026-08")
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
			assert.Equal(t, tt.stats, stats)
		})
	}
}

func TestDetectorReportsStuck(t *testing.T) {
	stats := &domain.RunStats{Pending: 2, Completed: 990, Failed: 8}
	store := &fakeStore{
		t: t,
		stats: func(_ context.Context, _ string) (*domain.RunStats, error) {
			return stats, nil
		},
	}

	tr := NewStuckTracker(99.5, 10*time.Minute)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	d := NewDetector(store, tr)

	state, _, err := d.Status(context.Background(), "run-ar-2026-08")
	require.NoError(t, err)
	assert.Equal(t, RunEmptyRetryable, state)

	now = now.Add(11 * time.Minute)
	state, _, err = d.Status(context.Background(), "run-ar-2026-08")
	require.NoError(t, err)
	assert.Equal(t, RunStuck, state)
}
