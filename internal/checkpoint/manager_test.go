package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridscrape/coordinator/internal/database"
	"github.com/gridscrape/coordinator/internal/domain"
	"github.com/gridscrape/coordinator/internal/logger"
)

// memStore is an in-memory Store keyed by step number.
type memStore struct {
	steps map[int]*domain.StepRecord
	err   error
}

func newMemStore() *memStore {
	return &memStore{steps: make(map[int]*domain.StepRecord)}
}

func (s *memStore) UpsertStepComplete(_ context.Context, params database.StepCompletionParams) error {
	if s.err != nil {
		return s.err
	}
	durationMS := params.CompletedAt.Sub(params.StartedAt).Milliseconds()
	started := params.StartedAt
	completed := params.CompletedAt
	s.steps[params.StepNumber] = &domain.StepRecord{
		RunID:       params.RunID,
		StepNumber:  params.StepNumber,
		StepName:    params.StepName,
		Completed:   true,
		StartedAt:   &started,
		CompletedAt: &completed,
		DurationMS:  &durationMS,
		Outputs:     params.Outputs,
		Metadata:    params.Metadata,
	}
	return nil
}

func (s *memStore) GetStep(_ context.Context, _ string, stepNumber int) (*domain.StepRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.steps[stepNumber]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) ListSteps(_ context.Context, _ string) ([]domain.StepRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.StepRecord
	for step := 1; step <= len(s.steps)+1; step++ {
		if rec, ok := s.steps[step]; ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *memStore) ClearRun(_ context.Context, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.steps = make(map[int]*domain.StepRecord)
	return nil
}

// fakeFS reports only listed paths as existing.
type fakeFS struct {
	existing map[string]bool
}

func (f fakeFS) Exists(path string) bool { return f.existing[path] }

func record(t *testing.T, m *Manager, step int, name string, outputs []string) {
	t.Helper()
	started := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	err := m.MarkStepComplete(context.Background(), database.StepCompletionParams{
		RunID:       "run-cl-2026-08",
		StepNumber:  step,
		StepName:    name,
		StartedAt:   started,
		CompletedAt: started.Add(time.Duration(step) * time.Minute),
		Outputs:     outputs,
	})
	require.NoError(t, err)
}

func TestIsStepCompleteVerifiesOutputs(t *testing.T) {
	store := newMemStore()
	fs := fakeFS{existing: map[string]bool{"/data/cl/terms.csv": true}}
	m := NewWithFS(store, fs, logger.NewNop())

	record(t, m, 1, "enumerate_terms", []string{"/data/cl/terms.csv"})
	record(t, m, 2, "fetch_details", []string{"/data/cl/details.csv"})

	done, err := m.IsStepComplete(context.Background(), "run-cl-2026-08", 1, true)
	require.NoError(t, err)
	assert.True(t, done)

	// Output deleted since the checkpoint was written: step must rerun.
	done, err = m.IsStepComplete(context.Background(), "run-cl-2026-08", 2, true)
	require.NoError(t, err)
	assert.False(t, done)

	// Without verification the bare record is trusted.
	done, err = m.IsStepComplete(context.Background(), "run-cl-2026-08", 2, false)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestIsStepCompleteUnrecordedStep(t *testing.T) {
	m := NewWithFS(newMemStore(), fakeFS{}, logger.NewNop())

	done, err := m.IsStepComplete(context.Background(), "run-cl-2026-08", 3, true)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestMarkStepCompleteIsIdempotent(t *testing.T) {
	store := newMemStore()
	fs := fakeFS{existing: map[string]bool{"/data/cl/terms.csv": true}}
	m := NewWithFS(store, fs, logger.NewNop())

	record(t, m, 1, "enumerate_terms", []string{"/data/cl/terms.csv"})
	record(t, m, 1, "enumerate_terms", []string{"/data/cl/terms.csv"})

	done, err := m.IsStepComplete(context.Background(), "run-cl-2026-08", 1, true)
	require.NoError(t, err)
	assert.True(t, done)

	next, err := m.NextStep(context.Background(), "run-cl-2026-08", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	steps, err := m.Steps(context.Background(), "run-cl-2026-08")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "enumerate_terms", steps[0].StepName)
}

func TestNextStepResumesAtFirstIncomplete(t *testing.T) {
	store := newMemStore()
	fs := fakeFS{existing: map[string]bool{
		"/data/cl/terms.csv":   true,
		"/data/cl/details.csv": true,
	}}
	m := NewWithFS(store, fs, logger.NewNop())

	record(t, m, 1, "enumerate_terms", []string{"/data/cl/terms.csv"})
	record(t, m, 2, "fetch_details", []string{"/data/cl/details.csv"})

	next, err := m.NextStep(context.Background(), "run-cl-2026-08", 4)
	require.NoError(t, err)
	assert.Equal(t, 3, next)
}

func TestNextStepAllComplete(t *testing.T) {
	store := newMemStore()
	fs := fakeFS{existing: map[string]bool{"/data/cl/out.csv": true}}
	m := NewWithFS(store, fs, logger.NewNop())

	record(t, m, 1, "enumerate_terms", []string{"/data/cl/out.csv"})
	record(t, m, 2, "export", nil)

	next, err := m.NextStep(context.Background(), "run-cl-2026-08", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, next)
}

func TestNextStepStepsAreIndependent(t *testing.T) {
	store := newMemStore()
	m := NewWithFS(store, fakeFS{}, logger.NewNop())

	// Step 2 recorded without step 1: resume still starts at 1.
	record(t, m, 2, "fetch_details", nil)

	next, err := m.NextStep(context.Background(), "run-cl-2026-08", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestClearStartsOver(t *testing.T) {
	store := newMemStore()
	m := NewWithFS(store, fakeFS{}, logger.NewNop())

	record(t, m, 1, "enumerate_terms", nil)
	require.NoError(t, m.Clear(context.Background(), "run-cl-2026-08"))

	next, err := m.NextStep(context.Background(), "run-cl-2026-08", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestTiming(t *testing.T) {
	store := newMemStore()
	m := NewWithFS(store, fakeFS{}, logger.NewNop())

	record(t, m, 1, "enumerate_terms", nil) // 1 minute
	record(t, m, 2, "fetch_details", nil)   // 2 minutes
	record(t, m, 3, "export", nil)          // 3 minutes

	timing, err := m.Timing(context.Background(), "run-cl-2026-08")
	require.NoError(t, err)
	assert.Equal(t, 6*time.Minute, timing.TotalDuration)
	assert.Equal(t, "export", timing.SlowestStep)
	assert.Equal(t, 2*time.Minute, timing.PerStep["fetch_details"])
}

func TestStoreErrorsPropagate(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection reset")
	m := NewWithFS(store, fakeFS{}, logger.NewNop())

	_, err := m.IsStepComplete(context.Background(), "run-cl-2026-08", 1, true)
	assert.Error(t, err)

	_, err = m.NextStep(context.Background(), "run-cl-2026-08", 2)
	assert.Error(t, err)
}
