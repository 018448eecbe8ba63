package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridscrape/coordinator/internal/checkpoint"
	"github.com/gridscrape/coordinator/internal/config"
	"github.com/gridscrape/coordinator/internal/database"
	"github.com/gridscrape/coordinator/internal/domain"
	"github.com/gridscrape/coordinator/internal/logger"
	"github.com/gridscrape/coordinator/internal/queue"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(_ context.Context) error { return p.err }

// statsOnlyStore serves Stats and fails every other queue.Store call, which
// the read-only API never makes.
type statsOnlyStore struct {
	stats *domain.RunStats
	err   error
}

func (s *statsOnlyStore) Stats(_ context.Context, _ string) (*domain.RunStats, error) {
	return s.stats, s.err
}

func (s *statsOnlyStore) ClaimBatch(context.Context, database.ClaimParams) ([]domain.WorkItem, error) {
	return nil, errors.New("not supported")
}

func (s *statsOnlyStore) MarkTerminal(context.Context, int64, domain.ItemStatus, *string) error {
	return errors.New("not supported")
}

func (s *statsOnlyStore) Heartbeat(context.Context, int64, string) (bool, error) {
	return false, errors.New("not supported")
}

func (s *statsOnlyStore) Requeue(context.Context, int64, time.Duration, string) error {
	return errors.New("not supported")
}

func (s *statsOnlyStore) RecoverExpired(context.Context, string, time.Duration, int) (int64, int64, error) {
	return 0, 0, errors.New("not supported")
}

func (s *statsOnlyStore) ClearFutureLeases(context.Context, string) (int64, error) {
	return 0, errors.New("not supported")
}

type memCheckpoints struct {
	steps []domain.StepRecord
}

func (s *memCheckpoints) UpsertStepComplete(context.Context, database.StepCompletionParams) error {
	return nil
}

func (s *memCheckpoints) GetStep(context.Context, string, int) (*domain.StepRecord, error) {
	return nil, domain.ErrNotFound
}

func (s *memCheckpoints) ListSteps(context.Context, string) ([]domain.StepRecord, error) {
	return s.steps, nil
}

func (s *memCheckpoints) ClearRun(context.Context, string) error { return nil }

func testRouter(db Pinger, store *statsOnlyStore, cps *memCheckpoints) *Router {
	log := logger.NewNop()
	detector := queue.NewDetector(store, queue.NewStuckTracker(99.5, 10*time.Minute))
	manager := checkpoint.New(cps, log)
	return NewRouter(db, detector, manager, nil, config.ServerConfig{Address: ":0"}, log)
}

func doGet(t *testing.T, r *Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.Engine(false).ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	r := testRouter(fakePinger{}, &statsOnlyStore{stats: &domain.RunStats{}}, &memCheckpoints{})

	rec := doGet(t, r, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestHealthzDegraded(t *testing.T) {
	r := testRouter(fakePinger{err: errors.New("connection refused")},
		&statsOnlyStore{stats: &domain.RunStats{}}, &memCheckpoints{})

	rec := doGet(t, r, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestGetRunStats(t *testing.T) {
	store := &statsOnlyStore{stats: &domain.RunStats{
		Pending: 12, PendingAvailable: 10, InProgress: 3, Completed: 480, ZeroResult: 5,
	}}
	r := testRouter(fakePinger{}, store, &memCheckpoints{})

	rec := doGet(t, r, "/api/v1/runs/run-cl-2026-08/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID     string          `json:"run_id"`
		Stats     domain.RunStats `json:"stats"`
		Total     int64           `json:"total"`
		Remaining int64           `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-cl-2026-08", body.RunID)
	assert.Equal(t, int64(500), body.Total)
	assert.Equal(t, int64(15), body.Remaining)
	assert.Equal(t, int64(480), body.Stats.Completed)
}

func TestGetRunStatus(t *testing.T) {
	store := &statsOnlyStore{stats: &domain.RunStats{Completed: 500}}
	r := testRouter(fakePinger{}, store, &memCheckpoints{})

	rec := doGet(t, r, "/api/v1/runs/run-cl-2026-08/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"complete"`)
}

func TestGetRunStatsError(t *testing.T) {
	store := &statsOnlyStore{err: errors.New("connection reset")}
	r := testRouter(fakePinger{}, store, &memCheckpoints{})

	rec := doGet(t, r, "/api/v1/runs/run-cl-2026-08/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetRunCheckpoints(t *testing.T) {
	durationMS := int64(90000)
	cps := &memCheckpoints{steps: []domain.StepRecord{
		{RunID: "run-cl-2026-08", StepNumber: 1, StepName: "enumerate_terms", Completed: true, DurationMS: &durationMS},
		{RunID: "run-cl-2026-08", StepNumber: 2, StepName: "fetch_details", Completed: true, DurationMS: &durationMS},
	}}
	r := testRouter(fakePinger{}, &statsOnlyStore{stats: &domain.RunStats{}}, cps)

	rec := doGet(t, r, "/api/v1/runs/run-cl-2026-08/checkpoints")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
	assert.Contains(t, rec.Body.String(), "enumerate_terms")
}

func TestGetRunTiming(t *testing.T) {
	durationMS := int64(120000)
	cps := &memCheckpoints{steps: []domain.StepRecord{
		{RunID: "run-cl-2026-08", StepNumber: 1, StepName: "fetch_details", Completed: true, DurationMS: &durationMS},
	}}
	r := testRouter(fakePinger{}, &statsOnlyStore{stats: &domain.RunStats{}}, cps)

	rec := doGet(t, r, "/api/v1/runs/run-cl-2026-08/timing")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"slowest_step":"fetch_details"`)
}
