package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/gridscrape/coordinator/internal/domain"
)

const stepColumns = `run_id, step_number, step_name, completed, started_at,
			completed_at, duration_ms, outputs, metadata`

// CheckpointRepository persists step-level completion records for
// pipeline runs.
type CheckpointRepository struct {
	db *sqlx.DB
}

// NewCheckpointRepository creates a new checkpoint repository.
func NewCheckpointRepository(db *sqlx.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// StepCompletionParams contains the parameters for recording a completed step.
type StepCompletionParams struct {
	RunID       string
	StepNumber  int
	StepName    string
	StartedAt   time.Time
	CompletedAt time.Time
	Outputs     []string
	Metadata    map[string]any
}

// UpsertStepComplete records a step as complete. Re-recording the same step
// overwrites the previous record, so the call is idempotent for resume
// purposes.
func (r *CheckpointRepository) UpsertStepComplete(ctx context.Context, params StepCompletionParams) error {
	metadataJSON, marshalErr := json.Marshal(params.Metadata)
	if marshalErr != nil {
		return fmt.Errorf("marshal step metadata: %w", marshalErr)
	}

	durationMS := params.CompletedAt.Sub(params.StartedAt).Milliseconds()

	query := `
		INSERT INTO pipeline_steps
			(run_id, step_number, step_name, completed, started_at, completed_at, duration_ms, outputs, metadata)
		VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, step_number) DO UPDATE SET
			step_name = EXCLUDED.step_name,
			completed = TRUE,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms,
			outputs = EXCLUDED.outputs,
			metadata = EXCLUDED.metadata
	`

	_, err := r.db.ExecContext(ctx, query,
		params.RunID,
		params.StepNumber,
		params.StepName,
		params.StartedAt,
		params.CompletedAt,
		durationMS,
		pq.StringArray(params.Outputs),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert step completion: %w", err)
	}

	return nil
}

// GetStep returns the record for one step, or domain.ErrNotFound when the
// step was never recorded.
func (r *CheckpointRepository) GetStep(ctx context.Context, runID string, stepNumber int) (*domain.StepRecord, error) {
	query := `SELECT ` + stepColumns + ` FROM pipeline_steps WHERE run_id = $1 AND step_number = $2`

	rec, err := scanStepRow(r.db.QueryRowxContext(ctx, query, runID, stepNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get step: %w", err)
	}

	return rec, nil
}

// ListSteps returns all recorded steps for a run, ordered by step number.
func (r *CheckpointRepository) ListSteps(ctx context.Context, runID string) ([]domain.StepRecord, error) {
	query := `SELECT ` + stepColumns + ` FROM pipeline_steps WHERE run_id = $1 ORDER BY step_number ASC`

	rows, err := r.db.QueryxContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var records []domain.StepRecord
	for rows.Next() {
		rec, scanErr := scanStepRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan step row: %w", scanErr)
		}
		records = append(records, *rec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("step rows: %w", rowsErr)
	}

	return records, nil
}

// ClearRun deletes all step records for a run (fresh-start).
func (r *CheckpointRepository) ClearRun(ctx context.Context, runID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pipeline_steps WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("clear run: %w", err)
	}

	return nil
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStepRow(row rowScanner) (*domain.StepRecord, error) {
	var rec domain.StepRecord
	var outputs pq.StringArray
	var metadataJSON []byte

	err := row.Scan(
		&rec.RunID,
		&rec.StepNumber,
		&rec.StepName,
		&rec.Completed,
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.DurationMS,
		&outputs,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	rec.Outputs = outputs
	if len(metadataJSON) > 0 {
		if unmarshalErr := json.Unmarshal(metadataJSON, &rec.Metadata); unmarshalErr != nil {
			return nil, fmt.Errorf("unmarshal step metadata: %w", unmarshalErr)
		}
	}

	return &rec, nil
}
