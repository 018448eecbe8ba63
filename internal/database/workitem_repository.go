package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gridscrape/coordinator/internal/domain"
)

// workItemColumns lists columns for SELECT/RETURNING on work_items
// (single source for schema changes).
const workItemColumns = `id, run_id, item_key, status, owner, lease_time,
			attempt_count, last_error, payload, created_at, updated_at`

// terminalStatusList renders domain.TerminalStatuses for WHERE clauses
// that must only touch non-terminal rows.
var terminalStatusList = func() string {
	quoted := make([]string, len(domain.TerminalStatuses))
	for i, s := range domain.TerminalStatuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}()

// WorkItemRepository handles database operations for the work item queue.
type WorkItemRepository struct {
	db *sqlx.DB
}

// NewWorkItemRepository creates a new work item repository.
func NewWorkItemRepository(db *sqlx.DB) *WorkItemRepository {
	return &WorkItemRepository{db: db}
}

// SeedItem is one unit of work enumerated at batch time.
type SeedItem struct {
	Key     string
	Payload []byte
}

// InsertPending bulk-creates pending work items for a run. Existing
// (run_id, item_key) rows are left untouched so enumeration is idempotent.
// Returns the number of rows actually inserted.
func (r *WorkItemRepository) InsertPending(ctx context.Context, runID string, items []SeedItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO work_items (run_id, item_key, status, payload)
		VALUES ($1, $2, 'pending', $3)
		ON CONFLICT (run_id, item_key) DO NOTHING
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enumeration transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var inserted int64
	for i := range items {
		result, execErr := tx.ExecContext(ctx, query, runID, items[i].Key, items[i].Payload)
		if execErr != nil {
			return 0, fmt.Errorf("insert work item %q: %w", items[i].Key, execErr)
		}
		if n, raErr := result.RowsAffected(); raErr == nil {
			inserted += n
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return 0, fmt.Errorf("commit enumeration transaction: %w", commitErr)
	}

	return inserted, nil
}

// ClaimParams contains the parameters for claiming a batch of work items.
type ClaimParams struct {
	RunID       string
	Owner       string
	MaxAttempts int
	Limit       int
}

// ClaimBatch atomically claims up to Limit eligible items: pending, lease
// absent or past, attempts left. Items closest to exhausting their retry
// budget and earliest-keyed are preferred. Rows locked by another claimant
// are skipped rather than waited on, so no two concurrent callers ever
// receive the same item.
func (r *WorkItemRepository) ClaimBatch(ctx context.Context, params ClaimParams) ([]domain.WorkItem, error) {
	query := `
		UPDATE work_items
		SET status = 'in_progress', owner = $2, lease_time = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM work_items
			WHERE run_id = $1
			  AND status = 'pending'
			  AND (lease_time IS NULL OR lease_time <= NOW())
			  AND attempt_count < $3
			ORDER BY attempt_count ASC, item_key ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + workItemColumns

	rows, err := r.db.QueryxContext(ctx, query, params.RunID, params.Owner, params.MaxAttempts, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	items := make([]domain.WorkItem, 0, params.Limit)
	for rows.Next() {
		var item domain.WorkItem
		if scanErr := rows.StructScan(&item); scanErr != nil {
			return nil, fmt.Errorf("scan claimed item: %w", scanErr)
		}
		items = append(items, item)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("claim rows: %w", rowsErr)
	}

	return items, nil
}

// MarkTerminal sets an item to a terminal status, increments its attempt
// count, records the error text, and releases the lease. Only non-terminal
// rows are updated, which makes a repeated call a no-op.
func (r *WorkItemRepository) MarkTerminal(ctx context.Context, id int64, status domain.ItemStatus, lastError *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	query := `
		UPDATE work_items
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    last_error = $3,
		    owner = NULL,
		    lease_time = NULL,
		    updated_at = NOW()
		WHERE id = $1
		  AND status NOT IN (` + terminalStatusList + `)`

	_, err := r.db.ExecContext(ctx, query, id, status, lastError)
	if err != nil {
		return fmt.Errorf("mark terminal: %w", err)
	}

	return nil
}

// Heartbeat refreshes the lease for an item still owned and in progress.
// Returns false when the row was not touched, meaning the lease was lost:
// another worker reclaimed the item, or it already went terminal.
func (r *WorkItemRepository) Heartbeat(ctx context.Context, id int64, owner string) (bool, error) {
	query := `
		UPDATE work_items
		SET lease_time = NOW(), updated_at = NOW()
		WHERE id = $1
		  AND owner = $2
		  AND status = 'in_progress'`

	result, err := r.db.ExecContext(ctx, query, id, owner)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}

	rows, raErr := result.RowsAffected()
	if raErr != nil {
		return false, fmt.Errorf("heartbeat affected rows: %w", raErr)
	}

	return rows > 0, nil
}

// Requeue returns an item to pending with a future-dated lease (the
// backoff) and an incremented attempt count.
func (r *WorkItemRepository) Requeue(ctx context.Context, id int64, delay time.Duration, lastError string) error {
	query := `
		UPDATE work_items
		SET status = 'pending',
		    owner = NULL,
		    lease_time = NOW() + ($2 * INTERVAL '1 second'),
		    attempt_count = attempt_count + 1,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND status NOT IN (` + terminalStatusList + `)`

	result, err := r.db.ExecContext(ctx, query, id, delay.Seconds(), lastError)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}

	rows, raErr := result.RowsAffected()
	if raErr != nil {
		return fmt.Errorf("requeue affected rows: %w", raErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// RecoverExpired handles leaked leases: in-progress items whose lease
// expired without a terminal mark. Items with attempts left go back to
// pending; exhausted items are marked failed. Returns (reset, failed).
func (r *WorkItemRepository) RecoverExpired(ctx context.Context, runID string, leaseTimeout time.Duration, maxAttempts int) (int64, int64, error) {
	resetQuery := `
		UPDATE work_items
		SET status = 'pending', owner = NULL, lease_time = NULL, updated_at = NOW()
		WHERE run_id = $1
		  AND status = 'in_progress'
		  AND lease_time < NOW() - ($2 * INTERVAL '1 second')
		  AND attempt_count < $3`

	resetResult, resetErr := r.db.ExecContext(ctx, resetQuery, runID, leaseTimeout.Seconds(), maxAttempts)
	if resetErr != nil {
		return 0, 0, fmt.Errorf("recover expired leases: %w", resetErr)
	}
	reset, _ := resetResult.RowsAffected()

	failQuery := `
		UPDATE work_items
		SET status = 'failed',
		    owner = NULL,
		    lease_time = NULL,
		    last_error = 'lease expired with retry budget exhausted',
		    updated_at = NOW()
		WHERE run_id = $1
		  AND status = 'in_progress'
		  AND lease_time < NOW() - ($2 * INTERVAL '1 second')
		  AND attempt_count >= $3`

	failResult, failErr := r.db.ExecContext(ctx, failQuery, runID, leaseTimeout.Seconds(), maxAttempts)
	if failErr != nil {
		return reset, 0, fmt.Errorf("fail exhausted leases: %w", failErr)
	}
	failed, _ := failResult.RowsAffected()

	return reset, failed, nil
}

// ClearFutureLeases makes mid-backoff pending items immediately claimable.
// Used by stuck-run force-resolution only.
func (r *WorkItemRepository) ClearFutureLeases(ctx context.Context, runID string) (int64, error) {
	query := `
		UPDATE work_items
		SET lease_time = NULL, updated_at = NOW()
		WHERE run_id = $1
		  AND status = 'pending'
		  AND lease_time > NOW()`

	result, err := r.db.ExecContext(ctx, query, runID)
	if err != nil {
		return 0, fmt.Errorf("clear future leases: %w", err)
	}

	return result.RowsAffected()
}

// Stats returns aggregate item counts for a run, including how many pending
// items are claimable right now versus parked in backoff.
func (r *WorkItemRepository) Stats(ctx context.Context, runID string) (*domain.RunStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'pending'
				AND (lease_time IS NULL OR lease_time <= NOW())) AS pending_available,
			COUNT(*) FILTER (WHERE status = 'in_progress') AS in_progress,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'zero_result') AS zero_result,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'blocked') AS blocked
		FROM work_items
		WHERE run_id = $1`

	var stats domain.RunStats
	err := r.db.QueryRowxContext(ctx, query, runID).Scan(
		&stats.Pending,
		&stats.PendingAvailable,
		&stats.InProgress,
		&stats.Completed,
		&stats.ZeroResult,
		&stats.Failed,
		&stats.Blocked,
	)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}

	return &stats, nil
}

// GetByID retrieves a single work item.
func (r *WorkItemRepository) GetByID(ctx context.Context, id int64) (*domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE id = $1`

	var item domain.WorkItem
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		return nil, fmt.Errorf("get work item: %w", err)
	}

	return &item, nil
}

// DeleteRun removes all items for a run. Run-scoped cleanup only; the
// core processing loop never deletes rows.
func (r *WorkItemRepository) DeleteRun(ctx context.Context, runID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM work_items WHERE run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("delete run: %w", err)
	}

	return result.RowsAffected()
}
