package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema holds the coordination tables. Partial indexes cover the two hot
// scans: the claim subquery over eligible pending items and the recovery
// sweep over in-progress leases.
const schema = `
CREATE TABLE IF NOT EXISTS work_items (
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT        NOT NULL,
	item_key      TEXT        NOT NULL,
	status        TEXT        NOT NULL DEFAULT 'pending',
	owner         TEXT,
	lease_time    TIMESTAMPTZ,
	attempt_count INT         NOT NULL DEFAULT 0,
	last_error    TEXT,
	payload       JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (run_id, item_key)
);

CREATE INDEX IF NOT EXISTS idx_work_items_claim
	ON work_items (run_id, attempt_count, item_key)
	WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_work_items_lease
	ON work_items (run_id, lease_time)
	WHERE status = 'in_progress';

CREATE INDEX IF NOT EXISTS idx_work_items_run_status
	ON work_items (run_id, status);

CREATE TABLE IF NOT EXISTS pipeline_steps (
	run_id       TEXT        NOT NULL,
	step_number  INT         NOT NULL,
	step_name    TEXT        NOT NULL,
	completed    BOOLEAN     NOT NULL DEFAULT FALSE,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	duration_ms  BIGINT,
	outputs      TEXT[]      NOT NULL DEFAULT '{}',
	metadata     JSONB,
	PRIMARY KEY (run_id, step_number)
);
`

// EnsureSchema creates the coordination tables and indexes if they do not
// exist. Safe to run on every startup.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
