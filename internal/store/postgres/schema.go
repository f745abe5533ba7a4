package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlFormSessions = `
CREATE TABLE IF NOT EXISTS form_sessions (
    id          TEXT         PRIMARY KEY,
    document    JSONB        NOT NULL,
    status      TEXT         NOT NULL,
    version     BIGINT       NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_form_sessions_active_updated
    ON form_sessions (updated_at)
    WHERE status IN ('collecting', 'clarifying');
`

// Migrate creates the form_sessions table and its indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlFormSessions); err != nil {
		return fmt.Errorf("migrate: form_sessions: %w", err)
	}
	return nil
}
