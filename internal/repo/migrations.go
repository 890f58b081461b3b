package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MigrationUp возвращает SQL создания таблиц instances и instance_history.
//
// history_len дублирует количество строк истории, чтобы polling
// находил instances с необработанными событиями без агрегации.
func MigrationUp() string {
	return `-- Instances
CREATE TABLE IF NOT EXISTS instances (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    input JSONB,
    output JSONB,
    error TEXT,
    reason TEXT,
    parent_id TEXT,
    checkpoint INTEGER NOT NULL DEFAULT 0,
    history_len INTEGER NOT NULL DEFAULT 0,
    termination_requested BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ
);

-- Listing by status in creation order
CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status, created_at);

-- Children of a parent
CREATE INDEX IF NOT EXISTS idx_instances_parent ON instances(parent_id) WHERE parent_id IS NOT NULL;

-- Polling fallback: non-terminal instances with unprocessed history
CREATE INDEX IF NOT EXISTS idx_instances_runnable ON instances(last_updated_at)
    WHERE status IN ('PENDING', 'RUNNING') AND history_len > checkpoint;

-- History log
CREATE TABLE IF NOT EXISTS instance_history (
    instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    type TEXT NOT NULL,
    payload JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (instance_id, seq)
);
`
}

// MigrationDown возвращает SQL удаления таблиц.
// История удаляется первой из-за внешнего ключа.
func MigrationDown() string {
	return `DROP TABLE IF EXISTS instance_history;
DROP TABLE IF EXISTS instances;
`
}

// Migrate применяет MigrationUp. Повторный вызов безопасен.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, MigrationUp()); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
