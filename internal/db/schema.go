package db

import (
	"context"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		title       VARCHAR(200) NOT NULL CHECK (char_length(title) >= 1),
		description TEXT,
		completed   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ,
		CONSTRAINT tasks_updated_at_check CHECK (updated_at IS NULL OR updated_at >= created_at)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_tasks_title ON tasks (title)`,
}

// EnsureSchema creates the tasks table and its index when they are missing.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	if m == nil || m.pool == nil {
		return ErrNotInitialized
	}
	for _, stmt := range schemaStatements {
		if _, err := m.pool.Exec(ctx, stmt); err != nil {
			return Translate("ensure schema", err)
		}
	}
	return nil
}
