package postgres

import (
	"context"
	"database/sql"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS browse_history (
  history_id     BIGINT PRIMARY KEY,
  fingerprint_id TEXT NOT NULL,
  user_id        TEXT NULL,
  product_id     TEXT NOT NULL,
  browse_time    TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_browse_history_user_time
  ON browse_history (user_id, browse_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_browse_history_fp_time
  ON browse_history (fingerprint_id, browse_time DESC)`,
	`CREATE TABLE IF NOT EXISTS browser_fingerprints (
  fingerprint_id TEXT PRIMARY KEY,
  user_id        TEXT NOT NULL,
  linked_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_browser_fingerprints_user
  ON browser_fingerprints (user_id)`,
}

// EnsureSchema creates the history tables and indexes when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
