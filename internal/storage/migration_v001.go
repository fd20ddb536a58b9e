package storage

import "database/sql"

// createSchemaV1 creates the blocked_requests table and its indexes.
// Every statement uses IF NOT EXISTS so a half-initialized file is repaired.
func createSchemaV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocked_requests (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			url             TEXT    NOT NULL CHECK (url <> ''),
			host            TEXT    NOT NULL CHECK (host <> ''),
			reason          TEXT    NOT NULL CHECK (reason <> ''),
			timestamp       INTEGER NOT NULL,
			reported        INTEGER NOT NULL DEFAULT 0,
			source_id       TEXT    NOT NULL DEFAULT '',
			tab_id          INTEGER NOT NULL DEFAULT 0,
			report_status   INTEGER NOT NULL DEFAULT 0,
			report_response TEXT    NOT NULL DEFAULT '',
			reported_at     INTEGER NOT NULL DEFAULT 0,
			report_failures INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE INDEX IF NOT EXISTS idx_blocked_requests_timestamp ON blocked_requests(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_blocked_requests_reported  ON blocked_requests(reported)`,
		`CREATE INDEX IF NOT EXISTS idx_blocked_requests_host      ON blocked_requests(host)`,
		`CREATE INDEX IF NOT EXISTS idx_blocked_requests_source_id ON blocked_requests(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_blocked_requests_tab_id    ON blocked_requests(tab_id)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
