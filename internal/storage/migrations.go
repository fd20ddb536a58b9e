package storage

import (
	"database/sql"
	"fmt"
)

// schemaVersion represents one step of schema creation.
type schemaVersion struct {
	Version int
	Name    string
	Apply   func(tx *sql.Tx) error
}

// SchemaRunner creates the blocklog schema on a SQLite database.
// Applied versions are recorded in PRAGMA user_version.
type SchemaRunner struct {
	db       *sql.DB
	versions []schemaVersion
}

// NewSchemaRunner creates a SchemaRunner with all registered schema versions.
func NewSchemaRunner(db *sql.DB) *SchemaRunner {
	return &SchemaRunner{
		db: db,
		versions: []schemaVersion{
			{Version: 1, Name: "blocked_requests", Apply: createSchemaV1},
		},
	}
}

// Run applies every schema version newer than the database's user_version,
// each inside its own transaction.
func (r *SchemaRunner) Run() error {
	current, err := r.currentVersion()
	if err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for _, v := range r.versions {
		if v.Version <= current {
			continue
		}
		if err := r.apply(v); err != nil {
			return fmt.Errorf("apply schema %d (%s): %w", v.Version, v.Name, err)
		}
	}

	return nil
}

// currentVersion returns the last applied schema version.
func (r *SchemaRunner) currentVersion() (int, error) {
	var version int
	if err := r.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// apply executes a schema version inside a transaction and records it.
func (r *SchemaRunner) apply(v schemaVersion) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := v.Apply(tx); err != nil {
		return err
	}

	// PRAGMA does not accept bound parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v.Version)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}
