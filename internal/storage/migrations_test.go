package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaRunner_FreshDB(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewSchemaRunner(db).Run())

	var version int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, 1, version)

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'",
	).Scan(&count))
	assert.Equal(t, 1, count, "only blocked_requests should be created")
}

func TestSchemaRunner_Idempotent(t *testing.T) {
	db := openTestDB(t)
	runner := NewSchemaRunner(db)

	require.NoError(t, runner.Run())
	_, err := db.Exec(`INSERT INTO blocked_requests (url, host, reason, timestamp) VALUES ('https://a.com/x', 'a.com', 'ads', 1)`)
	require.NoError(t, err)
	require.NoError(t, runner.Run())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM blocked_requests").Scan(&count))
	assert.Equal(t, 1, count, "re-running must not drop data")
}

func TestSchemaRunner_ColumnDefaults(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewSchemaRunner(db).Run())

	_, err := db.Exec(`INSERT INTO blocked_requests (url, host, reason, timestamp) VALUES ('https://a.com/x', 'a.com', 'ads', 1)`)
	require.NoError(t, err)

	var reported bool
	var sourceID, response string
	var tabID, reportedAt int64
	var failures int
	err = db.QueryRow(`SELECT reported, source_id, tab_id, report_response, reported_at, report_failures FROM blocked_requests`).
		Scan(&reported, &sourceID, &tabID, &response, &reportedAt, &failures)
	require.NoError(t, err)
	assert.False(t, reported)
	assert.Empty(t, sourceID)
	assert.Zero(t, tabID)
	assert.Empty(t, response)
	assert.Zero(t, reportedAt)
	assert.Zero(t, failures)
}

func TestSchemaRunner_RejectsEmptyRequiredText(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewSchemaRunner(db).Run())

	_, err := db.Exec(`INSERT INTO blocked_requests (url, host, reason, timestamp) VALUES ('https://a.com/x', '', 'ads', 1)`)
	assert.Error(t, err)

	_, err = db.Exec(`INSERT INTO blocked_requests (url, host, timestamp) VALUES ('https://a.com/x', 'a.com', 1)`)
	assert.Error(t, err, "reason is NOT NULL")
}
