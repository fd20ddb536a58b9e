package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/blocklog/internal/config"
	"github.com/runnerr0/blocklog/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// openTestStore creates an initialized store in a temp dir.
func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "blocked.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedRecords inserts one record per host with increasing timestamps and
// returns their ids.
func seedRecords(t *testing.T, store *storage.SQLiteStore, ts int64, hosts ...string) []int64 {
	t.Helper()
	ids := make([]int64, len(hosts))
	for i, h := range hosts {
		id, err := store.Insert(context.Background(), storage.Record{
			URL:       "https://" + h + "/track",
			Host:      h,
			Reason:    "tracker",
			Timestamp: ts + int64(i),
			TabID:     1,
		})
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func testConfig() *config.Config {
	return config.DefaultConfig()
}
