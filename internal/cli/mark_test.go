package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/blocklog/internal/storage"
)

func TestMark_Reported(t *testing.T) {
	store := openTestStore(t)
	ids := seedRecords(t, store, 1000, "a.com")

	cmd := &MarkCommand{ID: ids[0], Status: 202, Response: "queued", globals: &GlobalFlags{}, cfg: testConfig(), store: store}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "marked reported (status 202)")

	recs, err := store.QueryAll(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Reported)
	assert.Equal(t, 202, recs[0].ReportStatus)
	assert.Equal(t, "queued", recs[0].ReportResponse)
}

func TestMark_Failed(t *testing.T) {
	store := openTestStore(t)
	ids := seedRecords(t, store, 1000, "a.com")

	cmd := &MarkCommand{ID: ids[0], Status: 503, Response: "busy", Failed: true, globals: &GlobalFlags{JSON: true}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store))
	})

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, "failed", result["outcome"])

	st, err := store.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Unreported)
	assert.Equal(t, int64(1), st.Failed)
}

func TestMark_UnknownID(t *testing.T) {
	cmd := &MarkCommand{ID: 42, Status: 200, globals: &GlobalFlags{}}
	err := cmd.executeWithStore(openTestStore(t))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
