package statecache

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/toastextract/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpen_EmptyPathDisablesIndex(t *testing.T) {
	idx, err := Open("", discardLogger())
	require.NoError(t, err)
	assert.Nil(t, idx)
	assert.NoError(t, idx.Close(), "Close() on nil Index should be a no-op")
	_, err = idx.Summary()
	assert.NoError(t, err, "Summary() on nil Index should be a no-op")
}

func TestRebuildAndSummary(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	idx, err := Open(dbPath, discardLogger())
	require.NoError(t, err)
	defer idx.Close()

	errMsg := "total_mismatch"
	now := time.Now().UTC()
	records := []*model.CheckRecord{
		{PaymentID: "p001", Complete: true, Attempts: 1, ExtractedAt: &now},
		{PaymentID: "p002", Complete: false, Attempts: 2, LastError: &errMsg},
	}
	require.NoError(t, idx.Rebuild(records))

	summary, err := idx.Summary()
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Complete: 1, Errored: 1}, summary)

	errored, err := idx.Errored()
	require.NoError(t, err)
	require.Len(t, errored, 1)
	assert.Equal(t, "p002", errored[0].PaymentID)
}

func TestUpsert_OverwritesExistingRow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	idx, err := Open(dbPath, discardLogger())
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Upsert(&model.CheckRecord{PaymentID: "p001", Complete: false, Attempts: 1}))
	require.NoError(t, idx.Upsert(&model.CheckRecord{PaymentID: "p001", Complete: true, Attempts: 2}))

	summary, err := idx.Summary()
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 1, Complete: 1}, summary)
}
