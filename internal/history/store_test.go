package history

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	apperrors "labhub/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, maxRuns int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "history.db"), maxRuns, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id string, started time.Time) RunRecord {
	return RunRecord{
		ID:           id,
		StartedAt:    started,
		FinishedAt:   started.Add(3 * time.Second),
		Outcome:      "success",
		FinalState:   "Done",
		Committed:    true,
		RowsInserted: 42,
	}
}

func TestRecordAndGet(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()
	start := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

	r := record("run-1", start)
	r.Outcome = "quarantined"
	r.Committed = false
	r.Quarantined = 3
	r.BatchID = "batch-9"
	r.Report = json.RawMessage(`{"passed":false}`)
	require.NoError(t, s.Record(ctx, r))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, start, got.StartedAt)
	assert.Equal(t, 3*time.Second, got.Duration())
	assert.Equal(t, "quarantined", got.Outcome)
	assert.False(t, got.Committed)
	assert.Equal(t, 3, got.Quarantined)
	assert.Equal(t, "batch-9", got.BatchID)
	assert.JSONEq(t, `{"passed":false}`, string(got.Report))

	_, err = s.Get(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestListNewestFirstAndPrunes(t *testing.T) {
	s := openStore(t, 3)
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, record(fmt.Sprintf("run-%d", i), start.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-4", runs[0].ID)
	assert.Equal(t, "run-2", runs[2].ID)
	assert.Nil(t, runs[0].Report)

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDuplicateRunIDFails(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()
	r := record("run-1", time.Now())

	require.NoError(t, s.Record(ctx, r))
	assert.Error(t, s.Record(ctx, r))
}
