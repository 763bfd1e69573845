package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epic-repos/analysis"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(epic string, at time.Time, entries ...[]string) *analysis.Result {
	res := &analysis.Result{
		EpicKey:   epic,
		RunAt:     at,
		Timestamp: at.Format(analysis.RunTimestampLayout),
	}
	for _, e := range entries {
		res.Mapping.Merge(e[0], e[1:])
	}
	return res
}

func TestStore_SaveAndLatest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

	res := result("EPIC-1", at,
		[]string{"T9", "widgets", "widgets", "core"},
		[]string{"T1"},
		[]string{"T5", "api"},
	)
	res.TrackerErrors = 2

	id, err := s.Save(ctx, res)
	require.NoError(t, err)
	assert.Positive(t, id)

	run, mapping, err := s.Latest(ctx, "EPIC-1")
	require.NoError(t, err)
	assert.Equal(t, Run{
		ID:            id,
		EpicKey:       "EPIC-1",
		RunAt:         at,
		Timestamp:     "20240305.140709",
		IssueCount:    3,
		TrackerErrors: 2,
	}, run)

	assert.Equal(t, []string{"T9", "T1", "T5"}, mapping.Keys())
	assert.Equal(t, []string{"widgets", "widgets", "core"}, mapping.Repos("T9"))
	assert.Equal(t, []string{}, mapping.Repos("T1"))
	assert.Equal(t, []string{"api"}, mapping.Repos("T5"))
}

func TestStore_LatestPicksNewestRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	_, err := s.Save(ctx, result("EPIC-1", at, []string{"T1", "old"}))
	require.NoError(t, err)
	_, err = s.Save(ctx, result("EPIC-2", at, []string{"X1", "other"}))
	require.NoError(t, err)
	newest, err := s.Save(ctx, result("EPIC-1", at.Add(time.Hour), []string{"T1", "new"}))
	require.NoError(t, err)

	run, mapping, err := s.Latest(ctx, "EPIC-1")
	require.NoError(t, err)
	assert.Equal(t, newest, run.ID)
	assert.Equal(t, []string{"new"}, mapping.Repos("T1"))
}

func TestStore_LatestNotFound(t *testing.T) {
	s := testStore(t)

	_, _, err := s.Latest(context.Background(), "EPIC-404")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_List(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	for i, epic := range []string{"EPIC-1", "EPIC-2", "EPIC-1"} {
		_, err := s.Save(ctx, result(epic, at.Add(time.Duration(i)*time.Minute), []string{"T1", "core"}))
		require.NoError(t, err)
	}

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Greater(t, all[0].ID, all[1].ID)

	epic1, err := s.List(ctx, "EPIC-1", 10)
	require.NoError(t, err)
	require.Len(t, epic1, 2)
	for _, r := range epic1 {
		assert.Equal(t, "EPIC-1", r.EpicKey)
	}

	limited, err := s.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}
