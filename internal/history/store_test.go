package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, retentionDays int) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "history.db"), retentionDays)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 30)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, level := range []float64{60, 75, 90} {
		s.clock = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		require.NoError(t, s.Record(ctx, level, 70))
	}

	readings, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, 90.0, readings[0].LevelDB)
	assert.True(t, readings[0].Exceeded)
	assert.Equal(t, "2025-03-01T10:00:02Z", readings[0].Timestamp)
	assert.Equal(t, 75.0, readings[1].LevelDB)
	assert.Equal(t, 70.0, readings[1].ThresholdDB)

	readings, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, readings, 3)
	assert.False(t, readings[2].Exceeded)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)

	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now.Add(-48 * time.Hour) }
	require.NoError(t, s.Record(ctx, 50, 85))
	s.clock = func() time.Time { return now.Add(-time.Hour) }
	require.NoError(t, s.Record(ctx, 55, 85))

	s.clock = func() time.Time { return now }
	require.NoError(t, s.Prune(ctx))

	readings, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 55.0, readings[0].LevelDB)
}

func TestReopenKeepsReadings(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(ctx, path, 30)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, 80, 85))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, 30)
	require.NoError(t, err)
	defer s.Close()

	readings, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}
