package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerReadLast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	l, err := NewLogger(path)
	require.NoError(t, err)

	require.NoError(t, l.LogSession(SessionOpened, "127.0.0.1:5000", false, 0))
	require.NoError(t, l.LogNoiseStart(90.5, 85))
	require.NoError(t, l.LogBeacon("014522", ""))
	require.NoError(t, l.LogRelay(RelaySent, "014522", "Anna", "014522|Anna dice ciao", ""))
	require.NoError(t, l.LogNoiseEnd(12000, 60, 92.1, 85))
	require.NoError(t, l.LogBeacon("", "014522"))
	require.NoError(t, l.LogSession(SessionClosed, "127.0.0.1:5000", false, time.Minute))
	require.NoError(t, l.Close())

	events, more, err := ReadLast(path, 3, 0, FilterAll)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, events, 3)
	assert.Equal(t, SessionClosed, events[0].Type)
	assert.Equal(t, BeaconLost, events[1].Type)
	assert.Equal(t, NoiseEnd, events[2].Type)

	events, more, err = ReadLast(path, 10, 0, FilterNoise)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, events, 2)
	assert.Equal(t, NoiseEnd, events[0].Type)
	assert.Equal(t, NoiseStart, events[1].Type)

	events, more, err = ReadLast(path, 1, 1, FilterBeacon)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, events, 1)
	assert.Equal(t, BeaconFound, events[0].Type)

	events, _, err = ReadLast(path, 10, 0, FilterRelay)
	require.NoError(t, err)
	require.Len(t, events, 1)
	details, ok := events[0].Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "014522|Anna dice ciao", details["payload"])
}

func TestReadLastMissingFile(t *testing.T) {
	events, more, err := ReadLast(filepath.Join(t.TempDir(), "none.jsonl"), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Empty(t, events)
}

func TestReadLastSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"ts":"2025-01-01T00:00:00Z","type":"noise_start"}` + "\n" +
		"not json\n" +
		`{"ts":"2025-01-01T00:00:01Z","type":"noise_end"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	events, _, err := ReadLast(path, 10, 0, FilterAll)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestNilLoggerDiscards(t *testing.T) {
	var l *Logger
	assert.NoError(t, l.LogNoiseStart(90, 85))
	assert.NoError(t, l.Close())
	assert.Empty(t, l.Path())
}

func TestTypeFilterMatches(t *testing.T) {
	assert.True(t, FilterAll.Matches(RelayFailed))
	assert.True(t, FilterRelay.Matches(RelaySkipped))
	assert.False(t, FilterRelay.Matches(NoiseStart))
	assert.True(t, FilterSession.Matches(SessionOpened))
}
