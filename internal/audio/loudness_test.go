package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoudnessDetector(t *testing.T) {
	cfg := LoudnessConfig{Threshold: 70, RecoveryMs: 10000}
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(s int) time.Time { return start.Add(time.Duration(s) * time.Second) }

	d := NewLoudnessDetector()

	ev := d.Update(50, cfg, at(0))
	assert.False(t, ev.InEpisode)
	assert.False(t, ev.JustEntered)

	ev = d.Update(75, cfg, at(6))
	assert.True(t, ev.InEpisode)
	assert.True(t, ev.JustEntered)
	assert.Equal(t, 75.0, ev.PeakLevel)

	ev = d.Update(80, cfg, at(12))
	assert.True(t, ev.InEpisode)
	assert.False(t, ev.JustEntered, "episode must only be entered once")
	assert.Equal(t, int64(6000), ev.DurationMs)
	assert.Equal(t, 80.0, ev.PeakLevel)

	ev = d.Update(60, cfg, at(18))
	assert.True(t, ev.InEpisode, "still recovering")
	assert.False(t, ev.JustRecovered)

	// Loud again during recovery restarts the recovery window
	ev = d.Update(71, cfg, at(24))
	assert.True(t, ev.InEpisode)
	assert.False(t, ev.JustEntered)

	ev = d.Update(60, cfg, at(30))
	assert.False(t, ev.JustRecovered)

	ev = d.Update(60, cfg, at(40))
	assert.True(t, ev.JustRecovered)
	assert.False(t, ev.InEpisode)
	assert.Equal(t, int64(18000), ev.TotalDurationMs)
	assert.Equal(t, 80.0, ev.PeakLevel)

	ev = d.Update(60, cfg, at(46))
	assert.False(t, ev.JustRecovered, "recovery fires once")
}

func TestLoudnessDetectorThresholdInclusive(t *testing.T) {
	d := NewLoudnessDetector()
	ev := d.Update(70, LoudnessConfig{Threshold: 70}, time.Now())
	assert.True(t, ev.JustEntered)
}

func TestLoudnessDetectorReset(t *testing.T) {
	cfg := LoudnessConfig{Threshold: 70, RecoveryMs: 1000}
	d := NewLoudnessDetector()
	now := time.Now()

	d.Update(90, cfg, now)
	d.Reset()

	ev := d.Update(90, cfg, now.Add(time.Second))
	assert.True(t, ev.JustEntered)
}
