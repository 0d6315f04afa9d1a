package audio

import (
	"sync"
	"time"
)

// LoudnessConfig holds the thresholds for loud episode detection.
type LoudnessConfig struct {
	Threshold  float64 // dB level at or above which the room is considered loud
	RecoveryMs int64   // milliseconds below threshold before the episode ends
}

// LoudnessEvent represents the result of a loudness detection update.
type LoudnessEvent struct {
	InEpisode  bool    // Currently in a loud episode
	DurationMs int64   // Current episode duration in ms (0 outside an episode)
	Level      float64 // Level that produced this event
	PeakLevel  float64 // Highest level seen in the current or just-ended episode

	// State transitions (for triggering notifications)
	JustEntered     bool  // True on the update that starts an episode
	JustRecovered   bool  // True on the update that ends an episode
	TotalDurationMs int64 // Total episode duration in ms (only set when JustRecovered)
}

// LoudnessDetector tracks loud episodes across monitoring cycles.
// It is safe for concurrent use.
type LoudnessDetector struct {
	mu            sync.Mutex
	episodeStart  time.Time // when the current loud episode started
	recoveryStart time.Time // when the level first dropped below threshold
	lastLoud      time.Time // most recent update at or above threshold
	inEpisode     bool
	peak          float64
}

// NewLoudnessDetector creates a new loudness detector.
func NewLoudnessDetector() *LoudnessDetector {
	return &LoudnessDetector{}
}

// Update feeds a new level into the detector and returns the current state.
func (d *LoudnessDetector) Update(level float64, cfg LoudnessConfig, now time.Time) LoudnessEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	event := LoudnessEvent{Level: level}

	if level >= cfg.Threshold {
		d.recoveryStart = time.Time{}
		d.lastLoud = now

		if !d.inEpisode {
			d.inEpisode = true
			d.episodeStart = now
			d.peak = level
			event.JustEntered = true
		}
		d.peak = max(d.peak, level)

		event.InEpisode = true
		event.DurationMs = now.Sub(d.episodeStart).Milliseconds()
		event.PeakLevel = d.peak
		return event
	}

	if !d.inEpisode {
		return event
	}

	if d.recoveryStart.IsZero() {
		d.recoveryStart = now
	}

	if now.Sub(d.recoveryStart).Milliseconds() >= cfg.RecoveryMs {
		event.JustRecovered = true
		event.TotalDurationMs = d.lastLoud.Sub(d.episodeStart).Milliseconds()
		event.PeakLevel = d.peak
		d.reset()
		return event
	}

	// Still in recovery period - remain in the episode
	event.InEpisode = true
	event.DurationMs = now.Sub(d.episodeStart).Milliseconds()
	event.PeakLevel = d.peak
	return event
}

// Reset clears the loudness detection state.
func (d *LoudnessDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

func (d *LoudnessDetector) reset() {
	d.episodeStart = time.Time{}
	d.recoveryStart = time.Time{}
	d.lastLoud = time.Time{}
	d.inEpisode = false
	d.peak = 0
}
