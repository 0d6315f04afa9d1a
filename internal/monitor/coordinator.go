// Package monitor runs the measurement loop: capture a buffer, estimate its
// level, report it to the control session and, in filter mode, transcribe
// and relay what was said.
package monitor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/archive"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/audio"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/metrics"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/relay"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/state"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/transcribe"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/types"
)

// ErrAlreadyRunning is returned when Run is called on a running coordinator.
var ErrAlreadyRunning = errors.New("monitor already running")

const defaultTranscribeTimeout = 15 * time.Second

// Config holds the loop timing and audio parameters.
type Config struct {
	SampleRate    int
	Capture       time.Duration
	Interval      time.Duration
	RecoverySleep time.Duration
	Transcribe    time.Duration // deadline for one transcription request
	Language      string
	NoiseRecovery time.Duration
}

// Relay delivers transcripts to the broadcast network.
type Relay interface {
	Send(ctx context.Context, beaconID, operator, text string) relay.Result
}

// Recorder stores level readings.
type Recorder interface {
	Record(ctx context.Context, level, threshold float64) error
}

// Archive stores relayed transcripts.
type Archive interface {
	Enqueue(t archive.Transcript) error
}

// Notifier receives loud episode transitions.
type Notifier interface {
	HandleEvent(event audio.LoudnessEvent, threshold float64)
}

// Deps are the collaborators of a Coordinator. Source, Transcriber, Relay,
// State and Metrics are required; the rest may be nil.
type Deps struct {
	Source      audio.Source
	Transcriber transcribe.Transcriber
	Relay       Relay
	State       *state.State
	Metrics     *metrics.Metrics

	Notifier Notifier
	History  Recorder
	Archive  Archive
	Events   *eventlog.Logger
}

// Coordinator runs monitoring cycles one after another until its context ends.
type Coordinator struct {
	cfg  Config
	deps Deps

	loudness *audio.LoudnessDetector
	running  atomic.Bool
	cycles   atomic.Uint64
	lastDB   atomic.Uint64 // math.Float64bits of the most recent level
}

// New creates a Coordinator.
func New(cfg Config, deps Deps) *Coordinator {
	cfg.Transcribe = cmp.Or(cfg.Transcribe, defaultTranscribeTimeout)
	c := &Coordinator{
		cfg:      cfg,
		deps:     deps,
		loudness: audio.NewLoudnessDetector(),
	}
	c.lastDB.Store(math.Float64bits(audio.MinDB))
	return c
}

// LastLevel returns the level measured by the most recent cycle.
func (c *Coordinator) LastLevel() float64 {
	return math.Float64frombits(c.lastDB.Load())
}

// Cycles returns the number of completed cycles.
func (c *Coordinator) Cycles() uint64 {
	return c.cycles.Load()
}

// Run executes cycles until ctx is cancelled. A failed cycle is followed by
// the recovery sleep instead of the regular interval.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	slog.Info("monitoring started",
		"capture", c.cfg.Capture, "interval", c.cfg.Interval, "sample_rate", c.cfg.SampleRate)

	for {
		delay := c.cfg.Interval
		if err := c.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.deps.Metrics.CycleFailures.Inc()
			slog.Error("monitoring cycle failed, waiting before retry", "error", err, "delay", c.cfg.RecoverySleep)
			delay = c.cfg.RecoverySleep
		}

		if !sleepContext(ctx, delay) {
			break
		}
	}

	slog.Info("monitoring stopped", "cycles", c.cycles.Load())
	return nil
}

// safeCycle runs one cycle and converts a panic into an error.
func (c *Coordinator) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in monitoring cycle: %v", r)
		}
	}()
	return c.RunCycle(ctx)
}

// RunCycle performs a single capture, estimate, notify, transcribe and relay pass.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	st := c.deps.State
	m := c.deps.Metrics

	start := time.Now()
	samples, err := c.deps.Source.Capture(ctx, c.cfg.Capture, c.cfg.SampleRate)
	filterAtCapture := st.FilterEnabled()
	m.CaptureDuration.Observe(time.Since(start).Seconds())

	captured := err == nil
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.CaptureFailures.Inc()
		slog.Warn("audio capture failed, using silent buffer", "error", err)
		samples = make([]float32, int(c.cfg.Capture.Seconds()*float64(c.cfg.SampleRate)))
	}
	level := audio.EstimateSPL(samples, c.cfg.SampleRate)

	threshold := st.Threshold()
	c.lastDB.Store(math.Float64bits(level))
	m.LevelDB.Set(level)
	slog.Debug("level measured", "level_db", level, "threshold_db", threshold)

	st.Publish(types.LevelEvent{DB: level})
	if level >= threshold {
		st.Publish(types.NewThresholdEvent(level, threshold))
		m.Notifications.Inc()
	}

	c.trackEpisode(level, threshold, time.Now())
	c.record(ctx, level, threshold)

	if captured && filterAtCapture && st.FilterEnabled() {
		if text := c.transcribe(ctx, samples); text != "" {
			if st.FilterEnabled() {
				c.relay(ctx, text, level)
			} else {
				slog.Info("filter disabled during transcription, transcript dropped")
			}
		}
	}

	c.cycles.Add(1)
	m.CyclesTotal.Inc()
	return nil
}

// trackEpisode feeds the loudness detector and fans out episode transitions.
func (c *Coordinator) trackEpisode(level, threshold float64, now time.Time) {
	event := c.loudness.Update(level, audio.LoudnessConfig{
		Threshold:  threshold,
		RecoveryMs: c.cfg.NoiseRecovery.Milliseconds(),
	}, now)

	if event.JustEntered {
		c.deps.Metrics.LoudEpisodes.Inc()
		slog.Warn("loud episode started", "level_db", level, "threshold_db", threshold)
		if err := c.deps.Events.LogNoiseStart(level, threshold); err != nil {
			slog.Warn("failed to log noise event", "error", err)
		}
	}
	if event.JustRecovered {
		slog.Info("loud episode ended", "duration_ms", event.TotalDurationMs, "peak_db", event.PeakLevel)
		if err := c.deps.Events.LogNoiseEnd(event.TotalDurationMs, level, event.PeakLevel, threshold); err != nil {
			slog.Warn("failed to log noise event", "error", err)
		}
	}

	if c.deps.Notifier != nil {
		c.deps.Notifier.HandleEvent(event, threshold)
	}
}

func (c *Coordinator) record(ctx context.Context, level, threshold float64) {
	if c.deps.History == nil {
		return
	}
	if err := c.deps.History.Record(ctx, level, threshold); err != nil {
		slog.Warn("failed to store reading", "error", err)
	}
}

// transcribe returns the recognized text, or "" when nothing usable was recognized.
func (c *Coordinator) transcribe(ctx context.Context, samples []float32) string {
	m := c.deps.Metrics

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Transcribe)
	defer cancel()

	start := time.Now()
	text, err := c.deps.Transcriber.Transcribe(ctx, samples, c.cfg.SampleRate, c.cfg.Language)
	m.TranscribeDuration.Observe(time.Since(start).Seconds())

	text = strings.TrimSpace(text)
	switch {
	case errors.Is(err, transcribe.ErrNoSpeech), err == nil && text == "":
		m.Transcriptions.WithLabelValues(metrics.OutcomeNoSpeech).Inc()
		slog.Debug("no speech recognized")
		return ""
	case err != nil:
		m.Transcriptions.WithLabelValues(metrics.OutcomeError).Inc()
		slog.Warn("transcription failed", "error", err)
		return ""
	}

	m.Transcriptions.WithLabelValues(metrics.OutcomeText).Inc()
	slog.Info("speech recognized", "text", text)
	return text
}

// relay sends text tagged with the current beacon and operator.
func (c *Coordinator) relay(ctx context.Context, text string, level float64) {
	snap := c.deps.State.Snapshot()
	res := c.deps.Relay.Send(ctx, snap.BeaconID, snap.Operator, text)
	c.deps.Metrics.Relays.WithLabelValues(res.Status.String()).Inc()

	var logErr error
	switch res.Status {
	case relay.Sent:
		slog.Info("transcript relayed", "payload", res.Payload)
		logErr = c.deps.Events.LogRelay(eventlog.RelaySent, snap.BeaconID, snap.Operator, res.Payload, "")
		c.archive(archive.Transcript{
			Timestamp: time.Now(),
			BeaconID:  snap.BeaconID,
			Operator:  snap.Operator,
			Text:      text,
			Payload:   res.Payload,
			LevelDB:   level,
		})
	case relay.Skipped:
		slog.Info("relay skipped", "reason", res.Err)
		logErr = c.deps.Events.LogRelay(eventlog.RelaySkipped, snap.BeaconID, snap.Operator, "", errString(res.Err))
	default:
		slog.Warn("relay failed", "error", res.Err, "payload", res.Payload)
		logErr = c.deps.Events.LogRelay(eventlog.RelayFailed, snap.BeaconID, snap.Operator, res.Payload, errString(res.Err))
	}
	if logErr != nil {
		slog.Warn("failed to log relay event", "error", logErr)
	}
}

func (c *Coordinator) archive(t archive.Transcript) {
	if c.deps.Archive == nil {
		return
	}
	if err := c.deps.Archive.Enqueue(t); err != nil {
		slog.Warn("failed to queue transcript for archive", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sleepContext waits for d or until ctx is done. It reports whether the full duration elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
