// Package main provides an ambient noise monitor for broadcast studios. It
// measures the room level, reports it to a single control client over a
// WebSocket and, in filter mode, relays transcribed speech to the broadcast
// network.
//
// Usage:
//
//	noisemonitor [-config path/to/config.json] [-log-level debug] [-list-devices]
//
// If -config is not specified, the monitor looks for config.json in the same
// directory as the binary.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/archive"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/audio"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/beacon"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/config"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/history"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/metrics"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/monitor"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/notify"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/relay"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/server"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/state"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/transcribe"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

const (
	shutdownTimeout = 30 * time.Second
	pruneInterval   = time.Hour
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error (overrides config)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	listDevices := flag.Bool("list-devices", false, "List audio input devices and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *listDevices {
		if err := printDevices(os.Stdout); err != nil {
			slog.Error("failed to list audio devices", "error", err)
			os.Exit(1)
		}
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	setupLogging(cmp.Or(*logLevel, snap.LogLevel))
	slog.Info("using config file", "path", *configPath, "version", Version)

	// The listener is the only startup failure that stops the process.
	ln, err := net.Listen("tcp", listenAddr(snap.WebPort))
	if err != nil {
		slog.Error("failed to open listener", "port", snap.WebPort, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := newApp(ctx, cfg)

	var wg sync.WaitGroup
	app.start(ctx, &wg)
	httpServer := app.server.Serve(ln)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	sig := <-sigChan

	slog.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := app.sessions.Shutdown(shutdownCtx); err != nil {
		slog.Error("control session shutdown error", "error", err)
	}

	cancel()
	wg.Wait()
	app.notifier.Wait()

	if err := app.close(); err != nil {
		slog.Error("error releasing resources", "error", err)
	}

	slog.Info("shutdown complete")
}

// setupLogging installs the default text logger at the named level.
func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// printDevices writes the available input devices, one per line.
func printDevices(w io.Writer) error {
	pa, err := audio.NewPortAudio("")
	if err != nil {
		return err
	}
	defer util.SafeCloseFunc(pa, "PortAudio")()

	devices, err := audio.Devices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		if _, err := fmt.Fprintf(w, "%s %s (%d ch, %.0f Hz)\n", marker, d.Name, d.Channels, d.SampleRate); err != nil {
			return err
		}
	}
	return nil
}

// app holds the long-lived components and the resources they own.
type app struct {
	state       *state.State
	metrics     *metrics.Metrics
	coordinator *monitor.Coordinator
	sessions    *server.Manager
	notifier    *notify.NoiseNotifier
	watcher     *beacon.Watcher
	history     *history.Store
	archiver    *archive.Archiver
	version     *VersionChecker
	server      *Server

	closers []io.Closer
}

// newApp wires every component from the configuration. Optional components
// that fail to start are logged and left out.
func newApp(ctx context.Context, cfg *config.Config) *app {
	snap := cfg.Snapshot()
	a := &app{
		state:    state.New(snap.ThresholdDB),
		metrics:  metrics.New(prometheus.DefaultRegisterer),
		notifier: notify.NewNoiseNotifier(cfg),
		version:  NewVersionChecker(),
	}
	a.metrics.ThresholdDB.Set(snap.ThresholdDB)

	var source audio.Source
	var player audio.Player
	var input InputSelector
	pa, err := audio.NewPortAudio(snap.AudioInput)
	if err != nil {
		slog.Error("audio backend unavailable, levels will read as silence", "error", err)
		unavailable := audio.Unavailable{Reason: err}
		source, player = unavailable, unavailable
	} else {
		a.closers = append(a.closers, pa)
		source, player, input = pa, pa, pa
	}

	var transcriber transcribe.Transcriber
	if g, err := transcribe.NewGoogle(ctx, snap.TranscriptionCredentials); err != nil {
		slog.Warn("transcription unavailable, filter mode will not relay", "error", err)
		transcriber = transcribe.Disabled{Reason: err}
	} else {
		a.closers = append(a.closers, g)
		transcriber = g
	}

	eventLogPath := cmp.Or(snap.EventLogPath, eventlog.DefaultLogPath(snap.WebPort))
	events, err := eventlog.NewLogger(eventLogPath)
	if err != nil {
		slog.Warn("event log disabled", "path", eventLogPath, "error", err)
		eventLogPath = ""
	} else {
		a.closers = append(a.closers, events)
	}

	deps := monitor.Deps{
		Source:      source,
		Transcriber: transcriber,
		Relay:       relay.NewUDP(snap.BroadcastAddress, snap.BroadcastPort, snap.BroadcastTimeout),
		State:       a.state,
		Metrics:     a.metrics,
		Notifier:    a.notifier,
		Events:      events,
	}

	var readings ReadingsStore
	if snap.HistoryPath != "" {
		store, err := history.Open(ctx, snap.HistoryPath, snap.HistoryRetentionDays)
		if err != nil {
			slog.Warn("readings history disabled", "path", snap.HistoryPath, "error", err)
		} else {
			a.history = store
			a.closers = append(a.closers, store)
			deps.History = store
			readings = store
		}
	}

	if snap.HasArchive() {
		a.archiver = archive.New(archive.NewClient(archive.Config{
			Endpoint:        snap.ArchiveEndpoint,
			Bucket:          snap.ArchiveBucket,
			AccessKeyID:     snap.ArchiveAccessKeyID,
			SecretAccessKey: snap.ArchiveSecretAccessKey,
			Prefix:          snap.ArchivePrefix,
		}), snap.ArchiveBucket, snap.ArchivePrefix)
		deps.Archive = a.archiver
	}

	if snap.BeaconFile != "" {
		a.watcher = beacon.NewWatcher(snap.BeaconFile,
			beacon.Markers{Present: snap.BeaconMarker, None: snap.BeaconNoneMarker},
			snap.BeaconPoll, a.state,
			func(id, previous string) {
				a.metrics.SetBeacon(id)
				if err := events.LogBeacon(id, previous); err != nil {
					slog.Warn("failed to log beacon event", "error", err)
				}
			})
	} else {
		slog.Warn("no beacon file configured, relays will be skipped")
	}

	a.coordinator = monitor.New(monitor.Config{
		SampleRate:    snap.SampleRate,
		Capture:       snap.Capture,
		Interval:      snap.Interval,
		RecoverySleep: snap.RecoverySleep,
		Transcribe:    snap.Transcribe,
		Language:      snap.Language,
		NoiseRecovery: snap.NoiseRecovery,
	}, deps)

	commands := server.NewCommandHandler(a.state, a.metrics, player, snap.SampleRate)
	commands.OnThreshold = func(db float64) {
		if err := cfg.SetThresholdDefault(db); err != nil {
			slog.Warn("failed to save threshold", "error", err)
		}
	}
	a.sessions = server.NewManager(a.state, commands, a.metrics, events)

	a.server = NewServer(cfg, ServerDeps{
		State:        a.state,
		Sessions:     a.sessions,
		Monitor:      a.coordinator,
		History:      readings,
		Input:        input,
		EventLogPath: eventLogPath,
		Gatherer:     prometheus.DefaultGatherer,
		Version:      a.version,
	})

	return a
}

// start launches the background loops. Each one stops when ctx is cancelled.
func (a *app) start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Go(func() {
		if err := a.coordinator.Run(ctx); err != nil {
			slog.Error("monitor stopped", "error", err)
		}
	})
	if a.watcher != nil {
		wg.Go(func() { a.watcher.Run(ctx) })
	}
	if a.history != nil {
		wg.Go(func() { a.history.RunPruner(ctx, pruneInterval) })
	}
	if a.archiver != nil {
		wg.Go(func() { a.archiver.Run(ctx) })
	}
	wg.Go(func() { a.version.Run(ctx) })
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
