// Package beacon tracks the proximity beacon reported by an external scanner.
package beacon

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

// Markers identify the lines of interest in the beacon signal file.
type Markers struct {
	Present string // followed by the beacon token
	None    string // no beacon in range
}

// Parse resolves the beacon identifier from the signal file contents.
// The last line containing either marker wins; a presence marker without a
// token is ignored. No matching line resolves to no beacon. A file that
// cannot be scanned to the end resolves to no beacon and an error.
func Parse(data []byte, m Markers) (string, error) {
	id := ""
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if m.Present != "" {
			if _, rest, ok := strings.Cut(line, m.Present); ok {
				if fields := strings.Fields(rest); len(fields) > 0 {
					id = fields[0]
					continue
				}
			}
		}
		if m.None != "" && strings.Contains(line, m.None) {
			id = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return "", util.WrapError("parse beacon file", err)
	}
	return id, nil
}

// Store receives the resolved identifier.
type Store interface {
	// SetBeaconID stores id and reports whether it differs from the previous value.
	SetBeaconID(id string) bool
	BeaconID() string
}

// Watcher polls the signal file and publishes the beacon identifier.
type Watcher struct {
	path     string
	markers  Markers
	interval time.Duration
	store    Store
	onChange func(id, previous string)
}

// NewWatcher creates a watcher for the signal file at path. onChange, if not
// nil, is called after every genuine transition.
func NewWatcher(path string, markers Markers, interval time.Duration, store Store, onChange func(id, previous string)) *Watcher {
	return &Watcher{
		path:     path,
		markers:  markers,
		interval: interval,
		store:    store,
		onChange: onChange,
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll reads the signal file once and updates the store.
func (w *Watcher) Poll() {
	id := ""
	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Debug("beacon file unreadable", "path", w.path, "error", err)
	} else if id, err = Parse(data, w.markers); err != nil {
		slog.Warn("beacon file unparseable, treating as no beacon", "path", w.path, "error", err)
	}

	previous := w.store.BeaconID()
	if !w.store.SetBeaconID(id) {
		return
	}

	if id == "" {
		slog.Info("beacon lost", "previous", previous)
	} else {
		slog.Info("beacon detected", "beacon", id, "previous", previous)
	}
	if w.onChange != nil {
		w.onChange(id, previous)
	}
}
