// Package eventlog provides unified event logging for the noise monitor.
// It captures control session, loud episode, beacon and relay events in a
// single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	SessionOpened EventType = "session_opened"
	SessionClosed EventType = "session_closed"
)

// Noise event types.
const (
	NoiseStart EventType = "noise_start"
	NoiseEnd   EventType = "noise_end"
)

// Beacon event types.
const (
	BeaconFound EventType = "beacon_found"
	BeaconLost  EventType = "beacon_lost"
)

// Relay event types.
const (
	RelaySent    EventType = "relay_sent"
	RelaySkipped EventType = "relay_skipped"
	RelayFailed  EventType = "relay_failed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SessionDetails contains control session event details.
type SessionDetails struct {
	RemoteAddr string `json:"remote_addr,omitempty"`
	Displaced  bool   `json:"displaced,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// NoiseDetails contains loud episode event details.
type NoiseDetails struct {
	LevelDB     float64 `json:"level_db"`
	PeakDB      float64 `json:"peak_db,omitempty"`
	ThresholdDB float64 `json:"threshold_db"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
}

// BeaconDetails contains beacon event details.
type BeaconDetails struct {
	BeaconID string `json:"beacon_id,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// RelayDetails contains relay event details.
type RelayDetails struct {
	BeaconID string `json:"beacon_id,omitempty"`
	Operator string `json:"operator,omitempty"`
	Payload  string `json:"payload,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file.
// A nil *Logger discards every event.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "noisemonitor", "logs", fmt.Sprintf("%d", port), "noisemonitor.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/noisemonitor", fmt.Sprintf("%d", port), "noisemonitor.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSession logs a control session event.
func (l *Logger) LogSession(eventType EventType, remoteAddr string, displaced bool, duration time.Duration) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &SessionDetails{
			RemoteAddr: remoteAddr,
			Displaced:  displaced,
			DurationMs: duration.Milliseconds(),
		},
	})
}

// LogNoiseStart logs the start of a loud episode.
func (l *Logger) LogNoiseStart(level, threshold float64) error {
	return l.Log(&Event{
		Type: NoiseStart,
		Details: &NoiseDetails{
			LevelDB:     level,
			ThresholdDB: threshold,
		},
	})
}

// LogNoiseEnd logs the end of a loud episode.
func (l *Logger) LogNoiseEnd(durationMs int64, level, peak, threshold float64) error {
	return l.Log(&Event{
		Type: NoiseEnd,
		Details: &NoiseDetails{
			LevelDB:     level,
			PeakDB:      peak,
			ThresholdDB: threshold,
			DurationMs:  durationMs,
		},
	})
}

// LogBeacon logs a beacon transition. An empty id means the beacon was lost.
func (l *Logger) LogBeacon(id, previous string) error {
	eventType := BeaconFound
	if id == "" {
		eventType = BeaconLost
	}
	return l.Log(&Event{
		Type: eventType,
		Details: &BeaconDetails{
			BeaconID: id,
			Previous: previous,
		},
	})
}

// LogRelay logs a relay outcome.
func (l *Logger) LogRelay(eventType EventType, beaconID, operator, payload, errMsg string) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &RelayDetails{
			BeaconID: beaconID,
			Operator: operator,
			Payload:  payload,
			Error:    errMsg,
		},
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterSession TypeFilter = "session"
	FilterNoise   TypeFilter = "noise"
	FilterBeacon  TypeFilter = "beacon"
	FilterRelay   TypeFilter = "relay"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// Matches reports whether t belongs to the filter's category.
func (f TypeFilter) Matches(t EventType) bool {
	if f == FilterAll {
		return true
	}
	return strings.HasPrefix(string(t), string(f)+"_")
}

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest first,
// and whether older matching events remain. n is capped at MaxReadLimit.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}

		if skipped < offset {
			skipped++
			continue
		}

		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}
