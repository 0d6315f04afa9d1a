package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/audio"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/notify"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/types"
)

const (
	defaultEventLimit    = 100
	maxNoiseLogEntries   = 100
	notificationTestTime = 30 * time.Second
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseJSON reads and parses JSON from the request body. An empty body
// yields the zero value. Returns false after writing an error response.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	return v, true
}

// coalesce returns the first non-zero value from the provided values.
func coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// handleAPIStatus returns the live monitor state.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.State.Snapshot()
	resp := types.StatusResponse{
		Threshold:     snap.Threshold,
		FilterEnabled: snap.FilterEnabled,
		Operator:      snap.Operator,
		BeaconID:      snap.BeaconID,
		SessionActive: snap.SessionActive,
	}
	if s.deps.Monitor != nil {
		resp.LastLevel = s.deps.Monitor.LastLevel()
		resp.Cycles = s.deps.Monitor.Cycles()
	}
	if s.deps.Version != nil {
		resp.Version = s.deps.Version.Info()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleAPIReadings returns recent level readings, newest first.
// GET /api/readings?limit=N
func (s *Server) handleAPIReadings(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Readings history not configured")
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("failed to read readings", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read readings")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"readings": readings})
}

// handleAPIEvents returns event log entries, newest first.
// GET /api/events?limit=N&offset=M&type=session|noise|beacon|relay
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.EventLogPath == "" {
		s.writeError(w, http.StatusServiceUnavailable, "Event log not configured")
		return
	}

	limit, err := queryInt(r, "limit", defaultEventLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := eventlog.TypeFilter(r.URL.Query().Get("type"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterSession, eventlog.FilterNoise, eventlog.FilterBeacon, eventlog.FilterRelay:
	default:
		s.writeError(w, http.StatusBadRequest, "Unknown event type filter")
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.deps.EventLogPath, limit, offset, filter)
	if err != nil {
		slog.Error("failed to read event log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read event log")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"has_more": hasMore,
	})
}

// handleAPINoiseLog returns the notification log entries.
// GET /api/noise-log
func (s *Server) handleAPINoiseLog(w http.ResponseWriter, _ *http.Request) {
	logPath := s.config.Snapshot().LogPath
	if logPath == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   "Log file path not configured",
		})
		return
	}

	entries, err := readNoiseLog(logPath, maxNoiseLogEntries)
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"entries": entries,
		"path":    logPath,
	})
}

// readNoiseLog reads the last maxEntries entries from the notification log, newest first.
func readNoiseLog(logPath string, maxEntries int) ([]types.ThresholdLogEntry, error) {
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return []types.ThresholdLogEntry{}, nil
	}
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return []types.ThresholdLogEntry{}, nil
	}

	lines := strings.Split(text, "\n")
	lines = lines[max(0, len(lines)-maxEntries):]

	entries := make([]types.ThresholdLogEntry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var entry types.ThresholdLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Warn("failed to parse noise log entry", "line", line, "error", err)
			continue
		}
		entries = append(entries, entry)
	}

	slices.Reverse(entries)
	return entries, nil
}

// handleAPIDevices returns available audio input devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := audio.Devices()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"current": s.config.AudioInput(),
	})
}

// AudioInputRequest is the request body for POST /api/audio-input.
type AudioInputRequest struct {
	Input string `json:"input"`
}

// handleAPIAudioInput selects the capture device. An empty name selects the system default.
// POST /api/audio-input
func (s *Server) handleAPIAudioInput(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[AudioInputRequest](s, w, r)
	if !ok {
		return
	}

	if req.Input != "" {
		devices, err := audio.Devices()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !slices.ContainsFunc(devices, func(d audio.Device) bool { return d.Name == req.Input }) {
			s.writeError(w, http.StatusBadRequest, "Unknown audio input: "+req.Input)
			return
		}
	}

	if err := s.config.SetAudioInput(req.Input); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.deps.Input != nil {
		s.deps.Input.SetInput(req.Input)
	}

	slog.Info("audio input changed", "input", req.Input)
	s.writeJSON(w, http.StatusOK, map[string]string{"input": req.Input})
}

// NotificationTestRequest carries optional overrides for a test notification.
// Empty fields fall back to the saved configuration.
type NotificationTestRequest struct {
	WebhookURL string `json:"webhook_url,omitempty"`
	LogPath    string `json:"log_path,omitempty"`

	GraphTenantID     string `json:"graph_tenant_id,omitempty"`
	GraphClientID     string `json:"graph_client_id,omitempty"`
	GraphClientSecret string `json:"graph_client_secret,omitempty"`
	GraphFromAddress  string `json:"graph_from_address,omitempty"`
	GraphRecipients   string `json:"graph_recipients,omitempty"`

	ZabbixServer string `json:"zabbix_server,omitempty"`
	ZabbixPort   int    `json:"zabbix_port,omitempty"`
	ZabbixHost   string `json:"zabbix_host,omitempty"`
	ZabbixKey    string `json:"zabbix_key,omitempty"`
}

// handleAPITestNotification sends a test message over one alert channel.
// POST /api/notifications/test/{channel} where channel is webhook, email, log or zabbix.
func (s *Server) handleAPITestNotification(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[NotificationTestRequest](s, w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), notificationTestTime)
	defer cancel()

	cfg := s.config.Snapshot()

	var err error
	switch r.PathValue("channel") {
	case "webhook":
		url := coalesce(req.WebhookURL, cfg.WebhookURL)
		if url == "" {
			err = errors.New("no webhook URL configured")
			break
		}
		err = notify.SendTestWebhook(ctx, url, cfg.StationName)

	case "log":
		path := coalesce(req.LogPath, cfg.LogPath)
		if path == "" {
			err = errors.New("no log path configured")
			break
		}
		err = notify.WriteTestLog(path)

	case "email":
		graphCfg := &notify.GraphConfig{
			TenantID:     coalesce(req.GraphTenantID, cfg.GraphTenantID),
			ClientID:     coalesce(req.GraphClientID, cfg.GraphClientID),
			ClientSecret: coalesce(req.GraphClientSecret, cfg.GraphClientSecret),
			FromAddress:  coalesce(req.GraphFromAddress, cfg.GraphFromAddress),
			Recipients:   coalesce(req.GraphRecipients, cfg.GraphRecipients),
		}
		if graphCfg.TenantID == "" || graphCfg.ClientID == "" || graphCfg.ClientSecret == "" {
			err = errors.New("email not fully configured")
			break
		}
		err = notify.SendTestEmail(ctx, graphCfg, cfg.StationName)

	case "zabbix":
		target := notify.ZabbixTarget{
			Server: coalesce(req.ZabbixServer, cfg.ZabbixServer),
			Port:   coalesce(req.ZabbixPort, cfg.ZabbixPort),
			Host:   coalesce(req.ZabbixHost, cfg.ZabbixHost),
			Key:    coalesce(req.ZabbixKey, cfg.ZabbixKey),
		}
		if target.Server == "" || target.Host == "" || target.Key == "" {
			err = errors.New("zabbix not fully configured")
			break
		}
		err = notify.SendTestZabbix(ctx, target, cfg.StationName)

	default:
		s.writeError(w, http.StatusNotFound, "Unknown notification channel")
		return
	}

	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
