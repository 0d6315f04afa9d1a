package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

const webhookTimeout = 10 * time.Second

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event       string  `json:"event"`
	Station     string  `json:"station,omitempty"`
	LevelDB     float64 `json:"level_db,omitempty"`
	PeakDB      float64 `json:"peak_db,omitempty"`
	ThresholdDB float64 `json:"threshold_db,omitempty"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	Message     string  `json:"message,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

// SendNoiseWebhook notifies the webhook that a loud episode started.
func SendNoiseWebhook(ctx context.Context, webhookURL, station string, level, threshold float64) error {
	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:       EventNoiseDetected,
		Station:     station,
		LevelDB:     level,
		ThresholdDB: threshold,
		Timestamp:   timestampUTC(),
	})
}

// SendClearedWebhook notifies the webhook that a loud episode ended.
func SendClearedWebhook(ctx context.Context, webhookURL, station string, durationMs int64, level, peak, threshold float64) error {
	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:       EventNoiseCleared,
		Station:     station,
		LevelDB:     level,
		PeakDB:      peak,
		ThresholdDB: threshold,
		DurationMs:  durationMs,
		Timestamp:   timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(ctx context.Context, webhookURL, stationName string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     EventTest,
		Station:   stationName,
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(ctx context.Context, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
