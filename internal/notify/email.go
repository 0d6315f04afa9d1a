package notify

import (
	"context"
	"fmt"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/types"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

// noiseEmail renders the alert sent when a loud episode starts.
func noiseEmail(stationName string, level, threshold float64) (subject, body string) {
	subject = "[ALERT] Noise Detected - " + stationName
	body = fmt.Sprintf(
		"Ambient noise reached the alert threshold.\n\n"+
			"Level:     %.1f dB\n"+
			"Threshold: %.1f dB\n"+
			"Time:      %s\n\n"+
			"The episode is ongoing.",
		level, threshold, util.HumanTime(),
	)
	return subject, body
}

// clearedEmail renders the message sent when a loud episode ends.
func clearedEmail(stationName string, durationMs int64, level, peak, threshold float64) (subject, body string) {
	subject = "[OK] Noise Cleared - " + stationName
	body = fmt.Sprintf(
		"Ambient noise is back below the alert threshold.\n\n"+
			"Level:        %.1f dB\n"+
			"Peak:         %.1f dB\n"+
			"Episode took: %s\n"+
			"Threshold:    %.1f dB\n"+
			"Time:         %s",
		level, peak, util.FormatDuration(durationMs), threshold, util.HumanTime(),
	)
	return subject, body
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *GraphConfig, stationName string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	if err := client.ValidateAuth(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	subject := "[TEST] " + stationName
	body := fmt.Sprintf(
		"Test email from the %s.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		AppName, util.HumanTime(),
	)

	recipients := ParseRecipients(cfg.Recipients)
	if err := client.SendMail(ctx, recipients, subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}
