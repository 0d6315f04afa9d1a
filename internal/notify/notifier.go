// Package notify delivers loud episode alerts over webhook, e-mail, log file and Zabbix.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/audio"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/config"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

// NoiseNotifier sends one alert per channel when a loud episode starts and a
// matching recovery message when it ends.
type NoiseNotifier struct {
	cfg *config.Config

	// mu protects the notification state fields below
	mu sync.Mutex

	// Track which notifications have been sent for the current episode
	webhookSent bool
	emailSent   bool
	logSent     bool
	zabbixSent  bool

	// Cached Graph client for email notifications
	graphClient *GraphClient

	wg sync.WaitGroup
}

// NewNoiseNotifier returns a NoiseNotifier configured with the given config.
func NewNoiseNotifier(cfg *config.Config) *NoiseNotifier {
	return &NoiseNotifier{cfg: cfg}
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *NoiseNotifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// HandleEvent processes a loudness event and triggers notifications.
func (n *NoiseNotifier) HandleEvent(event audio.LoudnessEvent, threshold float64) {
	if event.JustEntered {
		n.handleNoiseStart(event.Level, threshold)
	}

	if event.JustRecovered {
		n.handleNoiseEnd(event.TotalDurationMs, event.Level, event.PeakLevel, threshold)
	}
}

// Wait blocks until all in-flight notifications have finished.
func (n *NoiseNotifier) Wait() {
	n.wg.Wait()
}

func (n *NoiseNotifier) handleNoiseStart(level, threshold float64) {
	cfg := n.cfg.Snapshot()

	n.trySend(&n.webhookSent, cfg.HasWebhook(), func() {
		util.LogNotifyResult(func() error {
			return SendNoiseWebhook(context.Background(), cfg.WebhookURL, cfg.StationName, level, threshold)
		}, "Noise webhook")
	})
	n.trySend(&n.emailSent, cfg.HasGraph(), func() {
		subject, body := noiseEmail(cfg.StationName, level, threshold)
		util.LogNotifyResult(func() error { return n.sendEmail(&cfg, subject, body) }, "Noise email")
	})
	n.trySend(&n.logSent, cfg.HasLogPath(), func() {
		util.LogNotifyResult(func() error { return LogNoiseStart(cfg.LogPath, level, threshold) }, "Noise log")
	})
	n.trySend(&n.zabbixSent, cfg.HasZabbix(), func() {
		util.LogNotifyResult(func() error {
			return SendNoiseZabbix(context.Background(), BuildZabbixTarget(&cfg), cfg.StationName, level, threshold)
		}, "Noise zabbix")
	})
}

// trySend sends a notification if the condition is met and not already sent.
func (n *NoiseNotifier) trySend(sent *bool, condition bool, sender func()) {
	n.mu.Lock()
	shouldSend := !*sent && condition
	if shouldSend {
		*sent = true
	}
	n.mu.Unlock()
	if shouldSend {
		n.goSend(sender)
	}
}

func (n *NoiseNotifier) goSend(sender func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sender()
	}()
}

func (n *NoiseNotifier) handleNoiseEnd(durationMs int64, level, peak, threshold float64) {
	cfg := n.cfg.Snapshot()

	// Only send recovery notifications for channels that sent the start notification
	n.mu.Lock()
	webhook, email, logFile, zabbix := n.webhookSent, n.emailSent, n.logSent, n.zabbixSent
	n.webhookSent, n.emailSent, n.logSent, n.zabbixSent = false, false, false, false
	n.mu.Unlock()

	if webhook {
		n.goSend(func() {
			util.LogNotifyResult(func() error {
				return SendClearedWebhook(context.Background(), cfg.WebhookURL, cfg.StationName, durationMs, level, peak, threshold)
			}, "Cleared webhook")
		})
	}
	if email {
		n.goSend(func() {
			subject, body := clearedEmail(cfg.StationName, durationMs, level, peak, threshold)
			util.LogNotifyResult(func() error { return n.sendEmail(&cfg, subject, body) }, "Cleared email")
		})
	}
	if logFile {
		n.goSend(func() {
			util.LogNotifyResult(func() error { return LogNoiseEnd(cfg.LogPath, durationMs, level, threshold) }, "Cleared log")
		})
	}
	if zabbix {
		n.goSend(func() {
			util.LogNotifyResult(func() error {
				return SendClearedZabbix(context.Background(), BuildZabbixTarget(&cfg), cfg.StationName, durationMs, level, peak, threshold)
			}, "Cleared zabbix")
		})
	}
}

// BuildGraphConfig creates a GraphConfig from the config snapshot.
func BuildGraphConfig(cfg *config.Snapshot) *GraphConfig {
	return &GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	}
}

// BuildZabbixTarget creates a ZabbixTarget from the config snapshot.
func BuildZabbixTarget(cfg *config.Snapshot) ZabbixTarget {
	return ZabbixTarget{
		Server: cfg.ZabbixServer,
		Port:   cfg.ZabbixPort,
		Host:   cfg.ZabbixHost,
		Key:    cfg.ZabbixKey,
	}
}

// sendEmail handles the common email sending infrastructure.
func (n *NoiseNotifier) sendEmail(cfg *config.Snapshot, subject, body string) error {
	graphCfg := BuildGraphConfig(cfg)
	if !IsConfigured(graphCfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(graphCfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(graphCfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	if err := client.SendMail(context.Background(), recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}

	return nil
}
