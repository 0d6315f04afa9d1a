// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/types"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort            = 8765
	DefaultLogLevel           = "info"
	DefaultStationName        = "ZuidWest FM"
	DefaultSampleRate         = 44100
	DefaultCaptureMs          = 5000
	DefaultIntervalMs         = 1000
	DefaultRecoverySleepMs    = 5000
	DefaultTranscribeTimeout  = 15000
	DefaultLanguage           = "it-IT"
	DefaultThresholdDB        = 85.0
	DefaultNoiseRecoveryMs    = 10000
	DefaultBeaconPollMs       = 5000
	DefaultBeaconMarker       = "Beacon rilevato:"
	DefaultBeaconNoneMarker   = "Nessun beacon"
	DefaultBroadcastAddress   = "255.255.255.255"
	DefaultBroadcastPort      = 37020
	DefaultBroadcastTimeoutMs = 1000
	DefaultHistoryRetention   = 30
)

// Validation patterns define regular expressions for configuration value validation.
var (
	// Station name: any printable characters except control chars (blocks CRLF injection in emails)
	stationNamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)
	logLevelPattern    = regexp.MustCompile(`^(debug|info|warn|error)$`)
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port     int    `json:"port"`      // HTTP server port
	LogLevel string `json:"log_level"` // debug, info, warn, error
	APIKey   string `json:"api_key"`   // Optional key for /ws and /api (empty = open)
}

// WebConfig holds station identity settings.
type WebConfig struct {
	StationName string `json:"station_name"` // Station display name used in alerts
}

// AudioConfig holds audio input and cycle timing settings.
type AudioConfig struct {
	Input           string `json:"input"`                 // PortAudio input device name (empty = default)
	SampleRate      int    `json:"sample_rate"`           // Capture sample rate in Hz
	CaptureMs       int64  `json:"capture_ms"`            // Capture duration per cycle
	IntervalMs      int64  `json:"interval_ms"`           // Sleep between cycles
	RecoverySleepMs int64  `json:"recovery_sleep_ms"`     // Sleep after a failed cycle
	TranscribeMs    int64  `json:"transcribe_timeout_ms"` // Deadline for one transcription request
	Language        string `json:"language"`              // Transcription language code
}

// MonitorConfig holds threshold settings.
type MonitorConfig struct {
	ThresholdDB float64 `json:"threshold_db"` // Threshold applied at startup
	RecoveryMs  int64   `json:"recovery_ms"`  // Time below threshold before an episode ends
}

// BeaconConfig holds beacon signal file settings.
type BeaconConfig struct {
	File         string `json:"file"`          // Beacon signal file written by the scanner
	Marker       string `json:"marker"`        // Phrase followed by the beacon token
	NoneMarker   string `json:"none_marker"`   // Phrase signalling no beacon in range
	PollInterval int64  `json:"poll_interval"` // Poll interval in milliseconds
}

// BroadcastConfig holds relay transport settings.
type BroadcastConfig struct {
	Address   string `json:"address"`    // Broadcast address
	Port      int    `json:"port"`       // UDP port
	TimeoutMs int64  `json:"timeout_ms"` // Send timeout
}

// TranscriptionConfig holds speech-to-text settings.
type TranscriptionConfig struct {
	CredentialsFile string `json:"credentials_file"` // Service account JSON (empty = application default)
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url"` // Webhook URL for noise alerts
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path"` // Log file path for noise episodes
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig      `json:"webhook"` // Webhook settings
	Log     LogConfig          `json:"log"`     // Log file settings
	Email   EmailConfig        `json:"email"`   // Email settings
	Zabbix  types.ZabbixConfig `json:"zabbix"`  // Zabbix trapper settings
}

// ArchiveConfig holds S3 transcript archive settings.
type ArchiveConfig struct {
	Endpoint        string `json:"endpoint"`          // S3-compatible endpoint (empty = AWS)
	Bucket          string `json:"bucket"`            // Bucket name
	AccessKeyID     string `json:"access_key_id"`     // Access key
	SecretAccessKey string `json:"secret_access_key"` // Secret key
	Prefix          string `json:"prefix"`            // Object key prefix
}

// HistoryConfig holds readings history settings.
type HistoryConfig struct {
	Path          string `json:"path"`           // SQLite database path (empty = disabled)
	RetentionDays int    `json:"retention_days"` // Readings older than this are pruned
}

// EventLogConfig holds event log settings.
type EventLogConfig struct {
	Path string `json:"path"` // JSON lines event log (empty = platform default)
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Web           WebConfig           `json:"web"`
	Audio         AudioConfig         `json:"audio"`
	Monitor       MonitorConfig       `json:"monitor"`
	Beacon        BeaconConfig        `json:"beacon"`
	Broadcast     BroadcastConfig     `json:"broadcast"`
	Transcription TranscriptionConfig `json:"transcription"`
	Notifications NotificationsConfig `json:"notifications"`
	Archive       ArchiveConfig       `json:"archive"`
	History       HistoryConfig       `json:"history"`
	EventLog      EventLogConfig      `json:"event_log"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port:     DefaultWebPort,
			LogLevel: DefaultLogLevel,
		},
		Web: WebConfig{
			StationName: DefaultStationName,
		},
		Audio: AudioConfig{
			SampleRate:      DefaultSampleRate,
			CaptureMs:       DefaultCaptureMs,
			IntervalMs:      DefaultIntervalMs,
			RecoverySleepMs: DefaultRecoverySleepMs,
			TranscribeMs:    DefaultTranscribeTimeout,
			Language:        DefaultLanguage,
		},
		Monitor: MonitorConfig{
			ThresholdDB: DefaultThresholdDB,
			RecoveryMs:  DefaultNoiseRecoveryMs,
		},
		Beacon: BeaconConfig{
			Marker:       DefaultBeaconMarker,
			NoneMarker:   DefaultBeaconNoneMarker,
			PollInterval: DefaultBeaconPollMs,
		},
		Broadcast: BroadcastConfig{
			Address:   DefaultBroadcastAddress,
			Port:      DefaultBroadcastPort,
			TimeoutMs: DefaultBroadcastTimeoutMs,
		},
		History: HistoryConfig{
			RetentionDays: DefaultHistoryRetention,
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	name := c.Web.StationName
	if len(name) > 30 || !stationNamePattern.MatchString(name) {
		return fmt.Errorf("invalid station_name %q: must be 1-30 printable characters", name)
	}
	if !logLevelPattern.MatchString(c.System.LogLevel) {
		return fmt.Errorf("invalid log_level %q: must be debug, info, warn or error", c.System.LogLevel)
	}
	if c.System.Port < 1 || c.System.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1-65535", c.System.Port)
	}
	if c.Broadcast.Port < 1 || c.Broadcast.Port > 65535 {
		return fmt.Errorf("invalid broadcast port %d: must be 1-65535", c.Broadcast.Port)
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("invalid sample_rate %d: must be 8000-192000", c.Audio.SampleRate)
	}
	if math.IsNaN(c.Monitor.ThresholdDB) || math.IsInf(c.Monitor.ThresholdDB, 0) {
		return fmt.Errorf("invalid threshold_db: must be finite")
	}
	if c.Broadcast.TimeoutMs < 1 || c.Broadcast.TimeoutMs > 1000 {
		return fmt.Errorf("invalid broadcast timeout_ms %d: must be 1-1000", c.Broadcast.TimeoutMs)
	}
	for _, d := range []struct {
		field string
		ms    int64
	}{
		{"audio.capture_ms", c.Audio.CaptureMs},
		{"audio.interval_ms", c.Audio.IntervalMs},
		{"audio.recovery_sleep_ms", c.Audio.RecoverySleepMs},
		{"audio.transcribe_timeout_ms", c.Audio.TranscribeMs},
		{"monitor.recovery_ms", c.Monitor.RecoveryMs},
		{"beacon.poll_interval", c.Beacon.PollInterval},
	} {
		if d.ms <= 0 {
			return fmt.Errorf("invalid %s %d: must be positive", d.field, d.ms)
		}
	}
	for field, path := range map[string]string{
		"beacon.file":               c.Beacon.File,
		"notifications.log.path":    c.Notifications.Log.Path,
		"history.path":              c.History.Path,
		"event_log.path":            c.EventLog.Path,
		"transcription.credentials": c.Transcription.CredentialsFile,
	} {
		if err := util.ValidatePath(field, path); err != nil {
			return err
		}
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	c.System.LogLevel = cmp.Or(c.System.LogLevel, DefaultLogLevel)
	c.Web.StationName = cmp.Or(c.Web.StationName, DefaultStationName)

	c.Audio.SampleRate = cmp.Or(c.Audio.SampleRate, DefaultSampleRate)
	c.Audio.CaptureMs = cmp.Or(c.Audio.CaptureMs, DefaultCaptureMs)
	c.Audio.IntervalMs = cmp.Or(c.Audio.IntervalMs, DefaultIntervalMs)
	c.Audio.RecoverySleepMs = cmp.Or(c.Audio.RecoverySleepMs, DefaultRecoverySleepMs)
	c.Audio.TranscribeMs = cmp.Or(c.Audio.TranscribeMs, DefaultTranscribeTimeout)
	c.Audio.Language = cmp.Or(c.Audio.Language, DefaultLanguage)

	c.Monitor.RecoveryMs = cmp.Or(c.Monitor.RecoveryMs, DefaultNoiseRecoveryMs)

	c.Beacon.Marker = cmp.Or(c.Beacon.Marker, DefaultBeaconMarker)
	c.Beacon.NoneMarker = cmp.Or(c.Beacon.NoneMarker, DefaultBeaconNoneMarker)
	c.Beacon.PollInterval = cmp.Or(c.Beacon.PollInterval, DefaultBeaconPollMs)

	c.Broadcast.Address = cmp.Or(c.Broadcast.Address, DefaultBroadcastAddress)
	c.Broadcast.Port = cmp.Or(c.Broadcast.Port, DefaultBroadcastPort)
	c.Broadcast.TimeoutMs = cmp.Or(c.Broadcast.TimeoutMs, DefaultBroadcastTimeoutMs)

	c.History.RetentionDays = cmp.Or(c.History.RetentionDays, DefaultHistoryRetention)
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Getters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// APIKey returns the API key protecting the control endpoints.
func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// GraphConfig returns a copy of the current Graph/Email configuration.
func (c *Config) GraphConfig() types.GraphConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.GraphConfig{
		TenantID:     c.Notifications.Email.TenantID,
		ClientID:     c.Notifications.Email.ClientID,
		ClientSecret: c.Notifications.Email.ClientSecret,
		FromAddress:  c.Notifications.Email.FromAddress,
		Recipients:   c.Notifications.Email.Recipients,
	}
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetThresholdDefault updates the startup threshold and saves the configuration.
func (c *Config) SetThresholdDefault(threshold float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Monitor.ThresholdDB = threshold
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort  int
	LogLevel string
	APIKey   string

	StationName string

	// Audio
	AudioInput    string
	SampleRate    int
	Capture       time.Duration
	Interval      time.Duration
	RecoverySleep time.Duration
	Transcribe    time.Duration
	Language      string

	// Monitor
	ThresholdDB   float64
	NoiseRecovery time.Duration

	// Beacon
	BeaconFile       string
	BeaconMarker     string
	BeaconNoneMarker string
	BeaconPoll       time.Duration

	// Broadcast
	BroadcastAddress string
	BroadcastPort    int
	BroadcastTimeout time.Duration

	TranscriptionCredentials string

	// Notifications
	WebhookURL        string
	LogPath           string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string
	ZabbixServer      string
	ZabbixPort        int
	ZabbixHost        string
	ZabbixKey         string

	// Archive
	ArchiveEndpoint        string
	ArchiveBucket          string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
	ArchivePrefix          string

	// History
	HistoryPath          string
	HistoryRetentionDays int

	EventLogPath string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		WebPort:  cmp.Or(c.System.Port, DefaultWebPort),
		LogLevel: cmp.Or(c.System.LogLevel, DefaultLogLevel),
		APIKey:   c.System.APIKey,

		StationName: cmp.Or(c.Web.StationName, DefaultStationName),

		AudioInput:    c.Audio.Input,
		SampleRate:    cmp.Or(c.Audio.SampleRate, DefaultSampleRate),
		Capture:       time.Duration(cmp.Or(c.Audio.CaptureMs, DefaultCaptureMs)) * time.Millisecond,
		Interval:      time.Duration(cmp.Or(c.Audio.IntervalMs, DefaultIntervalMs)) * time.Millisecond,
		RecoverySleep: time.Duration(cmp.Or(c.Audio.RecoverySleepMs, DefaultRecoverySleepMs)) * time.Millisecond,
		Transcribe:    time.Duration(cmp.Or(c.Audio.TranscribeMs, DefaultTranscribeTimeout)) * time.Millisecond,
		Language:      cmp.Or(c.Audio.Language, DefaultLanguage),

		ThresholdDB:   c.Monitor.ThresholdDB,
		NoiseRecovery: time.Duration(cmp.Or(c.Monitor.RecoveryMs, DefaultNoiseRecoveryMs)) * time.Millisecond,

		BeaconFile:       c.Beacon.File,
		BeaconMarker:     cmp.Or(c.Beacon.Marker, DefaultBeaconMarker),
		BeaconNoneMarker: cmp.Or(c.Beacon.NoneMarker, DefaultBeaconNoneMarker),
		BeaconPoll:       time.Duration(cmp.Or(c.Beacon.PollInterval, DefaultBeaconPollMs)) * time.Millisecond,

		BroadcastAddress: cmp.Or(c.Broadcast.Address, DefaultBroadcastAddress),
		BroadcastPort:    cmp.Or(c.Broadcast.Port, DefaultBroadcastPort),
		BroadcastTimeout: time.Duration(cmp.Or(c.Broadcast.TimeoutMs, DefaultBroadcastTimeoutMs)) * time.Millisecond,

		TranscriptionCredentials: c.Transcription.CredentialsFile,

		WebhookURL:        c.Notifications.Webhook.URL,
		LogPath:           c.Notifications.Log.Path,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,
		ZabbixServer:      c.Notifications.Zabbix.Server,
		ZabbixPort:        cmp.Or(c.Notifications.Zabbix.Port, 10051),
		ZabbixHost:        c.Notifications.Zabbix.Host,
		ZabbixKey:         c.Notifications.Zabbix.Key,

		ArchiveEndpoint:        c.Archive.Endpoint,
		ArchiveBucket:          c.Archive.Bucket,
		ArchiveAccessKeyID:     c.Archive.AccessKeyID,
		ArchiveSecretAccessKey: c.Archive.SecretAccessKey,
		ArchivePrefix:          c.Archive.Prefix,

		HistoryPath:          c.History.Path,
		HistoryRetentionDays: cmp.Or(c.History.RetentionDays, DefaultHistoryRetention),

		EventLogPath: c.EventLog.Path,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.GraphTenantID != "" && s.GraphClientID != "" && s.GraphClientSecret != "" &&
		s.GraphFromAddress != "" && s.GraphRecipients != ""
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasZabbix reports whether Zabbix trapper notifications are configured.
func (s *Snapshot) HasZabbix() bool {
	return s.ZabbixServer != "" && s.ZabbixHost != "" && s.ZabbixKey != ""
}

// HasArchive reports whether the S3 transcript archive is configured.
func (s *Snapshot) HasArchive() bool {
	return s.ArchiveBucket != "" && s.ArchiveAccessKeyID != "" && s.ArchiveSecretAccessKey != ""
}
