// Package types provides shared type definitions used across the noise monitor.
package types

// LevelEvent is the live level message pushed to the control session.
type LevelEvent struct {
	DB float64 `json:"db"`
}

// NotificationKind is the "tipo" value of threshold notifications.
const NotificationKind = "notifica"

// ThresholdEvent is pushed to the control session when a level reaches the threshold.
type ThresholdEvent struct {
	Kind      string  `json:"tipo"`   // Always NotificationKind
	Level     float64 `json:"rumore"` // Measured level in dB
	Threshold float64 `json:"soglia"` // Threshold that was crossed in dB
}

// NewThresholdEvent returns a threshold notification for the given level and threshold.
func NewThresholdEvent(level, threshold float64) ThresholdEvent {
	return ThresholdEvent{Kind: NotificationKind, Level: level, Threshold: threshold}
}

// Reading is a single stored level measurement.
type Reading struct {
	Timestamp   string  `json:"timestamp"`    // RFC3339 timestamp
	LevelDB     float64 `json:"level_db"`     // Calibrated level in dB
	ThresholdDB float64 `json:"threshold_db"` // Threshold in effect for the cycle
	Exceeded    bool    `json:"exceeded"`     // Level reached the threshold
}

// ThresholdLogEntry represents a single entry in the threshold notification log.
type ThresholdLogEntry struct {
	Timestamp   string  `json:"timestamp"`             // RFC3339 timestamp
	Event       string  `json:"event"`                 // Event type (noise_start, noise_end, test)
	DurationMs  int64   `json:"duration_ms,omitempty"` // Episode duration in milliseconds (noise_end only)
	LevelDB     float64 `json:"level_db,omitempty"`    // Calibrated level in dB
	ThresholdDB float64 `json:"threshold_db"`          // Threshold in dB
}

// StatusResponse is returned by the status endpoint.
type StatusResponse struct {
	Threshold     float64     `json:"threshold_db"`           // Current threshold
	FilterEnabled bool        `json:"filter_enabled"`         // Transcription gate
	Operator      string      `json:"operator,omitempty"`     // Operator display name
	BeaconID      string      `json:"beacon_id,omitempty"`    // Current broadcast destination
	SessionActive bool        `json:"session_active"`         // A control client is connected
	LastLevel     float64     `json:"last_level_db,omitzero"` // Most recent calibrated level
	Cycles        uint64      `json:"cycles"`                 // Completed monitor cycles
	Version       VersionInfo `json:"version"`                // Version information
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// ZabbixConfig contains settings for sending trapper items to a Zabbix server.
type ZabbixConfig struct {
	Server string `json:"server,omitempty"`
	Port   int    `json:"port,omitempty"`
	Host   string `json:"host,omitempty"`
	Key    string `json:"key,omitempty"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
