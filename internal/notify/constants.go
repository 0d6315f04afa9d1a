package notify

import "time"

// AppName is the application name used in notifications.
const AppName = "ZuidWest FM Noise Monitor"

// Event names shared by the webhook, log and Zabbix channels.
const (
	EventNoiseDetected = "noise_detected"
	EventNoiseCleared  = "noise_cleared"
	EventTest          = "test"
)

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
