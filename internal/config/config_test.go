package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	_, err := os.Stat(path)
	require.NoError(t, err)

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultWebPort, snap.WebPort)
	assert.Equal(t, DefaultSampleRate, snap.SampleRate)
	assert.Equal(t, 5*time.Second, snap.Capture)
	assert.Equal(t, time.Second, snap.Interval)
	assert.Equal(t, 5*time.Second, snap.RecoverySleep)
	assert.Equal(t, 15*time.Second, snap.Transcribe)
	assert.InDelta(t, DefaultThresholdDB, snap.ThresholdDB, 0)
	assert.Equal(t, "it-IT", snap.Language)
	assert.Equal(t, "255.255.255.255", snap.BroadcastAddress)
	assert.Equal(t, 37020, snap.BroadcastPort)
	assert.Equal(t, time.Second, snap.BroadcastTimeout)
	assert.Equal(t, "Beacon rilevato:", snap.BeaconMarker)
	assert.Equal(t, 5*time.Second, snap.BeaconPoll)
	assert.Equal(t, 10051, snap.ZabbixPort)
	assert.False(t, snap.HasArchive())
	assert.False(t, snap.HasGraph())
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"system": {"port": 9000, "api_key": "secret"},
		"monitor": {"threshold_db": 70},
		"beacon": {"file": "/tmp/beacon.log"},
		"notifications": {"zabbix": {"server": "zbx", "host": "studio", "key": "noise"}}
	}`)

	cfg := New(path)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.Equal(t, 9000, snap.WebPort)
	assert.Equal(t, "secret", cfg.APIKey())
	assert.InDelta(t, 70.0, snap.ThresholdDB, 0)
	assert.Equal(t, "/tmp/beacon.log", snap.BeaconFile)
	assert.Equal(t, "Nessun beacon", snap.BeaconNoneMarker)
	assert.Equal(t, DefaultSampleRate, snap.SampleRate)
	assert.True(t, snap.HasZabbix())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `{"system":`},
		{"bad port", `{"system": {"port": 70000}}`},
		{"bad log level", `{"system": {"log_level": "verbose"}}`},
		{"bad sample rate", `{"audio": {"sample_rate": 100}}`},
		{"slow broadcast", `{"broadcast": {"timeout_ms": 5000}}`},
		{"negative broadcast timeout", `{"broadcast": {"timeout_ms": -1}}`},
		{"negative beacon poll", `{"beacon": {"poll_interval": -1}}`},
		{"negative capture", `{"audio": {"capture_ms": -5000}}`},
		{"negative interval", `{"audio": {"interval_ms": -1}}`},
		{"negative recovery sleep", `{"audio": {"recovery_sleep_ms": -1}}`},
		{"negative transcribe timeout", `{"audio": {"transcribe_timeout_ms": -1}}`},
		{"negative noise recovery", `{"monitor": {"recovery_ms": -1}}`},
		{"path traversal", `{"history": {"path": "../readings.db"}}`},
		{"control chars in station", `{"web": {"station_name": "a\nb"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New(writeConfig(t, tt.content))
			assert.Error(t, cfg.Load())
		})
	}
}

func TestSettersPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	require.NoError(t, cfg.SetThresholdDefault(72.5))
	require.NoError(t, cfg.SetAudioInput("USB Microphone"))

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	assert.InDelta(t, 72.5, reloaded.Snapshot().ThresholdDB, 0)
	assert.Equal(t, "USB Microphone", reloaded.AudioInput())

	var raw map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "monitor")
}

func TestGraphConfig(t *testing.T) {
	path := writeConfig(t, `{"notifications": {"email": {
		"tenant_id": "t", "client_id": "c", "client_secret": "s",
		"from_address": "from@example.com", "recipients": "a@example.com"
	}}}`)
	cfg := New(path)
	require.NoError(t, cfg.Load())

	g := cfg.GraphConfig()
	assert.Equal(t, "t", g.TenantID)
	assert.Equal(t, "a@example.com", g.Recipients)

	snap := cfg.Snapshot()
	assert.True(t, snap.HasGraph())
}
