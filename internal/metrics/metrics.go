// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "noisemonitor"

// Metrics holds all Prometheus metrics for the monitor.
type Metrics struct {
	// Cycle metrics
	CyclesTotal     prometheus.Counter
	CycleFailures   prometheus.Counter
	CaptureFailures prometheus.Counter
	CaptureDuration prometheus.Histogram

	// Level metrics
	LevelDB       prometheus.Gauge
	ThresholdDB   prometheus.Gauge
	Notifications prometheus.Counter
	LoudEpisodes  prometheus.Counter

	// Transcription and relay
	Transcriptions     *prometheus.CounterVec
	TranscribeDuration prometheus.Histogram
	Relays             *prometheus.CounterVec

	// Session and beacon
	SessionsTotal  prometheus.Counter
	SessionsActive prometheus.Gauge
	BeaconPresent  prometheus.Gauge
}

// New creates and registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of completed monitoring cycles",
		}),
		CycleFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Total number of monitoring cycles that failed or panicked",
		}),
		CaptureFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_failures_total",
			Help:      "Total number of audio captures that failed",
		}),
		CaptureDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Wall time spent capturing audio per cycle",
			Buckets:   []float64{0.5, 1, 2, 5, 6, 8, 10, 15},
		}),

		LevelDB: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "level_db",
			Help:      "Most recent calibrated sound pressure level in dB",
		}),
		ThresholdDB: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold_db",
			Help:      "Current notification threshold in dB",
		}),
		Notifications: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of cycles with a level at or above threshold",
		}),
		LoudEpisodes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loud_episodes_total",
			Help:      "Total number of loud episodes started",
		}),

		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Total number of transcription attempts by outcome",
		}, []string{"outcome"}),
		TranscribeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcribe_duration_seconds",
			Help:      "Latency of speech-to-text requests",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		Relays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_total",
			Help:      "Total number of relay attempts by outcome",
		}, []string{"outcome"}),

		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of control sessions opened",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "1 while a control session is connected",
		}),
		BeaconPresent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "beacon_present",
			Help:      "1 while a beacon identifier is known",
		}),
	}
}

// Transcription outcomes.
const (
	OutcomeText     = "text"
	OutcomeNoSpeech = "no_speech"
	OutcomeError    = "error"
)

// SetBeacon records whether a beacon is present.
func (m *Metrics) SetBeacon(id string) {
	if id == "" {
		m.BeaconPresent.Set(0)
		return
	}
	m.BeaconPresent.Set(1)
}
