package audio

import (
	"context"
	"errors"
	"time"
)

// ErrNoAudioDevice is returned when the configured input or output device is not available.
var ErrNoAudioDevice = errors.New("audio device not available")

// Source records fixed-length mono buffers.
type Source interface {
	// Capture blocks for the full duration and returns mono samples in [-1, 1].
	Capture(ctx context.Context, duration time.Duration, sampleRate int) ([]float32, error)
}

// Player plays mono waveforms.
type Player interface {
	// Play blocks until the waveform has been played.
	Play(ctx context.Context, waveform []float32, sampleRate int) error
}

// Device represents an available audio input device.
type Device struct {
	// Name is the device display name, also used to select it.
	Name string `json:"name"`
	// Channels is the number of input channels.
	Channels int `json:"channels"`
	// SampleRate is the default sample rate of the device.
	SampleRate float64 `json:"sample_rate"`
	// Default reports whether this is the system default input.
	Default bool `json:"default,omitzero"`
}

// Unavailable is a Source and Player used when the audio backend could not be
// initialized. Every call fails with ErrNoAudioDevice.
type Unavailable struct {
	Reason error
}

// Capture implements Source.
func (u Unavailable) Capture(context.Context, time.Duration, int) ([]float32, error) {
	return nil, u.err()
}

// Play implements Player.
func (u Unavailable) Play(context.Context, []float32, int) error {
	return u.err()
}

func (u Unavailable) err() error {
	if u.Reason != nil {
		return errors.Join(ErrNoAudioDevice, u.Reason)
	}
	return ErrNoAudioDevice
}
