// Package transcribe converts captured audio to text.
package transcribe

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned when the audio contains no recognizable speech.
var ErrNoSpeech = errors.New("no speech recognized")

// ErrDisabled is returned by a transcriber that could not be set up.
var ErrDisabled = errors.New("transcription unavailable")

// Transcriber converts a mono buffer to text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (string, error)
}

// Disabled is a Transcriber that always fails with its reason.
type Disabled struct {
	Reason error
}

// Transcribe implements Transcriber.
func (d Disabled) Transcribe(context.Context, []float32, int, string) (string, error) {
	if d.Reason != nil {
		return "", errors.Join(ErrDisabled, d.Reason)
	}
	return "", ErrDisabled
}
