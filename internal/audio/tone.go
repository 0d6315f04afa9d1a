package audio

import (
	"math"
	"time"
)

// Confirmation tone played when filter mode is switched on.
const (
	ToneFrequency = 880.0
	ToneDuration  = 200 * time.Millisecond
	ToneAmplitude = 0.3
)

// Tone renders a sine wave of the given frequency and duration.
// A short linear fade at both ends avoids clicks on playback.
func Tone(frequency float64, duration time.Duration, amplitude float64, sampleRate int) []float32 {
	n := int(duration.Seconds() * float64(sampleRate))
	if n <= 0 || sampleRate <= 0 {
		return nil
	}

	fade := min(n/10, sampleRate/200)
	out := make([]float32, n)
	step := 2 * math.Pi * frequency / float64(sampleRate)
	for i := range out {
		gain := amplitude
		switch {
		case fade > 0 && i < fade:
			gain *= float64(i) / float64(fade)
		case fade > 0 && i >= n-fade:
			gain *= float64(n-1-i) / float64(fade)
		}
		out[i] = float32(gain * math.Sin(step*float64(i)))
	}
	return out
}

// ConfirmationTone returns the tone played when filter mode is enabled.
func ConfirmationTone(sampleRate int) []float32 {
	return Tone(ToneFrequency, ToneDuration, ToneAmplitude, sampleRate)
}
