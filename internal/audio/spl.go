// Package audio provides audio capture, tone playback and sound pressure level estimation.
package audio

import "math"

const (
	// MinDB is the floor for every calibrated level.
	MinDB = 30.0
	// RefPressure is the reference sound pressure in pascal (0 dB SPL).
	RefPressure = 2e-5
	// rmsFloor keeps log10 away from zero on digital silence.
	rmsFloor = 1e-10
	// trimFraction of one second of samples is dropped at each end of a buffer.
	trimFraction = 0.1
)

// EstimateSPL reduces a mono buffer to a calibrated level in dB, rounded to
// one decimal and never below MinDB.
//
// The first and last int(0.1*sampleRate) samples are discarded to skip
// device start-up and shutdown transients, but only when the buffer is longer
// than both trims together.
func EstimateSPL(samples []float32, sampleRate int) float64 {
	window := trimWindow(samples, sampleRate)
	if len(window) == 0 {
		return MinDB
	}

	var sumSquares float64
	for _, s := range window {
		v := float64(s)
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(len(window)))

	spl := 20 * math.Log10(max(rms, rmsFloor)/RefPressure)
	if math.IsNaN(spl) || math.IsInf(spl, 0) {
		return MinDB
	}

	return math.Round(max(spl, MinDB)*10) / 10
}

func trimWindow(samples []float32, sampleRate int) []float32 {
	trim := int(trimFraction * float64(sampleRate))
	if trim <= 0 || len(samples) <= 2*trim {
		return samples
	}
	return samples[trim : len(samples)-trim]
}
