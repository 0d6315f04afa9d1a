package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

const framesPerBuffer = 1024

// PortAudio captures from and plays to PortAudio devices.
// It is safe for concurrent use; captures and playbacks are serialized separately.
type PortAudio struct {
	input string

	captureMu sync.Mutex
	playMu    sync.Mutex
}

// NewPortAudio initializes PortAudio. An empty input selects the default input device.
// Close must be called to release the library.
func NewPortAudio(input string) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, util.WrapError("initialize PortAudio", err)
	}
	return &PortAudio{input: input}, nil
}

// Close terminates PortAudio.
func (p *PortAudio) Close() error {
	return portaudio.Terminate()
}

// SetInput selects the input device for subsequent captures. It waits for a
// capture in progress to finish.
func (p *PortAudio) SetInput(name string) {
	p.captureMu.Lock()
	defer p.captureMu.Unlock()
	p.input = name
}

// Capture records duration worth of mono samples from the input device.
func (p *PortAudio) Capture(ctx context.Context, duration time.Duration, sampleRate int) ([]float32, error) {
	p.captureMu.Lock()
	defer p.captureMu.Unlock()

	device, err := p.inputDevice()
	if err != nil {
		return nil, err
	}

	total := int(duration.Seconds() * float64(sampleRate))
	if total <= 0 {
		return nil, nil
	}

	buffer := make([]float32, min(framesPerBuffer, total))
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultHighInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: len(buffer),
	}, buffer)
	if err != nil {
		return nil, util.WrapError("open input stream", err)
	}
	defer util.SafeCloseFunc(stream, "input stream")()

	if err := stream.Start(); err != nil {
		return nil, util.WrapError("start input stream", err)
	}
	defer func() {
		if err := stream.Stop(); err != nil {
			slog.Debug("failed to stop input stream", "error", err)
		}
	}()

	samples := make([]float32, 0, total)
	for len(samples) < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return nil, util.WrapError("read input stream", err)
		}
		samples = append(samples, buffer[:min(len(buffer), total-len(samples))]...)
	}

	return samples, nil
}

// Play writes a mono waveform to the default output device.
func (p *PortAudio) Play(ctx context.Context, waveform []float32, sampleRate int) error {
	p.playMu.Lock()
	defer p.playMu.Unlock()

	if len(waveform) == 0 {
		return nil
	}
	if _, err := portaudio.DefaultOutputDevice(); err != nil {
		return fmt.Errorf("%w: %w", ErrNoAudioDevice, err)
	}

	buffer := make([]float32, min(framesPerBuffer, len(waveform)))
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buffer), buffer)
	if err != nil {
		return util.WrapError("open output stream", err)
	}
	defer util.SafeCloseFunc(stream, "output stream")()

	if err := stream.Start(); err != nil {
		return util.WrapError("start output stream", err)
	}
	defer func() {
		if err := stream.Stop(); err != nil {
			slog.Debug("failed to stop output stream", "error", err)
		}
	}()

	for off := 0; off < len(waveform); off += len(buffer) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buffer, waveform[off:])
		clear(buffer[n:])
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return util.WrapError("write output stream", err)
		}
	}
	return nil
}

func (p *PortAudio) inputDevice() (*portaudio.DeviceInfo, error) {
	if p.input == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoAudioDevice, err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, util.WrapError("enumerate audio devices", err)
	}
	for _, d := range devices {
		if d.Name == p.input && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAudioDevice, p.input)
}

// Devices returns the available audio input devices. PortAudio must be initialized.
func Devices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, util.WrapError("list audio devices", err)
	}

	defaultDevice, _ := portaudio.DefaultInputDevice()

	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		result = append(result, Device{
			Name:       d.Name,
			Channels:   d.MaxInputChannels,
			SampleRate: d.DefaultSampleRate,
			Default:    d == defaultDevice,
		})
	}
	return result, nil
}
