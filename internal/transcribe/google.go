package transcribe

import (
	"context"
	"encoding/binary"
	"math"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Google transcribes audio with Google Cloud Speech-to-Text.
type Google struct {
	client    *speech.Client
	recognize recognizeFunc
}

// NewGoogle creates a Speech-to-Text client. An empty credentialsFile uses
// application default credentials (GOOGLE_APPLICATION_CREDENTIALS).
func NewGoogle(ctx context.Context, credentialsFile string) (*Google, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, util.WrapError("create speech client", err)
	}

	return &Google{
		client: c,
		recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			return c.Recognize(ctx, req)
		},
	}, nil
}

// Close releases the client connection.
func (g *Google) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Transcribe sends the buffer as a single synchronous recognition request.
func (g *Google) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (string, error) {
	if len(samples) == 0 {
		return "", ErrNoSpeech
	}

	resp, err := g.recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(sampleRate), //nolint:gosec // Sample rate is validated in config
			LanguageCode:    language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: PCM16(samples)},
		},
	})
	if err != nil {
		return "", util.WrapError("recognize speech", err)
	}

	var parts []string
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoSpeech
	}
	return strings.Join(parts, " "), nil
}

// PCM16 converts float samples in [-1, 1] to signed 16-bit little-endian PCM.
// Out of range samples are clipped.
func PCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		v = max(-1, min(1, v))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	return out
}
