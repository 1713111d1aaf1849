package synth

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mkeyran/md-tts/internal/voice"
)

// Mock synthesizes a short silent WAV without any engine. Used in mock mode
// and in tests.
type Mock struct {
	sampleRate int
	channels   int
	delay      time.Duration
	calls      atomic.Int64
}

func NewMock(sampleRate, channels int) *Mock {
	return &Mock{sampleRate: sampleRate, channels: channels, delay: 10 * time.Millisecond}
}

func (m *Mock) Synthesize(ctx context.Context, text string, v voice.Voice) (Audio, error) {
	if strings.TrimSpace(text) == "" {
		return Audio{}, fmt.Errorf("%w: empty text", ErrSynthesis)
	}
	m.calls.Add(1)
	select {
	case <-ctx.Done():
		return Audio{}, ctx.Err()
	case <-time.After(m.delay):
	}

	// One silent sample per input character gives output whose size tracks
	// the input, which the tests rely on.
	pcm := make([]byte, 2*len(text)*m.channels)
	data, err := encodeWAV(pcm, m.sampleRate, m.channels)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Data: data, Format: "wav"}, nil
}

// Calls reports how many synthesis runs completed validation.
func (m *Mock) Calls() int64 {
	return m.calls.Load()
}
