package synth

import (
	"context"
	"errors"

	"github.com/mkeyran/md-tts/internal/voice"
)

// ErrModelUnavailable means the acoustic model for a voice could not be
// fetched from the remote repository.
var ErrModelUnavailable = errors.New("voice model unavailable")

// ErrSynthesis means the engine rejected the input or produced no audio.
var ErrSynthesis = errors.New("synthesis failed")

// Audio is one synthesized audio file body.
type Audio struct {
	Data   []byte
	Format string // "wav" or "mp3"
}

// Synthesizer is the contract for producing audio from extracted text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, v voice.Voice) (Audio, error)
}
