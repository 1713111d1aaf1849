package synth

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkeyran/md-tts/internal/config"
	"github.com/mkeyran/md-tts/internal/voice"
)

func TestMockProducesWAV(t *testing.T) {
	m := NewMock(22050, 1)
	audio, err := m.Synthesize(context.Background(), "hello world", voice.Default())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if audio.Format != "wav" {
		t.Fatalf("expected wav, got %s", audio.Format)
	}
	if !bytes.HasPrefix(audio.Data, []byte("RIFF")) {
		t.Fatal("output is not a RIFF container")
	}
	if len(audio.Data) == 0 {
		t.Fatal("empty audio")
	}
}

func TestMockRejectsEmptyText(t *testing.T) {
	m := NewMock(22050, 1)
	_, err := m.Synthesize(context.Background(), "   ", voice.Default())
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
	if m.Calls() != 0 {
		t.Fatal("rejected input must not count as a synthesis run")
	}
}

func TestMockHonorsContext(t *testing.T) {
	m := NewMock(22050, 1)
	m.delay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Synthesize(ctx, "text", voice.Default())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 2*22050) // one second of silence
	data, err := encodeWAV(pcm, 22050, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Contains(data[:12], []byte("WAVE")) {
		t.Fatalf("bad container header: %x", data[:12])
	}
	if len(data) <= len(pcm) {
		t.Fatalf("container smaller than payload: %d <= %d", len(data), len(pcm))
	}
}

func TestEncodeWAVOddLengthPCM(t *testing.T) {
	if _, err := encodeWAV([]byte{1, 2, 3}, 22050, 1); err != nil {
		t.Fatalf("odd-length pcm must be tolerated: %v", err)
	}
}

func TestNewEngineRejectsBadCommand(t *testing.T) {
	f, err := NewFetcher(t.TempDir(), time.Minute, testLogger())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	cfg := config.SynthConfig{Command: "", SampleRate: 22050, Channels: 1}
	if _, err := NewEngine(cfg, f, testLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestEngineRejectsEmptyText(t *testing.T) {
	f, err := NewFetcher(t.TempDir(), time.Minute, testLogger())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	cfg := config.SynthConfig{Command: "piper --model {model} --output-raw", SampleRate: 22050, Channels: 1}
	e, err := NewEngine(cfg, f, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := e.Synthesize(context.Background(), "", voice.Default()); !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
}
