package synth

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/mkeyran/md-tts/internal/config"
	"github.com/mkeyran/md-tts/internal/voice"
)

// Engine runs a piper-style command per synthesis request. The command
// template may reference {model} and {voice}, receives text on stdin and
// must write raw 16-bit PCM to stdout.
type Engine struct {
	cmd        []string
	sampleRate int
	channels   int
	mp3        bool
	fetcher    *Fetcher
	log        *slog.Logger
}

func NewEngine(cfg config.SynthConfig, fetcher *Fetcher, log *slog.Logger) (*Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}
	return &Engine{
		cmd:        args,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		mp3:        cfg.FFmpegMP3,
		fetcher:    fetcher,
		log:        log.With(slog.String("component", "synth-engine")),
	}, nil
}

func (e *Engine) Synthesize(ctx context.Context, text string, v voice.Voice) (Audio, error) {
	if strings.TrimSpace(text) == "" {
		return Audio{}, fmt.Errorf("%w: empty text", ErrSynthesis)
	}

	modelPath, err := e.fetcher.Ensure(ctx, v)
	if err != nil {
		return Audio{}, err
	}

	args := make([]string, len(e.cmd))
	for i, a := range e.cmd {
		a = strings.ReplaceAll(a, "{model}", modelPath)
		a = strings.ReplaceAll(a, "{voice}", v.ID)
		args[i] = a
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Audio{}, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return Audio{}, fmt.Errorf("%w: engine: %s", ErrSynthesis, detail)
	}

	pcm := stdout.Bytes()
	if len(pcm) == 0 {
		return Audio{}, fmt.Errorf("%w: engine produced no audio", ErrSynthesis)
	}

	wavData, err := encodeWAV(pcm, e.sampleRate, e.channels)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}

	if e.mp3 {
		if mp3Data, err := encodeMP3(ctx, wavData); err == nil {
			return Audio{Data: mp3Data, Format: "mp3"}, nil
		} else {
			// MP3 re-encode is best-effort; the WAV is always playable.
			e.log.Warn("mp3 encode failed, keeping wav", slog.String("error", err.Error()))
		}
	}
	return Audio{Data: wavData, Format: "wav"}, nil
}

// encodeMP3 shells out to ffmpeg over pipes.
func encodeMP3(ctx context.Context, wavData []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "wav", "-i", "pipe:0",
		"-acodec", "mp3", "-ab", "128k",
		"-f", "mp3", "pipe:1")
	cmd.Stdin = bytes.NewReader(wavData)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %s", firstLine(stderr.String(), err))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output")
	}
	return stdout.Bytes(), nil
}

func firstLine(s string, fallback error) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback.Error()
	}
	if idx := strings.IndexByte(s, '\n'); idx > 0 {
		return s[:idx]
	}
	return s
}
