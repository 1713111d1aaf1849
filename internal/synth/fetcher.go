package synth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mkeyran/md-tts/internal/voice"
	"golang.org/x/sync/singleflight"
)

// Fetcher downloads voice models into a local cache directory. Concurrent
// requests for the same uncached voice share a single download.
type Fetcher struct {
	dir    string
	client *http.Client
	group  singleflight.Group
	log    *slog.Logger
}

func NewFetcher(dir string, timeout time.Duration, log *slog.Logger) (*Fetcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Fetcher{
		dir:    dir,
		client: &http.Client{Timeout: timeout},
		log:    log.With(slog.String("component", "model-fetcher")),
	}, nil
}

// ModelPath returns the cache location for a voice's model file.
func (f *Fetcher) ModelPath(id string) string {
	return filepath.Join(f.dir, id+".onnx")
}

func (f *Fetcher) configPath(id string) string {
	return filepath.Join(f.dir, id+".onnx.json")
}

// Ensure makes the model and config for a voice available locally and
// returns the model path. The per-voice singleflight key is the only
// cross-job contention point in the pipeline.
func (f *Fetcher) Ensure(ctx context.Context, v voice.Voice) (string, error) {
	modelPath := f.ModelPath(v.ID)
	if fileExists(modelPath) && fileExists(f.configPath(v.ID)) {
		return modelPath, nil
	}

	_, err, _ := f.group.Do(v.ID, func() (any, error) {
		// Re-check under the flight: another caller may have finished
		// the download while this one queued.
		if fileExists(modelPath) && fileExists(f.configPath(v.ID)) {
			return nil, nil
		}
		// The flight serves every waiter, not just the caller that opened
		// it. Detach from that caller's context; the HTTP client timeout
		// still bounds each download.
		dctx := context.WithoutCancel(ctx)
		f.log.Info("downloading voice model", slog.String("voice", v.ID))
		if err := f.download(dctx, v.ModelURL, modelPath); err != nil {
			return nil, fmt.Errorf("%w: model for %s: %v", ErrModelUnavailable, v.ID, err)
		}
		if err := f.download(dctx, v.ConfigURL, f.configPath(v.ID)); err != nil {
			os.Remove(modelPath)
			return nil, fmt.Errorf("%w: config for %s: %v", ErrModelUnavailable, v.ID, err)
		}
		f.log.Info("voice model cached", slog.String("voice", v.ID))
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return modelPath, nil
}

// download streams a URL into target via a temp file so a partial download
// never poses as a cached model.
func (f *Fetcher) download(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(f.dir, filepath.Base(target)+".part-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
