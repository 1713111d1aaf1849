// Package storage persists synthesized audio files keyed by conversion id.
package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when no audio file exists for a conversion id.
var ErrNotFound = errors.New("audio file not found")

// audioExts are the container formats the synthesizer may produce, in
// lookup order.
var audioExts = []string{".mp3", ".wav"}

type Store struct {
	dir string
	log *slog.Logger
}

func New(dir string, log *slog.Logger) (*Store, error) {
	if dir == "" {
		dir = "./storage/audio"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &Store{dir: dir, log: log.With(slog.String("component", "audio-store"))}, nil
}

// Save writes audio bytes as {dir}/{id}.{format} via a temp file so a
// partial write is never visible under the final name.
func (s *Store) Save(id, format string, data []byte) (string, int64, error) {
	name := id + "." + strings.TrimPrefix(format, ".")
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp audio file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("write audio file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("close audio file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("rename audio file: %w", err)
	}
	return path, int64(len(data)), nil
}

// Open returns a reader for the stored audio of a conversion, its size and
// content type.
func (s *Store) Open(id string) (io.ReadCloser, int64, string, error) {
	path, err := s.find(id)
	if err != nil {
		return nil, 0, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, "", fmt.Errorf("open audio file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, "", fmt.Errorf("stat audio file: %w", err)
	}
	return f, info.Size(), ContentType(path), nil
}

// Exists reports whether a stored audio file is present for the id.
func (s *Store) Exists(id string) bool {
	_, err := s.find(id)
	return err == nil
}

// Remove deletes the audio file for a conversion. A missing file is not an
// error; cleanup is best-effort.
func (s *Store) Remove(id string) error {
	path, err := s.find(id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove audio file: %w", err)
	}
	return nil
}

// CleanupOld deletes audio files older than maxAge and returns the number
// removed.
func (s *Store) CleanupOld(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("cleanup scan failed", slog.String("error", err.Error()))
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn("failed to remove old audio file",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("removed old audio files", slog.Int("count", removed))
	}
	return removed
}

func (s *Store) find(id string) (string, error) {
	for _, ext := range audioExts {
		path := filepath.Join(s.dir, id+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ContentType maps a stored file path to its MIME type.
func ContentType(path string) string {
	if strings.HasSuffix(path, ".mp3") {
		return "audio/mpeg"
	}
	return "audio/wav"
}
