package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkeyran/md-tts/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.HistoryConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "history.db")
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndGet(t *testing.T) {
	s := openStore(t, config.HistoryConfig{})
	ctx := context.Background()

	rec := Record{
		ID:           "conv-1",
		Title:        "Notes",
		MarkdownText: "# Hi",
		TextPreview:  "Hi.",
		VoiceID:      "en_US-lessac-medium",
		Status:       StatusPending,
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.VoiceID != rec.VoiceID || got.Title != "Notes" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at not stamped")
	}
	if !got.CompletedAt.IsZero() {
		t.Fatal("completed_at must be empty for pending record")
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t, config.HistoryConfig{})
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateCompletion(t *testing.T) {
	s := openStore(t, config.HistoryConfig{})
	ctx := context.Background()

	rec := Record{ID: "conv-2", MarkdownText: "x", TextPreview: "x", VoiceID: "v", Status: StatusProcessing}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec.Status = StatusCompleted
	rec.FilePath = "/audio/conv-2.wav"
	rec.FileSize = 1234
	rec.CompletedAt = time.Now()
	ok, err := s.Update(ctx, rec)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !ok {
		t.Fatal("expected update to touch a row")
	}

	got, err := s.Get(ctx, "conv-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted || got.FileSize != 1234 || got.CompletedAt.IsZero() {
		t.Fatalf("completion fields not persisted: %+v", got)
	}
}

func TestUpdateAfterDeleteIsIgnored(t *testing.T) {
	s := openStore(t, config.HistoryConfig{})
	ctx := context.Background()

	rec := Record{ID: "conv-3", MarkdownText: "x", TextPreview: "x", VoiceID: "v", Status: StatusProcessing}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.Delete(ctx, "conv-3"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	rec.Status = StatusCompleted
	ok, err := s.Update(ctx, rec)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ok {
		t.Fatal("update after delete must not touch a row")
	}
	if _, err := s.Get(ctx, "conv-3"); !errors.Is(err, ErrNotFound) {
		t.Fatal("deleted record must stay deleted")
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	s := openStore(t, config.HistoryConfig{})
	ctx := context.Background()

	if err := s.Insert(ctx, Record{ID: "conv-4", MarkdownText: "x", TextPreview: "x", VoiceID: "v", Status: StatusPending}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	existed, err := s.Delete(ctx, "conv-4")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !existed {
		t.Fatal("expected delete to report existing row")
	}
	existed, err = s.Delete(ctx, "conv-4")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if existed {
		t.Fatal("second delete must report missing row")
	}
}

func TestListPagination(t *testing.T) {
	s := openStore(t, config.HistoryConfig{})
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.clock = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		rec := Record{ID: fmt.Sprintf("conv-%d", i), MarkdownText: "x", TextPreview: "x", VoiceID: "v", Status: StatusCompleted}
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	first, err := s.List(ctx, 3, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 items, got %d", len(first))
	}
	if first[0].ID != "conv-4" {
		t.Fatalf("expected newest first, got %s", first[0].ID)
	}

	second, err := s.List(ctx, 3, 3)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected 2 items on second page, got %d", len(second))
	}

	seen := map[string]bool{}
	for _, r := range append(first, second...) {
		if seen[r.ID] {
			t.Fatalf("duplicate id across pages: %s", r.ID)
		}
		seen[r.ID] = true
	}
	if len(seen) != 5 {
		t.Fatalf("pages do not cover the full set: %d", len(seen))
	}
}

func TestListTieBreakOnID(t *testing.T) {
	s := openStore(t, config.HistoryConfig{})
	ctx := context.Background()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return ts }
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Insert(ctx, Record{ID: id, MarkdownText: "x", TextPreview: "x", VoiceID: "v", Status: StatusPending}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got[0].ID != "c" || got[1].ID != "b" || got[2].ID != "a" {
		t.Fatalf("expected id-descending tie break, got %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestPruneByRetention(t *testing.T) {
	s := openStore(t, config.HistoryConfig{RetentionDays: 1})
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Insert(ctx, Record{ID: "old", MarkdownText: "x", TextPreview: "x", VoiceID: "v", Status: StatusCompleted}); err != nil {
		t.Fatalf("insert old: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Insert(ctx, Record{ID: "new", MarkdownText: "x", TextPreview: "x", VoiceID: "v", Status: StatusCompleted}); err != nil {
		t.Fatalf("insert new: %v", err)
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := s.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected old record pruned")
	}
	if _, err := s.Get(ctx, "new"); err != nil {
		t.Fatalf("new record must survive prune: %v", err)
	}
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	cfg := config.HistoryConfig{Path: path}
	ctx := context.Background()

	s, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Insert(ctx, Record{ID: "persist", MarkdownText: "x", TextPreview: "x", VoiceID: "v", Status: StatusProcessing}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s2.Close() })
	got, err := s2.Get(ctx, "persist")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Status != StatusProcessing {
		t.Fatalf("processing record must survive restart as-is, got %s", got.Status)
	}
}
