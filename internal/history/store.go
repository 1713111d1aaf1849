// Package history keeps the durable record of every conversion job.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mkeyran/md-tts/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a conversion id has no record.
var ErrNotFound = errors.New("conversion not found")

// Status is the lifecycle state of a conversion.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is one conversion job. JobManager owns mutation of the status and
// audio fields; this store owns durability.
type Record struct {
	ID           string
	Title        string
	MarkdownText string
	TextPreview  string
	VoiceID      string
	Status       Status
	Error        string
	FilePath     string
	FileSize     int64
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// Store wraps the SQLite-backed conversion history.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history database, creating the schema on first use.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log.With(slog.String("component", "history-store")), clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Prune(ctx); err != nil {
		s.log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS conversions (
    id TEXT PRIMARY KEY,
    title TEXT,
    markdown_text TEXT NOT NULL,
    text_preview TEXT NOT NULL,
    voice_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    error TEXT,
    file_path TEXT,
    file_size INTEGER,
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_conversions_created ON conversions(created_at DESC, id DESC);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert writes a new conversion record.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversions(id, title, markdown_text, text_preview, voice_id, status, error, file_path, file_size, created_at, completed_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, rec.MarkdownText, rec.TextPreview, rec.VoiceID, string(rec.Status),
		rec.Error, rec.FilePath, rec.FileSize, formatTime(rec.CreatedAt), nullableTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert conversion: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing record. It reports
// whether a row was touched so a write racing a delete is ignored rather
// than resurrecting the record.
func (s *Store) Update(ctx context.Context, rec Record) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversions SET status = ?, error = ?, file_path = ?, file_size = ?, completed_at = ?
		 WHERE id = ?`,
		string(rec.Status), rec.Error, rec.FilePath, rec.FileSize, nullableTime(rec.CompletedAt), rec.ID)
	if err != nil {
		return false, fmt.Errorf("update conversion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get retrieves one record by conversion id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, markdown_text, text_preview, voice_id, status, error, file_path, file_size, created_at, completed_at
		 FROM conversions WHERE id = ?`, id)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get conversion: %w", err)
	}
	return rec, nil
}

// List returns records newest first. Ties on created_at break by id
// descending so pagination is deterministic.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, markdown_text, text_preview, voice_id, status, error, file_path, file_size, created_at, completed_at
		 FROM conversions ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes a record and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete conversion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Prune applies the configured retention window.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return fmt.Errorf("prune conversions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Info("pruned old conversions", slog.Int64("count", n))
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var (
		rec         Record
		status      string
		title       sql.NullString
		errMsg      sql.NullString
		filePath    sql.NullString
		fileSize    sql.NullInt64
		created     string
		completedAt sql.NullString
	)
	if err := scan(&rec.ID, &title, &rec.MarkdownText, &rec.TextPreview, &rec.VoiceID,
		&status, &errMsg, &filePath, &fileSize, &created, &completedAt); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.Title = title.String
	rec.Error = errMsg.String
	rec.FilePath = filePath.String
	rec.FileSize = fileSize.Int64
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = ts
	}
	if completedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			rec.CompletedAt = ts
		}
	}
	return rec, nil
}
