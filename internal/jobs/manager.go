// Package jobs drives a conversion from submission through synthesis to its
// terminal state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mkeyran/md-tts/internal/bus"
	"github.com/mkeyran/md-tts/internal/config"
	"github.com/mkeyran/md-tts/internal/history"
	"github.com/mkeyran/md-tts/internal/markdown"
	"github.com/mkeyran/md-tts/internal/protocol"
	"github.com/mkeyran/md-tts/internal/storage"
	"github.com/mkeyran/md-tts/internal/synth"
	"github.com/mkeyran/md-tts/internal/voice"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrEmptyInput means extraction produced no speakable text; no record is
// created.
var ErrEmptyInput = errors.New("no text found in markdown")

// ErrNotReady means the conversion has not completed yet.
var ErrNotReady = errors.New("conversion not completed")

const previewLength = 100

// SubmitRequest is a validated-at-the-edge conversion request.
type SubmitRequest struct {
	MarkdownText string
	Title        string
	VoiceID      string
}

// Summary is the listing shape for one conversion.
type Summary struct {
	ID          string
	Title       string
	TextPreview string
	CreatedAt   time.Time
	Status      history.Status
	FileSize    int64
	DownloadURL string
}

// Manager owns the conversion state machine. It is the only writer of job
// records while a job is in flight.
type Manager struct {
	cfg          config.JobsConfig
	store        *history.Store
	files        *storage.Store
	synth        synth.Synthesizer
	bus          *bus.Client
	log          *slog.Logger
	clock        func() time.Time
	synthTimeout time.Duration
	wg           sync.WaitGroup

	jobCounter  metric.Int64Counter
	jobDuration metric.Float64Histogram
}

func NewManager(cfg config.JobsConfig, synthTimeout time.Duration, store *history.Store,
	files *storage.Store, synthesizer synth.Synthesizer, busClient *bus.Client, log *slog.Logger) *Manager {
	m := &Manager{
		cfg:          cfg,
		store:        store,
		files:        files,
		synth:        synthesizer,
		bus:          busClient,
		log:          log.With(slog.String("component", "job-manager")),
		clock:        time.Now,
		synthTimeout: synthTimeout,
	}
	m.initMetrics()
	return m
}

func (m *Manager) initMetrics() {
	meter := otel.Meter("github.com/mkeyran/md-tts/jobs")
	var err error
	if m.jobCounter, err = meter.Int64Counter("mdtts.conversions",
		metric.WithDescription("Conversion jobs by terminal status")); err != nil {
		m.log.Warn("failed to create conversion counter", slog.String("error", err.Error()))
	}
	if m.jobDuration, err = meter.Float64Histogram("mdtts.conversion.duration",
		metric.WithDescription("Conversion duration in seconds"), metric.WithUnit("s")); err != nil {
		m.log.Warn("failed to create duration histogram", slog.String("error", err.Error()))
	}
}

// Close waits for background conversions to settle.
func (m *Manager) Close() {
	m.wg.Wait()
}

// Submit validates the request, creates the job record and runs the
// pipeline. Short inputs complete within the call; longer ones return the
// pending record and finish in the background. Validation failures happen
// before any record exists.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (history.Record, error) {
	text := markdown.Extract(req.MarkdownText)
	if text == "" {
		return history.Record{}, ErrEmptyInput
	}
	v, err := voice.Resolve(req.VoiceID)
	if err != nil {
		return history.Record{}, err
	}

	rec := history.Record{
		ID:           uuid.NewString(),
		Title:        req.Title,
		MarkdownText: req.MarkdownText,
		TextPreview:  markdown.Preview(text, previewLength),
		VoiceID:      v.ID,
		Status:       history.StatusPending,
		CreatedAt:    m.clock().UTC(),
	}
	if err := m.store.Insert(ctx, rec); err != nil {
		return history.Record{}, fmt.Errorf("create conversion record: %w", err)
	}
	m.publishEvent(rec)

	if m.cfg.AsyncThresholdChars > 0 && len(text) > m.cfg.AsyncThresholdChars {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			// The record outlives the HTTP request that created it.
			m.process(context.Background(), rec, text, v)
		}()
		return rec, nil
	}
	return m.process(ctx, rec, text, v), nil
}

// process runs one conversion to its terminal state. It never returns an
// error: every post-creation failure is captured into the record.
func (m *Manager) process(ctx context.Context, rec history.Record, text string, v voice.Voice) history.Record {
	started := m.clock()
	// A client disconnect cancels the synthesis below, but the terminal
	// status must still reach the store. Persist on a detached context.
	pctx := context.WithoutCancel(ctx)
	rec = m.transition(pctx, rec, history.StatusProcessing)

	sctx, cancel := context.WithTimeout(ctx, m.synthTimeout)
	defer cancel()

	audio, err := m.synth.Synthesize(sctx, text, v)
	if err != nil {
		return m.fail(pctx, rec, summarize(err, m.synthTimeout), err)
	}

	path, size, err := m.files.Save(rec.ID, audio.Format, audio.Data)
	if err != nil {
		return m.fail(pctx, rec, "could not store generated audio", err)
	}

	rec.FilePath = path
	rec.FileSize = size
	rec.CompletedAt = m.clock().UTC()
	rec = m.transition(pctx, rec, history.StatusCompleted)

	m.record(pctx, rec.Status, m.clock().Sub(started))
	m.log.Info("conversion completed",
		slog.String("conversion_id", rec.ID),
		slog.String("voice", rec.VoiceID),
		slog.Int64("file_size", size))
	return rec
}

func (m *Manager) fail(ctx context.Context, rec history.Record, summary string, cause error) history.Record {
	rec.Error = summary
	rec = m.transition(ctx, rec, history.StatusFailed)
	m.record(ctx, rec.Status, 0)
	m.log.Warn("conversion failed",
		slog.String("conversion_id", rec.ID),
		slog.String("reason", summary),
		slog.String("error", cause.Error()))
	return rec
}

// transition applies a forward-only status change and persists it. A write
// racing a concurrent delete is ignored; the record is gone.
func (m *Manager) transition(ctx context.Context, rec history.Record, to history.Status) history.Record {
	if !canTransition(rec.Status, to) {
		m.log.Error("invalid status transition",
			slog.String("conversion_id", rec.ID),
			slog.String("from", string(rec.Status)),
			slog.String("to", string(to)))
		return rec
	}
	rec.Status = to
	ok, err := m.store.Update(ctx, rec)
	if err != nil {
		m.log.Error("failed to persist transition",
			slog.String("conversion_id", rec.ID), slog.String("error", err.Error()))
	} else if !ok {
		m.log.Warn("record deleted during processing", slog.String("conversion_id", rec.ID))
	}
	if to.Terminal() {
		m.publishEvent(rec)
	}
	return rec
}

func canTransition(from, to history.Status) bool {
	switch from {
	case history.StatusPending:
		return to == history.StatusProcessing
	case history.StatusProcessing:
		return to == history.StatusCompleted || to == history.StatusFailed
	default:
		return false
	}
}

// Status returns the current record for a conversion.
func (m *Manager) Status(ctx context.Context, id string) (history.Record, error) {
	return m.store.Get(ctx, id)
}

// Audio opens the stored audio stream for a completed conversion.
func (m *Manager) Audio(ctx context.Context, id string) (io.ReadCloser, int64, string, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, 0, "", err
	}
	if rec.Status != history.StatusCompleted {
		return nil, 0, "", fmt.Errorf("%w: status is %s", ErrNotReady, rec.Status)
	}
	r, size, contentType, err := m.files.Open(id)
	if errors.Is(err, storage.ErrNotFound) {
		// Completed record without a backing file: surface as missing, do
		// not silently serve anything.
		m.log.Error("audio file missing for completed conversion", slog.String("conversion_id", id))
		return nil, 0, "", fmt.Errorf("%w: audio file missing for %s", history.ErrNotFound, id)
	}
	if err != nil {
		return nil, 0, "", err
	}
	return r, size, contentType, nil
}

// Delete removes the audio file then the record. File removal is
// best-effort; a missing file never blocks record deletion.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.files.Remove(id); err != nil {
		m.log.Warn("could not remove audio file",
			slog.String("conversion_id", id), slog.String("error", err.Error()))
	}
	existed, err := m.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete conversion record: %w", err)
	}
	if !existed {
		return fmt.Errorf("%w: %s", history.ErrNotFound, id)
	}
	m.log.Info("conversion deleted", slog.String("conversion_id", id))
	return nil
}

// List returns conversion summaries, newest first.
func (m *Manager) List(ctx context.Context, limit, offset int) ([]Summary, error) {
	records, err := m.store.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(records))
	for _, rec := range records {
		s := Summary{
			ID:          rec.ID,
			Title:       rec.Title,
			TextPreview: rec.TextPreview,
			CreatedAt:   rec.CreatedAt,
			Status:      rec.Status,
			FileSize:    rec.FileSize,
		}
		if rec.Status == history.StatusCompleted {
			s.DownloadURL = "/download/" + rec.ID
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// Cleanup removes expired audio files and history rows.
func (m *Manager) Cleanup(ctx context.Context, maxFileAge time.Duration) {
	if maxFileAge > 0 {
		m.files.CleanupOld(maxFileAge)
	}
	if err := m.store.Prune(ctx); err != nil {
		m.log.Warn("history prune failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) publishEvent(rec history.Record) {
	evt := protocol.JobEvent{
		ConversionID: rec.ID,
		Status:       string(rec.Status),
		VoiceID:      rec.VoiceID,
		FileSize:     rec.FileSize,
		Error:        rec.Error,
		Timestamp:    m.clock().UTC(),
	}
	if err := m.bus.PublishJSON(protocol.SubjectFor(evt.Status), evt); err != nil {
		m.log.Warn("failed to publish job event",
			slog.String("conversion_id", rec.ID), slog.String("error", err.Error()))
	}
}

func (m *Manager) record(ctx context.Context, status history.Status, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	if m.jobCounter != nil {
		m.jobCounter.Add(ctx, 1, attrs)
	}
	if m.jobDuration != nil && elapsed > 0 {
		m.jobDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// summarize turns a pipeline error into the human-readable form stored on
// the record. Raw engine detail stays in the logs.
func summarize(err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "conversion cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("synthesis timed out after %s", timeout)
	case errors.Is(err, synth.ErrModelUnavailable):
		return "voice model download failed"
	case errors.Is(err, synth.ErrSynthesis):
		return "speech synthesis failed"
	default:
		return "conversion failed"
	}
}
