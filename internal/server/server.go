// Package server exposes the conversion pipeline over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mkeyran/md-tts/internal/history"
	"github.com/mkeyran/md-tts/internal/jobs"
	"github.com/mkeyran/md-tts/internal/voice"
)

const (
	apiVersion      = "0.1.0"
	defaultLimit    = 50
	maxLimit        = 100
	maxRequestBytes = 4 << 20
)

type Server struct {
	manager *jobs.Manager
	log     *slog.Logger
	ready   func() bool
	metrics http.Handler
}

func New(manager *jobs.Manager, ready func() bool, metrics http.Handler, log *slog.Logger) *Server {
	return &Server{
		manager: manager,
		log:     log.With(slog.String("component", "http-server")),
		ready:   ready,
		metrics: metrics,
	}
}

// Routes builds the request mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api", s.handleAPIInfo)
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("POST /convert", s.handleConvert)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("GET /download/{id}", s.handleDownload)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("DELETE /history/{id}", s.handleHistoryDelete)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

type convertRequest struct {
	MarkdownText string `json:"markdown_text"`
	Title        string `json:"title,omitempty"`
	VoiceID      string `json:"voice_id,omitempty"`
}

type convertResponse struct {
	ConversionID string `json:"conversion_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	DownloadURL  string `json:"download_url,omitempty"`
}

type statusResponse struct {
	ConversionID string `json:"conversion_id"`
	Status       string `json:"status"`
	FileSize     int64  `json:"file_size,omitempty"`
	DownloadURL  string `json:"download_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

type historyItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	TextPreview string    `json:"text_preview"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
	FileSize    int64     `json:"file_size,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
}

type historyResponse struct {
	Items []historyItem `json:"items"`
}

type voicesResponse struct {
	Voices       []voice.Voice `json:"voices"`
	DefaultVoice string        `json:"default_voice"`
}

func (s *Server) handleAPIInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Markdown TTS Converter API",
		"version": apiVersion,
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, voicesResponse{
		Voices:       voice.List(),
		DefaultVoice: voice.DefaultVoiceID,
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.manager.Submit(r.Context(), jobs.SubmitRequest{
		MarkdownText: req.MarkdownText,
		Title:        req.Title,
		VoiceID:      req.VoiceID,
	})
	switch {
	case errors.Is(err, jobs.ErrEmptyInput):
		writeError(w, http.StatusUnprocessableEntity, "no text found in markdown")
		return
	case errors.Is(err, voice.ErrUnknownVoice):
		writeError(w, http.StatusUnprocessableEntity, "unknown voice id: "+req.VoiceID)
		return
	case err != nil:
		s.log.Error("convert failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "conversion failed")
		return
	}

	resp := convertResponse{
		ConversionID: rec.ID,
		Status:       string(rec.Status),
		Message:      messageFor(rec),
	}
	if rec.Status == history.StatusCompleted {
		resp.DownloadURL = "/download/" + rec.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func messageFor(rec history.Record) string {
	switch rec.Status {
	case history.StatusCompleted:
		return "Conversion successful"
	case history.StatusFailed:
		return rec.Error
	default:
		return "Conversion in progress"
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.manager.Status(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversion not found")
		return
	}
	if err != nil {
		s.log.Error("status lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "status check failed")
		return
	}

	resp := statusResponse{
		ConversionID: rec.ID,
		Status:       string(rec.Status),
		FileSize:     rec.FileSize,
		Error:        rec.Error,
	}
	if rec.Status == history.StatusCompleted {
		resp.DownloadURL = "/download/" + rec.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stream, size, contentType, err := s.manager.Audio(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) || errors.Is(err, jobs.ErrNotReady) {
		writeError(w, http.StatusNotFound, "audio file not found")
		return
	}
	if err != nil {
		s.log.Error("download failed", slog.String("conversion_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "download failed")
		return
	}
	defer stream.Close()

	ext := ".wav"
	if contentType == "audio/mpeg" {
		ext = ".mp3"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+ext+`"`)
	if _, err := io.Copy(w, stream); err != nil {
		s.log.Warn("audio stream interrupted", slog.String("conversion_id", id), slog.String("error", err.Error()))
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := queryInt(r, "offset", 0)

	summaries, err := s.manager.List(r.Context(), limit, offset)
	if err != nil {
		s.log.Error("history listing failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve history")
		return
	}

	items := make([]historyItem, 0, len(summaries))
	for _, sum := range summaries {
		items = append(items, historyItem{
			ID:          sum.ID,
			Title:       sum.Title,
			TextPreview: sum.TextPreview,
			CreatedAt:   sum.CreatedAt,
			Status:      string(sum.Status),
			FileSize:    sum.FileSize,
			DownloadURL: sum.DownloadURL,
		})
	}
	writeJSON(w, http.StatusOK, historyResponse{Items: items})
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.manager.Delete(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversion not found")
		return
	}
	if err != nil {
		s.log.Error("delete failed", slog.String("conversion_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to delete conversion")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversion deleted successfully"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready == nil || s.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
