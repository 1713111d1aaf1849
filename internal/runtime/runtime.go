// Package runtime wires the conversion service together and owns its
// startup and shutdown order.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkeyran/md-tts/internal/bus"
	"github.com/mkeyran/md-tts/internal/config"
	"github.com/mkeyran/md-tts/internal/history"
	"github.com/mkeyran/md-tts/internal/jobs"
	"github.com/mkeyran/md-tts/internal/natsserver"
	"github.com/mkeyran/md-tts/internal/server"
	"github.com/mkeyran/md-tts/internal/storage"
	"github.com/mkeyran/md-tts/internal/synth"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up telemetry, the message bus, the stores, the synthesizer
// and the HTTP surface, then blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		defer embedded.Shutdown()

		busCfg := r.cfg.Bus
		if embedded != nil {
			// The client must dial the server this process just started,
			// not whatever external servers the config lists.
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err = bus.Connect(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		defer busClient.Close()
	}

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			r.logger.Error("history close error", slog.String("error", err.Error()))
		}
	}()

	files, err := storage.New(r.cfg.Storage.AudioDir, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open audio storage: %w", err)
	}

	synthesizer, err := r.buildSynthesizer()
	if err != nil {
		return fmt.Errorf("failed to build synthesizer: %w", err)
	}

	synthTimeout := time.Duration(r.cfg.Synth.Timeout) * time.Second
	manager := jobs.NewManager(r.cfg.Jobs, synthTimeout, store, files, synthesizer, busClient, r.logger)
	defer manager.Close()

	r.startCleanup(ctx, manager)

	srv := server.New(manager, r.ready.Load, metricsHandler, r.logger)
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("synth_mode", r.cfg.Synth.Mode),
		slog.Bool("bus", r.cfg.Bus.Enabled))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildSynthesizer() (synth.Synthesizer, error) {
	switch r.cfg.Synth.Mode {
	case "mock":
		return synth.NewMock(r.cfg.Synth.SampleRate, r.cfg.Synth.Channels), nil
	case "exec":
		fetcher, err := synth.NewFetcher(
			r.cfg.Synth.ModelsDir,
			time.Duration(r.cfg.Synth.DownloadTimeout)*time.Second,
			r.logger,
		)
		if err != nil {
			return nil, err
		}
		return synth.NewEngine(r.cfg.Synth, fetcher, r.logger)
	default:
		return nil, fmt.Errorf("unknown synth mode %q", r.cfg.Synth.Mode)
	}
}

// startCleanup prunes old history rows and expired audio files on a timer.
func (r *Runtime) startCleanup(ctx context.Context, manager *jobs.Manager) {
	interval := time.Duration(r.cfg.Jobs.CleanupIntervalMin) * time.Minute
	if interval <= 0 {
		return
	}
	maxFileAge := time.Duration(r.cfg.Storage.MaxAgeDays) * 24 * time.Hour

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				manager.Cleanup(ctx, maxFileAge)
			}
		}
	}()
}
