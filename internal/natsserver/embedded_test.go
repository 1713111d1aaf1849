package natsserver

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mkeyran/md-tts/internal/bus"
	"github.com/mkeyran/md-tts/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv != nil {
		t.Fatal("non-embedded config must not start a server")
	}
	srv.Shutdown()
	if url := srv.ClientURL(); url != "" {
		t.Fatalf("nil server must report no URL, got %q", url)
	}
}

func TestClientURLReachesEmbeddedServer(t *testing.T) {
	// Port -1 picks an ephemeral port, so the URL the config implies and
	// the one the server actually listens on differ.
	cfg := config.BusConfig{Embedded: true, Port: -1, ConnectTimeout: 2000}
	srv, err := Start(cfg, testLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	defer srv.Shutdown()

	url := srv.ClientURL()
	if !strings.HasPrefix(url, "nats://127.0.0.1:") {
		t.Fatalf("unexpected client URL %q", url)
	}

	cfg.Servers = []string{url}
	client, err := bus.Connect(cfg, testLogger())
	if err != nil {
		t.Fatalf("connect via ClientURL: %v", err)
	}
	defer client.Close()
	if !client.Healthy() {
		t.Fatal("client not connected")
	}
}
