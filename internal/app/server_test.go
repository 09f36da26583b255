package app_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voicebridge/internal/app"
	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/internal/transport"
	audiomock "github.com/MrWong99/voicebridge/pkg/audio/mock"
)

func serverConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.RestartDelay = 10 * time.Millisecond
	return cfg
}

// startServer runs s until the test ends and returns its bound address.
func startServer(t *testing.T, s *app.Server) (string, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server never started listening")
	}
	return s.Addr(), done
}

func TestServer_RoundTripAndSideChannels(t *testing.T) {
	t.Parallel()
	dev := &audiomock.Device{}
	s, err := app.NewServer(serverConfig(), app.WithDevice(dev), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	addr, _ := startServer(t, s)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	conn, err := (&transport.WebSocketDialer{}).Dial(ctx, "ws://"+addr+"/")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, make([]byte, 2048)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reply, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(reply) != 44100 {
		t.Errorf("reply length = %d, want 44100", len(reply))
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get("http://" + addr + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestServer_StopReleasesSessions(t *testing.T) {
	t.Parallel()
	dev := &audiomock.Device{}
	s, err := app.NewServer(serverConfig(), app.WithDevice(dev), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-s.Ready()

	conn, err := (&transport.WebSocketDialer{}).Dial(t.Context(), "ws://"+s.Addr()+"/")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()
	eventually(t, "session", func() bool { return s.Handler().ActiveSessions() == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	if s.Handler().ActiveSessions() != 0 {
		t.Error("sessions still active after Run returned")
	}
	if !dev.LastOutput().Closed() {
		t.Error("session playback not released")
	}
	if s.Handler().Accepting() {
		t.Error("handler still accepting after shutdown")
	}
}

func TestServer_RestartsAfterListenFailure(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	listen := func(network, address string) (net.Listener, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("address already in use")
		}
		return net.Listen(network, address)
	}
	s, err := app.NewServer(serverConfig(),
		app.WithDevice(&audiomock.Device{}),
		app.WithListen(listen),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	startServer(t, s)
	if got := attempts.Load(); got != 3 {
		t.Errorf("listen attempts = %d, want 3", got)
	}
}

func TestNewServer_Validation(t *testing.T) {
	t.Parallel()
	if _, err := app.NewServer(serverConfig()); err == nil {
		t.Error("server without audio device accepted")
	}
	cfg := serverConfig()
	cfg.Server.ReplyMode = "sometimes"
	if _, err := app.NewServer(cfg, app.WithDevice(&audiomock.Device{})); err == nil {
		t.Error("unknown reply mode accepted")
	}
}
