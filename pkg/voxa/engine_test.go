package voxa

import (
	"context"
	"testing"
	"time"

	"github.com/voxa-labs/voxa/pkg/events"
	"github.com/voxa-labs/voxa/pkg/metrics"
	"github.com/voxa-labs/voxa/pkg/providers/mock"
	"github.com/voxa-labs/voxa/pkg/session"
)

type stubTransport struct {
	started bool
	stopped bool
}

func (s *stubTransport) Name() string                  { return "stub" }
func (s *stubTransport) Start(ctx context.Context) error { s.started = true; return nil }
func (s *stubTransport) Stop() error                   { s.stopped = true; return nil }

func mockConfig() Config {
	return Config{
		Vendors: VendorsConfig{
			STT: VendorConfig{Provider: "mock"},
			TTS: VendorConfig{Provider: "mock"},
		},
		Transports: TransportsConfig{Provider: "ws"},
		LogLevel:   "error",
	}
}

func TestNewEngineRequiresBackend(t *testing.T) {
	if _, err := NewEngine(EngineOptions{Config: mockConfig()}); err == nil {
		t.Fatalf("expected error without backend")
	}
}

func TestNewEngineUnknownTransport(t *testing.T) {
	cfg := mockConfig()
	cfg.Transports.Provider = "carrier-pigeon"
	_, err := NewEngine(EngineOptions{Config: cfg, Backend: mock.NewBackend(mock.BackendConfig{})})
	if err == nil {
		t.Fatalf("expected error for unknown transport provider")
	}
}

func TestEngineRunsTurnsThroughRegistry(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	eng, err := NewEngine(EngineOptions{
		Config:    mockConfig(),
		Backend:   mock.NewBackend(mock.BackendConfig{}),
		Transport: &stubTransport{},
		Observer:  obs,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop() })

	sess, err := eng.Registry().Create(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sess.AddInput(session.Input{Kind: session.InputAudio, Audio: make([]byte, 1500)})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sawIdle := false
	for !sawIdle {
		ev, ok := sess.NextOutput(ctx)
		if !ok {
			t.Fatalf("session output ended before the turn completed")
		}
		if ev.Type == events.TypeError {
			t.Fatalf("unexpected error event: %+v", ev)
		}
		if ev.Type == events.TypeState && ev.State == "idle" {
			sawIdle = true
		}
	}

	// Metrics flow through the async observer; give it a moment.
	deadline := time.Now().Add(time.Second)
	for obs.Count("turn_done") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("turn_done never recorded, events: %+v", obs.Events())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if obs.Count("turn_start") == 0 {
		t.Fatalf("turn_start never recorded")
	}
}

func TestEngineStopDrainsRegistry(t *testing.T) {
	tr := &stubTransport{}
	eng, err := NewEngine(EngineOptions{
		Config:    mockConfig(),
		Backend:   mock.NewBackend(mock.BackendConfig{}),
		Transport: tr,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !tr.started {
		t.Fatalf("transport not started")
	}

	if _, err := eng.Registry().Create(context.Background()); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := eng.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !tr.stopped {
		t.Fatalf("transport not stopped on drain")
	}
	if eng.Registry().Count() != 0 {
		t.Fatalf("registry not drained, count=%d", eng.Registry().Count())
	}
	if _, err := eng.Registry().Create(context.Background()); err == nil {
		t.Fatalf("registry must refuse sessions after drain")
	}
}

func TestDefaultProvidersRequireCredentials(t *testing.T) {
	r := DefaultProviders()
	cfg := mockConfig()

	cfg.Vendors.STT = VendorConfig{Provider: "whisper"}
	if _, err := r.BuildSTT("whisper", cfg); err == nil {
		t.Fatalf("whisper without api key must fail")
	}
	cfg.Vendors.TTS = VendorConfig{Provider: "elevenlabs"}
	if _, err := r.BuildTTS("elevenlabs", cfg); err == nil {
		t.Fatalf("elevenlabs without api key must fail")
	}

	cfg.Vendors.STT.Settings = map[string]any{"api_key": "key"}
	if _, err := r.BuildSTT("whisper", cfg); err != nil {
		t.Fatalf("whisper with api key: %v", err)
	}
	if _, err := r.BuildSTT("MOCK", cfg); err != nil {
		t.Fatalf("provider lookup should be case-insensitive: %v", err)
	}
}
