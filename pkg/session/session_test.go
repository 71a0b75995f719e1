package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxa-labs/voxa/pkg/backend"
	"github.com/voxa-labs/voxa/pkg/events"
	"github.com/voxa-labs/voxa/pkg/providers/mock"
)

func newTestSession(t *testing.T, sttCfg mock.STTConfig, ttsCfg mock.TTSConfig, beCfg mock.BackendConfig) *Session {
	t.Helper()
	s := New(context.Background(), "test-session",
		mock.NewSTT(sttCfg),
		mock.NewTTS(ttsCfg),
		mock.NewBackend(beCfg),
		Config{})
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func nextEvent(t *testing.T, s *Session, timeout time.Duration) (events.Event, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.NextOutput(ctx)
}

// collectTurn drains output until a terminal event (state:idle or error)
// or the timeout elapses.
func collectTurn(t *testing.T, s *Session, timeout time.Duration) []events.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var out []events.Event
	for time.Now().Before(deadline) {
		ev, ok := nextEvent(t, s, time.Until(deadline))
		if !ok {
			break
		}
		out = append(out, ev)
		if ev.Type == events.TypeState && ev.State == "idle" {
			break
		}
		if ev.Type == events.TypeError {
			break
		}
	}
	return out
}

func waitForState(t *testing.T, s *Session, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state %s not reached within %s, still %s", want, timeout, s.State())
}

func TestCompletedTurnOrdering(t *testing.T) {
	s := newTestSession(t, mock.STTConfig{}, mock.TTSConfig{}, mock.BackendConfig{})

	s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 1500)})

	got := collectTurn(t, s, 2*time.Second)
	if len(got) < 5 {
		t.Fatalf("expected a full turn, got %d events: %+v", len(got), got)
	}
	if got[0].Type != events.TypeState || got[0].State != "thinking" {
		t.Fatalf("expected state:thinking first, got %+v", got[0])
	}
	if got[1].Type != events.TypeTranscript || got[1].Text == "" || !got[1].IsFinal {
		t.Fatalf("expected final non-empty transcript, got %+v", got[1])
	}
	if got[2].Type != events.TypeText || got[2].Text == "" {
		t.Fatalf("expected backend text, got %+v", got[2])
	}
	if got[3].Type != events.TypeState || got[3].State != "speaking" {
		t.Fatalf("expected state:speaking, got %+v", got[3])
	}
	audio := 0
	for _, ev := range got[4 : len(got)-1] {
		if ev.Type != events.TypeAudio {
			t.Fatalf("expected only audio between speaking and idle, got %+v", ev)
		}
		audio++
	}
	if audio < 1 {
		t.Fatalf("expected at least one audio event")
	}
	last := got[len(got)-1]
	if last.Type != events.TypeState || last.State != "idle" {
		t.Fatalf("expected state:idle last, got %+v", last)
	}
}

func TestBargeInDropsStaleAudio(t *testing.T) {
	// Slow, chunky TTS so the first turn is still speaking when the
	// interrupting chunk lands, with audio queued but undelivered.
	s := newTestSession(t,
		mock.STTConfig{},
		mock.TTSConfig{ChunkSize: 4, Delay: 10 * time.Millisecond},
		mock.BackendConfig{})

	s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 1500)})
	waitForState(t, s, StateSpeaking, 2*time.Second)
	// Let a few audio chunks queue up undelivered.
	time.Sleep(50 * time.Millisecond)

	s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 150)})
	waitForState(t, s, StateIdle, 2*time.Second)

	ev, ok := nextEvent(t, s, time.Second)
	if !ok {
		t.Fatalf("expected an event after barge-in")
	}
	if ev.Type != events.TypeControl || ev.Action != events.ActionStopAudio {
		t.Fatalf("expected control:stop_audio as the first delivered event, got %+v", ev)
	}
	// No further events from the interrupted turn may surface.
	if extra, ok := nextEvent(t, s, 100*time.Millisecond); ok {
		t.Fatalf("expected silence after stop_audio, got %+v", extra)
	}
}

func TestNoiseChunkDoesNotInterrupt(t *testing.T) {
	s := newTestSession(t,
		mock.STTConfig{},
		mock.TTSConfig{ChunkSize: 4, Delay: 10 * time.Millisecond},
		mock.BackendConfig{})

	s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 1500)})
	waitForState(t, s, StateSpeaking, 2*time.Second)

	// Below the barge-in minimum: treated as noise.
	s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 50)})

	got := collectTurn(t, s, 2*time.Second)
	for _, ev := range got {
		if ev.Type == events.TypeControl {
			t.Fatalf("noise chunk must not trigger stop_audio, got %+v", ev)
		}
	}
	last := got[len(got)-1]
	if last.Type != events.TypeState || last.State != "idle" {
		t.Fatalf("expected the turn to complete naturally, got %+v", last)
	}
}

func TestExplicitInterruptControl(t *testing.T) {
	s := newTestSession(t,
		mock.STTConfig{},
		mock.TTSConfig{ChunkSize: 4, Delay: 10 * time.Millisecond},
		mock.BackendConfig{})

	s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 1500)})
	waitForState(t, s, StateSpeaking, 2*time.Second)

	s.AddInput(Input{Kind: InputInterrupt})
	waitForState(t, s, StateIdle, 2*time.Second)

	ev, ok := nextEvent(t, s, time.Second)
	if !ok || ev.Type != events.TypeControl || ev.Action != events.ActionStopAudio {
		t.Fatalf("expected control:stop_audio, got %+v (ok=%v)", ev, ok)
	}
}

type flakyTranscriber struct {
	calls atomic.Int32
}

func (f *flakyTranscriber) Name() string { return "flaky_stt" }

func (f *flakyTranscriber) TranscribeChunk(ctx context.Context, audio []byte) (string, error) {
	if f.calls.Add(1) == 1 {
		return "", errors.New("stt unavailable")
	}
	return "recovered utterance", nil
}

func (f *flakyTranscriber) TranscribeStream(ctx context.Context, audio <-chan []byte) (<-chan string, error) {
	out := make(chan string)
	close(out)
	return out, nil
}

func TestAdapterFailureAbortsOnlyTheTurn(t *testing.T) {
	s := New(context.Background(), "flaky-session",
		&flakyTranscriber{},
		mock.NewTTS(mock.TTSConfig{}),
		mock.NewBackend(mock.BackendConfig{}),
		Config{})
	s.Start()
	t.Cleanup(s.Stop)

	s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 1500)})

	got := collectTurn(t, s, 2*time.Second)
	errs := 0
	for _, ev := range got {
		if ev.Type == events.TypeError {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("expected exactly one error event, got %d in %+v", errs, got)
	}
	waitForState(t, s, StateIdle, time.Second)

	// An idle event must follow the error so the client resets.
	ev, ok := nextEvent(t, s, time.Second)
	if !ok || ev.Type != events.TypeState || ev.State != "idle" {
		t.Fatalf("expected state:idle after error, got %+v (ok=%v)", ev, ok)
	}

	// The session stays usable for the next utterance.
	s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 1500)})
	got = collectTurn(t, s, 2*time.Second)
	found := false
	for _, ev := range got {
		if ev.Type == events.TypeTranscript && ev.Text == "recovered utterance" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a successful turn after the failure, got %+v", got)
	}
}

func TestBackendFailureSurfacesAsError(t *testing.T) {
	s := newTestSession(t, mock.STTConfig{}, mock.TTSConfig{},
		mock.BackendConfig{Err: errors.New("dispatch exploded")})

	s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 1500)})

	got := collectTurn(t, s, 2*time.Second)
	found := false
	for _, ev := range got {
		if ev.Type == events.TypeError {
			found = true
		}
		if ev.Type == events.TypeAudio {
			t.Fatalf("no audio may follow a backend failure, got %+v", got)
		}
	}
	if !found {
		t.Fatalf("expected an error event, got %+v", got)
	}
}

func TestTextInputSkipsTranscription(t *testing.T) {
	s := newTestSession(t, mock.STTConfig{}, mock.TTSConfig{}, mock.BackendConfig{})

	s.AddInput(Input{Kind: InputText, Text: "what is the weather"})

	got := collectTurn(t, s, 2*time.Second)
	for _, ev := range got {
		if ev.Type == events.TypeTranscript {
			t.Fatalf("text input must not produce a transcript event, got %+v", got)
		}
	}
	foundText := false
	for _, ev := range got {
		if ev.Type == events.TypeText && ev.Text == "You said: what is the weather" {
			foundText = true
		}
	}
	if !foundText {
		t.Fatalf("expected backend reply for text input, got %+v", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := newTestSession(t, mock.STTConfig{}, mock.TTSConfig{}, mock.BackendConfig{})

	s.AddInput(Input{Kind: InputStop})
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("session did not stop")
	}

	// Stopping again, through either path, must be harmless.
	s.AddInput(Input{Kind: InputStop})
	s.Stop()
	s.Stop()
	s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 1500)})

	if _, ok := nextEvent(t, s, 50*time.Millisecond); ok {
		t.Fatalf("no events expected after stop")
	}
}

type turnGauge struct {
	mu     sync.Mutex
	active int
	max    int
}

func (g *turnGauge) enter() {
	g.mu.Lock()
	g.active++
	if g.active > g.max {
		g.max = g.active
	}
	g.mu.Unlock()
}

func (g *turnGauge) exit() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
}

func (g *turnGauge) peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

type gaugedBackend struct {
	g     *turnGauge
	delay time.Duration
}

func (b *gaugedBackend) Name() string { return "gauged_backend" }

func (b *gaugedBackend) Dispatch(ctx context.Context, text string, sctx backend.SessionContext) (backend.Result, error) {
	b.g.enter()
	defer b.g.exit()
	select {
	case <-time.After(b.delay):
	case <-ctx.Done():
		return backend.Result{}, ctx.Err()
	}
	return backend.Result{Text: "ok"}, nil
}

func TestAtMostOneActiveTurn(t *testing.T) {
	gauge := &turnGauge{}
	s := New(context.Background(), "stress-session",
		mock.NewSTT(mock.STTConfig{}),
		mock.NewTTS(mock.TTSConfig{ChunkSize: 8, Delay: time.Millisecond}),
		&gaugedBackend{g: gauge, delay: 2 * time.Millisecond},
		Config{})
	s.Start()
	t.Cleanup(s.Stop)

	// Drain output continuously so the queue never becomes the gate.
	drainCtx, drainCancel := context.WithCancel(context.Background())
	defer drainCancel()
	go func() {
		for {
			if _, ok := s.NextOutput(drainCtx); !ok {
				return
			}
		}
	}()

	// Every oversized chunk crosses the utterance boundary and forces
	// a new turn while the previous one may still be running.
	for i := 0; i < 50; i++ {
		s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 1500)})
		time.Sleep(time.Millisecond)
	}
	s.AddInput(Input{Kind: InputStop})
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not stop after stress")
	}

	if peak := gauge.peak(); peak > 1 {
		t.Fatalf("expected at most one active turn, observed %d concurrent dispatches", peak)
	}
}

func TestSessionsRunConcurrently(t *testing.T) {
	const delay = 200 * time.Millisecond
	reg := NewRegistry(func(ctx context.Context, id string) (*Session, error) {
		return New(ctx, id,
			mock.NewSTT(mock.STTConfig{}),
			mock.NewTTS(mock.TTSConfig{}),
			mock.NewBackend(mock.BackendConfig{Delay: delay}),
			Config{}), nil
	})
	t.Cleanup(reg.CloseAll)

	a, err := reg.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := reg.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, s := range []*Session{a, b} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.AddInput(Input{Kind: InputAudio, Audio: make([]byte, 1500)})
			collectTurn(t, s, 3*time.Second)
		}(s)
	}
	wg.Wait()

	// Wall clock should track the slower session, not the sum.
	if elapsed := time.Since(start); elapsed > 2*delay-50*time.Millisecond {
		t.Fatalf("sessions appear serialized: %s elapsed for two %s turns", elapsed, delay)
	}
}
