package session

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/voxa-labs/voxa/pkg/adapters/stt"
	"github.com/voxa-labs/voxa/pkg/adapters/tts"
	"github.com/voxa-labs/voxa/pkg/backend"
	"github.com/voxa-labs/voxa/pkg/events"
	"github.com/voxa-labs/voxa/pkg/logging"
	"github.com/voxa-labs/voxa/pkg/metrics"
	"github.com/voxa-labs/voxa/pkg/redact"
)

// Config tunes the utterance-boundary and barge-in policies. The byte
// watermark stands in for voice-activity detection and is deliberately
// swappable through configuration.
type Config struct {
	// UtteranceThresholdBytes is the buffered-audio watermark that
	// marks an utterance boundary.
	UtteranceThresholdBytes int
	// BargeInMinBytes is the minimum chunk size that counts as genuine
	// speech, rather than noise, while the agent is speaking.
	BargeInMinBytes int
}

func (c Config) withDefaults() Config {
	if c.UtteranceThresholdBytes <= 0 {
		c.UtteranceThresholdBytes = 1000
	}
	if c.BargeInMinBytes <= 0 {
		c.BargeInMinBytes = 100
	}
	return c
}

// InputKind discriminates inbound session events.
type InputKind int

const (
	InputAudio InputKind = iota
	InputText
	InputInterrupt
	InputStop
)

// Input is one inbound event on the session's input queue.
type Input struct {
	Kind  InputKind
	Audio []byte
	Text  string
}

// Session owns one client's conversational state machine, input
// buffering, turn execution, and barge-in handling. A single processing
// loop consumes the input queue; the audio buffer and the active-turn
// handle are owned exclusively by that loop.
type Session struct {
	id      string
	stt     stt.Transcriber
	tts     tts.Synthesizer
	backend backend.Dispatcher
	cfg     Config

	in  *queue[Input]
	out *queue[events.Event]
	sm  *stateMachine

	// Loop-owned. Never touched outside the processing goroutine.
	active *turnExecutor
	buf    bytes.Buffer
	turns  int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	obs    metrics.Observer
	logger *slog.Logger
}

// New constructs a Session. Start must be called before input is
// processed; the registry does both.
func New(ctx context.Context, id string, transcriber stt.Transcriber, synthesizer tts.Synthesizer, dispatcher backend.Dispatcher, cfg Config) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:      id,
		stt:     transcriber,
		tts:     synthesizer,
		backend: dispatcher,
		cfg:     cfg.withDefaults(),
		in:      newQueue[Input](),
		out:     newQueue[events.Event](),
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		obs:     metrics.NoopObserver{},
		logger:  logging.NewComponentLogger(slog.Default(), "session").With(slog.String("session_id", id)),
	}
	s.sm = newStateMachine(func(from, to State, reason string) {
		s.logger.Debug("state_change",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("reason", reason))
	})
	return s
}

// SetObserver configures metrics recording. Call before Start.
func (s *Session) SetObserver(obs metrics.Observer) {
	if obs != nil {
		s.obs = obs
	}
}

// Start launches the processing loop.
func (s *Session) Start() {
	go s.run()
}

func (s *Session) ID() string { return s.id }

// State returns the current conversational state.
func (s *Session) State() State { return s.sm.State() }

// AddInput enqueues an inbound event. Safe to call after the session
// ended; the event is dropped.
func (s *Session) AddInput(in Input) {
	s.in.Push(in)
}

// NextOutput blocks until the next outbound event is available. The
// second return is false once the session has ended and all queued
// events were delivered.
func (s *Session) NextOutput(ctx context.Context) (events.Event, bool) {
	return s.out.Pop(ctx)
}

// Done is closed when the processing loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop tears the session down immediately: pending input is discarded
// and the in-flight turn is cancelled with the usual discipline.
// Idempotent. An ordered stop (processed after queued input) is an
// Input of kind InputStop instead.
func (s *Session) Stop() {
	s.cancel()
}

func (s *Session) run() {
	defer s.teardown()
	s.logger.Info("session_loop_started")
	for {
		in, ok := s.in.Pop(s.ctx)
		if !ok {
			return
		}
		switch in.Kind {
		case InputStop:
			return
		case InputInterrupt:
			s.interrupt("client_interrupt")
		case InputText:
			s.onText(in.Text)
		case InputAudio:
			s.onAudio(in.Audio)
		}
	}
}

func (s *Session) onAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if s.State() == StateSpeaking {
		// Chunks below the minimum are treated as noise and dropped;
		// anything bigger interrupts the response in progress.
		if len(chunk) > s.cfg.BargeInMinBytes {
			s.interrupt("barge_in")
		}
		return
	}

	s.buf.Write(chunk)
	if s.State() == StateIdle {
		_ = s.sm.Transition(StateListening, "audio_received")
	}

	if s.buf.Len() > s.cfg.UtteranceThresholdBytes {
		// Utterance boundary: take ownership of the accumulated bytes
		// and hand them to a fresh turn. A still-running previous turn
		// is cancelled first; two turns never run concurrently.
		if s.active != nil && !s.active.finished() {
			s.cancelActive()
			s.sm.ForceIdle("superseded")
		}
		audio := make([]byte, s.buf.Len())
		copy(audio, s.buf.Bytes())
		s.buf.Reset()
		s.logger.Info("utterance_detected", slog.Int("bytes", len(audio)))
		s.startTurn(turnInput{audio: audio})
	}
}

func (s *Session) onText(text string) {
	if text == "" {
		return
	}
	if s.active != nil && !s.active.finished() {
		s.interrupt("text_input")
	}
	s.logger.Info("text_input", slog.String("text", redact.Text(text)))
	s.startTurn(turnInput{text: text})
}

// interrupt performs the barge-in sequence: cancel the active turn and
// block for its acknowledgement, atomically drain undelivered output
// and enqueue the stop_audio control, then reset to Idle.
func (s *Session) interrupt(reason string) {
	s.cancelActive()
	stale := s.out.DrainAndPush(events.NewStopAudio(reason))
	s.sm.ForceIdle(reason)
	s.logger.Info("interruption",
		slog.String("reason", reason),
		slog.Int("stale_events", stale))
	s.record("barge_in", map[string]any{"reason": reason, "stale_events": stale})
}

// cancelActive cancels the running turn and waits until the executor
// acknowledges by closing its done channel. The turn emits nothing
// after that point.
func (s *Session) cancelActive() {
	t := s.active
	if t == nil {
		return
	}
	s.active = nil
	t.cancel()
	<-t.done
}

func (s *Session) startTurn(in turnInput) {
	s.turns++
	t := newTurn(s, in, s.turns)
	s.active = t
	s.record("turn_start", map[string]any{"turn": t.seq, "audio_bytes": len(in.audio)})
	go t.run()
}

func (s *Session) teardown() {
	s.cancelActive()
	s.sm.ForceIdle("stop")
	s.in.Close()
	s.out.Close()
	s.cancel()
	close(s.done)
	s.logger.Info("session_closed", slog.Int("turns", s.turns))
}

func (s *Session) record(name string, fields map[string]any) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Tags:   map[string]string{"session_id": s.id},
		Fields: fields,
	})
}
