package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/voxa-labs/voxa/pkg/backend"
	"github.com/voxa-labs/voxa/pkg/errorsx"
	"github.com/voxa-labs/voxa/pkg/events"
	"github.com/voxa-labs/voxa/pkg/redact"
)

// turnInput is the executor's immutable snapshot of one utterance.
// Either audio (to be transcribed first) or text (skips transcription).
type turnInput struct {
	audio []byte
	text  string
}

// turnExecutor runs one utterance-to-response cycle as a cancellable
// unit of work. Every externally visible effect (a queue push) happens
// only immediately after a cancellation check, so a cancelled executor
// never emits again; closing done is the acknowledgement the session
// loop blocks on.
type turnExecutor struct {
	sess   *Session
	in     turnInput
	seq    int
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newTurn(s *Session, in turnInput, seq int) *turnExecutor {
	ctx, cancel := context.WithCancel(s.ctx)
	return &turnExecutor{
		sess:   s,
		in:     in,
		seq:    seq,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (t *turnExecutor) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *turnExecutor) run() {
	defer close(t.done)
	s := t.sess

	if !t.emitState(StateThinking) {
		return
	}

	text := t.in.text
	if text == "" {
		transcript, err := s.stt.TranscribeChunk(t.ctx, t.in.audio)
		if t.cancelled() {
			return
		}
		if err == nil && strings.TrimSpace(transcript) == "" {
			err = errors.New("transcription returned empty text")
		}
		if err != nil {
			t.fail(errorsx.Wrap(err, errorsx.ReasonTranscribe))
			return
		}
		s.logger.Info("transcript", slog.Int("turn", t.seq), slog.String("text", redact.Text(transcript)))
		if !t.emit(events.NewTranscript(transcript, true)) {
			return
		}
		text = transcript
	}

	// The backend dispatch is the turn's longest suspension point and
	// the primary place cancellation must land before synthesis starts.
	res, err := s.backend.Dispatch(t.ctx, text, backend.SessionContext{SessionID: s.id, Turn: t.seq})
	if t.cancelled() {
		return
	}
	if err != nil {
		t.fail(errorsx.Wrap(err, errorsx.ReasonDispatch))
		return
	}
	if !t.emit(events.NewText(res.Text)) {
		return
	}

	if !t.emitState(StateSpeaking) {
		return
	}

	textCh := make(chan string, 1)
	textCh <- res.Text
	close(textCh)
	audioCh, err := s.tts.SynthesizeStream(t.ctx, textCh)
	if t.cancelled() {
		return
	}
	if err != nil {
		t.fail(errorsx.Wrap(err, errorsx.ReasonSynthesize))
		return
	}
	chunks := 0
	for chunk := range audioCh {
		if !t.emit(events.NewAudio(chunk)) {
			return
		}
		chunks++
	}
	if t.cancelled() {
		return
	}

	if !t.emitState(StateIdle) {
		return
	}
	s.record("turn_done", map[string]any{"turn": t.seq, "audio_chunks": chunks})
}

func (t *turnExecutor) cancelled() bool { return t.ctx.Err() != nil }

func (t *turnExecutor) emit(ev events.Event) bool {
	if t.cancelled() {
		return false
	}
	t.sess.out.Push(ev)
	return true
}

func (t *turnExecutor) emitState(st State) bool {
	if t.cancelled() {
		return false
	}
	s := t.sess
	if st == StateThinking && s.sm.State() == StateIdle {
		// Text turns start from Idle; pass through Listening so the
		// transition table holds.
		_ = s.sm.Transition(StateListening, "turn_start")
	}
	if err := s.sm.Transition(st, "turn"); err != nil {
		s.logger.Warn("state_transition_rejected", slog.String("error", err.Error()))
	}
	s.out.Push(events.NewState(st.String()))
	return true
}

// fail reports a turn-scoped failure: one error event, back to Idle,
// and the session keeps accepting input.
func (t *turnExecutor) fail(err error) {
	if t.cancelled() {
		return
	}
	s := t.sess
	s.logger.Error("turn_failed",
		slog.Int("turn", t.seq),
		slog.String("reason", string(errorsx.Reason(err))),
		slog.String("error", err.Error()))
	s.out.Push(events.NewError(err.Error()))
	s.sm.ForceIdle("turn_error")
	s.out.Push(events.NewState(StateIdle.String()))
	s.record("turn_error", map[string]any{"turn": t.seq, "reason": string(errorsx.Reason(err))})
}
