package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/voxa-labs/voxa/pkg/adapters/stt"
)

type STTConfig struct {
	// Transcript overrides the default deterministic transcript.
	Transcript string
	// Delay simulates provider latency per call.
	Delay time.Duration
	// Err, when set, makes every call fail.
	Err error
}

// Transcriber is a local deterministic STT adapter for demos and tests.
type Transcriber struct {
	cfg STTConfig
}

func NewSTT(cfg STTConfig) *Transcriber {
	return &Transcriber{cfg: cfg}
}

func (m *Transcriber) Name() string { return "mock_stt" }

func (m *Transcriber) TranscribeChunk(ctx context.Context, audio []byte) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if m.cfg.Err != nil {
		return "", m.cfg.Err
	}
	return m.transcript(audio), nil
}

func (m *Transcriber) TranscribeStream(ctx context.Context, audio <-chan []byte) (<-chan string, error) {
	if m.cfg.Err != nil {
		return nil, m.cfg.Err
	}
	out := make(chan string, 16)
	go func() {
		defer close(out)
		for chunk := range audio {
			if m.wait(ctx) != nil {
				return
			}
			if len(chunk) == 0 {
				continue
			}
			select {
			case out <- m.transcript(chunk):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *Transcriber) transcript(audio []byte) string {
	if m.cfg.Transcript != "" {
		return m.cfg.Transcript
	}
	return fmt.Sprintf("mock transcript (%d bytes)", len(audio))
}

func (m *Transcriber) wait(ctx context.Context) error {
	if m.cfg.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.cfg.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ stt.Transcriber = (*Transcriber)(nil)
