package mock

import (
	"context"
	"time"

	"github.com/voxa-labs/voxa/pkg/backend"
)

type BackendConfig struct {
	// ResponseText overrides the default echo reply.
	ResponseText string
	// Delay simulates backend processing latency.
	Delay time.Duration
	// Err, when set, makes every dispatch fail.
	Err error
}

// Backend is a deterministic dispatcher that echoes the utterance,
// standing in for the external task-processing system.
type Backend struct {
	cfg BackendConfig
}

func NewBackend(cfg BackendConfig) *Backend {
	return &Backend{cfg: cfg}
}

func (m *Backend) Name() string { return "mock_backend" }

func (m *Backend) Dispatch(ctx context.Context, text string, sctx backend.SessionContext) (backend.Result, error) {
	if m.cfg.Delay > 0 {
		select {
		case <-time.After(m.cfg.Delay):
		case <-ctx.Done():
			return backend.Result{}, ctx.Err()
		}
	}
	if m.cfg.Err != nil {
		return backend.Result{}, m.cfg.Err
	}
	reply := m.cfg.ResponseText
	if reply == "" {
		reply = "You said: " + text
	}
	return backend.Result{
		Text: reply,
		Payload: map[string]any{
			"echo": text,
			"turn": sctx.Turn,
		},
	}, nil
}

var _ backend.Dispatcher = (*Backend)(nil)
