package backend

import "context"

// SessionContext carries the session-scoped information a dispatcher
// may use to route or contextualize an utterance.
type SessionContext struct {
	SessionID string
	Turn      int
}

// Result is the structured payload a backend returns for one utterance.
// Text is the natural-language summary spoken back to the user.
type Result struct {
	Text    string
	Payload map[string]any
}

// Dispatcher is the boundary to the external task-processing backend.
// A single call per turn; errors are surfaced to the client as error
// events and abort only the current turn, never the session.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, text string, sctx SessionContext) (Result, error)
}
