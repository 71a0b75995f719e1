package transports

import "context"

// Transport binds a network surface to the session registry.
// Implementations own their network lifecycle; sessions are created on
// connect and removed on disconnect.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// OutboundDialer allows transports to initiate outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// ReadyReporter allows transports to expose readiness metadata (e.g.,
// webhook URLs) for informational logging.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
