package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionFactory builds a Session for a freshly allocated identifier.
// The registry starts the session's processing loop after a successful
// build.
type SessionFactory func(ctx context.Context, sessionID string) (*Session, error)

// Registry creates, tracks, and discards Sessions. It holds nothing but
// the id-to-session mapping and the factory; insert and remove are
// atomic with respect to concurrent lookups.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  SessionFactory
	draining atomic.Bool
}

func NewRegistry(factory SessionFactory) *Registry {
	return &Registry{factory: factory}
}

// Create allocates an identifier, builds the Session, starts its
// processing loop, and registers it.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	if r.draining.Load() {
		return nil, errors.New("registry is draining")
	}
	id := uuid.NewString()
	sess, err := r.factory(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Start()
	r.sessions.Store(id, sess)
	r.count.Add(1)
	slog.Info("session_created", "session_id", id)
	return sess, nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Session), true
	}
	return nil, false
}

// Remove tears the session down and drops it from the table. Removing
// an unknown or already-removed id is a no-op.
func (r *Registry) Remove(id string) {
	if v, ok := r.sessions.LoadAndDelete(id); ok {
		sess := v.(*Session)
		sess.Stop()
		r.count.Add(-1)
		slog.Info("session_removed", "session_id", id)
	}
}

func (r *Registry) CloseAll() {
	r.sessions.Range(func(key, value any) bool {
		if id, ok := key.(string); ok {
			r.Remove(id)
		}
		return true
	})
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
