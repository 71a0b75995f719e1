package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxa-labs/voxa/pkg/providers/mock"
)

func mockFactory(ctx context.Context, id string) (*Session, error) {
	return New(ctx, id,
		mock.NewSTT(mock.STTConfig{}),
		mock.NewTTS(mock.TTSConfig{}),
		mock.NewBackend(mock.BackendConfig{}),
		Config{}), nil
}

func TestRegistryCreateGetRemove(t *testing.T) {
	reg := NewRegistry(mockFactory)
	t.Cleanup(reg.CloseAll)

	sess, err := reg.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID() == "" {
		t.Fatalf("expected a generated session id")
	}
	if reg.Count() != 1 {
		t.Fatalf("count = %d, want 1", reg.Count())
	}

	got, ok := reg.Get(sess.ID())
	if !ok || got != sess {
		t.Fatalf("lookup returned %v ok=%v", got, ok)
	}
	if _, ok := reg.Get("no-such-id"); ok {
		t.Fatalf("unknown id must not resolve")
	}

	reg.Remove(sess.ID())
	if reg.Count() != 0 {
		t.Fatalf("count after remove = %d, want 0", reg.Count())
	}
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatalf("remove did not stop the session")
	}

	// Removing twice is harmless.
	reg.Remove(sess.ID())
	if reg.Count() != 0 {
		t.Fatalf("count went negative: %d", reg.Count())
	}
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("no adapters configured")
	reg := NewRegistry(func(ctx context.Context, id string) (*Session, error) {
		return nil, boom
	})
	if _, err := reg.Create(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("failed create must not be counted")
	}
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewRegistry(mockFactory)
	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := reg.Create(context.Background())
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		sessions = append(sessions, s)
	}

	reg.CloseAll()
	if reg.Count() != 0 {
		t.Fatalf("count after CloseAll = %d", reg.Count())
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Fatalf("session %s not stopped", s.ID())
		}
	}
}

func TestRegistryDraining(t *testing.T) {
	reg := NewRegistry(mockFactory)
	t.Cleanup(reg.CloseAll)

	sess, err := reg.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	reg.SetDraining(true)
	if !reg.Draining() {
		t.Fatalf("draining flag not set")
	}
	if _, err := reg.Create(context.Background()); err == nil {
		t.Fatalf("create must fail while draining")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if reg.WaitForEmpty(ctx, 10*time.Millisecond) {
		t.Fatalf("WaitForEmpty must time out while a session remains")
	}

	reg.Remove(sess.ID())
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if !reg.WaitForEmpty(ctx2, 10*time.Millisecond) {
		t.Fatalf("WaitForEmpty must succeed once empty")
	}
}
