package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxa-labs/voxa/pkg/errorsx"
	"github.com/voxa-labs/voxa/pkg/events"
	"github.com/voxa-labs/voxa/pkg/logging"
	"github.com/voxa-labs/voxa/pkg/session"
	"github.com/voxa-labs/voxa/pkg/transports"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	Path           string   `mapstructure:"path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.Path == "" {
		c.Path = "/ws/voice"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport serves the JSON event protocol over a websocket. Each
// connection owns exactly one session: created on upgrade, removed on
// disconnect.
type Transport struct {
	cfg      Config
	registry *session.Registry
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	draining atomic.Bool
}

func New(cfg Config, registry *session.Registry) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:      cfg,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns:  make(map[*websocket.Conn]struct{}),
		logger: logging.NewComponentLogger(slog.Default(), "ws_transport"),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) ReadyFields() map[string]any {
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return map[string]any{"websocket_url": "ws://" + addr + t.cfg.Path}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.Path, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	for conn := range t.conns {
		_ = conn.Close()
	}
	t.conns = make(map[*websocket.Conn]struct{})
	t.mu.Unlock()
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	t.track(conn)
	defer t.untrack(conn)
	defer conn.Close()

	sess, err := t.registry.Create(r.Context())
	if err != nil {
		t.logger.Error("session_create_failed", slog.String("error", err.Error()))
		_ = conn.WriteJSON(events.NewError("session unavailable"))
		return
	}
	defer t.registry.Remove(sess.ID())

	log := t.logger.With(slog.String("session_id", sess.ID()))
	log.Info("client_connected", slog.String("remote", r.RemoteAddr))

	// One writer per connection: the write pump drains session output
	// until the session ends or the connection drops.
	writeCtx, cancelWrite := context.WithCancel(context.Background())
	defer cancelWrite()
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		_ = conn.WriteJSON(events.NewSessionStart(sess.ID()))
		for {
			ev, ok := sess.NextOutput(writeCtx)
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("write_failed",
					slog.String("reason_code", string(errorsx.ReasonTransportSend)),
					slog.String("error", err.Error()))
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		ev, err := events.Decode(raw)
		if err != nil {
			// Protocol errors are logged and dropped; the session continues.
			log.Warn("invalid_message", slog.String("error", err.Error()))
			continue
		}
		if !t.dispatch(sess, ev, log) {
			break
		}
	}

	cancelWrite()
	<-writeDone
	log.Info("client_disconnected")
}

// dispatch maps a decoded client message onto session input. Returns
// false when the connection should close.
func (t *Transport) dispatch(sess *session.Session, ev events.Event, log *slog.Logger) bool {
	switch ev.Type {
	case events.TypeAudioChunk:
		audio, err := ev.AudioBytes()
		if err != nil {
			log.Warn("invalid_audio_payload", slog.String("error", err.Error()))
			return true
		}
		sess.AddInput(session.Input{Kind: session.InputAudio, Audio: audio})
	case events.TypeTextInput:
		sess.AddInput(session.Input{Kind: session.InputText, Text: ev.Text})
	case events.TypeControl:
		if ev.Action == events.ActionInterrupt {
			sess.AddInput(session.Input{Kind: session.InputInterrupt})
		}
	case events.TypeStop:
		sess.AddInput(session.Input{Kind: session.InputStop})
		return false
	}
	return true
}

func (t *Transport) track(conn *websocket.Conn) {
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) untrack(conn *websocket.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

var _ transports.Transport = (*Transport)(nil)
var _ transports.ReadyReporter = (*Transport)(nil)
