package twilio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/voxa-labs/voxa/pkg/errorsx"
	"github.com/voxa-labs/voxa/pkg/events"
	"github.com/voxa-labs/voxa/pkg/logging"
	"github.com/voxa-labs/voxa/pkg/session"
	"github.com/voxa-labs/voxa/pkg/transports"
)

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	VoiceGreeting      string   `mapstructure:"voice_greeting"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport bridges Twilio Media Streams onto sessions. Inbound media
// frames become session audio input; outbound audio events become media
// messages and the stop_audio control becomes Twilio's buffer clear.
type Transport struct {
	cfg      Config
	registry *session.Registry
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu          sync.Mutex
	streams     map[string]*stream
	callStreams map[string]string

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
		streams:     make(map[string]*stream),
		callStreams: make(map[string]string),
		logger:      logging.NewComponentLogger(slog.Default(), "twilio_transport"),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.voiceWebhookURL(),
		"status_callback_url": t.statusCallbackURL(),
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc(t.cfg.StatusCallbackPath, t.handleStatusCallback)
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
	for _, st := range t.streams {
		_ = st.close()
	}
	t.streams = make(map[string]*stream)
	t.callStreams = make(map[string]string)
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
	defer conn.Close()

	var streamID string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt mediaEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil {
				continue
			}
			streamID = evt.Start.StreamID
			t.onStart(r.Context(), conn, streamID, evt.Start.CallSID)
		case "media":
			if evt.Media == nil || streamID == "" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				continue
			}
			if sess := t.sessionFor(streamID); sess != nil {
				sess.AddInput(session.Input{Kind: session.InputAudio, Audio: payload})
			}
		case "stop":
			t.detach(streamID)
			return
		}
	}
	if streamID != "" {
		t.detach(streamID)
	}
}

func (t *Transport) onStart(ctx context.Context, conn *websocket.Conn, streamID, callSID string) {
	sess, err := t.registry.Create(ctx)
	if err != nil {
		t.logger.Error("session_create_failed",
			slog.String("stream_sid", streamID),
			slog.String("error", err.Error()))
		return
	}
	st := &stream{
		conn:   conn,
		sendCh: make(chan []byte, 256),
		sess:   sess,
	}

	t.mu.Lock()
	if old := t.streams[streamID]; old != nil {
		_ = old.close()
	}
	t.streams[streamID] = st
	if callSID != "" {
		t.callStreams[callSID] = streamID
	}
	t.mu.Unlock()

	t.logger.Info("call_started",
		slog.String("stream_sid", streamID),
		slog.String("call_sid", callSID),
		slog.String("session_id", sess.ID()))

	go st.writeLoop()
	go t.pump(st, streamID)
}

// pump forwards session output onto the media stream. Twilio only
// understands audio and buffer clears; transcripts, text, and state
// changes exist for JSON clients and are skipped here.
func (t *Transport) pump(st *stream, streamID string) {
	for {
		ev, ok := st.sess.NextOutput(context.Background())
		if !ok {
			return
		}
		switch ev.Type {
		case events.TypeAudio:
			audio, err := ev.AudioBytes()
			if err != nil {
				continue
			}
			_ = st.enqueue(map[string]any{
				"event":     "media",
				"streamSid": streamID,
				"media": map[string]any{
					"payload": base64.StdEncoding.EncodeToString(audio),
				},
			})
		case events.TypeControl:
			if ev.Action == events.ActionStopAudio {
				_ = st.enqueue(map[string]any{
					"event":     "clear",
					"streamSid": streamID,
				})
			}
		case events.TypeError:
			t.logger.Warn("session_error",
				slog.String("stream_sid", streamID),
				slog.String("message", ev.Message))
		}
	}
}

func (t *Transport) sessionFor(streamID string) *session.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.streams[streamID]; st != nil {
		return st.sess
	}
	return nil
}

func (t *Transport) detach(streamID string) {
	t.mu.Lock()
	st := t.streams[streamID]
	delete(t.streams, streamID)
	for callSID, sid := range t.callStreams {
		if sid == streamID {
			delete(t.callStreams, callSID)
		}
	}
	t.mu.Unlock()
	if st != nil {
		t.registry.Remove(st.sess.ID())
		_ = st.close()
		t.logger.Info("call_ended", slog.String("stream_sid", streamID))
	}
}

func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("invalid_signature",
			slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	wsURL := t.websocketURL(r)
	greeting := strings.TrimSpace(t.cfg.VoiceGreeting)
	var twiml string
	if greeting != "" {
		twiml = `<Response><Say>` + xmlEscape(greeting) + `</Say><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	} else {
		twiml = `<Response><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("status_invalid_signature",
			slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	if callSID == "" || !terminalCallStatus(r.FormValue("CallStatus")) {
		w.WriteHeader(http.StatusOK)
		return
	}
	t.mu.Lock()
	streamID := t.callStreams[callSID]
	t.mu.Unlock()
	if streamID != "" {
		t.detach(streamID)
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) websocketURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(t.cfg.PublicURL) + t.cfg.WebsocketPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return "wss://" + host + t.cfg.WebsocketPath
}

func (t *Transport) voiceWebhookURL() string {
	if t.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(t.cfg.PublicURL) + t.cfg.VoicePath
	}
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + t.cfg.VoicePath
}

func (t *Transport) statusCallbackURL() string {
	if t.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(t.cfg.PublicURL) + t.cfg.StatusCallbackPath
	}
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + t.cfg.StatusCallbackPath
}

func (t *Transport) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || t.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, signature)
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return strings.TrimRight(t.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
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

func terminalCallStatus(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "busy", "failed", "no-answer", "canceled":
		return true
	default:
		return false
	}
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}

// stream is one live media websocket. A single writer goroutine owns
// the connection; enqueue drops on backpressure rather than blocking
// the session pump.
type stream struct {
	conn   *websocket.Conn
	sendCh chan []byte
	sess   *session.Session
	closed atomic.Bool
}

func (s *stream) enqueue(msg map[string]any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case s.sendCh <- b:
	default:
	}
	return nil
}

func (s *stream) writeLoop() {
	for msg := range s.sendCh {
		_ = s.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (s *stream) close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.sendCh)
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

type mediaStart struct {
	CallSID  string `json:"callSid"`
	StreamID string `json:"streamSid"`
	From     string `json:"from"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type mediaStop struct {
	Reason string `json:"reason"`
}

type mediaEvent struct {
	Event string        `json:"event"`
	Start *mediaStart   `json:"start,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
	Stop  *mediaStop    `json:"stop,omitempty"`
}

var _ transports.Transport = (*Transport)(nil)
var _ transports.ReadyReporter = (*Transport)(nil)
var _ transports.OutboundDialer = (*Transport)(nil)
