package deepgram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/voxa-labs/voxa/pkg/adapters/stt"
	"github.com/voxa-labs/voxa/pkg/errorsx"
	"github.com/voxa-labs/voxa/pkg/logging"

	listenv1rest "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Config holds Deepgram credentials and transcription options.
type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Encoding   string
	Interim    bool
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	return c
}

// Transcriber speaks to Deepgram: the prerecorded REST API for
// single-shot utterances and the live websocket API for streams.
type Transcriber struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Transcriber {
	return &Transcriber{
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) TranscribeChunk(ctx context.Context, audio []byte) (string, error) {
	rest := client.NewREST(t.cfg.APIKey, &interfaces.ClientOptions{})
	dg := listenv1rest.New(rest)

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		SmartFormat: true,
	}
	res, err := dg.FromStream(ctx, bytes.NewReader(audio), options)
	if err != nil {
		t.logger.Error("transcription_failed", slog.String("error", err.Error()))
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribe)
	}
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 ||
		len(res.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	transcript := res.Results.Channels[0].Alternatives[0].Transcript
	t.logger.Debug("transcript_received",
		slog.Int("audio_bytes", len(audio)),
		slog.Int("transcript_len", len(transcript)))
	return transcript, nil
}

func (t *Transcriber) TranscribeStream(ctx context.Context, audio <-chan []byte) (<-chan string, error) {
	out := make(chan string, 16)
	cb := &liveCallback{out: out, interim: t.cfg.Interim, logger: t.logger}

	clientOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          t.cfg.Model,
		Language:       t.cfg.Language,
		Encoding:       t.cfg.Encoding,
		SampleRate:     t.cfg.SampleRate,
		InterimResults: t.cfg.Interim,
		SmartFormat:    true,
	}

	dgClient, err := client.NewWSUsingCallback(ctx, t.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTranscribe)
	}
	if connected := dgClient.Connect(); !connected {
		return nil, errorsx.Wrap(errors.New("deepgram connection failed"), errorsx.ReasonTranscribe)
	}
	t.logger.Info("deepgram_connected", slog.String("model", t.cfg.Model))

	pr, pw := io.Pipe()
	go func() {
		if err := dgClient.Stream(pr); err != nil && ctx.Err() == nil {
			t.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		defer func() {
			_ = pw.Close()
			dgClient.Stop()
			cb.shutdown()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-audio:
				if !ok {
					return
				}
				if _, err := pw.Write(chunk); err != nil {
					t.logger.Error("audio_forward_failed", slog.String("error", err.Error()))
					return
				}
			}
		}
	}()

	return out, nil
}

// liveCallback bridges the SDK's callback interface onto the transcript
// channel. shutdown closes the channel exactly once and keeps late
// callbacks from writing to it.
type liveCallback struct {
	mu      sync.Mutex
	closed  bool
	out     chan string
	interim bool
	logger  *slog.Logger
}

func (c *liveCallback) push(transcript string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- transcript:
	default:
		c.logger.Warn("transcript_channel_full")
	}
}

func (c *liveCallback) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *liveCallback) Open(or *msginterfaces.OpenResponse) error {
	c.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *liveCallback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	if !mr.IsFinal && !mr.SpeechFinal && !c.interim {
		return nil
	}
	c.push(transcript)
	return nil
}

func (c *liveCallback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.logger.Debug("deepgram_metadata", slog.String("request_id", md.RequestID))
	return nil
}

func (c *liveCallback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *liveCallback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *liveCallback) Close(cr *msginterfaces.CloseResponse) error {
	c.logger.Info("deepgram_connection_closed")
	return nil
}

func (c *liveCallback) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *liveCallback) UnhandledEvent(byData []byte) error {
	c.logger.Debug("deepgram_unhandled_event", slog.Int("bytes", len(byData)))
	return nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
