package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/voxa-labs/voxa/pkg/adapters/stt"
	"github.com/voxa-labs/voxa/pkg/errorsx"
	"github.com/voxa-labs/voxa/pkg/logging"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"
)

// Config holds OpenAI credentials and transcription options.
type Config struct {
	APIKey   string
	Model    string
	Language string
	BaseURL  string
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Transcriber calls OpenAI's Whisper transcription endpoint. Whisper is
// a whole-utterance model, so streaming input is buffered until the
// source closes and transcribed in one request.
type Transcriber struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Transcriber {
	cfg = cfg.withDefaults()
	return &Transcriber{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.NewComponentLogger(slog.Default(), "whisper_stt"),
	}
}

func (t *Transcriber) Name() string { return "whisper" }

func (t *Transcriber) TranscribeChunk(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribe)
	}
	if _, err := part.Write(audio); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribe)
	}
	if err := mw.WriteField("model", t.cfg.Model); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribe)
	}
	if t.cfg.Language != "" {
		if err := mw.WriteField("language", t.cfg.Language); err != nil {
			return "", errorsx.Wrap(err, errorsx.ReasonTranscribe)
		}
	}
	if err := mw.Close(); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribe)
	}

	url := t.cfg.BaseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribe)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribe)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		t.logger.Error("transcription_failed",
			slog.Int("status", resp.StatusCode),
			slog.String("detail", string(detail)))
		return "", errorsx.Wrap(fmt.Errorf("whisper returned status %d", resp.StatusCode), errorsx.ReasonTranscribe)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribe)
	}
	t.logger.Debug("transcript_received",
		slog.Int("audio_bytes", len(audio)),
		slog.Int("transcript_len", len(parsed.Text)))
	return parsed.Text, nil
}

func (t *Transcriber) TranscribeStream(ctx context.Context, audio <-chan []byte) (<-chan string, error) {
	out := make(chan string, 1)
	go func() {
		defer close(out)
		var buf bytes.Buffer
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-audio:
				if !ok {
					if buf.Len() == 0 {
						return
					}
					text, err := t.TranscribeChunk(ctx, buf.Bytes())
					if err != nil {
						if ctx.Err() == nil {
							t.logger.Error("stream_transcription_failed", slog.String("error", err.Error()))
						}
						return
					}
					if text != "" {
						select {
						case out <- text:
						case <-ctx.Done():
						}
					}
					return
				}
				buf.Write(chunk)
			}
		}
	}()
	return out, nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
