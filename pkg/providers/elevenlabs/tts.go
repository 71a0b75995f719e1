package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxa-labs/voxa/pkg/adapters/tts"
	"github.com/voxa-labs/voxa/pkg/errorsx"
	"github.com/voxa-labs/voxa/pkg/logging"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	defaultModel   = "eleven_monolingual_v1"

	// streamChunkSize is the read granularity on the streaming response
	// body. Small enough that barge-in cancellation lands quickly.
	streamChunkSize = 1024
)

// Config holds ElevenLabs credentials and voice settings.
type Config struct {
	APIKey          string
	VoiceID         string
	ModelID         string
	BaseURL         string
	Stability       float64
	SimilarityBoost float64
	Timeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.VoiceID == "" {
		c.VoiceID = defaultVoiceID
	}
	if c.ModelID == "" {
		c.ModelID = defaultModel
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Stability == 0 {
		c.Stability = 0.5
	}
	if c.SimilarityBoost == 0 {
		c.SimilarityBoost = 0.5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Synthesizer calls the ElevenLabs streaming text-to-speech endpoint.
type Synthesizer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Synthesizer {
	cfg = cfg.withDefaults()
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (s *Synthesizer) open(ctx context.Context, text string) (io.ReadCloser, error) {
	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: s.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       s.cfg.Stability,
			SimilarityBoost: s.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesize)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream", s.cfg.BaseURL, s.cfg.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesize)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesize)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		s.logger.Error("synthesis_failed",
			slog.Int("status", resp.StatusCode),
			slog.String("detail", string(detail)))
		return nil, errorsx.Wrap(fmt.Errorf("elevenlabs returned status %d", resp.StatusCode), errorsx.ReasonSynthesize)
	}
	return resp.Body, nil
}

func (s *Synthesizer) SynthesizeText(ctx context.Context, text string) ([]byte, error) {
	body, err := s.open(ctx, text)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	audio, err := io.ReadAll(body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesize)
	}
	s.logger.Debug("synthesis_complete",
		slog.Int("text_len", len(text)),
		slog.Int("audio_bytes", len(audio)))
	return audio, nil
}

func (s *Synthesizer) SynthesizeStream(ctx context.Context, texts <-chan string) (<-chan []byte, error) {
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case text, ok := <-texts:
				if !ok {
					return
				}
				if err := s.streamOne(ctx, text, out); err != nil {
					if ctx.Err() == nil {
						s.logger.Error("stream_synthesis_failed", slog.String("error", err.Error()))
					}
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Synthesizer) streamOne(ctx context.Context, text string, out chan<- []byte) error {
	body, err := s.open(ctx, text)
	if err != nil {
		return err
	}
	defer body.Close()

	for {
		buf := make([]byte, streamChunkSize)
		n, err := body.Read(buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errorsx.Wrap(err, errorsx.ReasonSynthesize)
		}
	}
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
