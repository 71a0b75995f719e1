package mock

import (
	"context"
	"time"

	"github.com/voxa-labs/voxa/pkg/adapters/tts"
)

var audioHeader = []byte("MOCK_AUDIO")

type TTSConfig struct {
	// ChunkSize splits synthesized audio into chunks of this many bytes.
	ChunkSize int
	// Delay simulates real-time generation between chunks.
	Delay time.Duration
	// Err, when set, makes every call fail.
	Err error
}

// Synthesizer is a local deterministic TTS adapter: audio is the text
// bytes behind a fixed header, split into chunks.
type Synthesizer struct {
	cfg TTSConfig
}

func NewTTS(cfg TTSConfig) *Synthesizer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 320
	}
	return &Synthesizer{cfg: cfg}
}

func (m *Synthesizer) Name() string { return "mock_tts" }

func (m *Synthesizer) SynthesizeText(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.cfg.Err != nil {
		return nil, m.cfg.Err
	}
	return append(append([]byte(nil), audioHeader...), text...), nil
}

func (m *Synthesizer) SynthesizeStream(ctx context.Context, text <-chan string) (<-chan []byte, error) {
	if m.cfg.Err != nil {
		return nil, m.cfg.Err
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for t := range text {
			audio := append(append([]byte(nil), audioHeader...), t...)
			for off := 0; off < len(audio); off += m.cfg.ChunkSize {
				if m.wait(ctx) != nil {
					return
				}
				end := off + m.cfg.ChunkSize
				if end > len(audio) {
					end = len(audio)
				}
				select {
				case out <- audio[off:end]:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *Synthesizer) wait(ctx context.Context) error {
	if m.cfg.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.cfg.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
