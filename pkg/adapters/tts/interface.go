package tts

import "context"

// Synthesizer defines the contract for any text-to-speech vendor
// implementation.
type Synthesizer interface {
	// Name returns the adapter name for logging/metrics.
	Name() string
	// SynthesizeText synthesizes a complete text string into audio bytes.
	SynthesizeText(ctx context.Context, text string) ([]byte, error)
	// SynthesizeStream consumes a text chunk stream and yields audio
	// chunks. The returned channel closes when the input closes or ctx
	// is cancelled; no further chunks are produced after cancellation.
	SynthesizeStream(ctx context.Context, text <-chan string) (<-chan []byte, error)
}
