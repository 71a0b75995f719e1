package stt

import "context"

// Transcriber defines the contract for any speech-to-text vendor
// implementation. Sessions depend only on this contract, never on a
// concrete provider; the implementation is selected at construction
// time.
type Transcriber interface {
	// Name returns the adapter name for logging/metrics.
	Name() string
	// TranscribeChunk transcribes a single complete utterance.
	TranscribeChunk(ctx context.Context, audio []byte) (string, error)
	// TranscribeStream consumes an audio chunk stream and yields
	// transcripts until the input closes or ctx is cancelled. The
	// returned channel is closed when the stream ends; restarting
	// requires a new call.
	TranscribeStream(ctx context.Context, audio <-chan []byte) (<-chan string, error)
}
