package tts

import "context"

// Chunk is one piece of streamed synthesis output. A non-nil Err is terminal:
// the channel closes right after it.
type Chunk struct {
	Data []byte
	Err  error
}

// Request describes one synthesis call.
type Request struct {
	Text    string
	VoiceID string
	Format  string // "pcm" or "wav"
	Latency string // "normal" or "balanced"
}

// Client is the interface for a streaming text-to-speech client. Synthesize
// runs generation on its own goroutine and closes the returned channel when
// generation has fully ended; the closed channel is the generation-done
// signal consumers join on.
type Client interface {
	Synthesize(ctx context.Context, req Request) (<-chan Chunk, error)
	Close() error
}
