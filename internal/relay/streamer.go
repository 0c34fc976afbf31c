package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/magobot/voice-relay/internal/audio"
	"github.com/magobot/voice-relay/internal/tts"
)

// streamOptions bound the delivery of one sentence's audio.
type streamOptions struct {
	FrameSize        int
	FramesPerYield   int
	YieldPause       time.Duration
	SynthesisTimeout time.Duration
	Format           string
	Latency          string
}

// streamSentence synthesizes one sentence and delivers its audio to the
// device as ordered frames no larger than FrameSize. After every
// FramesPerYield frames the sender pauses briefly so the device's receive
// buffer is never saturated. The synthesis goroutine is always joined before
// returning: on a delivery error the remaining chunks are drained first.
// Returns the number of audio bytes delivered.
func streamSentence(ctx context.Context, synth tts.Client, sender clientSender, text, voiceID string, opts streamOptions, logger zerolog.Logger) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.SynthesisTimeout)
	defer cancel()

	chunks, err := synth.Synthesize(ctx, tts.Request{
		Text:    text,
		VoiceID: voiceID,
		Format:  opts.Format,
		Latency: opts.Latency,
	})
	if err != nil {
		return 0, fmt.Errorf("synthesize: %w", err)
	}

	var bytesSent int64
	framesSent := 0
	for chunk := range chunks {
		if chunk.Err != nil {
			// Terminal: the channel closes right after an error chunk.
			return bytesSent, fmt.Errorf("synthesis stream: %w", chunk.Err)
		}

		for _, frame := range audio.SplitFrames(chunk.Data, opts.FrameSize) {
			if err := sender.sendBinary(frame); err != nil {
				cancel()
				for range chunks {
					// Join the generation goroutine before returning.
				}
				return bytesSent, fmt.Errorf("send frame: %w", err)
			}
			bytesSent += int64(len(frame))
			framesSent++

			if framesSent%opts.FramesPerYield == 0 {
				select {
				case <-time.After(opts.YieldPause):
				case <-ctx.Done():
					for range chunks {
					}
					return bytesSent, ctx.Err()
				}
			}
		}
	}

	logger.Debug().Int("frames", framesSent).Int64("bytes", bytesSent).Msg("Sentence audio delivered")
	return bytesSent, nil
}
