package relay

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/magobot/voice-relay/internal/observability"
	"github.com/magobot/voice-relay/internal/tts"
)

// turn is one speech-in / response-out cycle. The queue decouples sentence
// production (upstream token pace) from audio delivery (synthesis pace);
// degraded and failed record how the worker ended.
type turn struct {
	queue    *sentenceQueue
	done     chan struct{}
	degraded atomic.Bool // at least one sentence skipped
	failed   atomic.Bool // disconnect-class abort
	bytesOut atomic.Int64

	// response accumulates the full turn text. Written only by the event
	// receiver goroutine.
	response strings.Builder
}

func newTurn() *turn {
	return &turn{
		queue: newSentenceQueue(),
		done:  make(chan struct{}),
	}
}

// workerDeps is everything the synthesis worker needs for one turn.
type workerDeps struct {
	synth      tts.Client
	sender     clientSender
	voiceID    string
	popTimeout time.Duration
	stream     streamOptions
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// runWorker consumes the turn's queue in order until the end mark, streaming
// one sentence at a time. A sentence's audio fully drains before the next
// starts. A disconnect aborts the worker; any other synthesis failure skips
// that sentence only.
func (t *turn) runWorker(ctx context.Context, deps workerDeps) {
	defer close(t.done)

	for {
		if ctx.Err() != nil {
			t.failed.Store(true)
			return
		}

		sentence, status := t.queue.pop(deps.popTimeout)
		switch status {
		case popTimeout:
			// Not an error. Loop to re-check cancellation and the end mark.
			continue
		case popEnd:
			return
		}

		deps.metrics.RecordSynthesisStart()
		n, err := streamSentence(ctx, deps.synth, deps.sender, sentence, deps.voiceID, deps.stream, deps.logger)
		t.bytesOut.Add(n)
		deps.metrics.RecordSynthesisEnd(err == nil)
		deps.metrics.RecordAudioBytes("out", n)

		if err != nil {
			if isDisconnectError(err) {
				deps.logger.Warn().Err(err).Msg("Aborting synthesis worker on disconnect")
				t.failed.Store(true)
				return
			}
			deps.logger.Error().Err(err).Str("sentence", sentence).Msg("Sentence synthesis failed, skipping")
			deps.metrics.RecordError("synthesis", "pipeline")
			t.degraded.Store(true)
		}
	}
}

// drain waits for the worker to exit after the end mark was set. Returns
// false if the worker did not confirm within the timeout.
func (t *turn) drain(timeout time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// status reports the turn's terminal label for metrics and logs.
func (t *turn) status() string {
	switch {
	case t.failed.Load():
		return "error"
	case t.degraded.Load():
		return "degraded"
	default:
		return "ok"
	}
}
