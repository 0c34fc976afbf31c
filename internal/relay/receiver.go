package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/magobot/voice-relay/internal/devices"
	"github.com/magobot/voice-relay/internal/observability"
	"github.com/magobot/voice-relay/internal/realtime"
	"github.com/magobot/voice-relay/internal/segment"
	"github.com/magobot/voice-relay/internal/tts"
)

// conversationLog records finished turn messages. Logging failures never
// affect the session.
type conversationLog interface {
	LogConversation(ctx context.Context, entry devices.ConversationEntry) error
}

// upstreamConn is the slice of the realtime client the receiver drives.
type upstreamConn interface {
	Events() <-chan *realtime.ServerEvent
	Err() error
	UpdateInstructions(instructions string) error
	ClearInput() error
}

// receiver consumes the upstream event feed, drives the turn state machine,
// feeds the segmenter, and owns the playback gate. It is the only writer of
// the gate; the forwarder is its only reader.
type receiver struct {
	upstream upstreamConn
	sender   clientSender
	synth    tts.Client
	provider devices.Provider
	logs     conversationLog
	playback *atomic.Bool

	deviceID      string
	voiceID       string
	defaultPrompt string
	sampleRate    int
	audioFormat   string

	popTimeout   time.Duration
	drainTimeout time.Duration
	stream       streamOptions

	state     sessionState
	segmenter segment.Segmenter
	turn      *turn

	speechStartMs  int
	speechEndMs    int
	lastTranscript string

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// run consumes upstream events until the connection or context ends. The
// returned error is the session-fatal cause, nil on a clean upstream close.
func (r *receiver) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-r.upstream.Events():
			if !ok {
				if err := r.upstream.Err(); err != nil {
					return fmt.Errorf("upstream closed: %w", err)
				}
				return nil
			}
			if err := r.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// handle applies one upstream event. A non-nil return is fatal to the
// session (device disconnect during a control send).
func (r *receiver) handle(ctx context.Context, ev *realtime.ServerEvent) error {
	next, act := transition(r.state, ev.Type)

	switch act {
	case actionIgnore:

	case actionSpeechStarted:
		r.speechStartMs = ev.AudioStartMs
		r.logger.Debug().Int("audio_start_ms", ev.AudioStartMs).Msg("Speech detected")

	case actionRefreshPrompt:
		r.speechEndMs = ev.AudioEndMs
		prompt := r.provider.SystemPrompt(ctx, r.deviceID)
		if prompt == "" {
			prompt = r.defaultPrompt
		}
		// An empty session.update would blank the upstream instructions.
		if prompt != "" {
			if err := r.upstream.UpdateInstructions(prompt); err != nil {
				r.logger.Warn().Err(err).Msg("Instruction refresh failed, keeping previous prompt")
			}
		}

	case actionEmitTranscript:
		r.lastTranscript = ev.Transcript
		r.logger.Info().Str("transcript", ev.Transcript).Msg("Transcription completed")
		if err := r.sender.sendEvent(transcriptionEvent(ev.Transcript)); err != nil {
			return fmt.Errorf("send transcription: %w", err)
		}

	case actionStartTurn:
		if err := r.startTurn(ctx); err != nil {
			return err
		}

	case actionFeedDelta:
		r.turn.response.WriteString(ev.Delta)
		for _, unit := range r.segmenter.Push(ev.Delta) {
			r.turn.queue.push(unit)
		}

	case actionFinishTurn:
		if err := r.finishTurn(ctx); err != nil {
			return err
		}

	case actionTurnError:
		r.logger.Error().Str("upstream_error", ev.Error.String()).Msg("Upstream protocol error")
		r.metrics.RecordError("upstream_protocol", "receiver")
		if err := r.recoverToListening(ctx); err != nil {
			return err
		}
	}

	r.state = next
	return nil
}

func (r *receiver) startTurn(ctx context.Context) error {
	r.segmenter = segment.Segmenter{}
	r.turn = newTurn()
	r.playback.Store(true)
	r.metrics.RecordTurnStart()

	if err := r.sender.sendEvent(audioStartEvent(r.sampleRate, r.audioFormat)); err != nil {
		return fmt.Errorf("send audio_start: %w", err)
	}

	go r.turn.runWorker(ctx, workerDeps{
		synth:      r.synth,
		sender:     r.sender,
		voiceID:    r.voiceID,
		popTimeout: r.popTimeout,
		stream:     r.stream,
		metrics:    r.metrics,
		logger:     r.logger,
	})
	return nil
}

// finishTurn ends the active turn: flush the segmenter, set the end mark,
// wait for the pipeline to drain, then return the device to listening. The
// listening event is sent on every path.
func (r *receiver) finishTurn(ctx context.Context) error {
	t := r.turn
	if remainder, ok := r.segmenter.Flush(); ok {
		t.queue.push(remainder)
	}
	t.queue.end()

	if !t.drain(r.drainTimeout) {
		r.logger.Error().Msg("Pipeline did not drain within timeout")
		r.metrics.RecordError("drain_timeout", "receiver")
		t.failed.Store(true)
	}

	var sendErr error
	if err := r.sender.sendEvent(audioEndEvent()); err != nil {
		sendErr = err
	}
	r.playback.Store(false)

	text := t.response.String()
	if text != "" && sendErr == nil {
		if err := r.sender.sendEvent(responseEvent(text)); err != nil {
			sendErr = err
		}
	}

	if err := r.upstream.ClearInput(); err != nil {
		r.logger.Warn().Err(err).Msg("Input buffer clear failed")
	}

	// Never suppressed, even after a failed send above.
	if err := r.sender.sendEvent(listeningEvent()); err != nil && sendErr == nil {
		sendErr = err
	}

	status := t.status()
	r.metrics.RecordTurnEnd(status)
	r.logger.Info().Str("status", status).Int("response_chars", len(text)).Msg("Turn finished")
	r.logTurn(ctx, text, t.bytesOut.Load())
	r.turn = nil

	if sendErr != nil {
		return fmt.Errorf("finish turn: %w", sendErr)
	}
	return nil
}

// recoverToListening handles a turn-fatal upstream error: cancel any active
// pipeline and put the device back into a known listening state.
func (r *receiver) recoverToListening(ctx context.Context) error {
	if r.turn != nil {
		if err := r.finishTurn(ctx); err != nil {
			return err
		}
		return nil
	}

	r.playback.Store(false)
	if err := r.sender.sendEvent(audioEndEvent()); err != nil {
		r.logger.Warn().Err(err).Msg("audio_end notification failed")
	}
	if err := r.sender.sendEvent(listeningEvent()); err != nil {
		return fmt.Errorf("send listening: %w", err)
	}
	return nil
}

// logTurn appends the user and assistant messages of a finished turn to the
// conversation log with their cost estimates.
func (r *receiver) logTurn(ctx context.Context, responseText string, audioBytes int64) {
	if r.logs == nil || r.deviceID == "" {
		return
	}

	if r.lastTranscript != "" {
		speechDur := time.Duration(r.speechEndMs-r.speechStartMs) * time.Millisecond
		if speechDur < 0 {
			speechDur = 0
		}
		entry := devices.ConversationEntry{
			DeviceID: r.deviceID,
			Role:     "user",
			Content:  r.lastTranscript,
			CostUSD:  devices.InputAudioCost(speechDur),
		}
		if err := r.logs.LogConversation(ctx, entry); err != nil {
			r.logger.Warn().Err(err).Msg("Conversation log write failed")
		}
		r.lastTranscript = ""
	}

	if responseText != "" {
		// 16-bit mono PCM at the device sample rate.
		audioDur := time.Duration(float64(audioBytes) / float64(r.sampleRate*2) * float64(time.Second))
		entry := devices.ConversationEntry{
			DeviceID: r.deviceID,
			Role:     "assistant",
			Content:  responseText,
			CostUSD:  devices.SynthesisCost(responseText) + devices.OutputAudioCost(audioDur),
		}
		if err := r.logs.LogConversation(ctx, entry); err != nil {
			r.logger.Warn().Err(err).Msg("Conversation log write failed")
		}
	}
}

// abort cancels an in-flight turn during session teardown: end mark in, wait
// bounded, gate off.
func (r *receiver) abort() {
	t := r.turn
	if t == nil {
		return
	}
	t.queue.end()
	if !t.drain(r.drainTimeout) {
		r.logger.Error().Msg("Pipeline did not confirm cancellation within timeout")
	}
	r.playback.Store(false)
}
