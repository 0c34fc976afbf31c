package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/magobot/voice-relay/internal/devices"
	"github.com/magobot/voice-relay/internal/observability"
	"github.com/magobot/voice-relay/internal/realtime"
)

type memoryLog struct {
	mu      sync.Mutex
	entries []devices.ConversationEntry
}

func (m *memoryLog) LogConversation(_ context.Context, entry devices.ConversationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func newTestReceiver(up *fakeUpstream, sender *fakeSender, synth *fakeSynth, logs conversationLog) *receiver {
	return &receiver{
		upstream: up,
		sender:   sender,
		synth:    synth,
		provider: &devices.StaticProvider{Defaults: devices.Defaults{
			VoiceID:      "voice-1",
			SystemPrompt: "be kind",
		}},
		logs:          logs,
		playback:      new(atomic.Bool),
		deviceID:      "dev-1",
		voiceID:       "voice-1",
		defaultPrompt: "default prompt",
		sampleRate:    44100,
		audioFormat:   "pcm",
		popTimeout:    50 * time.Millisecond,
		drainTimeout:  2 * time.Second,
		stream:        testStreamOptions(),
		metrics:       observability.NewSessionMetrics("test"),
		logger:        zerolog.Nop(),
	}
}

func handleAll(t *testing.T, r *receiver, events ...*realtime.ServerEvent) {
	t.Helper()
	for _, ev := range events {
		if err := r.handle(context.Background(), ev); err != nil {
			t.Fatalf("handle(%s) failed: %v", ev.Type, err)
		}
	}
}

func TestReceiver_FullTurn(t *testing.T) {
	up := newFakeUpstream()
	sender := &fakeSender{}
	synth := newFakeSynth()
	logs := &memoryLog{}
	r := newTestReceiver(up, sender, synth, logs)

	handleAll(t, r,
		&realtime.ServerEvent{Type: realtime.EventSpeechStarted, AudioStartMs: 100},
		&realtime.ServerEvent{Type: realtime.EventSpeechStopped, AudioEndMs: 1600},
		&realtime.ServerEvent{Type: realtime.EventTranscriptionCompleted, Transcript: "おはよう"},
		&realtime.ServerEvent{Type: realtime.EventResponseOutputAdded},
	)

	if !r.playback.Load() {
		t.Error("playback gate not raised on turn start")
	}

	handleAll(t, r,
		&realtime.ServerEvent{Type: realtime.EventResponseTextDelta, Delta: "こんにちは。元"},
		&realtime.ServerEvent{Type: realtime.EventResponseTextDelta, Delta: "気?"},
		&realtime.ServerEvent{Type: realtime.EventResponseDone},
	)

	if r.playback.Load() {
		t.Error("playback gate still raised after turn end")
	}
	if r.state != stateListening {
		t.Errorf("unexpected state %v", r.state)
	}

	wantEvents := []string{"transcription", "audio_start", "audio_end", "response", "listening"}
	gotEvents := sender.eventNames()
	if len(gotEvents) != len(wantEvents) {
		t.Fatalf("got events %v, want %v", gotEvents, wantEvents)
	}
	for i := range wantEvents {
		if gotEvents[i] != wantEvents[i] {
			t.Errorf("event %d: got %q, want %q", i, gotEvents[i], wantEvents[i])
		}
	}

	if got := string(sender.audioBytes()); got != "こんにちは。元気?" {
		t.Errorf("unexpected audio %q", got)
	}
	if len(up.instructions) != 1 || up.instructions[0] != "be kind" {
		t.Errorf("instruction refresh missing or wrong: %v", up.instructions)
	}
	if up.clears != 1 {
		t.Errorf("expected one input buffer clear, got %d", up.clears)
	}

	logs.mu.Lock()
	defer logs.mu.Unlock()
	if len(logs.entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs.entries))
	}
	if logs.entries[0].Role != "user" || logs.entries[0].Content != "おはよう" {
		t.Errorf("unexpected user entry %+v", logs.entries[0])
	}
	if logs.entries[0].CostUSD <= 0 {
		t.Error("user entry missing cost estimate")
	}
	if logs.entries[1].Role != "assistant" || logs.entries[1].Content != "こんにちは。元気?" {
		t.Errorf("unexpected assistant entry %+v", logs.entries[1])
	}
}

func TestReceiver_EmptyPromptFallsBackToDefault(t *testing.T) {
	up := newFakeUpstream()
	sender := &fakeSender{}
	r := newTestReceiver(up, sender, newFakeSynth(), nil)
	r.provider = &devices.StaticProvider{}

	handleAll(t, r, &realtime.ServerEvent{Type: realtime.EventSpeechStopped})

	if len(up.instructions) != 1 || up.instructions[0] != "default prompt" {
		t.Errorf("default prompt not applied: %v", up.instructions)
	}
}

func TestReceiver_EmptyPromptNeverBlanksInstructions(t *testing.T) {
	up := newFakeUpstream()
	sender := &fakeSender{}
	r := newTestReceiver(up, sender, newFakeSynth(), nil)
	r.provider = &devices.StaticProvider{}
	r.defaultPrompt = ""

	handleAll(t, r, &realtime.ServerEvent{Type: realtime.EventSpeechStopped})

	if len(up.instructions) != 0 {
		t.Errorf("expected no instruction update, got %v", up.instructions)
	}
	if r.state != stateAwaitingTranscript {
		t.Errorf("unexpected state %v", r.state)
	}
}

func TestReceiver_FinalFlushWithoutDelimiter(t *testing.T) {
	up := newFakeUpstream()
	sender := &fakeSender{}
	synth := newFakeSynth()
	r := newTestReceiver(up, sender, synth, nil)

	handleAll(t, r,
		&realtime.ServerEvent{Type: realtime.EventSpeechStopped},
		&realtime.ServerEvent{Type: realtime.EventResponseOutputAdded},
		&realtime.ServerEvent{Type: realtime.EventResponseTextDelta, Delta: "Hello world"},
		&realtime.ServerEvent{Type: realtime.EventResponseDone},
	)

	calls := synth.callTexts()
	if len(calls) != 1 || calls[0] != "Hello world" {
		t.Errorf("unexpected synthesis calls %v", calls)
	}
}

func TestReceiver_UpstreamErrorWithoutTurnStillSendsListening(t *testing.T) {
	up := newFakeUpstream()
	sender := &fakeSender{}
	r := newTestReceiver(up, sender, newFakeSynth(), nil)

	handleAll(t, r, &realtime.ServerEvent{
		Type:  realtime.EventError,
		Error: &realtime.ErrorDetail{Code: "boom", Message: "bad"},
	})

	got := sender.eventNames()
	if len(got) != 2 || got[0] != "audio_end" || got[1] != "listening" {
		t.Errorf("unexpected events %v", got)
	}
	if r.state != stateListening {
		t.Errorf("unexpected state %v", r.state)
	}
}

func TestReceiver_UpstreamErrorDuringTurnDrainsAndRecovers(t *testing.T) {
	up := newFakeUpstream()
	sender := &fakeSender{}
	synth := newFakeSynth()
	r := newTestReceiver(up, sender, synth, nil)

	handleAll(t, r,
		&realtime.ServerEvent{Type: realtime.EventSpeechStopped},
		&realtime.ServerEvent{Type: realtime.EventResponseOutputAdded},
		&realtime.ServerEvent{Type: realtime.EventResponseTextDelta, Delta: "途中。"},
		&realtime.ServerEvent{Type: realtime.EventError, Error: &realtime.ErrorDetail{Message: "cut off"}},
	)

	if r.turn != nil {
		t.Error("turn not finished after upstream error")
	}
	if r.playback.Load() {
		t.Error("playback gate still raised")
	}
	events := sender.eventNames()
	if len(events) == 0 || events[len(events)-1] != "listening" {
		t.Errorf("listening not last event: %v", events)
	}
	if got := string(sender.audioBytes()); got != "途中。" {
		t.Errorf("queued sentence dropped: %q", got)
	}
}

func TestReceiver_RunReturnsUpstreamError(t *testing.T) {
	up := newFakeUpstream()
	up.err = errors.New("connection reset by peer")
	r := newTestReceiver(up, &fakeSender{}, newFakeSynth(), nil)

	up.close()
	err := r.run(context.Background())
	if err == nil {
		t.Fatal("expected upstream error")
	}
}

func TestReceiver_RunStopsOnContextCancel(t *testing.T) {
	up := newFakeUpstream()
	r := newTestReceiver(up, &fakeSender{}, newFakeSynth(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancellation")
	}
}

func TestReceiver_AbortCancelsActiveTurn(t *testing.T) {
	up := newFakeUpstream()
	sender := &fakeSender{}
	r := newTestReceiver(up, sender, newFakeSynth(), nil)

	handleAll(t, r,
		&realtime.ServerEvent{Type: realtime.EventSpeechStopped},
		&realtime.ServerEvent{Type: realtime.EventResponseOutputAdded},
	)
	if !r.playback.Load() {
		t.Fatal("turn did not start")
	}

	r.abort()
	if r.playback.Load() {
		t.Error("playback gate still raised after abort")
	}
	select {
	case <-r.turn.done:
	default:
		t.Error("worker did not exit after abort")
	}
}
