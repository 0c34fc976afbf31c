package relay

import (
	"context"
	"sync"

	"github.com/magobot/voice-relay/internal/realtime"
	"github.com/magobot/voice-relay/internal/tts"
)

// fakeSender records everything sent to the device.
type fakeSender struct {
	mu     sync.Mutex
	events []controlEvent
	frames [][]byte
	binErr error
	evErr  error
}

func (f *fakeSender) sendEvent(ev controlEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.evErr != nil {
		return f.evErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSender) sendBinary(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.binErr != nil {
		return f.binErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeSender) failBinary(err error) {
	f.mu.Lock()
	f.binErr = err
	f.mu.Unlock()
}

func (f *fakeSender) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.events))
	for i, ev := range f.events {
		names[i] = ev.Event
	}
	return names
}

func (f *fakeSender) audioBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []byte
	for _, frame := range f.frames {
		out = append(out, frame...)
	}
	return out
}

// fakeSynth returns canned audio per sentence, or an error for sentences in
// failWith.
type fakeSynth struct {
	mu       sync.Mutex
	calls    []string
	audio    func(text string) []byte
	failWith map[string]error
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{
		audio:    func(text string) []byte { return []byte(text) },
		failWith: make(map[string]error),
	}
}

func (f *fakeSynth) Synthesize(ctx context.Context, req tts.Request) (<-chan tts.Chunk, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Text)
	err := f.failWith[req.Text]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan tts.Chunk, 1)
	go func() {
		defer close(ch)
		select {
		case ch <- tts.Chunk{Data: f.audio(req.Text)}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (f *fakeSynth) Close() error { return nil }

func (f *fakeSynth) callTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeUpstream feeds scripted server events to the receiver and records
// everything sent upstream.
type fakeUpstream struct {
	mu           sync.Mutex
	events       chan *realtime.ServerEvent
	err          error
	instructions []string
	clears       int
	appended     [][]byte
	sessionCfgs  []*realtime.SessionConfig
	closed       bool
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan *realtime.ServerEvent, 32)}
}

func (f *fakeUpstream) Events() <-chan *realtime.ServerEvent { return f.events }

func (f *fakeUpstream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeUpstream) UpdateInstructions(instructions string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instructions = append(f.instructions, instructions)
	return nil
}

func (f *fakeUpstream) ClearInput() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeUpstream) AppendAudio(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.appended = append(f.appended, cp)
	return nil
}

func (f *fakeUpstream) UpdateSession(cfg *realtime.SessionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionCfgs = append(f.sessionCfgs, cfg)
	return nil
}

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeUpstream) appendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

func (f *fakeUpstream) emit(ev *realtime.ServerEvent) { f.events <- ev }
func (f *fakeUpstream) close()                        { close(f.events) }
