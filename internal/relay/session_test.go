package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/magobot/voice-relay/internal/config"
	"github.com/magobot/voice-relay/internal/devices"
	"github.com/magobot/voice-relay/internal/observability"
)

func testConfig() *config.Config {
	return &config.Config{
		ClientSampleRate:   44100,
		ClientAudioFormat:  "pcm",
		FrameSize:          4,
		FramesPerYield:     4,
		QueuePopTimeoutMs:  100,
		ReceiveTimeoutMs:   50,
		DrainTimeoutMs:     1000,
		YieldPauseMs:       1,
		SynthesisTimeoutMs: 5000,
		FishLatency:        "balanced",
	}
}

// startTestSession runs a real session over a loopback WebSocket with a fake
// upstream. Returns the device-side connection and a channel closed when the
// session handler returns.
func startTestSession(t *testing.T, up *fakeUpstream) (*websocket.Conn, chan struct{}) {
	t.Helper()
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		s := &session{
			client:   &wsSender{conn: conn},
			conn:     conn,
			upstream: up,
			synth:    newFakeSynth(),
			provider: &devices.StaticProvider{Defaults: devices.Defaults{VoiceID: "v"}},
			cfg:      testConfig(),
			deviceID: "dev-1",
			voiceID:  "v",
			audioIn:  make(chan []byte, 32),
			metrics:  observability.NewSessionMetrics("test"),
			logger:   zerolog.Nop(),
		}
		s.run(context.Background())
		close(done)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn, done
}

func TestSession_ForwardsClientAudioUpstream(t *testing.T) {
	up := newFakeUpstream()
	conn, done := startTestSession(t, up)

	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte("frame")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for up.appendCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d frames forwarded", up.appendCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	conn.Close()
	<-done
}

func TestSession_ClientDisconnectTearsDownCleanly(t *testing.T) {
	up := newFakeUpstream()
	conn, done := startTestSession(t, up)

	conn.WriteMessage(websocket.BinaryMessage, []byte("frame"))
	conn.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not tear down after client disconnect")
	}

	up.mu.Lock()
	closed := up.closed
	up.mu.Unlock()
	if !closed {
		t.Error("upstream connection not closed on teardown")
	}
}

func TestSession_UpstreamCloseNotifiesDevice(t *testing.T) {
	up := newFakeUpstream()
	conn, done := startTestSession(t, up)
	defer conn.Close()

	up.close()

	// The device must end in a known state: audio_end then listening.
	var events []string
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(events) < 2 {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed after %v: %v", events, err)
		}
		if ev, ok := msg["event"].(string); ok {
			events = append(events, ev)
		}
	}
	if events[0] != "audio_end" || events[1] != "listening" {
		t.Errorf("unexpected events %v", events)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end after upstream close")
	}
}

func TestSession_PlaybackGateBlocksForwarding(t *testing.T) {
	up := newFakeUpstream()
	s := &session{
		upstream: up,
		cfg:      testConfig(),
		audioIn:  make(chan []byte, 8),
		metrics:  observability.NewSessionMetrics("test"),
		logger:   zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 1)
	go func() { errs <- s.forward(ctx) }()

	s.playback.Store(true)
	s.audioIn <- []byte("blocked")
	time.Sleep(50 * time.Millisecond)
	if up.appendCount() != 0 {
		t.Error("frame forwarded while playback gate raised")
	}

	s.playback.Store(false)
	s.audioIn <- []byte("open")
	deadline := time.After(time.Second)
	for up.appendCount() != 1 {
		select {
		case <-deadline:
			t.Fatal("frame not forwarded after gate lowered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(s.audioIn)
	if err := <-errs; err != errClientGone {
		t.Errorf("unexpected forwarder exit error %v", err)
	}
}
