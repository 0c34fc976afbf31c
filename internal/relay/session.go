package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/magobot/voice-relay/internal/config"
	"github.com/magobot/voice-relay/internal/devices"
	"github.com/magobot/voice-relay/internal/observability"
	"github.com/magobot/voice-relay/internal/realtime"
	"github.com/magobot/voice-relay/internal/resilience"
	"github.com/magobot/voice-relay/internal/tts"
)

// wsSender serializes all writes to the device connection. JSON control
// events and binary audio frames share one write path.
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsSender) sendEvent(ev controlEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(ev)
}

func (w *wsSender) sendBinary(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// upstreamAPI is the full realtime client surface the session uses.
type upstreamAPI interface {
	upstreamConn
	AppendAudio(data []byte) error
	UpdateSession(cfg *realtime.SessionConfig) error
	Close() error
}

// Handler serves the device WebSocket endpoint. One session per connection.
type Handler struct {
	cfg      *config.Config
	synth    tts.Client
	provider devices.Provider
	logs     conversationLog
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates the session handler. logs may be nil to disable
// conversation logging.
func NewHandler(cfg *config.Config, synth tts.Client, provider devices.Provider, logs conversationLog) *Handler {
	return &Handler{
		cfg:      cfg,
		synth:    synth,
		provider: provider,
		logs:     logs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: observability.GetLogger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	sessionID := observability.NewSessionID()
	logger := observability.SessionLogger(sessionID, deviceID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	metrics := observability.NewSessionMetrics(sessionID)
	metrics.RecordSessionStart()
	defer metrics.RecordSessionEnd()
	logger.Info().Msg("Session started")

	ctx := r.Context()
	upstream, err := h.dialUpstream(ctx, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Upstream connection failed")
		metrics.RecordError("upstream_dial", "session")
		conn.Close()
		return
	}

	if err := upstream.UpdateSession(h.handshakeConfig()); err != nil {
		logger.Error().Err(err).Msg("Session handshake failed")
		metrics.RecordError("handshake", "session")
		upstream.Close()
		conn.Close()
		return
	}

	s := &session{
		client:   &wsSender{conn: conn},
		conn:     conn,
		upstream: upstream,
		synth:    h.synth,
		provider: h.provider,
		logs:     h.logs,
		cfg:      h.cfg,
		deviceID: deviceID,
		voiceID:  h.provider.VoiceID(ctx, deviceID),
		audioIn:  make(chan []byte, 32),
		metrics:  metrics,
		logger:   logger,
	}
	s.run(ctx)
	logger.Info().Msg("Session ended")
}

// dialUpstream connects to the realtime API with retry on transient network
// failures.
func (h *Handler) dialUpstream(ctx context.Context, logger zerolog.Logger) (*realtime.Client, error) {
	retryCfg := &resilience.RetryConfig{
		MaxAttempts:    h.cfg.RetryMaxAttempts,
		InitialBackoff: time.Duration(h.cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}

	var client *realtime.Client
	err := resilience.Retry(ctx, func() error {
		var dialErr error
		client, dialErr = realtime.Dial(ctx, realtime.Config{
			APIKey: h.cfg.OpenAIAPIKey,
			Model:  h.cfg.RealtimeModel,
			URL:    h.cfg.RealtimeURL,
		}, logger)
		return dialErr
	}, retryCfg, resilience.IsRetryableNetworkError)
	return client, err
}

// handshakeConfig builds the one-time session configuration. The bootstrap
// uses the compiled-in default instructions; the device-specific prompt is
// applied per turn when speech stops.
func (h *Handler) handshakeConfig() *realtime.SessionConfig {
	return &realtime.SessionConfig{
		Modalities:       []string{"text"},
		Instructions:     h.cfg.DefaultPrompt,
		InputAudioFormat: "pcm16",
		InputAudioTranscription: &realtime.Transcription{
			Model:    h.cfg.TranscribeModel,
			Language: h.cfg.Language,
		},
		TurnDetection: &realtime.TurnDetection{
			Type:            "server_vad",
			Threshold:       h.cfg.VADThreshold,
			PrefixPaddingMs: h.cfg.VADPrefixMs,
			SilenceDuration: h.cfg.VADSilenceMs,
		},
	}
}

// session owns one device connection and its upstream counterpart, and runs
// the forwarder and receiver as two independently failing flows under a
// single join.
type session struct {
	client   *wsSender
	conn     *websocket.Conn
	upstream upstreamAPI
	synth    tts.Client
	provider devices.Provider
	logs     conversationLog
	cfg      *config.Config

	deviceID string
	voiceID  string

	playback atomic.Bool
	audioIn  chan []byte

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.readClient(ctx)

	rcv := s.newReceiver()
	errs := make(chan error, 2)
	go func() { errs <- s.forward(ctx) }()
	go func() { errs <- rcv.run(ctx) }()

	cause := <-errs
	cancel()
	<-errs

	s.teardown(rcv, cause)
}

func (s *session) newReceiver() *receiver {
	return &receiver{
		upstream:      s.upstream,
		sender:        s.client,
		synth:         s.synth,
		provider:      s.provider,
		logs:          s.logs,
		playback:      &s.playback,
		deviceID:      s.deviceID,
		voiceID:       s.voiceID,
		defaultPrompt: s.cfg.DefaultPrompt,
		sampleRate:    s.cfg.ClientSampleRate,
		audioFormat:   s.cfg.ClientAudioFormat,
		popTimeout:    time.Duration(s.cfg.QueuePopTimeoutMs) * time.Millisecond,
		drainTimeout:  time.Duration(s.cfg.DrainTimeoutMs) * time.Millisecond,
		stream: streamOptions{
			FrameSize:        s.cfg.FrameSize,
			FramesPerYield:   s.cfg.FramesPerYield,
			YieldPause:       time.Duration(s.cfg.YieldPauseMs) * time.Millisecond,
			SynthesisTimeout: time.Duration(s.cfg.SynthesisTimeoutMs) * time.Millisecond,
			Format:           s.cfg.ClientAudioFormat,
			Latency:          s.cfg.FishLatency,
		},
		metrics: s.metrics,
		logger:  s.logger,
	}
}

// readClient pumps binary frames from the device into audioIn. Control
// messages from the device are ignored. The channel closes on disconnect.
func (s *session) readClient(ctx context.Context) {
	defer close(s.audioIn)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case s.audioIn <- data:
		case <-ctx.Done():
			return
		}
	}
}

// teardown closes both halves of the session after either flow ends. The
// device always gets audio_end and listening so it is never left stuck
// mid-playback, whatever the cause was.
func (s *session) teardown(rcv *receiver, cause error) {
	switch {
	case cause == nil || errors.Is(cause, context.Canceled):
		s.logger.Info().Msg("Session closing")
	case errors.Is(cause, errClientGone) || isDisconnectError(cause):
		s.logger.Info().Msg("Peer disconnected")
	default:
		s.logger.Error().Err(cause).Msg("Session failed")
		s.metrics.RecordError("session", "controller")
	}

	rcv.abort()

	if err := s.client.sendEvent(audioEndEvent()); err == nil {
		s.client.sendEvent(listeningEvent())
	}

	s.upstream.Close()
	s.conn.Close()
}
