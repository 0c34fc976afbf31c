package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/magobot/voice-relay/internal/audio"
	"github.com/magobot/voice-relay/internal/config"
	"github.com/magobot/voice-relay/internal/devices"
	"github.com/magobot/voice-relay/internal/observability"
	"github.com/magobot/voice-relay/internal/tts"
)

const maxUploadBytes = 25 << 20

// deviceStore is the device administration surface. May be nil when the
// store could not be opened; the admin endpoints then return 503.
type deviceStore interface {
	Devices(ctx context.Context) ([]devices.DeviceConfig, error)
	DeviceLogs(ctx context.Context, deviceID string, limit int) ([]devices.ConversationEntry, error)
	UpdateDevice(ctx context.Context, deviceID, voiceID, systemPrompt string) (devices.DeviceConfig, error)
	LogConversation(ctx context.Context, entry devices.ConversationEntry) error
}

// Handlers serves the one-shot and device administration endpoints.
type Handlers struct {
	cfg      *config.Config
	stt      transcriber
	llm      responder
	synth    tts.Client
	provider devices.Provider
	store    deviceStore
	logger   zerolog.Logger
}

func NewHandlers(cfg *config.Config, backend *OpenAIBackend, synth tts.Client, provider devices.Provider, store deviceStore) *Handlers {
	return &Handlers{
		cfg:      cfg,
		stt:      backend,
		llm:      backend,
		synth:    synth,
		provider: provider,
		store:    store,
		logger:   observability.GetLogger(),
	}
}

// Chat handles POST /chat: WAV in, full transcribe/respond/synthesize cycle,
// WAV out. No pipelining, the entire reply is synthesized before responding.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	text, reply, ok := h.respond(w, r)
	if !ok {
		return
	}

	voiceID := h.provider.VoiceID(r.Context(), r.URL.Query().Get("device_id"))
	pcm, err := h.synthesizeAll(r.Context(), reply, voiceID)
	if err != nil {
		h.logger.Error().Err(err).Msg("One-shot synthesis failed")
		http.Error(w, "synthesis failed", http.StatusBadGateway)
		return
	}

	h.logger.Info().Int("transcript_chars", len(text)).Int("audio_bytes", len(pcm)).Msg("Chat request served")
	w.Header().Set("Content-Type", "audio/wav")
	w.Write(audio.WrapWAV(pcm, h.cfg.ClientSampleRate))
}

// Transcribe handles POST /transcribe: WAV in, transcript and reply as JSON.
func (h *Handlers) Transcribe(w http.ResponseWriter, r *http.Request) {
	text, reply, ok := h.respond(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"text":     text,
		"response": reply,
	})
}

// respond runs the shared front half of both one-shot endpoints: read the
// audio, transcribe it, and produce the assistant reply. Writes the error
// response itself and returns ok=false on failure.
func (h *Handlers) respond(w http.ResponseWriter, r *http.Request) (text, reply string, ok bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", "", false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil || len(body) == 0 {
		http.Error(w, "missing audio body", http.StatusBadRequest)
		return "", "", false
	}

	ctx := r.Context()
	deviceID := r.URL.Query().Get("device_id")

	text, err = h.stt.Transcribe(ctx, body)
	if err != nil {
		h.logger.Error().Err(err).Msg("One-shot transcription failed")
		http.Error(w, "transcription failed", http.StatusBadGateway)
		return "", "", false
	}

	prompt := h.provider.SystemPrompt(ctx, deviceID)
	if prompt == "" {
		prompt = h.cfg.DefaultPrompt
	}

	reply, err = h.llm.Respond(ctx, prompt, text)
	if err != nil {
		h.logger.Error().Err(err).Msg("One-shot completion failed")
		http.Error(w, "completion failed", http.StatusBadGateway)
		return "", "", false
	}

	h.logConversation(ctx, deviceID, text, reply)
	return text, reply, true
}

func (h *Handlers) logConversation(ctx context.Context, deviceID, text, reply string) {
	if h.store == nil || deviceID == "" {
		return
	}
	entries := []devices.ConversationEntry{
		{DeviceID: deviceID, Role: "user", Content: text},
		{DeviceID: deviceID, Role: "assistant", Content: reply, CostUSD: devices.SynthesisCost(reply)},
	}
	for _, entry := range entries {
		if err := h.store.LogConversation(ctx, entry); err != nil {
			h.logger.Warn().Err(err).Msg("Conversation log write failed")
		}
	}
}

// synthesizeAll collects the full audio of one synthesis stream.
func (h *Handlers) synthesizeAll(ctx context.Context, text, voiceID string) ([]byte, error) {
	chunks, err := h.synth.Synthesize(ctx, tts.Request{
		Text:    text,
		VoiceID: voiceID,
		Format:  "pcm",
		Latency: h.cfg.FishLatency,
	})
	if err != nil {
		return nil, err
	}

	var pcm []byte
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		pcm = append(pcm, chunk.Data...)
	}
	return pcm, nil
}

// Devices handles GET /devices.
func (h *Handlers) Devices(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "device store unavailable", http.StatusServiceUnavailable)
		return
	}

	configs, err := h.store.Devices(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Device listing failed")
		http.Error(w, "device listing failed", http.StatusInternalServerError)
		return
	}
	if configs == nil {
		configs = []devices.DeviceConfig{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(configs)
}

// UpdateDevice handles PUT /devices/{id}.
func (h *Handlers) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "device store unavailable", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		VoiceID      string `json:"voice_id"`
		SystemPrompt string `json:"system_prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg, err := h.store.UpdateDevice(r.Context(), r.PathValue("id"), body.VoiceID, body.SystemPrompt)
	if err != nil {
		h.logger.Error().Err(err).Msg("Device update failed")
		http.Error(w, "device update failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// DeviceLogs handles GET /devices/{id}/logs.
func (h *Handlers) DeviceLogs(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "device store unavailable", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.store.DeviceLogs(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Log retrieval failed")
		http.Error(w, "log retrieval failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []devices.ConversationEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
