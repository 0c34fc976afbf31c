package realtime

import (
	"encoding/json"
	"fmt"
)

// Client event types (sent to the Realtime API).
const (
	EventSessionUpdate    = "session.update"
	EventInputAudioAppend = "input_audio_buffer.append"
	EventInputAudioClear  = "input_audio_buffer.clear"
)

// Server event types (received from the Realtime API). Event names must match
// the wire protocol exactly for interoperability.
const (
	EventError                  = "error"
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventSpeechStopped          = "input_audio_buffer.speech_stopped"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventResponseOutputAdded    = "response.output_item.added"
	EventResponseTextDelta      = "response.text.delta"
	EventResponseDone           = "response.done"
)

// ServerEvent is the closed decoding of one upstream message. Unknown event
// types still parse; consumers ignore any type they do not handle.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// Delta carries incremental response text for response.text.delta.
	Delta string `json:"delta,omitempty"`

	// Transcript carries the input transcription for
	// conversation.item.input_audio_transcription.completed.
	Transcript string `json:"transcript,omitempty"`

	ItemID       string `json:"item_id,omitempty"`
	ResponseID   string `json:"response_id,omitempty"`
	AudioStartMs int    `json:"audio_start_ms,omitempty"`
	AudioEndMs   int    `json:"audio_end_ms,omitempty"`

	// Error carries the payload of an error event.
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the error payload of an upstream error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *ErrorDetail) String() string {
	if e == nil {
		return "unknown upstream error"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// ParseServerEvent decodes one raw upstream message.
func ParseServerEvent(raw []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("realtime: parse event: %w", err)
	}
	return &ev, nil
}

// SessionConfig is the session.update payload sent on the configuration
// handshake and for per-turn instruction refreshes.
type SessionConfig struct {
	Modalities              []string       `json:"modalities,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
}

// Transcription configures input audio transcription.
type Transcription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// TurnDetection configures upstream server-side voice activity detection.
type TurnDetection struct {
	Type            string  `json:"type"`
	Threshold       float64 `json:"threshold"`
	PrefixPaddingMs int     `json:"prefix_padding_ms"`
	SilenceDuration int     `json:"silence_duration_ms"`
}
