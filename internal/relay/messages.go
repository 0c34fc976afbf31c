// Package relay is the bidirectional voice relay core: it forwards device
// microphone audio to the upstream realtime API, segments the streamed text
// response into sentences, synthesizes each sentence, and streams bounded
// audio frames back to the device in order.
package relay

// Control event names sent to the device alongside binary audio frames.
const (
	eventAudioStart    = "audio_start"
	eventAudioEnd      = "audio_end"
	eventTranscription = "transcription"
	eventResponse      = "response"
	eventListening     = "listening"
)

// controlEvent is one JSON control message on the device channel.
type controlEvent struct {
	Event      string `json:"event"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Format     string `json:"format,omitempty"`
	Text       string `json:"text,omitempty"`
}

func audioStartEvent(sampleRate int, format string) controlEvent {
	return controlEvent{Event: eventAudioStart, SampleRate: sampleRate, Format: format}
}

func audioEndEvent() controlEvent {
	return controlEvent{Event: eventAudioEnd}
}

func transcriptionEvent(text string) controlEvent {
	return controlEvent{Event: eventTranscription, Text: text}
}

func responseEvent(text string) controlEvent {
	return controlEvent{Event: eventResponse, Text: text}
}

func listeningEvent() controlEvent {
	return controlEvent{Event: eventListening}
}

// clientSender is the device-facing half of the session connection. Both
// methods are safe for concurrent use.
type clientSender interface {
	sendEvent(ev controlEvent) error
	sendBinary(data []byte) error
}
