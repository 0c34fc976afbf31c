package relay

import "github.com/magobot/voice-relay/internal/realtime"

// sessionState is the receiver's position in the turn protocol.
type sessionState int

const (
	stateListening sessionState = iota
	stateSpeechDetected
	stateAwaitingTranscript
	stateResponding
)

func (s sessionState) String() string {
	switch s {
	case stateListening:
		return "listening"
	case stateSpeechDetected:
		return "speech_detected"
	case stateAwaitingTranscript:
		return "awaiting_transcript"
	case stateResponding:
		return "responding"
	default:
		return "unknown"
	}
}

// action is the side effect an upstream event demands in the current state.
type action int

const (
	actionIgnore action = iota
	actionSpeechStarted
	actionRefreshPrompt
	actionEmitTranscript
	actionStartTurn
	actionFeedDelta
	actionFinishTurn
	actionTurnError
)

// transition maps (state, upstream event type) to (next state, action). Events
// that have no meaning in the current state leave it unchanged; unknown event
// types always map to actionIgnore.
func transition(s sessionState, eventType string) (sessionState, action) {
	switch eventType {
	case realtime.EventError:
		// Fatal to the turn only. The receiver notifies the device and the
		// session keeps listening.
		return stateListening, actionTurnError

	case realtime.EventSpeechStarted:
		if s == stateListening {
			return stateSpeechDetected, actionSpeechStarted
		}

	case realtime.EventSpeechStopped:
		if s == stateSpeechDetected || s == stateListening {
			return stateAwaitingTranscript, actionRefreshPrompt
		}

	case realtime.EventTranscriptionCompleted:
		if s == stateAwaitingTranscript {
			return stateAwaitingTranscript, actionEmitTranscript
		}

	case realtime.EventResponseOutputAdded:
		if s == stateAwaitingTranscript {
			return stateResponding, actionStartTurn
		}

	case realtime.EventResponseTextDelta:
		if s == stateResponding {
			return stateResponding, actionFeedDelta
		}

	case realtime.EventResponseDone:
		if s == stateResponding {
			return stateListening, actionFinishTurn
		}
	}

	return s, actionIgnore
}
