package devices

import "time"

// Pricing used for the per-entry cost estimates in the conversation log.
const (
	fishCostPerChar         = 0.000002 // USD per synthesized character
	realtimeInCostPerMinute = 0.06     // USD per minute of input audio
	realtimeOutCostPerMin   = 0.24     // USD per minute of output audio
)

// SynthesisCost estimates the Fish Audio cost of synthesizing text.
func SynthesisCost(text string) float64 {
	return float64(len([]rune(text))) * fishCostPerChar
}

// InputAudioCost estimates the Realtime API cost of the given input audio
// duration.
func InputAudioCost(d time.Duration) float64 {
	return d.Minutes() * realtimeInCostPerMinute
}

// OutputAudioCost estimates the Realtime API cost of the given output audio
// duration.
func OutputAudioCost(d time.Duration) float64 {
	return d.Minutes() * realtimeOutCostPerMin
}
