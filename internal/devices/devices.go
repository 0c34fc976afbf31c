// Package devices holds per-device settings (voice, system prompt) and the
// conversation log. The relay only pulls from it through Provider, which never
// fails: missing or broken records fall back to compiled-in defaults.
package devices

import (
	"context"
	"time"
)

// DeviceConfig is one device's stored settings.
type DeviceConfig struct {
	DeviceID     string    `json:"device_id"`
	VoiceID      string    `json:"voice_id"`
	SystemPrompt string    `json:"system_prompt"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// ConversationEntry is one logged turn message.
type ConversationEntry struct {
	DeviceID  string    `json:"device_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CostUSD   float64   `json:"cost_usd"`
	Timestamp time.Time `json:"timestamp"`
}

// Defaults are the fallback settings used when a device has no record or the
// store is unavailable.
type Defaults struct {
	VoiceID      string
	SystemPrompt string
}

// Provider resolves per-device settings for the relay. Implementations must
// not fail the caller: on any error they return the defaults.
type Provider interface {
	VoiceID(ctx context.Context, deviceID string) string
	SystemPrompt(ctx context.Context, deviceID string) string
}

// StaticProvider always returns the defaults. Used when the store cannot be
// opened so sessions still run.
type StaticProvider struct {
	Defaults Defaults
}

func (p *StaticProvider) VoiceID(context.Context, string) string {
	return p.Defaults.VoiceID
}

func (p *StaticProvider) SystemPrompt(context.Context, string) string {
	return p.Defaults.SystemPrompt
}
