package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultSystemPrompt is the compiled-in persona used whenever a device has
// no prompt of its own and DEFAULT_PROMPT is unset. Instructions must never
// be blanked upstream, so an empty prompt always resolves to this.
const DefaultSystemPrompt = "あなたは「マゴー」という名前の8歳のAIコンパニオンロボットです。\n\n" +
	"【重要な制限】\n" +
	"- 音声での会話だけができます。【話し方】\n" +
	"- 一人称は必ず「ぼく」を使います。\n" +
	"- 話し方は甘くてやさしい8歳らしく、素直に話してください。\n" +
	"- 語尾には「〜だよ」「〜なの」「〜なんだ」などの子どもらしい柔らかい言い方を使います。\n" +
	"- 絵文字や記号のような余計な文字は使いません。\n" +
	"- LLMっぽい堅い言い方や説明口調は避け、自然な子どもの会話だけにしてください。\n" +
	"- 返答の最後に「どんな話をしますか」のような案内文は入れません。\n" +
	"- 必ず日本語だけで返答してください。英語や他の言語は一切使わないでください。"

// Config holds all configuration for the voice relay service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8000"`

	// OpenAI Realtime API configuration
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" required:"true"`
	RealtimeModel string `envconfig:"REALTIME_MODEL" default:"gpt-realtime-mini-2025-12-15"`
	RealtimeURL   string `envconfig:"REALTIME_URL" default:"wss://api.openai.com/v1/realtime"`

	// Models used by the one-shot HTTP endpoints
	ChatModel       string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	TranscribeModel string `envconfig:"TRANSCRIBE_MODEL" default:"whisper-1"`

	// Fish Audio TTS API configuration
	FishAPIKey  string `envconfig:"FISH_API_KEY" required:"true"`
	FishURL     string `envconfig:"FISH_URL" default:"https://api.fish.audio/v1/tts"`
	FishVoiceID string `envconfig:"FISH_VOICE_ID" default:"7b057c33b9b241b282954ee216af9906"`
	FishLatency string `envconfig:"FISH_LATENCY" default:"balanced"`

	// Turn detection (server VAD) configuration sent on the session handshake
	Language     string  `envconfig:"LANGUAGE" default:"ja"`
	VADThreshold float64 `envconfig:"VAD_THRESHOLD" default:"0.1"`
	VADPrefixMs  int     `envconfig:"VAD_PREFIX_MS" default:"0"`
	VADSilenceMs int     `envconfig:"VAD_SILENCE_MS" default:"700"`

	// Audio format advertised to the device on audio_start
	ClientSampleRate  int    `envconfig:"CLIENT_SAMPLE_RATE" default:"44100"`
	ClientAudioFormat string `envconfig:"CLIENT_AUDIO_FORMAT" default:"pcm"`

	// Audio delivery configuration. The device transport has a hard per-message
	// size ceiling, so synthesis output is resliced into frames no larger than
	// FrameSize, and the sender yields after every FramesPerYield frames.
	FrameSize      int `envconfig:"FRAME_SIZE" default:"512"`
	FramesPerYield int `envconfig:"FRAMES_PER_YIELD" default:"4"`

	// Pipeline timing (milliseconds)
	QueuePopTimeoutMs  int `envconfig:"QUEUE_POP_TIMEOUT_MS" default:"2000"`
	ReceiveTimeoutMs   int `envconfig:"RECEIVE_TIMEOUT_MS" default:"1000"`
	DrainTimeoutMs     int `envconfig:"DRAIN_TIMEOUT_MS" default:"10000"`
	YieldPauseMs       int `envconfig:"YIELD_PAUSE_MS" default:"5"`
	SynthesisTimeoutMs int `envconfig:"SYNTHESIS_TIMEOUT_MS" default:"30000"`

	// Device store configuration
	DataDir       string `envconfig:"DATA_DIR" default:"data"`
	DefaultPrompt string `envconfig:"DEFAULT_PROMPT" default:""`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without touching a .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.FishAPIKey == "" {
		return nil, fmt.Errorf("FISH_API_KEY is required")
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("FRAME_SIZE must be positive, got %d", cfg.FrameSize)
	}
	if cfg.FramesPerYield <= 0 {
		return nil, fmt.Errorf("FRAMES_PER_YIELD must be positive, got %d", cfg.FramesPerYield)
	}
	if cfg.DefaultPrompt == "" {
		cfg.DefaultPrompt = DefaultSystemPrompt
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
