package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magobot/voice-relay/internal/api"
	"github.com/magobot/voice-relay/internal/config"
	"github.com/magobot/voice-relay/internal/devices"
	"github.com/magobot/voice-relay/internal/observability"
	"github.com/magobot/voice-relay/internal/relay"
	"github.com/magobot/voice-relay/internal/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("realtime_model", cfg.RealtimeModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Relay Service starting")

	defaults := devices.Defaults{
		VoiceID:      cfg.FishVoiceID,
		SystemPrompt: cfg.DefaultPrompt,
	}

	// Sessions still run with static defaults if the store cannot open.
	var provider devices.Provider
	var store *devices.Store
	store, err = devices.Open(cfg.DataDir, defaults, logger)
	if err != nil {
		logger.Error().Err(err).Str("dir", cfg.DataDir).Msg("Device store unavailable, using static defaults")
		provider = &devices.StaticProvider{Defaults: defaults}
	} else {
		provider = store
		defer store.Close()
	}

	synth := tts.NewFishClient(tts.FishOptions{
		APIKey:              cfg.FishAPIKey,
		URL:                 cfg.FishURL,
		Timeout:             time.Duration(cfg.SynthesisTimeoutMs) * time.Millisecond,
		BreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
		BreakerResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
	}, logger)
	defer synth.Close()

	backend := api.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.ChatModel, cfg.TranscribeModel, cfg.Language)

	mux := http.NewServeMux()

	// A typed nil store must not reach the handlers as a non-nil interface.
	var handlers *api.Handlers
	if store != nil {
		mux.Handle("/ws", relay.NewHandler(cfg, synth, provider, store))
		handlers = api.NewHandlers(cfg, backend, synth, provider, store)
	} else {
		mux.Handle("/ws", relay.NewHandler(cfg, synth, provider, nil))
		handlers = api.NewHandlers(cfg, backend, synth, provider, nil)
	}
	mux.HandleFunc("/chat", handlers.Chat)
	mux.HandleFunc("/transcribe", handlers.Transcribe)
	mux.HandleFunc("GET /devices", handlers.Devices)
	mux.HandleFunc("PUT /devices/{id}", handlers.UpdateDevice)
	mux.HandleFunc("GET /devices/{id}/logs", handlers.DeviceLogs)

	mux.HandleFunc("/health", observability.HealthCheckHandler())

	storeCheck := func(ctx context.Context) (bool, error) {
		if store == nil {
			return false, fmt.Errorf("device store not open")
		}
		_, err := store.Devices(ctx)
		return err == nil, err
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"device_store": storeCheck,
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 0, // WebSocket sessions are long-lived
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
