package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/magobot/voice-relay/internal/observability"
	"github.com/magobot/voice-relay/internal/resilience"
)

const readBufferSize = 4096

// fishRequest is the Fish Audio TTS request body. The API takes
// msgpack-encoded requests and streams raw audio back.
type fishRequest struct {
	Text        string `msgpack:"text"`
	ReferenceID string `msgpack:"reference_id,omitempty"`
	Format      string `msgpack:"format"`
	Latency     string `msgpack:"latency,omitempty"`
	ChunkLength int    `msgpack:"chunk_length,omitempty"`
}

// FishClient implements Client against the Fish Audio TTS API.
type FishClient struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	breaker    *resilience.Breaker
	logger     zerolog.Logger
}

// FishOptions configures a FishClient.
type FishOptions struct {
	APIKey              string
	URL                 string
	Timeout             time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// NewFishClient creates a Fish Audio TTS client.
func NewFishClient(opts FishOptions, logger zerolog.Logger) *FishClient {
	if opts.URL == "" {
		opts.URL = "https://api.fish.audio/v1/tts"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BreakerMaxFailures == 0 {
		opts.BreakerMaxFailures = 5
	}
	if opts.BreakerResetTimeout == 0 {
		opts.BreakerResetTimeout = 30 * time.Second
	}

	return &FishClient{
		apiKey:     opts.APIKey,
		apiURL:     opts.URL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		breaker:    resilience.NewBreaker("fish", opts.BreakerMaxFailures, opts.BreakerResetTimeout),
		logger:     logger,
	}
}

// Synthesize starts one synthesis request and streams the audio bytes as they
// arrive from the API. The returned channel is closed once the response body
// is exhausted or a terminal error has been delivered.
func (c *FishClient) Synthesize(ctx context.Context, req Request) (<-chan Chunk, error) {
	if req.Format == "" {
		req.Format = "pcm"
	}

	body, err := msgpack.Marshal(fishRequest{
		Text:        req.Text,
		ReferenceID: req.VoiceID,
		Format:      req.Format,
		Latency:     req.Latency,
	})
	if err != nil {
		return nil, fmt.Errorf("tts: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/msgpack")

	var resp *http.Response
	err = c.breaker.Do(func() error {
		var doErr error
		resp, doErr = c.httpClient.Do(httpReq)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("tts: fish API returned status %d", resp.StatusCode)
		}
		return nil
	})
	observability.UpdateCircuitBreakerState(c.breaker.Name(), int(c.breaker.State()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures(c.breaker.Name())
		return nil, err
	}

	c.logger.Debug().Int("text_chars", len(req.Text)).Str("voice_id", req.VoiceID).Msg("Synthesis stream opened")

	ch := make(chan Chunk, 8)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		buf := make([]byte, readBufferSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case ch <- Chunk{Data: data}:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case ch <- Chunk{Err: fmt.Errorf("tts: read audio stream: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return ch, nil
}

// Close releases client resources. The underlying HTTP client needs no
// explicit shutdown.
func (c *FishClient) Close() error {
	return nil
}

var _ Client = (*FishClient)(nil)
