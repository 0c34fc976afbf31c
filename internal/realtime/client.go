// Package realtime is a typed client for the OpenAI Realtime WebSocket API,
// covering the subset of the protocol the relay drives: the session
// configuration handshake, input audio streaming, and the server event feed.
package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config holds connection parameters for the Realtime API.
type Config struct {
	APIKey           string
	Model            string
	URL              string // base wss URL, model is appended as a query parameter
	HandshakeTimeout time.Duration
}

// Client is one upstream Realtime connection. Writes are serialized
// internally; events are consumed from the channel returned by Events.
type Client struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	events    chan *ServerEvent
	closeCh   chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// Dial connects to the Realtime API and starts the background read loop.
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = "wss://api.openai.com/v1/realtime"
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	url := fmt.Sprintf("%s?model=%s", cfg.URL, cfg.Model)
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial failed: %w", err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger,
		events:  make(chan *ServerEvent, 100),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// UpdateSession sends a session.update with the given configuration.
func (c *Client) UpdateSession(cfg *SessionConfig) error {
	return c.send(map[string]interface{}{
		"type":    EventSessionUpdate,
		"session": cfg,
	})
}

// UpdateInstructions refreshes only the session instructions. Used for the
// per-turn prompt refresh on speech stop.
func (c *Client) UpdateInstructions(instructions string) error {
	return c.send(map[string]interface{}{
		"type": EventSessionUpdate,
		"session": map[string]interface{}{
			"instructions": instructions,
		},
	})
}

// AppendAudio appends one client audio frame to the upstream input buffer.
func (c *Client) AppendAudio(audio []byte) error {
	return c.send(map[string]interface{}{
		"type":  EventInputAudioAppend,
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
}

// ClearInput clears the upstream input audio buffer, resetting the turn
// boundary for the next utterance.
func (c *Client) ClearInput() error {
	return c.send(map[string]interface{}{
		"type": EventInputAudioClear,
	})
}

// Events returns the server event feed. The channel is closed when the
// connection ends; Err reports why.
func (c *Client) Events() <-chan *ServerEvent {
	return c.events
}

// Err returns the read error that terminated the event feed, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// Close closes the connection. Safe to call multiple times and concurrently
// with event consumption.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) send(event map[string]interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(event)
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
				// Deliberate close, not a failure.
			default:
				c.errMu.Lock()
				c.readErr = fmt.Errorf("realtime: read: %w", err)
				c.errMu.Unlock()
			}
			return
		}

		ev, err := ParseServerEvent(message)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropping unparseable upstream event")
			continue
		}

		select {
		case <-c.closeCh:
			return
		case c.events <- ev:
		}
	}
}
