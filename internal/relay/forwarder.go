package relay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errClientGone = errors.New("relay: client disconnected")

// forward relays device audio frames upstream while the playback gate is off.
// Frames arriving during playback are consumed and discarded so the device
// never backs up. The bounded wait exists to re-check liveness, a timeout is
// not an error.
func (s *session) forward(ctx context.Context) error {
	timeout := time.Duration(s.cfg.ReceiveTimeoutMs) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-s.audioIn:
			if !ok {
				return errClientGone
			}
			if s.playback.Load() {
				continue
			}
			if err := s.upstream.AppendAudio(frame); err != nil {
				return fmt.Errorf("forward audio: %w", err)
			}
			s.metrics.RecordAudioBytes("in", int64(len(frame)))

		case <-time.After(timeout):
		}
	}
}
