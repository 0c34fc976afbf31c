package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

// isDisconnectError reports whether err means the peer is gone. Disconnects
// are fatal to the session; every other synthesis or delivery failure only
// degrades the current turn.
func isDisconnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived) {
		return true
	}

	msg := err.Error()
	for _, s := range []string{
		"use of closed network connection",
		"connection reset by peer",
		"broken pipe",
		"websocket: close sent",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
