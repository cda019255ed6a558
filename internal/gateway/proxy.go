package gateway

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// armPingPong sends a ping on conn every interval and calls onTimeout if no
// pong arrives within pongTimeout. Mirrors the ping/pong discipline the
// teacher's terminal handler runs per connection, applied symmetrically to
// both the client and worker legs here.
func armPingPong(conn *websocket.Conn, interval, pongTimeout time.Duration, onTimeout func()) {
	var lastPong atomic.Int64
	lastPong.Store(time.Now().UnixNano())
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		lastPong.Store(time.Now().UnixNano())
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if time.Since(time.Unix(0, lastPong.Load())) > pongTimeout {
				onTimeout()
				return
			}
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				onTimeout()
				return
			}
		}
	}()
}

// relay copies messages from src to dst unmodified until src errors or a
// write to dst stalls past stallTimeout, reporting a close code via onClose:
// CloseNormalClosure on a clean EOF, CloseInternalServerErr on a stalled
// write (backpressure), and the src's own close code when it sent one.
// direction labels which leg this is purely for the stall/error log line, so
// an operator can tell which side of the proxy got stuck.
func relay(src, dst *websocket.Conn, direction string, idleTimeout, stallTimeout time.Duration, logger zerolog.Logger, onClose func(code int)) {
	for {
		_ = src.SetReadDeadline(time.Now().Add(idleTimeout))
		msgType, data, err := src.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				onClose(ce.Code)
				return
			}
			onClose(websocket.CloseNormalClosure)
			return
		}

		writeErrCh := make(chan error, 1)
		go func() {
			_ = dst.SetWriteDeadline(time.Now().Add(stallTimeout))
			writeErrCh <- dst.WriteMessage(msgType, data)
		}()

		select {
		case err := <-writeErrCh:
			if err != nil {
				logger.Warn().Str("direction", direction).Err(err).Msg("gateway: relay write failed")
				onClose(websocket.CloseInternalServerErr)
				return
			}
		case <-time.After(stallTimeout):
			logger.Warn().Str("direction", direction).Msg("gateway: relay stalled on backpressure")
			onClose(websocket.CloseInternalServerErr)
			return
		}
	}
}
