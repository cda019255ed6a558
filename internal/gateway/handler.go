package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/webalive/workerspawn/internal/httpx/response"
	"github.com/webalive/workerspawn/internal/sentryx"
	"github.com/webalive/workerspawn/internal/signer"
	"github.com/webalive/workerspawn/internal/store"
)

// ServeTerminal handles both the plain-GET terminal UI asset and the
// WebSocket upgrade for /ws/{sessionId}, following the Received → Verified →
// Consumed → Resolved → Proxying state machine.
func (s *Server) ServeTerminal(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		s.serveTerminalUI(w, r)
		return
	}
	s.upgradeAndProxy(w, r)
}

func (s *Server) serveTerminalUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(terminalUIHTML))
}

// upgradeAndProxy upgrades the connection first and runs the rest of the
// Attach state machine (Received -> Verified -> Consumed -> Resolved ->
// Proxying) against the live socket, closing with the documented WS close
// code/reason on failure at any step. Only requests that can't even attempt
// an upgrade (missing params, shutdown in progress) get a plain HTTP
// response instead.
func (s *Server) upgradeAndProxy(w http.ResponseWriter, r *http.Request) {
	if !s.acceptingConnections() {
		response.ServiceUnavailable(w, "gateway is shutting down")
		return
	}

	sessionID := chi.URLParam(r, "sessionId")
	token := r.URL.Query().Get("token")
	if sessionID == "" || token == "" {
		response.BadRequest(w, "sessionId and token are required")
		return
	}

	clientConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("gateway: upgrade failed")
		return
	}

	s.active.Add(1)
	defer s.active.Done()

	ctx := r.Context()

	// Received -> Verified
	claims, err := s.verifier.Verify(token)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, signer.ErrExpired) {
			reason = "expired"
		}
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("gateway: token verification failed")
		closeConn(clientConn, websocket.ClosePolicyViolation, reason)
		return
	}
	if claims.SessionID != sessionID {
		s.logger.Warn().Str("session_id", sessionID).Msg("gateway: token session mismatch")
		closeConn(clientConn, websocket.ClosePolicyViolation, "invalid")
		return
	}

	// Verified -> Consumed
	consumedSessionID, err := s.store.ConsumeJTI(ctx, claims.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			sentryx.CaptureError(err, "gateway: consume jti")
		}
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("gateway: jti replayed or expired")
		closeConn(clientConn, websocket.ClosePolicyViolation, "replayed")
		return
	}
	if consumedSessionID != sessionID {
		s.logger.Error().Str("session_id", sessionID).Str("consumed_for", consumedSessionID).
			Msg("gateway: consumed jti bound to a different session")
		closeConn(clientConn, websocket.ClosePolicyViolation, "replayed")
		return
	}

	// Consumed -> Resolved
	endpoint, err := s.resolveEndpoint(ctx, sessionID)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("gateway: session not routable")
		closeConn(clientConn, websocket.CloseInternalServerErr, "not routable")
		return
	}

	workerConn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+endpoint+"/", nil)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Str("endpoint", endpoint).Msg("gateway: dial worker failed")
		closeConn(clientConn, websocket.CloseInternalServerErr, "worker unreachable")
		return
	}

	// Proxying
	s.proxy(sessionID, clientConn, workerConn)
}

// closeConn sends a WS close frame with code/reason and closes the
// underlying connection, best-effort.
func closeConn(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// resolveEndpoint reads the session's endpoint, polling briefly if it is
// still StatusPending — the Controller may still be waiting on the
// orchestrator when the client attaches.
func (s *Server) resolveEndpoint(ctx context.Context, sessionID string) (string, error) {
	deadline := time.Now().Add(endpointPollDeadline)
	for {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return "", err
		}
		if sess.Status == store.StatusRoutable && sess.Endpoint != "" {
			return sess.Endpoint, nil
		}
		if sess.Status == store.StatusExpired {
			return "", store.ErrNotFound
		}
		if time.Now().After(deadline) {
			return "", errors.New("gateway: endpoint resolution timed out")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(endpointPollInterval):
		}
	}
}

// proxy relays bytes unmodified between client and worker, enforcing ping
// discipline, an idle timeout, and backpressure stall detection on both
// legs. It returns once either side closes.
func (s *Server) proxy(sessionID string, client, worker *websocket.Conn) {
	defer client.Close()
	defer worker.Close()

	done := make(chan struct{})
	var closeOnce sync.Once

	closeBoth := func(code int, reason string) {
		closeOnce.Do(func() {
			deadline := time.Now().Add(time.Second)
			_ = client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			_ = worker.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			close(done)
		})
	}

	armPingPong(client, PingInterval, PongTimeout, func() { closeBoth(websocket.CloseAbnormalClosure, "ping timeout") })
	armPingPong(worker, PingInterval, PongTimeout, func() { closeBoth(websocket.CloseAbnormalClosure, "ping timeout") })

	go relay(client, worker, "client->worker", IdleTimeout, BackpressureStall, s.logger, func(code int) { closeBoth(code, "") })
	go relay(worker, client, "worker->client", IdleTimeout, BackpressureStall, s.logger, func(code int) { closeBoth(code, "") })

	<-done
	s.logger.Info().Str("session_id", sessionID).Msg("gateway: proxy session ended")
}

var terminalUIHTML = strings.TrimSpace(`
<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Terminal</title></head>
<body>
<div id="terminal"></div>
<script>
(function() {
  var params = new URLSearchParams(window.location.search);
  var token = params.get("token");
  var proto = window.location.protocol === "https:" ? "wss:" : "ws:";
  var url = proto + "//" + window.location.host + window.location.pathname + "?token=" + encodeURIComponent(token || "");
  var socket = new WebSocket(url);
  socket.binaryType = "arraybuffer";
  socket.onmessage = function(ev) {
    var el = document.getElementById("terminal");
    el.textContent += typeof ev.data === "string" ? ev.data : "";
  };
})();
</script>
</body>
</html>
`)
