// Package gateway terminates browser WebSocket clients, verifies the
// single-use capability token each carries, and proxies the raw terminal
// byte stream through to the worker once the token is atomically consumed.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/webalive/workerspawn/internal/httpx/response"
	"github.com/webalive/workerspawn/internal/sentryx"
	"github.com/webalive/workerspawn/internal/signer"
	"github.com/webalive/workerspawn/internal/store"
)

const (
	PingInterval      = 30 * time.Second
	PongTimeout       = 60 * time.Second
	IdleTimeout       = time.Hour
	BackpressureStall = 10 * time.Second
	// endpointPollDeadline bounds how long the Gateway waits for a session
	// still in StatusPending to resolve an endpoint before closing the
	// upgraded connection with 1011 (the Gateway's own ≤5s poll on top of
	// the Controller's resolution deadline).
	endpointPollDeadline  = 5 * time.Second
	endpointPollInterval  = 250 * time.Millisecond
)

// Server holds the dependencies the Gateway's HTTP handlers need.
type Server struct {
	store          *store.Store
	verifier       *signer.Verifier
	allowedOrigins []string
	logger         zerolog.Logger
	upgrader       websocket.Upgrader

	shutdownMu sync.Mutex
	shutdown   bool
	active     sync.WaitGroup
}

func NewServer(st *store.Store, verifier *signer.Verifier, allowedOrigins []string, logger zerolog.Logger) *Server {
	s := &Server{
		store:          st,
		verifier:       verifier,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			if strings.HasSuffix(origin, allowed[1:]) {
				return true
			}
			continue
		}
		if origin == allowed {
			return true
		}
	}
	s.logger.Warn().Str("origin", origin).Msg("gateway: rejected websocket origin")
	return false
}

// Healthz reports OK when the Store responds to a trivial query.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.store.LiveSessionIDs(ctx); err != nil {
		sentryx.CaptureError(err, "gateway healthz: store unreachable")
		response.ServiceUnavailable(w, "store unreachable")
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Shutdown blocks until in-flight proxy sessions drain or ctx expires, and
// prevents any further upgrades from starting.
func (s *Server) Shutdown(ctx context.Context) {
	s.shutdownMu.Lock()
	s.shutdown = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("gateway: shutdown deadline reached with sessions still proxying")
	}
}

func (s *Server) acceptingConnections() bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return !s.shutdown
}
