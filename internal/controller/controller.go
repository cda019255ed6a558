// Package controller implements the Session Controller: admission,
// validation, rate limiting, worker submission, and capability token
// minting for POST /api/sessions, plus the read-only and key-publishing
// endpoints alongside it.
package controller

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/webalive/workerspawn/internal/httpx/response"
	"github.com/webalive/workerspawn/internal/orchestrator"
	"github.com/webalive/workerspawn/internal/ratelimit"
	"github.com/webalive/workerspawn/internal/sentryx"
	"github.com/webalive/workerspawn/internal/signer"
	"github.com/webalive/workerspawn/internal/store"
)

// Config carries the tunables create_session needs beyond its dependencies.
type Config struct {
	APIKey              string
	WorkerImage          string
	GatewayPublicOrigin string
	SessionTTL          time.Duration
	TokenTTL            time.Duration
	EndpointPollDeadline time.Duration
	EndpointPollInterval time.Duration
}

// Server holds the Controller's dependencies and configuration.
type Server struct {
	cfg     Config
	store   *store.Store
	signer  *signer.Signer
	driver  orchestrator.Driver
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

func NewServer(cfg Config, st *store.Store, sgn *signer.Signer, driver orchestrator.Driver, limiter *ratelimit.Limiter, logger zerolog.Logger) *Server {
	return &Server{cfg: cfg, store: st, signer: sgn, driver: driver, limiter: limiter, logger: logger}
}

type createSessionRequest struct {
	CodeURL    string `json:"code_url"`
	Command    string `json:"command"`
	InstallCmd string `json:"install_cmd,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
}

type createSessionResponse struct {
	SessionID   string `json:"sessionId"`
	WsURL       string `json:"wsUrl"`
	Token       string `json:"token"`
	TerminalURL string `json:"terminalUrl"`
	Status      string `json:"status,omitempty"`
}

type sessionSummary struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
}

// authenticate checks the bearer API key with a constant-time compare, the
// same defense the preview-proxy uses for its HMAC secret.
func (s *Server) authenticate(r *http.Request) bool {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	presented := header[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.APIKey)) == 1
}

// callerIdentity is the rate limiter key: the network address of the
// immediate caller, matching the spec's trust boundary (the ingress).
func callerIdentity(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, _, err := s.store.PruneExpired(ctx); err != nil {
		sentryx.CaptureError(err, "controller healthz: store unreachable")
		response.ServiceUnavailable(w, "store unreachable")
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil {
		response.ServiceUnavailable(w, "signing key not loaded")
		return
	}
	s.Healthz(w, r)
}
