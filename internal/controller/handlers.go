package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/webalive/workerspawn/internal/httpx/response"
	"github.com/webalive/workerspawn/internal/orchestrator"
	"github.com/webalive/workerspawn/internal/sentryx"
	"github.com/webalive/workerspawn/internal/store"
	"github.com/webalive/workerspawn/internal/validate"
)

const tokenAudience = "ws"

// CreateSession implements POST /api/sessions: admission, rate limiting,
// validation, worker submission, durable writes, and token minting, in the
// write order the spec requires — session row first, then token, then the
// endpoint once it resolves.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		response.Unauthorized(w, "invalid api key")
		return
	}

	if res := s.limiter.Allow(callerIdentity(r)); !res.Allowed {
		response.TooManyRequests(w, "rate limit exceeded")
		return
	}

	var body createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := validate.CreateSessionRequest(body.CodeURL, body.Command, body.InstallCmd); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	sessionID := uuid.NewString()
	now := time.Now()
	expiresAt := now.Add(s.cfg.SessionTTL)

	// Submit the worker before any durable write: a failed submission means
	// there's nothing to clean up yet.
	workerID, err := s.driver.Submit(ctx, orchestrator.Spec{
		SessionID:             sessionID,
		Image:                 s.cfg.WorkerImage,
		CodeURL:               body.CodeURL,
		Command:               body.Command,
		InstallCmd:            body.InstallCmd,
		Prompt:                body.Prompt,
		ExitOnJob:             true,
		ActiveDeadlineSeconds: int(s.cfg.SessionTTL.Seconds()),
	})
	if err != nil {
		sentryx.CaptureError(err, "controller: orchestrator submit failed")
		response.Internal(w, fmt.Errorf("orchestrator submission failed: %w", err))
		return
	}

	sess := store.Session{
		ID:        sessionID,
		OwnerID:   callerIdentity(r),
		Image:     s.cfg.WorkerImage,
		CodeURL:   body.CodeURL,
		Command:   body.Command,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := s.store.PutSession(ctx, sess); err != nil {
		s.cleanupAfterStoreFailure(workerID)
		sentryx.CaptureError(err, "controller: put session failed")
		response.Internal(w, err)
		return
	}

	tokenTTL := s.cfg.TokenTTL
	if tokenTTL > s.cfg.SessionTTL {
		tokenTTL = s.cfg.SessionTTL
	}
	token, jti, err := s.signer.Issue(sessionID, sess.OwnerID, tokenAudience, tokenTTL)
	if err != nil {
		s.cleanupAfterStoreFailure(workerID)
		sentryx.CaptureError(err, "controller: issue token failed")
		response.Internal(w, err)
		return
	}
	if err := s.store.PutJTI(ctx, jti, sessionID, now.Add(tokenTTL)); err != nil {
		s.cleanupAfterStoreFailure(workerID)
		sentryx.CaptureError(err, "controller: put jti failed")
		response.Internal(w, err)
		return
	}

	status := s.resolveEndpointWithDeadline(ctx, sessionID, workerID)

	resp := createSessionResponse{
		SessionID:   sessionID,
		WsURL:       "/ws/" + sessionID,
		Token:       token,
		TerminalURL: fmt.Sprintf("%s/ws/%s?token=%s", s.cfg.GatewayPublicOrigin, sessionID, token),
	}
	if status != store.StatusRoutable {
		resp.Status = "pending"
	}
	response.JSON(w, http.StatusOK, resp)
}

// resolveEndpointWithDeadline polls the orchestrator for the worker's
// endpoint up to a bounded deadline, writing it to the store the first time
// it resolves. Timing out leaves the session pending, and nothing resolves
// the endpoint afterwards: the Gateway's short poll only reads the store,
// and the reaper's reconcile pass does not set endpoints.
func (s *Server) resolveEndpointWithDeadline(ctx context.Context, sessionID, workerID string) string {
	deadline := time.Now().Add(s.cfg.EndpointPollDeadline)
	for {
		endpoint, ready, err := s.driver.ResolveEndpoint(ctx, workerID)
		if err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("controller: resolve endpoint error")
		} else if ready && endpoint != "" {
			if err := s.store.SetEndpointOnce(ctx, sessionID, endpoint); err != nil {
				s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("controller: set endpoint failed")
			}
			return store.StatusRoutable
		}
		if time.Now().After(deadline) {
			return store.StatusPending
		}
		select {
		case <-ctx.Done():
			return store.StatusPending
		case <-time.After(s.cfg.EndpointPollInterval):
		}
	}
}

func (s *Server) cleanupAfterStoreFailure(workerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.driver.BestEffortDelete(ctx, workerID); err != nil {
		s.logger.Warn().Err(err).Str("worker_id", workerID).Msg("controller: best-effort delete after store failure")
	}
}

// GetSession implements GET /api/sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		response.Unauthorized(w, "invalid api key")
		return
	}

	id := chi.URLParam(r, "id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(w, "session not found")
			return
		}
		response.Internal(w, err)
		return
	}

	response.JSON(w, http.StatusOK, sessionSummary{
		SessionID: sess.ID,
		Status:    sess.Status,
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
		ExpiresAt: sess.ExpiresAt.Format(time.RFC3339),
	})
}

// JWKS implements GET /.well-known/jwks.json.
func (s *Server) JWKS(w http.ResponseWriter, r *http.Request) {
	doc, err := s.signer.JWKSDocument(r.Context())
	if err != nil {
		response.Internal(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}
