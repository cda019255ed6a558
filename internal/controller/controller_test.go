package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/webalive/workerspawn/internal/orchestrator"
	"github.com/webalive/workerspawn/internal/ratelimit"
	"github.com/webalive/workerspawn/internal/signer"
	"github.com/webalive/workerspawn/internal/store"
)

const testAPIKey = "test-api-key"

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Submit(ctx context.Context, spec orchestrator.Spec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *mockDriver) ResolveEndpoint(ctx context.Context, workerID string) (string, bool, error) {
	args := m.Called(ctx, workerID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockDriver) BestEffortDelete(ctx context.Context, workerID string) error {
	args := m.Called(ctx, workerID)
	return args.Error(0)
}

func (m *mockDriver) Reconcile(ctx context.Context, expected map[string]string) ([]string, []string, error) {
	args := m.Called(ctx, expected)
	return nil, nil, args.Error(2)
}

func (m *mockDriver) Close() error { return nil }

func newTestServerWithRateLimit(t *testing.T, driver orchestrator.Driver, maxPerWindow int) *Server {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sgn, err := signer.LoadOrCreate(filepath.Join(t.TempDir(), "key.pem"), "test-kid")
	require.NoError(t, err)

	limiter := ratelimit.New(maxPerWindow, time.Minute)
	t.Cleanup(limiter.Stop)

	return NewServer(Config{
		APIKey:               testAPIKey,
		WorkerImage:          "workerspawn/base:latest",
		GatewayPublicOrigin:  "wss://gateway.example.com",
		SessionTTL:           10 * time.Minute,
		TokenTTL:             5 * time.Minute,
		EndpointPollDeadline: 50 * time.Millisecond,
		EndpointPollInterval: 10 * time.Millisecond,
	}, st, sgn, driver, limiter, zerolog.Nop())
}

func newTestServer(t *testing.T, driver orchestrator.Driver) *Server {
	t.Helper()
	return newTestServerWithRateLimit(t, driver, 5)
}

func postSession(t *testing.T, srv *Server, body string, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(body))
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	srv.CreateSession(rec, req)
	return rec
}

func TestCreateSessionHappyPath(t *testing.T) {
	driver := &mockDriver{}
	driver.On("Submit", mock.Anything, mock.Anything).Return("worker-1", nil)
	driver.On("ResolveEndpoint", mock.Anything, "worker-1").Return("10.0.0.5:7681", true, nil)

	srv := newTestServer(t, driver)
	body := `{"code_url":"https://github.com/x/y/tree/main/p","command":"node index.js"}`

	rec := postSession(t, srv, body, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "/ws/"+resp.SessionID, resp.WsURL)
	assert.Len(t, strings.Split(resp.Token, "."), 3)
	assert.Contains(t, resp.TerminalURL, resp.SessionID)
	assert.Empty(t, resp.Status)

	driver.AssertExpectations(t)
}

func TestCreateSessionUnauthorized(t *testing.T) {
	driver := &mockDriver{}
	srv := newTestServer(t, driver)

	rec := postSession(t, srv, `{"code_url":"x","command":"y"}`, "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSessionBadRequest(t *testing.T) {
	driver := &mockDriver{}
	srv := newTestServer(t, driver)

	rec := postSession(t, srv, `{"code_url":"not-a-valid-url","command":"node index.js"}`, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSessionRateLimited(t *testing.T) {
	driver := &mockDriver{}
	driver.On("Submit", mock.Anything, mock.Anything).Return("worker-1", nil)
	driver.On("ResolveEndpoint", mock.Anything, "worker-1").Return("10.0.0.5:7681", true, nil)

	srv := newTestServerWithRateLimit(t, driver, 1)

	body := `{"code_url":"https://github.com/x/y/tree/main/p","command":"node index.js"}`
	first := postSession(t, srv, body, testAPIKey)
	require.Equal(t, http.StatusOK, first.Code)

	second := postSession(t, srv, body, testAPIKey)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestCreateSessionPendingWhenEndpointNeverResolves(t *testing.T) {
	driver := &mockDriver{}
	driver.On("Submit", mock.Anything, mock.Anything).Return("worker-1", nil)
	driver.On("ResolveEndpoint", mock.Anything, "worker-1").Return("", false, nil)

	srv := newTestServer(t, driver)
	body := `{"code_url":"https://github.com/x/y/tree/main/p","command":"node index.js"}`

	rec := postSession(t, srv, body, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)
}

func TestGetSessionNotFound(t *testing.T) {
	driver := &mockDriver{}
	srv := newTestServer(t, driver)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec := httptest.NewRecorder()

	srv.Router(nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
