package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/webalive/workerspawn/internal/orchestrator"
	"github.com/webalive/workerspawn/internal/store"
)

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
	var orphans, missing []string
	if v := args.Get(0); v != nil {
		orphans = v.([]string)
	}
	if v := args.Get(1); v != nil {
		missing = v.([]string)
	}
	return orphans, missing, args.Error(2)
}

func (m *mockDriver) Close() error { return nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSweepPrunesExpiredState(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutSession(ctx, store.Session{
		ID: "sess-expired", OwnerID: "owner", Image: "img",
		CreatedAt: time.Now().Add(-time.Hour), ExpiresAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, st.PutSession(ctx, store.Session{
		ID: "sess-live", OwnerID: "owner", Image: "img",
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))

	driver := &mockDriver{}
	r := New(st, driver, time.Hour, zerolog.Nop())
	r.sweep(ctx)

	_, err := st.GetSession(ctx, "sess-expired")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetSession(ctx, "sess-live")
	assert.NoError(t, err)

	driver.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
}

func TestReconcileDeletesOrphansAndExpiresMissing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutSession(ctx, store.Session{
		ID: "sess-missing-worker", OwnerID: "owner", Image: "img",
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))

	driver := &mockDriver{}
	driver.On("Reconcile", mock.Anything, mock.MatchedBy(func(m map[string]string) bool {
		_, ok := m["sess-missing-worker"]
		return ok
	})).Return([]string{"orphan-container-1"}, []string{"sess-missing-worker"}, nil)
	driver.On("BestEffortDelete", mock.Anything, "orphan-container-1").Return(nil)

	r := New(st, driver, time.Hour, zerolog.Nop())
	r.reconcile(ctx)

	sess, err := st.GetSession(ctx, "sess-missing-worker")
	require.NoError(t, err)
	assert.Equal(t, store.StatusExpired, sess.Status)

	driver.AssertExpectations(t)
}

func TestReconcileSkipsCleanupWhenNothingDrifted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	driver := &mockDriver{}
	driver.On("Reconcile", mock.Anything, mock.Anything).Return(nil, nil, nil)

	r := New(st, driver, time.Hour, zerolog.Nop())
	r.reconcile(ctx)

	driver.AssertNotCalled(t, "BestEffortDelete", mock.Anything, mock.Anything)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := newTestStore(t)

	driver := &mockDriver{}
	driver.On("Reconcile", mock.Anything, mock.Anything).Return(nil, nil, nil)

	r := New(st, driver, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
