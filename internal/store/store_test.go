package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testSession(id string) Session {
	now := time.Now().UTC()
	return Session{
		ID:        id,
		OwnerID:   "owner-1",
		Image:     "workerspawn/base:latest",
		CodeURL:   "https://github.com/example/repo/tree/main/app",
		Command:   "npm start",
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Minute),
	}
}

func TestPutAndGetSession(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess := testSession("sess-1")

	require.NoError(t, st.PutSession(ctx, sess))

	got, err := st.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, sess.OwnerID, got.OwnerID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "", got.Endpoint)
}

func TestGetSessionNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetEndpointOnceIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.PutSession(ctx, testSession("sess-1")))

	require.NoError(t, st.SetEndpointOnce(ctx, "sess-1", "http://10.0.0.5:7681"))
	got, err := st.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRoutable, got.Status)
	assert.Equal(t, "http://10.0.0.5:7681", got.Endpoint)

	// a second resolution from a racing reconcile pass must not overwrite it
	require.NoError(t, st.SetEndpointOnce(ctx, "sess-1", "http://10.0.0.9:7681"))
	got, err = st.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:7681", got.Endpoint)
}

func TestConsumeJTIIsSingleUse(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.PutJTI(ctx, "jti-1", "sess-1", time.Now().Add(time.Minute)))

	sessionID, err := st.ConsumeJTI(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)

	_, err = st.ConsumeJTI(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsumeJTIExpired(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.PutJTI(ctx, "jti-1", "sess-1", time.Now().Add(-time.Minute)))

	_, err := st.ConsumeJTI(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPruneExpired(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	expired := testSession("sess-expired")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, st.PutSession(ctx, expired))
	require.NoError(t, st.PutJTI(ctx, "jti-expired", "sess-expired", time.Now().Add(-time.Minute)))

	fresh := testSession("sess-fresh")
	require.NoError(t, st.PutSession(ctx, fresh))

	sessionsPruned, jtisPruned, err := st.PruneExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sessionsPruned)
	assert.EqualValues(t, 1, jtisPruned)

	_, err = st.GetSession(ctx, "sess-expired")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetSession(ctx, "sess-fresh")
	assert.NoError(t, err)
}
