package signer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueProducesThreeSegmentToken(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key.pem")
	s, err := LoadOrCreate(keyPath, "test-kid")
	require.NoError(t, err)

	token, jti, err := s.Issue("session-1", "owner-1", "ws", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, jti)

	segments := splitDots(token)
	assert.Len(t, segments, 3)
}

// TestIssueSeparatesSubjectFromSessionID pins the round-trip invariant:
// issue(sessionID, ownerID, ttl) must yield claims {sub=ownerID, sid=sessionID},
// never collapsing the two onto the same value.
func TestIssueSeparatesSubjectFromSessionID(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key.pem")
	s, err := LoadOrCreate(keyPath, "test-kid")
	require.NoError(t, err)

	token, jti, err := s.Issue("session-1", "owner-1", "ws", time.Minute)
	require.NoError(t, err)

	claims := &Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)

	assert.Equal(t, "owner-1", claims.Subject)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, jti, claims.ID)
	assert.Equal(t, jwt.ClaimStrings{"ws"}, claims.Audience)
}

func TestLoadOrCreatePersistsKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key.pem")

	first, err := LoadOrCreate(keyPath, "kid-1")
	require.NoError(t, err)
	tokenA, _, err := first.Issue("session-1", "owner-1", "ws", time.Minute)
	require.NoError(t, err)

	second, err := LoadOrCreate(keyPath, "kid-1")
	require.NoError(t, err)
	assert.True(t, first.privateKey.Equal(second.privateKey), "second load must reuse the persisted key")
	tokenB, _, err := second.Issue("session-1", "owner-1", "ws", time.Minute)
	require.NoError(t, err)

	assert.NotEqual(t, tokenA, tokenB, "each Issue call mints a distinct jti")
}

func splitDots(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
