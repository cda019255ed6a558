package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowAdmitsUpToMax(t *testing.T) {
	l := New(3, time.Minute)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		res := l.Allow("caller-a")
		require.True(t, res.Allowed, "attempt %d should be admitted", i)
	}

	res := l.Allow("caller-a")
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestAllowIsPerKey(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Stop()

	require.True(t, l.Allow("caller-a").Allowed)
	assert.False(t, l.Allow("caller-a").Allowed)
	assert.True(t, l.Allow("caller-b").Allowed)
}

func TestAllowWindowExpires(t *testing.T) {
	l := New(1, 10*time.Millisecond)
	defer l.Stop()

	require.True(t, l.Allow("caller-a").Allowed)
	assert.False(t, l.Allow("caller-a").Allowed)

	time.Sleep(25 * time.Millisecond)
	assert.True(t, l.Allow("caller-a").Allowed)
}

func TestAllowAtUsesInjectedTime(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Stop()

	base := time.Now()
	res := l.allowAt("caller-a", base)
	require.True(t, res.Allowed)

	res = l.allowAt("caller-a", base.Add(30*time.Second))
	assert.False(t, res.Allowed)

	res = l.allowAt("caller-a", base.Add(61*time.Second))
	assert.True(t, res.Allowed)
}
