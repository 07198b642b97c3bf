package ratelimit

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRetryAfterPrefersRetryAfterSeconds(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := ParseRetryAfter("5", "", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(5*time.Second), got)
}

func TestParseRetryAfterFallsBackToRateLimitResetUnixSeconds(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	resetAt := now.Add(90 * time.Second)

	_, ok := ParseRetryAfter("", "", now)
	assert.False(t, ok, "no headers at all must report no known retry time")

	got, ok := ParseRetryAfter("", strconv.FormatInt(resetAt.Unix(), 10), now)
	require.True(t, ok)
	assert.WithinDuration(t, resetAt, got, time.Second)
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	g := New(nil, "skinwatch:", time.Second, 10*time.Second)

	t0 := time.Now()
	r0 := g.NextBackoff(0)
	assert.WithinDuration(t, t0.Add(1*time.Second), r0, 200*time.Millisecond)

	r3 := g.NextBackoff(3)
	assert.WithinDuration(t, t0.Add(8*time.Second), r3, 200*time.Millisecond)

	r10 := g.NextBackoff(10)
	assert.WithinDuration(t, t0.Add(10*time.Second), r10, 200*time.Millisecond)
}
