package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frozenLimiter returns a limiter whose clock is pinned to a mutable instant.
func frozenLimiter(limits Limits) (*Limiter, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(limits, nil)
	l.SetNowFunc(func() time.Time { return now })
	return l, &now
}

func TestCheckAllowsUpToMinuteCapacity(t *testing.T) {
	l, _ := frozenLimiter(Limits{PerMinute: 3, PerHour: 100, PerDay: 1000})

	for i := 0; i < 3; i++ {
		res := l.Check("client-a")
		assert.True(t, res.Allowed, "request %d", i)
	}

	res := l.Check("client-a")
	require.False(t, res.Allowed)
	assert.Equal(t, "minute limit exceeded", res.Reason)
	assert.Greater(t, res.RetryAfter, 0.0)
}

func TestRejectionAtWiderWindowRefundsTighterWindows(t *testing.T) {
	// Hour capacity below minute capacity forces the hour bucket to reject
	// while the minute bucket still has tokens.
	l, _ := frozenLimiter(Limits{PerMinute: 10, PerHour: 2, PerDay: 1000})

	require.True(t, l.Check("client-a").Allowed)
	require.True(t, l.Check("client-a").Allowed)

	res := l.Check("client-a")
	require.False(t, res.Allowed)
	assert.Equal(t, "hour limit exceeded", res.Reason)

	stats, ok := l.Stats("client-a")
	require.True(t, ok)
	// Two admitted requests consumed from the minute bucket; the rejected
	// third was refunded there.
	assert.InDelta(t, 8.0, stats.MinuteTokens, 0.001)
	assert.InDelta(t, 0.0, stats.HourTokens, 0.001)
	assert.InDelta(t, 998.0, stats.DayTokens, 0.001)
}

func TestRejectedRequestCostsNothing(t *testing.T) {
	l, now := frozenLimiter(Limits{PerMinute: 2, PerHour: 100, PerDay: 1000})

	require.True(t, l.Check("client-a").Allowed)
	require.True(t, l.Check("client-a").Allowed)

	// Hammering the exhausted limiter must not drain the wider windows.
	for i := 0; i < 50; i++ {
		require.False(t, l.Check("client-a").Allowed)
	}
	stats, _ := l.Stats("client-a")
	assert.InDelta(t, 98.0, stats.HourTokens, 0.001)
	assert.InDelta(t, 998.0, stats.DayTokens, 0.001)

	// After a full minute the minute bucket is whole again.
	*now = now.Add(time.Minute)
	assert.True(t, l.Check("client-a").Allowed)
}

func TestRefillIsGradualAndSaturating(t *testing.T) {
	l, now := frozenLimiter(Limits{PerMinute: 60, PerHour: 1000, PerDay: 10000})

	for i := 0; i < 60; i++ {
		require.True(t, l.Check("client-a").Allowed)
	}
	require.False(t, l.Check("client-a").Allowed)

	// 60/minute refills one token per second.
	*now = now.Add(2 * time.Second)
	assert.True(t, l.Check("client-a").Allowed)
	assert.True(t, l.Check("client-a").Allowed)
	assert.False(t, l.Check("client-a").Allowed)

	// Long idle periods saturate at capacity, never beyond.
	*now = now.Add(48 * time.Hour)
	stats, _ := l.Stats("client-a")
	assert.InDelta(t, 60.0, stats.MinuteTokens, 0.001)
	assert.InDelta(t, 10000.0, stats.DayTokens, 0.001)
}

func TestRetryAfterMatchesRefillRate(t *testing.T) {
	l, _ := frozenLimiter(Limits{PerMinute: 60, PerHour: 1000, PerDay: 10000})

	for i := 0; i < 60; i++ {
		l.Check("client-a")
	}
	res := l.Check("client-a")
	require.False(t, res.Allowed)
	// One token at 1 token/second.
	assert.InDelta(t, 1.0, res.RetryAfter, 0.001)
}

func TestClientsAreIndependent(t *testing.T) {
	l, _ := frozenLimiter(Limits{PerMinute: 1, PerHour: 100, PerDay: 1000})

	require.True(t, l.Check("client-a").Allowed)
	require.False(t, l.Check("client-a").Allowed)
	assert.True(t, l.Check("client-b").Allowed)
}

func TestCheckWithLimitsAppliesAtFirstSight(t *testing.T) {
	l, _ := frozenLimiter(DefaultLimits())

	custom := Limits{PerMinute: 1, PerHour: 10, PerDay: 100}
	require.True(t, l.CheckWithLimits("client-a", custom).Allowed)
	// Buckets were sized at first sight; later calls with other limits do
	// not resize them.
	assert.False(t, l.CheckWithLimits("client-a", DefaultLimits()).Allowed)
}

func TestGlobalStatsAndReset(t *testing.T) {
	l, _ := frozenLimiter(Limits{PerMinute: 1, PerHour: 10, PerDay: 100})

	l.Check("client-a")
	l.Check("client-a")
	l.Check("client-b")

	total, rejected := l.GlobalStats()
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(1), rejected)

	stats, ok := l.Stats("client-a")
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.RejectedRequests)

	l.Reset("client-a")
	_, ok = l.Stats("client-a")
	assert.False(t, ok)

	l.ResetAll()
	total, rejected = l.GlobalStats()
	assert.Zero(t, total)
	assert.Zero(t, rejected)
}
