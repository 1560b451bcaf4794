// Package ratelimit implements the per-client multi-window token bucket.
// Each client holds three buckets (minute, hour, day) consumed tightest
// window first; a rejection at a wider window refunds the tokens already
// taken from tighter windows so a rejected request costs nothing.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Limits holds the three window capacities.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// DefaultLimits mirror the documented env defaults.
func DefaultLimits() Limits {
	return Limits{PerMinute: 60, PerHour: 1000, PerDay: 10000}
}

// Result reports one admission decision.
type Result struct {
	Allowed    bool
	Reason     string
	RetryAfter float64 // seconds until the first failing bucket can serve one token
}

type bucket struct {
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

func newBucket(capacity int, window time.Duration, now time.Time) *bucket {
	cap64 := float64(capacity)
	return &bucket{
		capacity:   cap64,
		refillRate: cap64 / window.Seconds(),
		tokens:     cap64,
		lastRefill: now,
	}
}

// refill is lazy and saturating: tokens never exceed capacity.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
	}
	b.lastRefill = now
}

// consume takes n tokens when available. Requests beyond capacity never
// succeed and never decrement.
func (b *bucket) consume(n float64) bool {
	if n > b.tokens {
		return false
	}
	b.tokens -= n
	return true
}

// waitTime returns the seconds until n tokens are available.
func (b *bucket) waitTime(n float64) float64 {
	deficit := n - b.tokens
	if deficit <= 0 {
		return 0
	}
	return deficit / b.refillRate
}

type windowName string

const (
	windowMinute windowName = "minute"
	windowHour   windowName = "hour"
	windowDay    windowName = "day"
)

type clientState struct {
	minute *bucket
	hour   *bucket
	day    *bucket

	totalRequests    int64
	rejectedRequests int64
	firstSeen        time.Time
	lastSeen         time.Time
}

// ClientStats is a read-only view of one client's counters.
type ClientStats struct {
	TotalRequests    int64     `json:"total_requests"`
	RejectedRequests int64     `json:"rejected_requests"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	MinuteTokens     float64   `json:"minute_tokens"`
	HourTokens       float64   `json:"hour_tokens"`
	DayTokens        float64   `json:"day_tokens"`
}

// Limiter admits requests per client id. Client state is created lazily and
// kept for the process lifetime.
type Limiter struct {
	mu       sync.Mutex
	defaults Limits
	clients  map[string]*clientState

	totalRequests    int64
	rejectedRequests int64

	logger *zap.Logger
	now    func() time.Time // test seam
}

// NewLimiter creates a limiter with the given default limits.
func NewLimiter(defaults Limits, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		defaults: defaults,
		clients:  make(map[string]*clientState),
		logger:   logger,
		now:      time.Now,
	}
}

func (l *Limiter) clientFor(clientID string, limits Limits, now time.Time) *clientState {
	state, ok := l.clients[clientID]
	if !ok {
		state = &clientState{
			minute:    newBucket(limits.PerMinute, time.Minute, now),
			hour:      newBucket(limits.PerHour, time.Hour, now),
			day:       newBucket(limits.PerDay, 24*time.Hour, now),
			firstSeen: now,
		}
		l.clients[clientID] = state
	}
	return state
}

// Check admits or rejects one request for clientID under the default limits.
func (l *Limiter) Check(clientID string) Result {
	return l.CheckWithLimits(clientID, l.defaults)
}

// CheckWithLimits admits or rejects one request under explicit limits
// (per-plugin overrides). Limits only apply when the client's buckets are
// first created.
func (l *Limiter) CheckWithLimits(clientID string, limits Limits) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.clientFor(clientID, limits, now)
	state.lastSeen = now
	state.totalRequests++
	l.totalRequests++

	ordered := []struct {
		name   windowName
		bucket *bucket
	}{
		{windowMinute, state.minute},
		{windowHour, state.hour},
		{windowDay, state.day},
	}

	for _, w := range ordered {
		w.bucket.refill(now)
	}

	var consumed []*bucket
	for _, w := range ordered {
		if w.bucket.consume(1) {
			consumed = append(consumed, w.bucket)
			continue
		}
		// Refund tighter windows so the rejected request costs nothing.
		for _, b := range consumed {
			b.tokens = math.Min(b.capacity, b.tokens+1)
		}
		state.rejectedRequests++
		l.rejectedRequests++
		retryAfter := w.bucket.waitTime(1)
		return Result{
			Allowed:    false,
			Reason:     fmt.Sprintf("%s limit exceeded", w.name),
			RetryAfter: retryAfter,
		}
	}

	return Result{Allowed: true}
}

// Stats returns a snapshot of one client's counters and bucket levels.
func (l *Limiter) Stats(clientID string) (ClientStats, bool) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.clients[clientID]
	if !ok {
		return ClientStats{}, false
	}
	state.minute.refill(now)
	state.hour.refill(now)
	state.day.refill(now)
	return ClientStats{
		TotalRequests:    state.totalRequests,
		RejectedRequests: state.rejectedRequests,
		FirstSeen:        state.firstSeen,
		LastSeen:         state.lastSeen,
		MinuteTokens:     state.minute.tokens,
		HourTokens:       state.hour.tokens,
		DayTokens:        state.day.tokens,
	}, true
}

// GlobalStats returns the process-wide counter pair.
func (l *Limiter) GlobalStats() (total, rejected int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalRequests, l.rejectedRequests
}

// Reset removes one client's state.
func (l *Limiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, clientID)
}

// ResetAll wipes all client state and global counters.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients = make(map[string]*clientState)
	l.totalRequests = 0
	l.rejectedRequests = 0
}

// SetNowFunc overrides the clock; tests only.
func (l *Limiter) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
