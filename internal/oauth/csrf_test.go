package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFTokenSingleUse(t *testing.T) {
	store := NewCSRFStore()
	token, err := store.Generate()
	require.NoError(t, err)
	require.Len(t, token, 64)

	assert.True(t, store.Consume(token))
	assert.False(t, store.Consume(token), "second consume must fail")
	assert.False(t, store.Consume("unknown"))
}

func TestCSRFTokenExpiry(t *testing.T) {
	store := NewCSRFStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return now })

	token, err := store.Generate()
	require.NoError(t, err)

	now = now.Add(CSRFTokenTTL + time.Second)
	assert.False(t, store.Consume(token))
}

func TestCSRFGenerateSweepsExpired(t *testing.T) {
	store := NewCSRFStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return now })

	stale, err := store.Generate()
	require.NoError(t, err)

	now = now.Add(CSRFTokenTTL + time.Second)
	_, err = store.Generate()
	require.NoError(t, err)

	store.mu.Lock()
	_, kept := store.tokens[stale]
	store.mu.Unlock()
	assert.False(t, kept, "expired tokens are swept during Generate")
}
