package oauth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifiedmcp/gateway/internal/audit"
)

func newTestTokenManager(t *testing.T, storage Storage) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(storage, TokenManagerOptions{
		Secret: "unit-test-secret",
		Issuer: "https://gateway.test",
	})
	require.NoError(t, err)
	return m
}

func TestNewTokenManagerRejectsBadConfig(t *testing.T) {
	storage := NewMemoryStorage()

	_, err := NewTokenManager(storage, TokenManagerOptions{})
	assert.Error(t, err, "secret is required")

	_, err = NewTokenManager(storage, TokenManagerOptions{Secret: "x", Algorithm: "RS256"})
	assert.Error(t, err, "asymmetric algorithms are rejected")

	_, err = NewTokenManager(storage, TokenManagerOptions{Secret: "x", Algorithm: "none"})
	assert.Error(t, err)

	m, err := NewTokenManager(storage, TokenManagerOptions{Secret: "x", Algorithm: "HS512"})
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestMintAndValidateAccessToken(t *testing.T) {
	storage := NewMemoryStorage()
	m := newTestTokenManager(t, storage)

	signed, record, err := m.MintAccessToken("client_abc", "read write", "wordpress_main", "")
	require.NoError(t, err)
	require.NotNil(t, record)

	claims, err := m.ValidateAccessToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "client_abc", claims.ClientID)
	assert.Equal(t, "read write", claims.Scope)
	assert.Equal(t, "wordpress_main", claims.ProjectID)
	assert.Equal(t, "https://gateway.test", claims.Issuer)
	assert.Equal(t, "client_abc", claims.Subject, "empty subject defaults to client id")
	assert.Equal(t, record.JTI, claims.ID)

	// The jti is recorded for introspection.
	stored, err := storage.GetAccessToken(record.JTI)
	require.NoError(t, err)
	assert.Equal(t, "wordpress_main", stored.ProjectID)
}

func TestValidateAccessTokenExpiry(t *testing.T) {
	m := newTestTokenManager(t, NewMemoryStorage())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetNowFunc(func() time.Time { return now })

	signed, _, err := m.MintAccessToken("client_abc", "read", "*", "")
	require.NoError(t, err)

	now = now.Add(m.AccessTokenTTL() + time.Minute)
	_, err = m.ValidateAccessToken(signed)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateAccessTokenRejectsTampering(t *testing.T) {
	m := newTestTokenManager(t, NewMemoryStorage())
	signed, _, err := m.MintAccessToken("client_abc", "read", "*", "")
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(signed + "x")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	other, err := NewTokenManager(NewMemoryStorage(), TokenManagerOptions{Secret: "different-secret"})
	require.NoError(t, err)
	_, err = other.ValidateAccessToken(signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRotateIssuesNewPairAndTombstonesOld(t *testing.T) {
	storage := NewMemoryStorage()
	m := newTestTokenManager(t, storage)

	first, err := m.IssueRefreshToken("client_abc", "read", "wordpress_main", "jti-1", 0)
	require.NoError(t, err)

	access, next, oerr := m.Rotate(first.Token, "client_abc")
	require.Nil(t, oerr)
	require.NotEqual(t, first.Token, next.Token)
	assert.Equal(t, 1, next.RotationCount)
	assert.Equal(t, "read", next.Scope)
	assert.Equal(t, "wordpress_main", next.ProjectID)

	claims, err := m.ValidateAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, "wordpress_main", claims.ProjectID)

	// The rotated-out token remains as a revoked tombstone.
	tombstone, err := storage.GetRefreshToken(first.Token, true)
	require.NoError(t, err)
	assert.True(t, tombstone.Revoked)
}

func TestRotateReuseRevokesWholeClient(t *testing.T) {
	storage := NewMemoryStorage()
	auditLog, err := audit.NewLogger(t.TempDir(), nil)
	require.NoError(t, err)
	m, err := NewTokenManager(storage, TokenManagerOptions{
		Secret: "unit-test-secret",
		Issuer: "https://gateway.test",
		Audit:  auditLog,
	})
	require.NoError(t, err)

	first, err := m.IssueRefreshToken("client_abc", "read", "*", "jti-1", 0)
	require.NoError(t, err)
	_, second, oerr := m.Rotate(first.Token, "client_abc")
	require.Nil(t, oerr)

	// Presenting the rotated-out token is treated as theft.
	_, _, oerr = m.Rotate(first.Token, "client_abc")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)

	// The otherwise valid successor was revoked as part of the response.
	_, _, oerr = m.Rotate(second.Token, "client_abc")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)

	live, err := storage.ListRefreshTokensByClient("client_abc", false)
	require.NoError(t, err)
	assert.Empty(t, live)

	// The theft signal lands in the audit log as a critical entry.
	entries, err := auditLog.Query(audit.Filter{Level: audit.LevelCritical})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	msg, _ := entries[0]["message"].(string)
	assert.Contains(t, msg, "reuse")
	assert.Equal(t, "client_abc", entries[0]["client_id"])
}

func TestRotateSerializesConcurrentAttempts(t *testing.T) {
	storage := NewMemoryStorage()
	m := newTestTokenManager(t, storage)

	first, err := m.IssueRefreshToken("client_abc", "read", "*", "jti-1", 0)
	require.NoError(t, err)

	const workers = 8
	start := make(chan struct{})
	results := make(chan *Error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, oerr := m.Rotate(first.Token, "client_abc")
			results <- oerr
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	successes := 0
	for oerr := range results {
		if oerr == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "a refresh token rotates exactly once under concurrency")
}

func TestRotateClientMismatch(t *testing.T) {
	m := newTestTokenManager(t, NewMemoryStorage())
	token, err := m.IssueRefreshToken("client_abc", "read", "*", "jti-1", 0)
	require.NoError(t, err)

	_, _, oerr := m.Rotate(token.Token, "client_other")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)
}

func TestRotateExpiredToken(t *testing.T) {
	storage := NewMemoryStorage()
	m := newTestTokenManager(t, storage)
	now := time.Now().Add(-30 * 24 * time.Hour)
	m.SetNowFunc(func() time.Time { return now })

	token, err := m.IssueRefreshToken("client_abc", "read", "*", "jti-1", 0)
	require.NoError(t, err)

	m.SetNowFunc(time.Now)
	_, _, oerr := m.Rotate(token.Token, "client_abc")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_grant", oerr.Code)
}
