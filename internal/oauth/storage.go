package oauth

import (
	"errors"
	"time"
)

// ErrNotFound is returned by storage lookups for unknown records.
var ErrNotFound = errors.New("oauth record not found")

// Storage is the persistence interface for the OAuth server. Implementations
// ship file-backed (default) and in-memory (testing); a networked binding
// can be added behind the same interface.
//
// GetRefreshToken is the only entry point that can observe revoked
// tombstones; that path is what makes refresh-token reuse detectable.
type Storage interface {
	SaveAuthorizationCode(code *AuthorizationCode) error
	GetAuthorizationCode(code string) (*AuthorizationCode, error)
	UpdateAuthorizationCode(code *AuthorizationCode) error
	DeleteAuthorizationCode(code string) error

	SaveAccessToken(record *AccessTokenRecord) error
	GetAccessToken(jti string) (*AccessTokenRecord, error)

	SaveRefreshToken(token *RefreshToken) error
	GetRefreshToken(token string, includeRevoked bool) (*RefreshToken, error)
	UpdateRefreshToken(token *RefreshToken) error
	RevokeRefreshToken(token string) error
	ListRefreshTokensByClient(clientID string, includeRevoked bool) ([]*RefreshToken, error)

	// Sweep removes expired authorization codes and expired non-tombstone
	// refresh tokens; returns the number of records removed. A background
	// task calls this periodically.
	Sweep(now time.Time) int
}
