package oauth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/audit"
)

// Token validation sentinels. Expiry is distinguished from every other
// failure so callers can tell a client to refresh instead of re-authorize.
var (
	ErrTokenExpired = errors.New("access token expired")
	ErrTokenInvalid = errors.New("access token invalid")
)

// AccessTokenClaims is the JWT claim set for issued access tokens.
type AccessTokenClaims struct {
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	ProjectID string `json:"project_id"`
	jwt.RegisteredClaims
}

// TokenManager mints and validates JWT access tokens and owns the refresh
// token rotation chain.
type TokenManager struct {
	storage    Storage
	secret     []byte
	method     jwt.SigningMethod
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	audit      *audit.Logger
	logger     *zap.Logger

	// rotateMu serializes the rotation compare-and-set so a refresh token
	// cannot be rotated twice even under concurrent requests.
	rotateMu sync.Mutex

	now func() time.Time
}

// TokenManagerOptions configures a TokenManager.
type TokenManagerOptions struct {
	Secret          string
	Algorithm       string // HMAC family only, default HS256
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Audit           *audit.Logger
	Logger          *zap.Logger
}

// NewTokenManager builds a TokenManager. The signing secret must be set.
func NewTokenManager(storage Storage, opts TokenManagerOptions) (*TokenManager, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("jwt signing secret is required")
	}
	alg := opts.Algorithm
	if alg == "" {
		alg = "HS256"
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", alg)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("jwt algorithm %q is not an HMAC method", alg)
	}
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = time.Hour
	}
	if opts.RefreshTokenTTL <= 0 {
		opts.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenManager{
		storage:    storage,
		secret:     []byte(opts.Secret),
		method:     method,
		issuer:     opts.Issuer,
		accessTTL:  opts.AccessTokenTTL,
		refreshTTL: opts.RefreshTokenTTL,
		audit:      opts.Audit,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// SetNowFunc overrides the clock, for tests.
func (m *TokenManager) SetNowFunc(now func() time.Time) {
	m.now = now
}

// AccessTokenTTL returns the configured access token lifetime.
func (m *TokenManager) AccessTokenTTL() time.Duration {
	return m.accessTTL
}

// MintAccessToken signs a new access token and records its jti.
func (m *TokenManager) MintAccessToken(clientID, scope, projectID, subject string) (string, *AccessTokenRecord, error) {
	now := m.now().UTC()
	jti := uuid.NewString()
	if subject == "" {
		subject = clientID
	}
	claims := AccessTokenClaims{
		ClientID:  clientID,
		Scope:     scope,
		ProjectID: projectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	record := &AccessTokenRecord{
		JTI:       jti,
		ClientID:  clientID,
		Scope:     scope,
		ProjectID: projectID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.accessTTL),
	}
	if err := m.storage.SaveAccessToken(record); err != nil {
		m.logger.Warn("failed to record issued access token", zap.Error(err))
	}
	return signed, record, nil
}

// ValidateAccessToken parses and verifies a JWT access token. Returns
// ErrTokenExpired for tokens past exp and ErrTokenInvalid for everything
// else that fails verification.
func (m *TokenManager) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// IssueRefreshToken creates a fresh opaque refresh token linked to an
// access token's jti.
func (m *TokenManager) IssueRefreshToken(clientID, scope, projectID, linkedJTI string, rotationCount int) (*RefreshToken, error) {
	raw, err := randomToken("rft_", 32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	now := m.now().UTC()
	token := &RefreshToken{
		Token:             raw,
		ClientID:          clientID,
		LinkedAccessToken: linkedJTI,
		Scope:             scope,
		ProjectID:         projectID,
		ExpiresAt:         now.Add(m.refreshTTL),
		RotationCount:     rotationCount,
		IssuedAt:          now,
	}
	if err := m.storage.SaveRefreshToken(token); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}
	return token, nil
}

// Rotate exchanges a refresh token for a new access/refresh pair. The old
// token is revoked in place and kept as a tombstone. Presenting a revoked
// token is treated as theft: every live refresh token for the client is
// revoked and a critical audit event is emitted.
func (m *TokenManager) Rotate(refreshToken, clientID string) (string, *RefreshToken, *Error) {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	stored, err := m.storage.GetRefreshToken(refreshToken, true)
	if err != nil {
		return "", nil, ErrInvalidGrant("unknown refresh token")
	}

	if stored.Revoked {
		m.handleReuse(stored)
		return "", nil, ErrInvalidGrant("refresh token reuse detected; all tokens for this client have been revoked")
	}
	if stored.ClientID != clientID {
		return "", nil, ErrInvalidGrant("refresh token was issued to a different client")
	}
	if stored.IsExpired() {
		return "", nil, ErrInvalidGrant("refresh token expired")
	}

	accessToken, record, mintErr := m.MintAccessToken(stored.ClientID, stored.Scope, stored.ProjectID, stored.ClientID)
	if mintErr != nil {
		return "", nil, ErrServerError("failed to mint access token")
	}
	next, issueErr := m.IssueRefreshToken(stored.ClientID, stored.Scope, stored.ProjectID, record.JTI, stored.RotationCount+1)
	if issueErr != nil {
		return "", nil, ErrServerError("failed to issue refresh token")
	}
	if err := m.storage.RevokeRefreshToken(stored.Token); err != nil {
		m.logger.Error("failed to revoke rotated refresh token", zap.Error(err))
	}
	return accessToken, next, nil
}

// handleReuse revokes every live refresh token for the offending client.
func (m *TokenManager) handleReuse(stored *RefreshToken) {
	m.logger.Error("refresh token reuse detected",
		zap.String("client_id", stored.ClientID),
		zap.Int("rotation_count", stored.RotationCount))
	if m.audit != nil {
		m.audit.LogSecurityEvent("refresh token reuse detected", map[string]any{
			"client_id":      stored.ClientID,
			"project_id":     stored.ProjectID,
			"rotation_count": stored.RotationCount,
		})
	}
	live, err := m.storage.ListRefreshTokensByClient(stored.ClientID, false)
	if err != nil {
		m.logger.Error("failed to list refresh tokens for revocation", zap.Error(err))
		return
	}
	for _, t := range live {
		if err := m.storage.RevokeRefreshToken(t.Token); err != nil {
			m.logger.Error("failed to revoke refresh token", zap.Error(err))
		}
	}
}
