package oauth

import (
	"sync"
	"time"
)

// MemoryStorage is the in-memory Storage implementation, used in tests and
// available via OAUTH_STORAGE_TYPE=memory.
type MemoryStorage struct {
	mu            sync.Mutex
	codes         map[string]*AuthorizationCode
	accessTokens  map[string]*AccessTokenRecord
	refreshTokens map[string]*RefreshToken
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		codes:         make(map[string]*AuthorizationCode),
		accessTokens:  make(map[string]*AccessTokenRecord),
		refreshTokens: make(map[string]*RefreshToken),
	}
}

func (m *MemoryStorage) SaveAuthorizationCode(code *AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *code
	m.codes[code.Code] = &cp
	return nil
}

func (m *MemoryStorage) GetAuthorizationCode(code string) (*AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

func (m *MemoryStorage) UpdateAuthorizationCode(code *AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[code.Code]; !ok {
		return ErrNotFound
	}
	cp := *code
	m.codes[code.Code] = &cp
	return nil
}

func (m *MemoryStorage) DeleteAuthorizationCode(code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, code)
	return nil
}

func (m *MemoryStorage) SaveAccessToken(record *AccessTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.accessTokens[record.JTI] = &cp
	return nil
}

func (m *MemoryStorage) GetAccessToken(jti string) (*AccessTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.accessTokens[jti]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

func (m *MemoryStorage) SaveRefreshToken(token *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.refreshTokens[token.Token] = &cp
	return nil
}

func (m *MemoryStorage) GetRefreshToken(token string, includeRevoked bool) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.refreshTokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Revoked && !includeRevoked {
		return nil, ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

func (m *MemoryStorage) UpdateRefreshToken(token *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refreshTokens[token.Token]; !ok {
		return ErrNotFound
	}
	cp := *token
	m.refreshTokens[token.Token] = &cp
	return nil
}

func (m *MemoryStorage) RevokeRefreshToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.refreshTokens[token]
	if !ok {
		return ErrNotFound
	}
	stored.Revoked = true
	return nil
}

func (m *MemoryStorage) ListRefreshTokensByClient(clientID string, includeRevoked bool) ([]*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RefreshToken
	for _, t := range m.refreshTokens {
		if t.ClientID != clientID {
			continue
		}
		if t.Revoked && !includeRevoked {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStorage) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for code, c := range m.codes {
		if now.After(c.ExpiresAt) {
			delete(m.codes, code)
			removed++
		}
	}
	for token, t := range m.refreshTokens {
		if now.After(t.ExpiresAt) {
			delete(m.refreshTokens, token)
			removed++
		}
	}
	for jti, t := range m.accessTokens {
		if now.After(t.ExpiresAt) {
			delete(m.accessTokens, jti)
			removed++
		}
	}
	return removed
}

var _ Storage = (*MemoryStorage)(nil)
