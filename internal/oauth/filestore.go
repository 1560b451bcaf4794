package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	codesFilename         = "oauth_codes.json"
	accessTokensFilename  = "oauth_access_tokens.json"
	refreshTokensFilename = "oauth_refresh_tokens.json"
)

// FileStorage is the default Storage implementation: one JSON file per
// record family, fully rewritten (write-to-temp-then-rename) on mutation.
// One process owns the storage directory.
type FileStorage struct {
	mu  sync.Mutex
	dir string

	codes         map[string]*AuthorizationCode
	accessTokens  map[string]*AccessTokenRecord
	refreshTokens map[string]*RefreshToken

	logger *zap.Logger
}

// NewFileStorage loads (or creates) the JSON files under dir. Permission
// errors fall back to a writable temp directory with a warning.
func NewFileStorage(dir string, logger *zap.Logger) (*FileStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fallback := filepath.Join(os.TempDir(), "gateway-oauth")
		logger.Warn("oauth storage directory not writable, falling back to temp",
			zap.String("dir", dir),
			zap.String("fallback", fallback),
			zap.Error(err))
		if mkErr := os.MkdirAll(fallback, 0o700); mkErr != nil {
			return nil, fmt.Errorf("failed to create oauth storage directory: %w", mkErr)
		}
		dir = fallback
	}

	fs := &FileStorage{
		dir:           dir,
		codes:         make(map[string]*AuthorizationCode),
		accessTokens:  make(map[string]*AccessTokenRecord),
		refreshTokens: make(map[string]*RefreshToken),
		logger:        logger,
	}
	if err := loadJSONFile(filepath.Join(dir, codesFilename), &fs.codes); err != nil {
		return nil, err
	}
	if err := loadJSONFile(filepath.Join(dir, accessTokensFilename), &fs.accessTokens); err != nil {
		return nil, err
	}
	if err := loadJSONFile(filepath.Join(dir, refreshTokensFilename), &fs.refreshTokens); err != nil {
		return nil, err
	}
	return fs, nil
}

func loadJSONFile(path string, target any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// writeJSONFile rewrites the whole file atomically so readers never observe
// a half-written version.
func writeJSONFile(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

func (f *FileStorage) persistCodes() error {
	return writeJSONFile(filepath.Join(f.dir, codesFilename), f.codes)
}

func (f *FileStorage) persistAccessTokens() error {
	return writeJSONFile(filepath.Join(f.dir, accessTokensFilename), f.accessTokens)
}

func (f *FileStorage) persistRefreshTokens() error {
	return writeJSONFile(filepath.Join(f.dir, refreshTokensFilename), f.refreshTokens)
}

func (f *FileStorage) SaveAuthorizationCode(code *AuthorizationCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *code
	f.codes[code.Code] = &cp
	return f.persistCodes()
}

func (f *FileStorage) GetAuthorizationCode(code string) (*AuthorizationCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

func (f *FileStorage) UpdateAuthorizationCode(code *AuthorizationCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.codes[code.Code]; !ok {
		return ErrNotFound
	}
	cp := *code
	f.codes[code.Code] = &cp
	return f.persistCodes()
}

func (f *FileStorage) DeleteAuthorizationCode(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.codes, code)
	return f.persistCodes()
}

func (f *FileStorage) SaveAccessToken(record *AccessTokenRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *record
	f.accessTokens[record.JTI] = &cp
	return f.persistAccessTokens()
}

func (f *FileStorage) GetAccessToken(jti string) (*AccessTokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.accessTokens[jti]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

func (f *FileStorage) SaveRefreshToken(token *RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *token
	f.refreshTokens[token.Token] = &cp
	return f.persistRefreshTokens()
}

func (f *FileStorage) GetRefreshToken(token string, includeRevoked bool) (*RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.refreshTokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Revoked && !includeRevoked {
		return nil, ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

func (f *FileStorage) UpdateRefreshToken(token *RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.refreshTokens[token.Token]; !ok {
		return ErrNotFound
	}
	cp := *token
	f.refreshTokens[token.Token] = &cp
	return f.persistRefreshTokens()
}

func (f *FileStorage) RevokeRefreshToken(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.refreshTokens[token]
	if !ok {
		return ErrNotFound
	}
	stored.Revoked = true
	return f.persistRefreshTokens()
}

func (f *FileStorage) ListRefreshTokensByClient(clientID string, includeRevoked bool) ([]*RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*RefreshToken
	for _, t := range f.refreshTokens {
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

func (f *FileStorage) Sweep(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for code, c := range f.codes {
		if now.After(c.ExpiresAt) {
			delete(f.codes, code)
			removed++
		}
	}
	for token, t := range f.refreshTokens {
		if now.After(t.ExpiresAt) {
			delete(f.refreshTokens, token)
			removed++
		}
	}
	for jti, t := range f.accessTokens {
		if now.After(t.ExpiresAt) {
			delete(f.accessTokens, jti)
			removed++
		}
	}
	if removed > 0 {
		if err := f.persistCodes(); err != nil {
			f.logger.Error("failed to persist swept codes", zap.Error(err))
		}
		if err := f.persistRefreshTokens(); err != nil {
			f.logger.Error("failed to persist swept refresh tokens", zap.Error(err))
		}
		if err := f.persistAccessTokens(); err != nil {
			f.logger.Error("failed to persist swept access tokens", zap.Error(err))
		}
	}
	return removed
}

var _ Storage = (*FileStorage)(nil)
