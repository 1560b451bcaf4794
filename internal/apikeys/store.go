// Package apikeys manages per-project API keys. Only SHA-256 hashes are
// stored; the raw key is revealed exactly once at creation. Records persist
// to a single JSON file rewritten on every mutation.
package apikeys

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/hash"
	"github.com/unifiedmcp/gateway/internal/reqcontext"
)

const (
	// KeyPrefix marks a raw API key on the wire.
	KeyPrefix = "cmp_"

	keysFilename = "api_keys.json"
)

var (
	ErrInvalidScope      = errors.New("invalid scope")
	ErrKeyNotFound       = errors.New("api key not found")
	ErrKeyRevoked        = errors.New("api key revoked")
	ErrKeyExpired        = errors.New("api key expired")
	ErrProjectMismatch   = errors.New("api key not valid for requested project")
	ErrInsufficientScope = errors.New("api key scope insufficient")
)

// Key is one stored API key record. The raw key is never stored.
type Key struct {
	KeyID       string     `json:"key_id"`
	KeyHash     string     `json:"key_hash"`
	ProjectID   string     `json:"project_id"`
	Scope       string     `json:"scope"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	UsageCount  int64      `json:"usage_count"`
	Description string     `json:"description,omitempty"`
	Revoked     bool       `json:"revoked"`
}

// IsExpired reports whether the key has an expiry in the past.
func (k *Key) IsExpired() bool {
	return k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt)
}

// CreatedKey pairs a stored record with its raw key, revealed once.
type CreatedKey struct {
	Key    *Key
	RawKey string
}

// Store is the persistent API key table. At-most-one-writer semantics: the
// mutex serializes every mutation with its file rewrite.
type Store struct {
	mu     sync.Mutex
	path   string
	keys   map[string]*Key // key_id -> record
	logger *zap.Logger
}

// NewStore loads (or creates) the key store under dataDir. Permission
// errors on dataDir fall back to a writable temp directory with a warning.
func NewStore(dataDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := dataDir
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fallback := filepath.Join(os.TempDir(), "gateway-data")
		logger.Warn("data directory not writable, falling back to temp",
			zap.String("data_dir", dataDir),
			zap.String("fallback", fallback),
			zap.Error(err))
		if mkErr := os.MkdirAll(fallback, 0o700); mkErr != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", mkErr)
		}
		dir = fallback
	}

	s := &Store{
		path:   filepath.Join(dir, keysFilename),
		keys:   make(map[string]*Key),
		logger: logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read api key store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.keys); err != nil {
		return fmt.Errorf("failed to parse api key store: %w", err)
	}
	return nil
}

// persist rewrites the whole file via write-to-temp-then-rename so readers
// never observe a half-written store. Caller holds the lock.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.keys, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode api key store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write api key store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace api key store: %w", err)
	}
	return nil
}

// CreateKey mints a new key for a project. scope is validated and
// normalized; expiresIn of zero means no expiry. The raw key appears only in
// the returned CreatedKey.
func (s *Store) CreateKey(projectID, scope, description string, expiresIn time.Duration) (*CreatedKey, error) {
	normalized, err := NormalizeScope(scope)
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		projectID = reqcontext.GlobalProject
	}

	rawKey, err := randomToken(KeyPrefix, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}
	keyID, err := randomToken("key_", 16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key id: %w", err)
	}

	key := &Key{
		KeyID:       keyID,
		KeyHash:     hash.StringHash(rawKey),
		ProjectID:   projectID,
		Scope:       normalized,
		CreatedAt:   time.Now().UTC(),
		Description: description,
	}
	if expiresIn > 0 {
		expiry := time.Now().UTC().Add(expiresIn)
		key.ExpiresAt = &expiry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[keyID] = key
	if err := s.persist(); err != nil {
		delete(s.keys, keyID)
		return nil, err
	}

	s.logger.Info("created api key",
		zap.String("key_id", keyID),
		zap.String("project_id", projectID),
		zap.String("scope", normalized))
	return &CreatedKey{Key: key, RawKey: rawKey}, nil
}

// ValidateKey checks a presented raw key against the store. On success the
// usage counter and last-used stamp are updated and persisted.
func (s *Store) ValidateKey(rawKey, requiredScope, projectID string, skipProjectCheck bool) (*Key, error) {
	keyHash := hash.StringHash(rawKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	// O(N) lookup by hash; N is small by design.
	var key *Key
	for _, k := range s.keys {
		if k.KeyHash == keyHash {
			key = k
			break
		}
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}
	if key.Revoked {
		return nil, ErrKeyRevoked
	}
	if key.IsExpired() {
		return nil, ErrKeyExpired
	}
	if !skipProjectCheck && key.ProjectID != reqcontext.GlobalProject && projectID != "" && key.ProjectID != projectID {
		return nil, ErrProjectMismatch
	}
	if requiredScope != "" && !ValidatesScope(key.Scope, requiredScope) {
		return nil, ErrInsufficientScope
	}

	now := time.Now().UTC()
	key.LastUsedAt = &now
	key.UsageCount++
	if err := s.persist(); err != nil {
		// Usage accounting failure is logged but does not fail the auth.
		s.logger.Error("failed to persist api key usage", zap.Error(err))
	}
	return key, nil
}

// GetKey returns a record by key id.
func (s *Store) GetKey(keyID string) (*Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	return k, ok
}

// RevokeKey marks a key revoked. Revoked records are retained.
func (s *Store) RevokeKey(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyID]
	if !ok {
		return ErrKeyNotFound
	}
	if key.Revoked {
		return nil
	}
	key.Revoked = true
	if err := s.persist(); err != nil {
		return err
	}
	s.logger.Info("revoked api key", zap.String("key_id", keyID))
	return nil
}

// ListKeys returns the records for a project; empty projectID lists all.
func (s *Store) ListKeys(projectID string) []*Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Key
	for _, k := range s.keys {
		if projectID == "" || k.ProjectID == projectID {
			out = append(out, k)
		}
	}
	return out
}

// RotateKeys creates a replacement for every valid key of a project and
// revokes the originals. Each new raw key is revealed once in the result.
func (s *Store) RotateKeys(projectID string) ([]*CreatedKey, error) {
	s.mu.Lock()
	var candidates []*Key
	for _, k := range s.keys {
		if k.ProjectID == projectID && !k.Revoked && !k.IsExpired() {
			candidates = append(candidates, k)
		}
	}
	s.mu.Unlock()

	var rotated []*CreatedKey
	for _, old := range candidates {
		created, err := s.CreateKey(old.ProjectID, old.Scope, old.Description, 0)
		if err != nil {
			return rotated, fmt.Errorf("rotation failed for %s: %w", old.KeyID, err)
		}
		if err := s.RevokeKey(old.KeyID); err != nil {
			return rotated, fmt.Errorf("rotation failed to revoke %s: %w", old.KeyID, err)
		}
		rotated = append(rotated, created)
	}
	return rotated, nil
}

func randomToken(prefix string, n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}
