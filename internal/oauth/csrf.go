package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// CSRFTokenTTL is how long a consent-form token stays valid.
const CSRFTokenTTL = 600 * time.Second

// CSRFStore issues one-time tokens for the authorization UI. Expired
// entries are swept lazily during Generate.
type CSRFStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

// NewCSRFStore creates an empty store.
func NewCSRFStore() *CSRFStore {
	return &CSRFStore{
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (s *CSRFStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Generate returns a fresh random hex token, sweeping expired entries.
func (s *CSRFStore) Generate() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	token := hex.EncodeToString(b)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for t, exp := range s.tokens {
		if now.After(exp) {
			delete(s.tokens, t)
		}
	}
	s.tokens[token] = now.Add(CSRFTokenTTL)
	return token, nil
}

// Consume validates and removes a token. A token can be consumed at most
// once.
func (s *CSRFStore) Consume(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.tokens[token]
	if !ok {
		return false
	}
	delete(s.tokens, token)
	return !s.now().After(exp)
}
