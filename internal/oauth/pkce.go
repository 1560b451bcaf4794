package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// PKCE per RFC 7636, S256 only.

const (
	// PKCEMethodS256 is the only supported code_challenge_method.
	PKCEMethodS256 = "S256"

	minVerifierLength = 43
	maxVerifierLength = 128
)

// ComputeChallenge derives the S256 code challenge for a verifier:
// base64url(sha256(verifier)) with padding stripped.
func ComputeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateVerifier returns a random verifier of valid length, for clients
// and tests.
func GenerateVerifier() (string, error) {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidatePKCE verifies a code_verifier against a stored challenge using
// constant-time comparison. Only S256 is accepted.
func ValidatePKCE(verifier, challenge, method string) error {
	if method != PKCEMethodS256 {
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return fmt.Errorf("code_verifier length must be between %d and %d", minVerifierLength, maxVerifierLength)
	}
	computed := ComputeChallenge(verifier)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}
