// Package hash provides SHA-256 helpers for credential storage and
// constant-time comparison for shared-secret checks.
package hash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// StringHash computes the SHA-256 hash of a string
func StringHash(input string) string {
	hasher := sha256.New()
	hasher.Write([]byte(input))
	return hex.EncodeToString(hasher.Sum(nil))
}

// BytesHash computes the SHA-256 hash of a byte slice
func BytesHash(input []byte) string {
	hasher := sha256.New()
	hasher.Write(input)
	return hex.EncodeToString(hasher.Sum(nil))
}

// SecureCompare compares two strings in constant time.
// Used for the master key and OAuth client secret checks so that timing
// does not leak how much of the secret matched.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SecureCompareHash hashes the presented secret and compares it against a
// stored SHA-256 hex digest in constant time.
func SecureCompareHash(presented, storedHash string) bool {
	return SecureCompare(StringHash(presented), storedHash)
}
