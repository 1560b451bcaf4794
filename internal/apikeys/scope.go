package apikeys

import (
	"fmt"
	"sort"
	"strings"
)

// Scope priorities: admin > write > read. A key validates for a required
// scope when its highest-priority scope meets or exceeds the requirement.
var scopePriority = map[string]int{
	"read":  0,
	"write": 1,
	"admin": 2,
}

// NormalizeScope validates a space-separated scope string and returns the
// canonical form: the subset of {read, write, admin} in ascending priority
// order. Any token outside the set is rejected.
func NormalizeScope(scope string) (string, error) {
	tokens := strings.Fields(scope)
	if len(tokens) == 0 {
		return "", fmt.Errorf("%w: empty scope", ErrInvalidScope)
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if _, ok := scopePriority[token]; !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidScope, token)
		}
		seen[token] = struct{}{}
	}
	normalized := make([]string, 0, len(seen))
	for token := range seen {
		normalized = append(normalized, token)
	}
	sort.Slice(normalized, func(i, j int) bool {
		return scopePriority[normalized[i]] < scopePriority[normalized[j]]
	})
	return strings.Join(normalized, " "), nil
}

// MaxPriority returns the highest priority among the tokens of a normalized
// scope string, or -1 when none are recognized.
func MaxPriority(scope string) int {
	max := -1
	for _, token := range strings.Fields(scope) {
		if p, ok := scopePriority[token]; ok && p > max {
			max = p
		}
	}
	return max
}

// ValidatesScope reports whether a key scope satisfies the required scope
// under the hierarchy admin > write > read.
func ValidatesScope(keyScope, required string) bool {
	requiredPriority, ok := scopePriority[required]
	if !ok {
		return false
	}
	return MaxPriority(keyScope) >= requiredPriority
}
