package apikeys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeScope(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"single scope", "read", "read", false},
		{"already ordered", "read write", "read write", false},
		{"reversed order", "write read", "read write", false},
		{"all scopes shuffled", "admin read write", "read write admin", false},
		{"duplicates collapse", "read read write", "read write", false},
		{"extra whitespace", "  write   read  ", "read write", false},
		{"empty", "", "", true},
		{"unknown token", "read superuser", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeScope(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeScopeIdempotent(t *testing.T) {
	inputs := []string{"read", "write read", "admin write read", "read admin"}
	for _, in := range inputs {
		once, err := NormalizeScope(in)
		require.NoError(t, err)
		twice, err := NormalizeScope(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "normalization must be idempotent for %q", in)
	}
}

func TestValidatesScope(t *testing.T) {
	tests := []struct {
		keyScope string
		required string
		want     bool
	}{
		{"read", "read", true},
		{"read", "write", false},
		{"read", "admin", false},
		{"write", "read", true},
		{"write", "write", true},
		{"write", "admin", false},
		{"admin", "read", true},
		{"admin", "write", true},
		{"admin", "admin", true},
		{"read write", "write", true},
		{"read write", "admin", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidatesScope(tt.keyScope, tt.required),
			"ValidatesScope(%q, %q)", tt.keyScope, tt.required)
	}
}

func TestMaxPriority(t *testing.T) {
	assert.Equal(t, 0, MaxPriority("read"))
	assert.Equal(t, 1, MaxPriority("read write"))
	assert.Equal(t, 2, MaxPriority("read admin"))
	assert.Equal(t, -1, MaxPriority(""))
}
