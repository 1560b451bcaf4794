package oauth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePKCERoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		verifier, err := GenerateVerifier()
		require.NoError(t, err)
		challenge := ComputeChallenge(verifier)
		assert.NoError(t, ValidatePKCE(verifier, challenge, PKCEMethodS256))
	}
}

func TestValidatePKCEWrongVerifier(t *testing.T) {
	verifier, err := GenerateVerifier()
	require.NoError(t, err)
	other, err := GenerateVerifier()
	require.NoError(t, err)

	challenge := ComputeChallenge(verifier)
	assert.Error(t, ValidatePKCE(other, challenge, PKCEMethodS256))
}

func TestValidatePKCERejectsPlainMethod(t *testing.T) {
	verifier, err := GenerateVerifier()
	require.NoError(t, err)

	// "plain" would let the challenge equal the verifier; only S256 counts.
	assert.Error(t, ValidatePKCE(verifier, verifier, "plain"))
	assert.Error(t, ValidatePKCE(verifier, ComputeChallenge(verifier), ""))
}

func TestValidatePKCEVerifierLengthBounds(t *testing.T) {
	short := strings.Repeat("a", 42)
	long := strings.Repeat("a", 129)
	exact := strings.Repeat("a", 43)

	assert.Error(t, ValidatePKCE(short, ComputeChallenge(short), PKCEMethodS256))
	assert.Error(t, ValidatePKCE(long, ComputeChallenge(long), PKCEMethodS256))
	assert.NoError(t, ValidatePKCE(exact, ComputeChallenge(exact), PKCEMethodS256))
}

func TestComputeChallengeIsUnpadded(t *testing.T) {
	verifier, err := GenerateVerifier()
	require.NoError(t, err)
	challenge := ComputeChallenge(verifier)
	assert.Len(t, challenge, 43, "base64url of sha256 without padding")
	assert.NotContains(t, challenge, "=")
}
