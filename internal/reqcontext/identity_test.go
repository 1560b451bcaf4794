package reqcontext

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentitySlotLifecycle(t *testing.T) {
	ctx := WithIdentitySlot(context.Background())
	assert.Nil(t, GetIdentity(ctx))

	id := &Identity{KeyID: "key_1", ProjectID: "wordpress_main", Scope: "read"}
	SetIdentity(ctx, id)
	assert.Equal(t, id, GetIdentity(ctx))

	ClearIdentity(ctx)
	assert.Nil(t, GetIdentity(ctx))
}

func TestIdentityWithoutSlotIsNoop(t *testing.T) {
	ctx := context.Background()
	SetIdentity(ctx, &Identity{KeyID: "key_1"})
	assert.Nil(t, GetIdentity(ctx))
	ClearIdentity(ctx) // must not panic
}

func TestIdentitySlotsAreIsolated(t *testing.T) {
	a := WithIdentitySlot(context.Background())
	b := WithIdentitySlot(context.Background())

	SetIdentity(a, &Identity{KeyID: "key_a"})
	SetIdentity(b, &Identity{KeyID: "key_b"})

	assert.Equal(t, "key_a", GetIdentity(a).KeyID)
	assert.Equal(t, "key_b", GetIdentity(b).KeyID)

	ClearIdentity(a)
	assert.Nil(t, GetIdentity(a))
	assert.NotNil(t, GetIdentity(b))
}

func TestAuthHeaderRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetAuthHeader(ctx))

	ctx = WithAuthHeader(ctx, "Bearer abc")
	assert.Equal(t, "Bearer abc", GetAuthHeader(ctx))
}

func TestRequestIDValidation(t *testing.T) {
	assert.True(t, IsValidRequestID("abc-123_DEF"))
	assert.False(t, IsValidRequestID(""))
	assert.False(t, IsValidRequestID("has space"))
	assert.False(t, IsValidRequestID("semi;colon"))
	assert.False(t, IsValidRequestID(strings.Repeat("a", MaxRequestIDLength+1)))
}

func TestGetOrGenerateRequestID(t *testing.T) {
	assert.Equal(t, "given-id", GetOrGenerateRequestID("given-id"))

	generated := GetOrGenerateRequestID("not valid!")
	assert.NotEmpty(t, generated)
	assert.True(t, IsValidRequestID(generated))
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", GetRequestID(ctx))
}
