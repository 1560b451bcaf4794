// Package reqcontext carries per-request state through context.Context:
// the authenticated caller's identity and the request id.
//
// The identity lives in a mutable slot installed by the endpoint transport
// before the middleware chain runs. The auth middleware sets it after
// credential resolution and clears it on every exit path; the tool handler
// reads it for tenant-isolation checks. Because the slot is bound to one
// request's context, concurrent requests never observe each other's identity.
package reqcontext

import (
	"context"
	"sync"
)

// GlobalProject is the project sentinel for callers that may touch any tenant.
const GlobalProject = "*"

// Identity is the authenticated caller of the current request.
type Identity struct {
	KeyID     string
	ProjectID string
	Scope     string
	IsGlobal  bool
}

type identitySlot struct {
	mu sync.Mutex
	id *Identity
}

type slotKeyType struct{}

var slotKey = slotKeyType{}

// WithIdentitySlot installs an empty identity slot on the context.
// Called once per request by the endpoint transport.
func WithIdentitySlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, slotKey, &identitySlot{})
}

// SetIdentity records the caller's identity for the current request.
// No-op when the context has no slot.
func SetIdentity(ctx context.Context, id *Identity) {
	if slot, ok := ctx.Value(slotKey).(*identitySlot); ok {
		slot.mu.Lock()
		slot.id = id
		slot.mu.Unlock()
	}
}

// GetIdentity returns the caller's identity, or nil for anonymous requests.
func GetIdentity(ctx context.Context) *Identity {
	slot, ok := ctx.Value(slotKey).(*identitySlot)
	if !ok {
		return nil
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.id
}

// ClearIdentity removes the identity from the current request's slot.
// The auth middleware calls this on success, rejection, and handler error.
func ClearIdentity(ctx context.Context) {
	SetIdentity(ctx, nil)
}
