package reqcontext

import "context"

type authHeaderKeyType struct{}

var authHeaderKey = authHeaderKeyType{}

// WithAuthHeader stores the raw Authorization header value for the current
// request. The endpoint transport sets it from the HTTP layer so the auth
// middleware can classify the credential at tool-call time.
func WithAuthHeader(ctx context.Context, header string) context.Context {
	return context.WithValue(ctx, authHeaderKey, header)
}

// GetAuthHeader returns the raw Authorization header value, or "".
func GetAuthHeader(ctx context.Context) string {
	header, _ := ctx.Value(authHeaderKey).(string)
	return header
}
