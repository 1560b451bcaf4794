// Package oauth implements the gateway's OAuth 2.1 authorization server:
// authorization-code with mandatory PKCE S256, refresh-token rotation with
// reuse detection, JWT access tokens, client registry, and a short-lived
// CSRF token store for the consent UI.
package oauth

import "time"

// Grant types.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

const (
	// AuthorizationCodeTTL is how long an issued code stays exchangeable.
	AuthorizationCodeTTL = 5 * time.Minute
)

// AuthorizationCode is a one-time code. Used transitions monotonically
// false -> true; a second exchange is a reuse event.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	ExpiresAt           time.Time `json:"expires_at"`
	Used                bool      `json:"used"`
	UserID              string    `json:"user_id,omitempty"`

	// Set when authorization was performed with an API-key login; the
	// eventual access token inherits the key's project and scope.
	APIKeyID        string `json:"api_key_id,omitempty"`
	APIKeyProjectID string `json:"api_key_project_id,omitempty"`
	APIKeyScope     string `json:"api_key_scope,omitempty"`
}

// IsExpired reports whether the code's TTL has elapsed.
func (c *AuthorizationCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// RefreshToken is an opaque rotating token. Revoked entries are retained as
// tombstones so reuse of a rotated token is detectable.
type RefreshToken struct {
	Token             string    `json:"token"`
	ClientID          string    `json:"client_id"`
	LinkedAccessToken string    `json:"linked_access_token,omitempty"` // jti of the paired access token
	Scope             string    `json:"scope"`
	ProjectID         string    `json:"project_id"`
	ExpiresAt         time.Time `json:"expires_at"`
	Revoked           bool      `json:"revoked"`
	RotationCount     int       `json:"rotation_count"`
	IssuedAt          time.Time `json:"issued_at"`
}

// IsExpired reports whether the refresh token's TTL has elapsed.
func (r *RefreshToken) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// AccessTokenRecord is the informational record of an issued access token;
// stateless JWT validation remains canonical.
type AccessTokenRecord struct {
	JTI       string    `json:"jti"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	ProjectID string    `json:"project_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client is one registered OAuth client. Only the secret's SHA-256 hash is
// stored.
type Client struct {
	ClientID                string            `json:"client_id"`
	ClientSecretHash        string            `json:"client_secret_hash,omitempty"`
	ClientName              string            `json:"client_name"`
	RedirectURIs            []string          `json:"redirect_uris"`
	GrantTypes              []string          `json:"grant_types"`
	AllowedScopes           []string          `json:"allowed_scopes"`
	TokenEndpointAuthMethod string            `json:"token_endpoint_auth_method"`
	Metadata                map[string]string `json:"metadata,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
}

// AllowsGrant reports whether the client may use a grant type.
func (c *Client) AllowsGrant(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirectURI requires an exact match against the registered list.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AllowsScope reports whether a single scope token is permitted.
func (c *Client) AllowsScope(scope string) bool {
	for _, s := range c.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenResponse is the success payload of the /token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
