package oauth

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/audit"
	"github.com/unifiedmcp/gateway/internal/reqcontext"
)

// AuthorizationServer ties together the client registry, storage, and token
// manager behind the /authorize and /token flows.
type AuthorizationServer struct {
	clients *ClientRegistry
	storage Storage
	tokens  *TokenManager
	audit   *audit.Logger
	logger  *zap.Logger

	// exchangeMu serializes the code used-flag compare-and-set so a code
	// cannot be exchanged twice even under concurrent requests.
	exchangeMu sync.Mutex
}

// NewAuthorizationServer wires the server components.
func NewAuthorizationServer(clients *ClientRegistry, storage Storage, tokens *TokenManager, auditLog *audit.Logger, logger *zap.Logger) *AuthorizationServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthorizationServer{
		clients: clients,
		storage: storage,
		tokens:  tokens,
		audit:   auditLog,
		logger:  logger,
	}
}

// Tokens exposes the token manager for bearer validation in middleware.
func (s *AuthorizationServer) Tokens() *TokenManager {
	return s.tokens
}

// AuthorizeRequest carries the query parameters of a GET /authorize call.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorizationRequest checks an authorization request. The checks
// run in a fixed order so clients get stable error codes.
func (s *AuthorizationServer) ValidateAuthorizationRequest(req *AuthorizeRequest) (*Client, *Error) {
	client, err := s.clients.Get(req.ClientID)
	if err != nil {
		return nil, ErrInvalidClient("unknown client_id")
	}
	if req.ResponseType != "code" {
		return nil, ErrUnsupportedResponseType("only response_type=code is supported")
	}
	if !client.AllowsGrant(GrantAuthorizationCode) {
		return nil, ErrUnauthorizedClient("client is not allowed the authorization_code grant")
	}
	if !client.AllowsRedirectURI(req.RedirectURI) {
		return nil, ErrInvalidRequest("redirect_uri is not registered for this client")
	}
	if req.CodeChallenge == "" || req.CodeChallengeMethod != PKCEMethodS256 {
		return nil, ErrInvalidRequest("PKCE with code_challenge_method=S256 is required")
	}
	for _, scope := range strings.Fields(req.Scope) {
		if !client.AllowsScope(scope) {
			return nil, ErrInvalidScope("scope " + scope + " is not allowed for this client")
		}
	}
	return client, nil
}

// APIKeyGrantInfo carries the validated API key behind an authorization, so
// the eventual access token inherits the key's project and scope.
type APIKeyGrantInfo struct {
	KeyID     string
	ProjectID string
	Scope     string
}

// IssueCode validates the request and persists a one-time authorization
// code with a five minute TTL.
func (s *AuthorizationServer) IssueCode(req *AuthorizeRequest, userID string, keyInfo *APIKeyGrantInfo) (*AuthorizationCode, *Error) {
	if _, oerr := s.ValidateAuthorizationRequest(req); oerr != nil {
		return nil, oerr
	}
	raw, err := randomToken("auth_", 32)
	if err != nil {
		return nil, ErrServerError("failed to generate authorization code")
	}
	code := &AuthorizationCode{
		Code:                raw,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           time.Now().Add(AuthorizationCodeTTL),
		UserID:              userID,
	}
	if keyInfo != nil {
		code.APIKeyID = keyInfo.KeyID
		code.APIKeyProjectID = keyInfo.ProjectID
		code.APIKeyScope = keyInfo.Scope
	}
	if err := s.storage.SaveAuthorizationCode(code); err != nil {
		return nil, ErrServerError("failed to persist authorization code")
	}
	s.logger.Debug("issued authorization code",
		zap.String("client_id", req.ClientID),
		zap.String("scope", req.Scope))
	return code, nil
}

// ExchangeCode implements the authorization_code grant: one successful
// exchange per code, PKCE mandatory.
func (s *AuthorizationServer) ExchangeCode(clientID, clientSecret, code, redirectURI, codeVerifier string) (*TokenResponse, *Error) {
	client, err := s.clients.ValidateCredentials(clientID, clientSecret)
	if err != nil {
		return nil, ErrInvalidClient("client authentication failed")
	}

	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()

	stored, err := s.storage.GetAuthorizationCode(code)
	if err != nil {
		return nil, ErrInvalidGrant("unknown authorization code")
	}
	if stored.IsExpired() {
		return nil, ErrInvalidGrant("authorization code expired")
	}
	if stored.Used {
		s.logger.Error("authorization code reuse detected",
			zap.String("client_id", clientID))
		if s.audit != nil {
			s.audit.LogSecurityEvent("authorization code reuse detected", map[string]any{
				"client_id": clientID,
			})
		}
		return nil, ErrInvalidGrant("authorization code already used")
	}
	if stored.ClientID != client.ClientID {
		return nil, ErrInvalidGrant("authorization code was issued to a different client")
	}
	if stored.RedirectURI != redirectURI {
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}
	if err := ValidatePKCE(codeVerifier, stored.CodeChallenge, stored.CodeChallengeMethod); err != nil {
		return nil, ErrInvalidGrant(err.Error())
	}

	stored.Used = true
	if err := s.storage.UpdateAuthorizationCode(stored); err != nil {
		return nil, ErrServerError("failed to mark authorization code as used")
	}

	scope := stored.Scope
	projectID := reqcontext.GlobalProject
	if stored.APIKeyScope != "" {
		scope = stored.APIKeyScope
	}
	if stored.APIKeyProjectID != "" {
		projectID = stored.APIKeyProjectID
	}

	accessToken, record, mintErr := s.tokens.MintAccessToken(client.ClientID, scope, projectID, client.ClientID)
	if mintErr != nil {
		return nil, ErrServerError("failed to mint access token")
	}
	refresh, issueErr := s.tokens.IssueRefreshToken(client.ClientID, scope, projectID, record.JTI, 0)
	if issueErr != nil {
		return nil, ErrServerError("failed to issue refresh token")
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.tokens.AccessTokenTTL().Seconds()),
		RefreshToken: refresh.Token,
		Scope:        scope,
	}, nil
}

// RefreshGrant implements the refresh_token grant with rotation.
func (s *AuthorizationServer) RefreshGrant(clientID, clientSecret, refreshToken string) (*TokenResponse, *Error) {
	client, err := s.clients.ValidateCredentials(clientID, clientSecret)
	if err != nil {
		return nil, ErrInvalidClient("client authentication failed")
	}
	if !client.AllowsGrant(GrantRefreshToken) {
		return nil, ErrUnauthorizedClient("client is not allowed the refresh_token grant")
	}

	accessToken, next, oerr := s.tokens.Rotate(refreshToken, client.ClientID)
	if oerr != nil {
		return nil, oerr
	}
	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.tokens.AccessTokenTTL().Seconds()),
		RefreshToken: next.Token,
		Scope:        next.Scope,
	}, nil
}

// ClientCredentialsGrant mints an access token for machine clients. No
// refresh token is issued.
func (s *AuthorizationServer) ClientCredentialsGrant(clientID, clientSecret, scope string) (*TokenResponse, *Error) {
	client, err := s.clients.ValidateCredentials(clientID, clientSecret)
	if err != nil {
		return nil, ErrInvalidClient("client authentication failed")
	}
	if !client.AllowsGrant(GrantClientCredentials) {
		return nil, ErrUnauthorizedClient("client is not allowed the client_credentials grant")
	}
	if scope == "" {
		scope = strings.Join(client.AllowedScopes, " ")
	}
	for _, token := range strings.Fields(scope) {
		if !client.AllowsScope(token) {
			return nil, ErrInvalidScope("scope " + token + " is not allowed for this client")
		}
	}

	accessToken, _, mintErr := s.tokens.MintAccessToken(client.ClientID, scope, reqcontext.GlobalProject, client.ClientID)
	if mintErr != nil {
		return nil, ErrServerError("failed to mint access token")
	}
	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.tokens.AccessTokenTTL().Seconds()),
		Scope:       scope,
	}, nil
}
