package httpapi

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/apikeys"
	"github.com/unifiedmcp/gateway/internal/config"
	"github.com/unifiedmcp/gateway/internal/hash"
	"github.com/unifiedmcp/gateway/internal/oauth"
	"github.com/unifiedmcp/gateway/internal/tools"
)

// consentTemplate is the minimal login/consent form for the authorization
// flow. The request parameters round-trip through hidden fields.
var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize {{.ClientName}}</title></head>
<body>
<h1>Authorize {{.ClientName}}</h1>
<p>{{.ClientName}} is requesting access with scope: <b>{{.Scope}}</b></p>
<form method="POST" action="/authorize">
  <input type="hidden" name="client_id" value="{{.ClientID}}">
  <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
  <input type="hidden" name="response_type" value="code">
  <input type="hidden" name="scope" value="{{.Scope}}">
  <input type="hidden" name="state" value="{{.State}}">
  <input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
  <input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
  <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
  <label>API key or master key: <input type="password" name="api_key" autocomplete="off"></label>
  <button type="submit">Authorize</button>
</form>
</body>
</html>`))

// OAuthHandlers serves the authorization-server HTTP surface.
type OAuthHandlers struct {
	cfg     *config.Config
	server  *oauth.AuthorizationServer
	clients *oauth.ClientRegistry
	csrf    *oauth.CSRFStore
	keys    *apikeys.Store
	logger  *zap.Logger
}

// NewOAuthHandlers wires the handler set.
func NewOAuthHandlers(cfg *config.Config, server *oauth.AuthorizationServer, clients *oauth.ClientRegistry, csrf *oauth.CSRFStore, keys *apikeys.Store, logger *zap.Logger) *OAuthHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthHandlers{
		cfg:     cfg,
		server:  server,
		clients: clients,
		csrf:    csrf,
		keys:    keys,
		logger:  logger,
	}
}

func writeOAuthError(w http.ResponseWriter, oerr *oauth.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oerr.Status)
	_ = json.NewEncoder(w).Encode(oerr)
}

func authorizeRequestFromValues(values url.Values) *oauth.AuthorizeRequest {
	return &oauth.AuthorizeRequest{
		ClientID:            values.Get("client_id"),
		RedirectURI:         values.Get("redirect_uri"),
		ResponseType:        values.Get("response_type"),
		Scope:               values.Get("scope"),
		State:               values.Get("state"),
		CodeChallenge:       values.Get("code_challenge"),
		CodeChallengeMethod: values.Get("code_challenge_method"),
	}
}

// HandleAuthorizeGet validates the request and renders the consent form.
func (h *OAuthHandlers) HandleAuthorizeGet(w http.ResponseWriter, r *http.Request) {
	req := authorizeRequestFromValues(r.URL.Query())
	client, oerr := h.server.ValidateAuthorizationRequest(req)
	if oerr != nil {
		writeOAuthError(w, oerr)
		return
	}

	csrfToken, err := h.csrf.Generate()
	if err != nil {
		writeOAuthError(w, oauth.ErrServerError("failed to prepare consent form"))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = consentTemplate.Execute(w, map[string]string{
		"ClientName":          client.ClientName,
		"ClientID":            req.ClientID,
		"RedirectURI":         req.RedirectURI,
		"Scope":               req.Scope,
		"State":               req.State,
		"CodeChallenge":       req.CodeChallenge,
		"CodeChallengeMethod": req.CodeChallengeMethod,
		"CSRFToken":           csrfToken,
	})
}

// HandleAuthorizePost consumes the consent form, authenticates the caller,
// and redirects back with a one-time code.
func (h *OAuthHandlers) HandleAuthorizePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest("malformed form body"))
		return
	}
	if !h.csrf.Consume(r.PostForm.Get("csrf_token")) {
		http.Error(w, "invalid or expired form token", http.StatusForbidden)
		return
	}

	req := authorizeRequestFromValues(r.PostForm)

	userID, keyInfo, authErr := h.authenticateAuthorizeUser(r.PostForm.Get("api_key"))
	if authErr != nil {
		writeOAuthError(w, authErr)
		return
	}

	code, oerr := h.server.IssueCode(req, userID, keyInfo)
	if oerr != nil {
		writeOAuthError(w, oerr)
		return
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest("malformed redirect_uri"))
		return
	}
	q := redirect.Query()
	q.Set("code", code.Code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// authenticateAuthorizeUser resolves the credential entered on the consent
// form: master key or a project API key.
func (h *OAuthHandlers) authenticateAuthorizeUser(credential string) (string, *oauth.APIKeyGrantInfo, *oauth.Error) {
	credential = strings.TrimSpace(credential)
	switch {
	case credential == "":
		return "", nil, oauth.ErrInvalidRequest("a credential is required to authorize")
	case strings.HasPrefix(credential, config.MasterKeyPrefix):
		if !hash.SecureCompare(credential, h.cfg.MasterKey) {
			return "", nil, oauth.ErrInvalidClient("invalid master key")
		}
		return "master", nil, nil
	case strings.HasPrefix(credential, config.APIKeyPrefix):
		key, err := h.keys.ValidateKey(credential, tools.ScopeRead, "", true)
		if err != nil {
			return "", nil, oauth.ErrInvalidClient("invalid API key")
		}
		return key.KeyID, &oauth.APIKeyGrantInfo{
			KeyID:     key.KeyID,
			ProjectID: key.ProjectID,
			Scope:     key.Scope,
		}, nil
	default:
		return "", nil, oauth.ErrInvalidClient("unrecognized credential format")
	}
}

// HandleToken dispatches the /token grant types.
func (h *OAuthHandlers) HandleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest("malformed form body"))
		return
	}

	clientID, clientSecret := clientCredentials(r)

	var (
		resp *oauth.TokenResponse
		oerr *oauth.Error
	)
	switch grantType := r.PostForm.Get("grant_type"); grantType {
	case oauth.GrantAuthorizationCode:
		resp, oerr = h.server.ExchangeCode(
			clientID,
			clientSecret,
			r.PostForm.Get("code"),
			r.PostForm.Get("redirect_uri"),
			r.PostForm.Get("code_verifier"),
		)
	case oauth.GrantRefreshToken:
		resp, oerr = h.server.RefreshGrant(clientID, clientSecret, r.PostForm.Get("refresh_token"))
	case oauth.GrantClientCredentials:
		resp, oerr = h.server.ClientCredentialsGrant(clientID, clientSecret, r.PostForm.Get("scope"))
	default:
		oerr = oauth.ErrUnsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", grantType))
	}
	if oerr != nil {
		writeOAuthError(w, oerr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

// clientCredentials reads client authentication from basic auth first,
// then from the form body.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}

type registerRequest struct {
	ClientName    string   `json:"client_name"`
	RedirectURIs  []string `json:"redirect_uris"`
	GrantTypes    []string `json:"grant_types,omitempty"`
	AllowedScopes []string `json:"scope,omitempty"`
	AuthMethod    string   `json:"token_endpoint_auth_method,omitempty"`
}

// HandleRegister is the master-key-guarded client registration endpoint.
func (h *OAuthHandlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	header := strings.TrimPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer ")
	if !strings.HasPrefix(header, config.MasterKeyPrefix) || !hash.SecureCompare(header, h.cfg.MasterKey) {
		writeOAuthError(w, oauth.ErrInvalidClient("client registration requires the master key"))
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest("malformed registration body"))
		return
	}

	registered, err := h.clients.Register(req.ClientName, req.RedirectURIs, req.GrantTypes, req.AllowedScopes, req.AuthMethod)
	if err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"client_id":                  registered.Client.ClientID,
		"client_secret":              registered.RawSecret,
		"client_name":                registered.Client.ClientName,
		"redirect_uris":              registered.Client.RedirectURIs,
		"grant_types":                registered.Client.GrantTypes,
		"scope":                      strings.Join(registered.Client.AllowedScopes, " "),
		"token_endpoint_auth_method": registered.Client.TokenEndpointAuthMethod,
	})
}

// HandleDiscovery serves the authorization-server metadata document.
func (h *OAuthHandlers) HandleDiscovery(w http.ResponseWriter, _ *http.Request) {
	issuer := h.cfg.OAuth.Issuer
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"registration_endpoint":                 issuer + "/oauth/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{oauth.GrantAuthorizationCode, oauth.GrantRefreshToken, oauth.GrantClientCredentials},
		"code_challenge_methods_supported":      []string{oauth.PKCEMethodS256},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "client_secret_basic"},
		"scopes_supported":                      []string{"read", "write", "admin"},
	})
}
