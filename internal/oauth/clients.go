package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/hash"
)

const clientsFilename = "oauth_clients.json"

// ErrClientNotFound is returned for unknown client ids.
var ErrClientNotFound = errors.New("oauth client not found")

// ClientRegistry is the persistent table of registered OAuth clients.
type ClientRegistry struct {
	mu      sync.Mutex
	path    string
	clients map[string]*Client
	logger  *zap.Logger
}

// NewClientRegistry loads (or creates) oauth_clients.json under dir.
func NewClientRegistry(dir string, logger *zap.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create oauth client directory: %w", err)
	}
	r := &ClientRegistry{
		path:    filepath.Join(dir, clientsFilename),
		clients: make(map[string]*Client),
		logger:  logger,
	}
	if err := loadJSONFile(r.path, &r.clients); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisteredClient pairs a stored client with its raw secret, revealed once.
type RegisteredClient struct {
	Client    *Client
	RawSecret string
}

// Register creates a client with generated credentials. The raw secret is
// returned exactly once.
func (r *ClientRegistry) Register(name string, redirectURIs, grantTypes, allowedScopes []string, authMethod string) (*RegisteredClient, error) {
	if len(redirectURIs) == 0 {
		return nil, fmt.Errorf("client registration requires at least one redirect_uri")
	}
	if len(grantTypes) == 0 {
		grantTypes = []string{GrantAuthorizationCode, GrantRefreshToken}
	}
	if len(allowedScopes) == 0 {
		allowedScopes = []string{"read"}
	}
	if authMethod == "" {
		authMethod = "client_secret_post"
	}

	clientID, err := randomToken("client_", 16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client id: %w", err)
	}
	rawSecret, err := randomToken("", 32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client secret: %w", err)
	}

	client := &Client{
		ClientID:                clientID,
		ClientSecretHash:        hash.StringHash(rawSecret),
		ClientName:              name,
		RedirectURIs:            redirectURIs,
		GrantTypes:              grantTypes,
		AllowedScopes:           allowedScopes,
		TokenEndpointAuthMethod: authMethod,
		CreatedAt:               time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[clientID] = client
	if err := r.persist(); err != nil {
		delete(r.clients, clientID)
		return nil, err
	}

	r.logger.Info("registered oauth client",
		zap.String("client_id", clientID),
		zap.String("client_name", name))
	return &RegisteredClient{Client: client, RawSecret: rawSecret}, nil
}

// Get returns a client by id.
func (r *ClientRegistry) Get(clientID string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return client, nil
}

// ValidateCredentials checks the client secret with a constant-time hash
// comparison.
func (r *ClientRegistry) ValidateCredentials(clientID, clientSecret string) (*Client, error) {
	client, err := r.Get(clientID)
	if err != nil {
		return nil, err
	}
	if !hash.SecureCompareHash(clientSecret, client.ClientSecretHash) {
		return nil, fmt.Errorf("invalid client secret")
	}
	return client, nil
}

// List returns all registered clients.
func (r *ClientRegistry) List() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *ClientRegistry) persist() error {
	return writeJSONFile(r.path, r.clients)
}

func randomToken(prefix string, n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}
