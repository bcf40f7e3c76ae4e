// Package providers holds the adapters for the external record systems a
// connector can point at. The set of providers is closed: adding one means
// adding an adapter here, not configuring arbitrary endpoints at runtime.
package providers

import (
	"context"
	"fmt"
	"time"
)

// Provider identifies a supported external record system
type Provider string

const (
	ProviderKintone    Provider = "kintone"
	ProviderSalesforce Provider = "salesforce"
)

// FromString parses a provider name, failing fast on anything unsupported
func FromString(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderKintone:
		return ProviderKintone, nil
	case ProviderSalesforce:
		return ProviderSalesforce, nil
	default:
		return "", fmt.Errorf("unsupported provider %q", s)
	}
}

// Credentials are the decrypted OAuth client credentials for a connector
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Config is everything an adapter needs to talk to a provider tenant:
// the client credentials plus the connector's provider-specific settings
// (subdomain for kintone, login host override for salesforce).
type Config struct {
	Credentials Credentials
	Settings    map[string]any
}

// AuthorizeParams carry the per-request pieces of an authorization redirect
type AuthorizeParams struct {
	RedirectURI   string
	State         string
	CodeChallenge string
	Scopes        string
}

// TokenResponse is the normalized result of a token exchange or refresh.
// Raw preserves the provider's full payload for audit and debugging.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	Scope        string
	Raw          map[string]any
}

// RemoteApp is one application (record container) in the provider's schema
type RemoteApp struct {
	ID   string
	Code string
	Name string
}

// RemoteFieldDef is one field definition as the provider reports it. RawType
// is the provider's own type code; classification happens downstream.
type RemoteFieldDef struct {
	Code     string
	Label    string
	RawType  string
	Required bool
	Options  []string
}

// RemoteRecord is one record as fetched from the provider
type RemoteRecord struct {
	ID     string
	Fields map[string]any
}

// Adapter is the per-provider OAuth and API surface. Implementations are
// stateless; all tenant-specific state arrives through Config.
type Adapter interface {
	// Provider returns the adapter's identity
	Provider() Provider

	// ValidateConfig checks the connector's provider settings before any
	// OAuth flow is started
	ValidateConfig(settings map[string]any) error

	// BuildAuthorizeURL constructs the provider's authorization redirect URL
	BuildAuthorizeURL(cfg Config, params AuthorizeParams) (string, error)

	// ExchangeCode trades an authorization code (plus PKCE verifier) for tokens
	ExchangeCode(ctx context.Context, cfg Config, code, verifier, redirectURI string) (*TokenResponse, error)

	// RefreshToken trades a refresh token for a new token set
	RefreshToken(ctx context.Context, cfg Config, refreshToken string) (*TokenResponse, error)

	// APIBaseURL returns the base URL for data-plane requests
	APIBaseURL(cfg Config) (string, error)

	// ListApps fetches the provider's application catalog
	ListApps(ctx context.Context, cfg Config, authHeader string) ([]RemoteApp, error)

	// ListFields fetches the field definitions of one application
	ListFields(ctx context.Context, cfg Config, authHeader, appID string) ([]RemoteFieldDef, error)

	// FetchRecordsPage fetches one page of records with offset/limit paging.
	// filter is a provider-native filter expression and may be empty.
	FetchRecordsPage(ctx context.Context, cfg Config, authHeader, appID, filter string, offset, limit int) ([]RemoteRecord, error)
}

// Registry resolves adapters by provider name
type Registry struct {
	adapters map[Provider]Adapter
}

// NewRegistry builds the closed adapter set
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[Provider]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for a provider
func (r *Registry) Get(p Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", p)
	}
	return a, nil
}
