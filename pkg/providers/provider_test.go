package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/httpclient"
)

func newTestClient() *httpclient.Client {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return httpclient.NewClient(httpclient.DefaultConfig(), logger)
}

func TestFromString(t *testing.T) {
	p, err := FromString("kintone")
	require.NoError(t, err)
	assert.Equal(t, ProviderKintone, p)

	p, err = FromString("salesforce")
	require.NoError(t, err)
	assert.Equal(t, ProviderSalesforce, p)

	_, err = FromString("hubspot")
	assert.Error(t, err)
}

func TestRegistry_Get(t *testing.T) {
	client := newTestClient()
	registry := NewRegistry(NewKintoneAdapter(client), NewSalesforceAdapter(client))

	adapter, err := registry.Get(ProviderKintone)
	require.NoError(t, err)
	assert.Equal(t, ProviderKintone, adapter.Provider())

	_, err = registry.Get(Provider("unknown"))
	assert.Error(t, err)
}

func TestKintoneAdapter_ValidateConfig(t *testing.T) {
	adapter := NewKintoneAdapter(newTestClient())

	assert.NoError(t, adapter.ValidateConfig(map[string]any{"subdomain": "acme"}))
	assert.Error(t, adapter.ValidateConfig(map[string]any{}))
	assert.Error(t, adapter.ValidateConfig(map[string]any{"subdomain": "acme.cybozu.com"}))
	assert.Error(t, adapter.ValidateConfig(map[string]any{"subdomain": "https://acme"}))
}

func TestKintoneAdapter_BuildAuthorizeURL(t *testing.T) {
	adapter := NewKintoneAdapter(newTestClient())

	cfg := Config{
		Credentials: Credentials{ClientID: "client-1", ClientSecret: "secret"},
		Settings:    map[string]any{"subdomain": "acme"},
	}

	raw, err := adapter.BuildAuthorizeURL(cfg, AuthorizeParams{
		RedirectURI:   "https://app.example.com/connect/kintone/callback",
		State:         "signed-state",
		CodeChallenge: "challenge-value",
	})
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "acme.cybozu.com", parsed.Host)
	assert.Equal(t, "/oauth2/authorization", parsed.Path)

	query := parsed.Query()
	assert.Equal(t, "client-1", query.Get("client_id"))
	assert.Equal(t, "signed-state", query.Get("state"))
	assert.Equal(t, "challenge-value", query.Get("code_challenge"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, DefaultKintoneScopes, query.Get("scope"))
}

func TestKintoneAdapter_ExchangeCode(t *testing.T) {
	var gotForm url.Values
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600,"scope":"k:app_record:read"}`))
	}))
	defer server.Close()

	adapter := NewKintoneAdapter(newTestClient())
	cfg := Config{
		Credentials: Credentials{ClientID: "client-1", ClientSecret: "secret"},
		Settings:    map[string]any{"base_url": server.URL},
	}

	token, err := adapter.ExchangeCode(context.Background(), cfg, "auth-code", "verifier-1", "https://app.example.com/cb")
	require.NoError(t, err)

	assert.Equal(t, "at-1", token.AccessToken)
	assert.Equal(t, "rt-1", token.RefreshToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, time.Hour, token.ExpiresIn)
	assert.Equal(t, "k:app_record:read", token.Scope)
	assert.NotEmpty(t, token.Raw)

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "auth-code", gotForm.Get("code"))
	assert.Equal(t, "verifier-1", gotForm.Get("code_verifier"))
	assert.Contains(t, gotAuth, "Basic ")
}

func TestKintoneAdapter_ExchangeCodeProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"expired code"}`))
	}))
	defer server.Close()

	adapter := NewKintoneAdapter(newTestClient())
	cfg := Config{
		Credentials: Credentials{ClientID: "client-1", ClientSecret: "secret"},
		Settings:    map[string]any{"base_url": server.URL},
	}

	_, err := adapter.ExchangeCode(context.Background(), cfg, "bad-code", "verifier", "https://app.example.com/cb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestKintoneAdapter_RefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-new","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	adapter := NewKintoneAdapter(newTestClient())
	cfg := Config{
		Credentials: Credentials{ClientID: "client-1", ClientSecret: "secret"},
		Settings:    map[string]any{"base_url": server.URL},
	}

	token, err := adapter.RefreshToken(context.Background(), cfg, "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-2", token.AccessToken)
	assert.Equal(t, "rt-new", token.RefreshToken)
}

func TestSalesforceAdapter_ExchangeCodeSendsClientCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client-sf", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-sf", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-sf","refresh_token":"rt-sf","token_type":"Bearer","instance_url":"https://acme.my.salesforce.com"}`))
	}))
	defer server.Close()

	adapter := NewSalesforceAdapter(newTestClient())
	cfg := Config{
		Credentials: Credentials{ClientID: "client-sf", ClientSecret: "secret-sf"},
		Settings:    map[string]any{"login_url": server.URL},
	}

	token, err := adapter.ExchangeCode(context.Background(), cfg, "code", "verifier", "https://app.example.com/cb")
	require.NoError(t, err)
	assert.Equal(t, "at-sf", token.AccessToken)
	// No expires_in in the payload falls back to the platform default
	assert.Equal(t, 2*time.Hour, token.ExpiresIn)
	assert.Equal(t, "https://acme.my.salesforce.com", token.Raw["instance_url"])
}

func TestSalesforceAdapter_APIBaseURL(t *testing.T) {
	adapter := NewSalesforceAdapter(newTestClient())

	_, err := adapter.APIBaseURL(Config{Settings: map[string]any{}})
	assert.Error(t, err)

	base, err := adapter.APIBaseURL(Config{Settings: map[string]any{"instance_url": "https://acme.my.salesforce.com/"}})
	require.NoError(t, err)
	assert.Equal(t, "https://acme.my.salesforce.com/services/data/v59.0", base)
}

func TestKintoneAdapter_APIBaseURL(t *testing.T) {
	adapter := NewKintoneAdapter(newTestClient())

	base, err := adapter.APIBaseURL(Config{Settings: map[string]any{"subdomain": "acme"}})
	require.NoError(t, err)
	assert.Equal(t, "https://acme.cybozu.com/k/v1", base)
}
