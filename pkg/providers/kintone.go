package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/httpclient"
)

// DefaultKintoneScopes cover record reads and app settings reads
const DefaultKintoneScopes = "k:app_record:read k:app_settings:read"

// KintoneAdapter talks to a kintone tenant. Every kintone tenant lives on its
// own subdomain, so all URLs are derived from the connector's "subdomain"
// setting. "base_url" overrides the derived host for self-hosted setups.
type KintoneAdapter struct {
	client *httpclient.Client
}

// NewKintoneAdapter creates a kintone adapter
func NewKintoneAdapter(client *httpclient.Client) *KintoneAdapter {
	return &KintoneAdapter{client: client}
}

func (a *KintoneAdapter) Provider() Provider {
	return ProviderKintone
}

func (a *KintoneAdapter) ValidateConfig(settings map[string]any) error {
	if _, err := kintoneBaseURL(settings); err != nil {
		return err
	}
	return nil
}

func kintoneBaseURL(settings map[string]any) (string, error) {
	if base, ok := settings["base_url"].(string); ok && base != "" {
		return strings.TrimSuffix(base, "/"), nil
	}

	subdomain, ok := settings["subdomain"].(string)
	if !ok || subdomain == "" {
		return "", fmt.Errorf("kintone connector requires a subdomain setting")
	}
	if strings.ContainsAny(subdomain, "./:") {
		return "", fmt.Errorf("kintone subdomain %q must not contain a host or path", subdomain)
	}

	return fmt.Sprintf("https://%s.cybozu.com", subdomain), nil
}

func (a *KintoneAdapter) BuildAuthorizeURL(cfg Config, params AuthorizeParams) (string, error) {
	base, err := kintoneBaseURL(cfg.Settings)
	if err != nil {
		return "", err
	}

	scopes := params.Scopes
	if scopes == "" {
		scopes = DefaultKintoneScopes
	}

	query := url.Values{}
	query.Set("client_id", cfg.Credentials.ClientID)
	query.Set("redirect_uri", params.RedirectURI)
	query.Set("state", params.State)
	query.Set("response_type", "code")
	query.Set("scope", scopes)
	query.Set("code_challenge", params.CodeChallenge)
	query.Set("code_challenge_method", "S256")

	return base + "/oauth2/authorization?" + query.Encode(), nil
}

func (a *KintoneAdapter) ExchangeCode(ctx context.Context, cfg Config, code, verifier, redirectURI string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)

	return a.tokenRequest(ctx, cfg, form)
}

func (a *KintoneAdapter) RefreshToken(ctx context.Context, cfg Config, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return a.tokenRequest(ctx, cfg, form)
}

// tokenRequest posts to the kintone token endpoint. Kintone authenticates the
// client with HTTP Basic credentials rather than form fields.
func (a *KintoneAdapter) tokenRequest(ctx context.Context, cfg Config, form url.Values) (*TokenResponse, error) {
	base, err := kintoneBaseURL(cfg.Settings)
	if err != nil {
		return nil, err
	}

	basic := base64.StdEncoding.EncodeToString([]byte(cfg.Credentials.ClientID + ":" + cfg.Credentials.ClientSecret))
	resp, err := a.client.PostForm(ctx, base+"/oauth2/token", form, map[string]string{
		"Authorization": "Basic " + basic,
	})
	if err != nil {
		return nil, fmt.Errorf("kintone token request failed: %w", err)
	}

	return decodeTokenResponse(resp, "kintone")
}

func (a *KintoneAdapter) APIBaseURL(cfg Config) (string, error) {
	base, err := kintoneBaseURL(cfg.Settings)
	if err != nil {
		return "", err
	}
	return base + "/k/v1", nil
}

// ListApps fetches the tenant's app catalog
func (a *KintoneAdapter) ListApps(ctx context.Context, cfg Config, authHeader string) ([]RemoteApp, error) {
	base, err := a.APIBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Get(ctx, base+"/apps.json", map[string]string{"Authorization": authHeader})
	if err != nil {
		return nil, fmt.Errorf("kintone apps request failed: %w", err)
	}
	if err := rateLimited(ProviderKintone, resp); err != nil {
		return nil, err
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("kintone apps request returned %d: %s", resp.StatusCode, truncateBody(resp.Body, 256))
	}

	var payload struct {
		Apps []struct {
			AppID string `json:"appId"`
			Code  string `json:"code"`
			Name  string `json:"name"`
		} `json:"apps"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, err
	}

	apps := make([]RemoteApp, 0, len(payload.Apps))
	for _, app := range payload.Apps {
		apps = append(apps, RemoteApp{ID: app.AppID, Code: app.Code, Name: app.Name})
	}
	return apps, nil
}

// ListFields fetches one app's form field definitions
func (a *KintoneAdapter) ListFields(ctx context.Context, cfg Config, authHeader, appID string) ([]RemoteFieldDef, error) {
	base, err := a.APIBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	endpoint := base + "/app/form/fields.json?app=" + url.QueryEscape(appID)
	resp, err := a.client.Get(ctx, endpoint, map[string]string{"Authorization": authHeader})
	if err != nil {
		return nil, fmt.Errorf("kintone fields request failed: %w", err)
	}
	if err := rateLimited(ProviderKintone, resp); err != nil {
		return nil, err
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("kintone fields request returned %d: %s", resp.StatusCode, truncateBody(resp.Body, 256))
	}

	var payload struct {
		Properties map[string]struct {
			Type     string `json:"type"`
			Label    string `json:"label"`
			Required bool   `json:"required"`
			Options  map[string]struct {
				Label string `json:"label"`
			} `json:"options"`
		} `json:"properties"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, err
	}

	fields := make([]RemoteFieldDef, 0, len(payload.Properties))
	for code, prop := range payload.Properties {
		def := RemoteFieldDef{
			Code:     code,
			Label:    prop.Label,
			RawType:  prop.Type,
			Required: prop.Required,
		}
		for option := range prop.Options {
			def.Options = append(def.Options, option)
		}
		fields = append(fields, def)
	}
	return fields, nil
}

// FetchRecordsPage fetches one page of records via the records API. The
// offset/limit clause rides on the kintone query expression.
func (a *KintoneAdapter) FetchRecordsPage(ctx context.Context, cfg Config, authHeader, appID, filter string, offset, limit int) ([]RemoteRecord, error) {
	base, err := a.APIBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	kquery := fmt.Sprintf("limit %d offset %d", limit, offset)
	if filter != "" {
		kquery = filter + " " + kquery
	}

	params := url.Values{}
	params.Set("app", appID)
	params.Set("query", kquery)

	resp, err := a.client.Get(ctx, base+"/records.json?"+params.Encode(), map[string]string{"Authorization": authHeader})
	if err != nil {
		return nil, fmt.Errorf("kintone records request failed: %w", err)
	}
	if err := rateLimited(ProviderKintone, resp); err != nil {
		return nil, err
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("kintone records request returned %d: %s", resp.StatusCode, truncateBody(resp.Body, 256))
	}

	var payload struct {
		Records []map[string]struct {
			Type  string `json:"type"`
			Value any    `json:"value"`
		} `json:"records"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, err
	}

	records := make([]RemoteRecord, 0, len(payload.Records))
	for _, raw := range payload.Records {
		record := RemoteRecord{Fields: make(map[string]any, len(raw))}
		for code, cell := range raw {
			record.Fields[code] = cell.Value
			if code == "$id" {
				if id, ok := cell.Value.(string); ok {
					record.ID = id
				}
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// wireToken is the provider token payload shared by kintone and salesforce
type wireToken struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeTokenResponse(resp *httpclient.Response, provider string) (*TokenResponse, error) {
	var wire wireToken
	decodeErr := resp.DecodeJSON(&wire)

	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		if decodeErr == nil && wire.Error != "" {
			return nil, fmt.Errorf("%s token endpoint returned %d: %s (%s)", provider, resp.StatusCode, wire.Error, wire.ErrorDescription)
		}
		return nil, fmt.Errorf("%s token endpoint returned %d: %s", provider, resp.StatusCode, truncateBody(resp.Body, 256))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%s token endpoint returned unparsable body: %w", provider, decodeErr)
	}
	if wire.AccessToken == "" {
		return nil, fmt.Errorf("%s token endpoint returned no access token", provider)
	}

	var raw map[string]any
	_ = resp.DecodeJSON(&raw)

	tokenType := wire.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &TokenResponse{
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
		TokenType:    tokenType,
		ExpiresIn:    time.Duration(wire.ExpiresIn) * time.Second,
		Scope:        wire.Scope,
		Raw:          raw,
	}, nil
}

func truncateBody(body []byte, max int) string {
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
