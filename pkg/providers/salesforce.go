package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/httpclient"
)

const defaultSalesforceLoginURL = "https://login.salesforce.com"

// DefaultSalesforceScopes request API access plus refresh tokens
const DefaultSalesforceScopes = "api refresh_token"

// SalesforceAdapter talks to a salesforce org. The OAuth flow runs against the
// shared login host ("login_url" overrides it for sandboxes); data-plane calls
// go to the org's instance URL, which salesforce returns in the token payload
// and the connector stores in its settings.
type SalesforceAdapter struct {
	client *httpclient.Client
}

// NewSalesforceAdapter creates a salesforce adapter
func NewSalesforceAdapter(client *httpclient.Client) *SalesforceAdapter {
	return &SalesforceAdapter{client: client}
}

func (a *SalesforceAdapter) Provider() Provider {
	return ProviderSalesforce
}

func (a *SalesforceAdapter) ValidateConfig(settings map[string]any) error {
	if login, ok := settings["login_url"].(string); ok && login != "" {
		if !strings.HasPrefix(login, "https://") && !strings.HasPrefix(login, "http://") {
			return fmt.Errorf("salesforce login_url %q must be an absolute URL", login)
		}
	}
	return nil
}

func salesforceLoginURL(settings map[string]any) string {
	if login, ok := settings["login_url"].(string); ok && login != "" {
		return strings.TrimSuffix(login, "/")
	}
	return defaultSalesforceLoginURL
}

func (a *SalesforceAdapter) BuildAuthorizeURL(cfg Config, params AuthorizeParams) (string, error) {
	scopes := params.Scopes
	if scopes == "" {
		scopes = DefaultSalesforceScopes
	}

	query := url.Values{}
	query.Set("client_id", cfg.Credentials.ClientID)
	query.Set("redirect_uri", params.RedirectURI)
	query.Set("state", params.State)
	query.Set("response_type", "code")
	query.Set("scope", scopes)
	query.Set("code_challenge", params.CodeChallenge)
	query.Set("code_challenge_method", "S256")

	return salesforceLoginURL(cfg.Settings) + "/services/oauth2/authorize?" + query.Encode(), nil
}

func (a *SalesforceAdapter) ExchangeCode(ctx context.Context, cfg Config, code, verifier, redirectURI string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)
	form.Set("client_id", cfg.Credentials.ClientID)
	form.Set("client_secret", cfg.Credentials.ClientSecret)

	return a.tokenRequest(ctx, cfg, form)
}

func (a *SalesforceAdapter) RefreshToken(ctx context.Context, cfg Config, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", cfg.Credentials.ClientID)
	form.Set("client_secret", cfg.Credentials.ClientSecret)

	return a.tokenRequest(ctx, cfg, form)
}

func (a *SalesforceAdapter) tokenRequest(ctx context.Context, cfg Config, form url.Values) (*TokenResponse, error) {
	resp, err := a.client.PostForm(ctx, salesforceLoginURL(cfg.Settings)+"/services/oauth2/token", form, nil)
	if err != nil {
		return nil, fmt.Errorf("salesforce token request failed: %w", err)
	}

	token, err := decodeTokenResponse(resp, "salesforce")
	if err != nil {
		return nil, err
	}

	// Salesforce omits expires_in unless the org configures it
	if token.ExpiresIn == 0 {
		token.ExpiresIn = defaultSalesforceTokenTTL
	}
	return token, nil
}

// defaultSalesforceTokenTTL matches the platform's default session timeout
const defaultSalesforceTokenTTL = 2 * time.Hour

func (a *SalesforceAdapter) APIBaseURL(cfg Config) (string, error) {
	instance, ok := cfg.Settings["instance_url"].(string)
	if !ok || instance == "" {
		return "", fmt.Errorf("salesforce connector has no instance_url; complete the OAuth flow first")
	}
	return strings.TrimSuffix(instance, "/") + "/services/data/v59.0", nil
}

// ListApps lists the org's queryable sobjects
func (a *SalesforceAdapter) ListApps(ctx context.Context, cfg Config, authHeader string) ([]RemoteApp, error) {
	base, err := a.APIBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Get(ctx, base+"/sobjects", map[string]string{"Authorization": authHeader})
	if err != nil {
		return nil, fmt.Errorf("salesforce sobjects request failed: %w", err)
	}
	if err := rateLimited(ProviderSalesforce, resp); err != nil {
		return nil, err
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("salesforce sobjects request returned %d: %s", resp.StatusCode, truncateBody(resp.Body, 256))
	}

	var payload struct {
		Sobjects []struct {
			Name      string `json:"name"`
			Label     string `json:"label"`
			Queryable bool   `json:"queryable"`
		} `json:"sobjects"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, err
	}

	var apps []RemoteApp
	for _, obj := range payload.Sobjects {
		if !obj.Queryable {
			continue
		}
		apps = append(apps, RemoteApp{ID: obj.Name, Code: obj.Name, Name: obj.Label})
	}
	return apps, nil
}

// ListFields describes one sobject's fields
func (a *SalesforceAdapter) ListFields(ctx context.Context, cfg Config, authHeader, appID string) ([]RemoteFieldDef, error) {
	base, err := a.APIBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Get(ctx, base+"/sobjects/"+url.PathEscape(appID)+"/describe", map[string]string{"Authorization": authHeader})
	if err != nil {
		return nil, fmt.Errorf("salesforce describe request failed: %w", err)
	}
	if err := rateLimited(ProviderSalesforce, resp); err != nil {
		return nil, err
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("salesforce describe request returned %d: %s", resp.StatusCode, truncateBody(resp.Body, 256))
	}

	var payload struct {
		Fields []struct {
			Name           string `json:"name"`
			Label          string `json:"label"`
			Type           string `json:"type"`
			Nillable       bool   `json:"nillable"`
			PicklistValues []struct {
				Value string `json:"value"`
			} `json:"picklistValues"`
		} `json:"fields"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, err
	}

	fields := make([]RemoteFieldDef, 0, len(payload.Fields))
	for _, f := range payload.Fields {
		def := RemoteFieldDef{
			Code:     f.Name,
			Label:    f.Label,
			RawType:  f.Type,
			Required: !f.Nillable,
		}
		for _, pv := range f.PicklistValues {
			def.Options = append(def.Options, pv.Value)
		}
		fields = append(fields, def)
	}
	return fields, nil
}

// FetchRecordsPage fetches one page of records through the query API
func (a *SalesforceAdapter) FetchRecordsPage(ctx context.Context, cfg Config, authHeader, appID, filter string, offset, limit int) ([]RemoteRecord, error) {
	base, err := a.APIBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	soql := fmt.Sprintf("SELECT FIELDS(ALL) FROM %s", appID)
	if filter != "" {
		soql += " WHERE " + filter
	}
	soql += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	params := url.Values{}
	params.Set("q", soql)

	resp, err := a.client.Get(ctx, base+"/query?"+params.Encode(), map[string]string{"Authorization": authHeader})
	if err != nil {
		return nil, fmt.Errorf("salesforce query request failed: %w", err)
	}
	if err := rateLimited(ProviderSalesforce, resp); err != nil {
		return nil, err
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("salesforce query request returned %d: %s", resp.StatusCode, truncateBody(resp.Body, 256))
	}

	var payload struct {
		Records []map[string]any `json:"records"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, err
	}

	records := make([]RemoteRecord, 0, len(payload.Records))
	for _, raw := range payload.Records {
		record := RemoteRecord{Fields: make(map[string]any, len(raw))}
		for name, value := range raw {
			if name == "attributes" {
				continue
			}
			record.Fields[name] = value
			if name == "Id" {
				if id, ok := value.(string); ok {
					record.ID = id
				}
			}
		}
		records = append(records, record)
	}
	return records, nil
}
