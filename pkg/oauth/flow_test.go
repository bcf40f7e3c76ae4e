package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/vault"
)

type fakeConnectorRepo struct {
	mu         sync.Mutex
	connectors map[uuid.UUID]*models.Connector
}

func newFakeConnectorRepo() *fakeConnectorRepo {
	return &fakeConnectorRepo{connectors: map[uuid.UUID]*models.Connector{}}
}

func (f *fakeConnectorRepo) Create(ctx context.Context, c *models.Connector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.ConnectorStatusDisconnected
	}
	clone := *c
	f.connectors[c.ID] = &clone
	return nil
}

func (f *fakeConnectorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connectors[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", id)
	}
	clone := *c
	return &clone, nil
}

func (f *fakeConnectorRepo) List(ctx context.Context) ([]models.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Connector
	for _, c := range f.connectors {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeConnectorRepo) Update(ctx context.Context, c *models.Connector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.connectors[c.ID]
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", c.ID)
	}
	existing.Name = c.Name
	existing.Config = c.Config
	existing.Scopes = c.Scopes
	return nil
}

func (f *fakeConnectorRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectorStatus, errorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connectors[id]
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", id)
	}
	c.Status = status
	if status == models.ConnectorStatusError {
		c.ErrorMessage = errorMessage
	} else {
		c.ErrorMessage = nil
	}
	return nil
}

func (f *fakeConnectorRepo) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connectors, id)
	return nil
}

func (f *fakeConnectorRepo) DeleteByTenantID(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return 0, nil
}

type fakeSecretRepo struct {
	mu      sync.Mutex
	secrets map[uuid.UUID]*models.ConnectorSecret
}

func newFakeSecretRepo() *fakeSecretRepo {
	return &fakeSecretRepo{secrets: map[uuid.UUID]*models.ConnectorSecret{}}
}

func (f *fakeSecretRepo) Replace(ctx context.Context, s *models.ConnectorSecret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *s
	f.secrets[s.ConnectorID] = &clone
	return nil
}

func (f *fakeSecretRepo) GetByConnectorID(ctx context.Context, connectorID uuid.UUID) (*models.ConnectorSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[connectorID]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s has no client credentials", connectorID)
	}
	clone := *s
	return &clone, nil
}

func (f *fakeSecretRepo) DeleteByConnectorID(ctx context.Context, connectorID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.secrets, connectorID)
	return nil
}

type fakeCredentialRepo struct {
	mu          sync.Mutex
	credentials map[uuid.UUID]*models.OAuthCredential
	replaces    int
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{credentials: map[uuid.UUID]*models.OAuthCredential{}}
}

func (f *fakeCredentialRepo) Replace(ctx context.Context, c *models.OAuthCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *c
	f.credentials[c.ConnectorID] = &clone
	f.replaces++
	return nil
}

func (f *fakeCredentialRepo) GetByConnectorID(ctx context.Context, connectorID uuid.UUID) (*models.OAuthCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.credentials[connectorID]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s has no credentials", connectorID)
	}
	clone := *c
	return &clone, nil
}

func (f *fakeCredentialRepo) DeleteByConnectorID(ctx context.Context, connectorID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.credentials, connectorID)
	return nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []models.ConnectorAuditLog
}

func (f *fakeAuditRepo) Create(ctx context.Context, e *models.ConnectorAuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAuditRepo) ListByConnectorID(ctx context.Context, connectorID uuid.UUID, limit int) ([]models.ConnectorAuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ConnectorAuditLog{}, f.entries...), nil
}

func (f *fakeAuditRepo) events() []models.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AuditEvent, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Event)
	}
	return out
}

type flowFixture struct {
	controller  *FlowController
	connectors  *fakeConnectorRepo
	secrets     *fakeSecretRepo
	credentials *fakeCredentialRepo
	audits      *fakeAuditRepo
	codec       vault.CredentialCodec
	connector   *models.Connector
	ctx         context.Context
}

func newFlowFixture(t *testing.T, tokenServerURL string) *flowFixture {
	t.Helper()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client := httpclient.NewClient(httpclient.DefaultConfig(), logger)
	registry := providers.NewRegistry(providers.NewKintoneAdapter(client), providers.NewSalesforceAdapter(client))
	codec := &vault.MockCodec{}
	signer, err := NewStateSigner("test-secret-key-at-least-16b")
	require.NoError(t, err)

	connectors := newFakeConnectorRepo()
	secrets := newFakeSecretRepo()
	credentials := newFakeCredentialRepo()
	audits := &fakeAuditRepo{}

	controller := NewFlowController(connectors, secrets, credentials, audits, registry, codec, signer,
		nil, "https://app.example.com", logger)

	tenantID := uuid.New()
	ctx := appctx.SetTenantID(context.Background(), tenantID.String())

	config := map[string]any{"subdomain": "acme"}
	if tokenServerURL != "" {
		config["base_url"] = tokenServerURL
	}
	connector := &models.Connector{
		TenantID: tenantID,
		Provider: "kintone",
		Name:     "Test",
		Config:   database.NewJSONB(config),
	}
	require.NoError(t, connectors.Create(ctx, connector))
	require.NoError(t, controller.StoreSecrets(ctx, connector.ID, "client-1", "secret-1"))

	return &flowFixture{
		controller:  controller,
		connectors:  connectors,
		secrets:     secrets,
		credentials: credentials,
		audits:      audits,
		codec:       codec,
		connector:   connector,
		ctx:         ctx,
	}
}

func TestFlowController_Authorize(t *testing.T) {
	fx := newFlowFixture(t, "")

	result, err := fx.controller.Authorize(fx.ctx, fx.connector.ID, "/settings")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Verifier)

	parsed, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, result.State, query.Get("state"))
	assert.Equal(t, ChallengeS256(result.Verifier), query.Get("code_challenge"))
	assert.Equal(t, "https://app.example.com/connect/kintone/callback", query.Get("redirect_uri"))
}

func TestFlowController_AuthorizeWithoutSecrets(t *testing.T) {
	fx := newFlowFixture(t, "")
	require.NoError(t, fx.secrets.DeleteByConnectorID(fx.ctx, fx.connector.ID))

	_, err := fx.controller.Authorize(fx.ctx, fx.connector.ID, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestFlowController_CallbackSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "good-code", r.PostForm.Get("code"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	fx := newFlowFixture(t, server.URL)

	result, err := fx.controller.Authorize(fx.ctx, fx.connector.ID, "/settings")
	require.NoError(t, err)

	// Callback arrives on a fresh unauthenticated context
	claims, err := fx.controller.Callback(context.Background(), "kintone", "good-code", result.State, result.Verifier)
	require.NoError(t, err)
	assert.Equal(t, "/settings", claims.ReturnPath)

	connector, err := fx.connectors.GetByID(fx.ctx, fx.connector.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectorStatusConnected, connector.Status)

	credential, err := fx.credentials.GetByConnectorID(fx.ctx, fx.connector.ID)
	require.NoError(t, err)

	var accessToken string
	require.NoError(t, fx.codec.Decrypt(credential.AccessTokenCipher, &accessToken))
	assert.Equal(t, "at-1", accessToken)
	require.NotNil(t, credential.RefreshTokenCipher)
	assert.NotContains(t, credential.AccessTokenCipher, "at-1")

	assert.Contains(t, fx.audits.events(), models.AuditEventTokenExchanged)
}

func TestFlowController_CallbackProviderMismatch(t *testing.T) {
	fx := newFlowFixture(t, "")

	result, err := fx.controller.Authorize(fx.ctx, fx.connector.ID, "")
	require.NoError(t, err)

	// State signed for kintone arriving on the salesforce callback route
	_, err = fx.controller.Callback(context.Background(), "salesforce", "code", result.State, result.Verifier)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	_, err = fx.credentials.GetByConnectorID(fx.ctx, fx.connector.ID)
	assert.Error(t, err, "no credentials should be stored")
}

func TestFlowController_CallbackExchangeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	fx := newFlowFixture(t, server.URL)

	result, err := fx.controller.Authorize(fx.ctx, fx.connector.ID, "")
	require.NoError(t, err)

	_, err = fx.controller.Callback(context.Background(), "kintone", "expired-code", result.State, result.Verifier)
	require.Error(t, err)

	connector, err := fx.connectors.GetByID(fx.ctx, fx.connector.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectorStatusError, connector.Status)
	require.NotNil(t, connector.ErrorMessage)

	assert.Contains(t, fx.audits.events(), models.AuditEventTokenExchangeFailed)

	_, err = fx.credentials.GetByConnectorID(fx.ctx, fx.connector.ID)
	assert.Error(t, err, "failed exchange must not store credentials")
}

func TestFlowController_CallbackMissingVerifier(t *testing.T) {
	fx := newFlowFixture(t, "")

	result, err := fx.controller.Authorize(fx.ctx, fx.connector.ID, "")
	require.NoError(t, err)

	_, err = fx.controller.Callback(context.Background(), "kintone", "code", result.State, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestFlowController_Disconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	fx := newFlowFixture(t, server.URL)

	result, err := fx.controller.Authorize(fx.ctx, fx.connector.ID, "")
	require.NoError(t, err)
	_, err = fx.controller.Callback(context.Background(), "kintone", "code", result.State, result.Verifier)
	require.NoError(t, err)

	require.NoError(t, fx.controller.Disconnect(fx.ctx, fx.connector.ID))

	connector, err := fx.connectors.GetByID(fx.ctx, fx.connector.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectorStatusDisconnected, connector.Status)

	_, err = fx.credentials.GetByConnectorID(fx.ctx, fx.connector.ID)
	assert.Error(t, err)
}
