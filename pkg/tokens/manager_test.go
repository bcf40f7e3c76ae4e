package tokens

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/vault"
)

type memConnectors struct {
	mu sync.Mutex
	m  map[uuid.UUID]*models.Connector
}

func (f *memConnectors) Create(ctx context.Context, c *models.Connector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *c
	f.m[c.ID] = &clone
	return nil
}

func (f *memConnectors) GetByID(ctx context.Context, id uuid.UUID) (*models.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.m[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", id)
	}
	clone := *c
	return &clone, nil
}

func (f *memConnectors) List(ctx context.Context) ([]models.Connector, error) { return nil, nil }
func (f *memConnectors) Update(ctx context.Context, c *models.Connector) error {
	return nil
}

func (f *memConnectors) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectorStatus, errorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.m[id]
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

func (f *memConnectors) Delete(ctx context.Context, id uuid.UUID) error { return nil }
func (f *memConnectors) DeleteByTenantID(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return 0, nil
}

type memSecrets struct {
	mu sync.Mutex
	m  map[uuid.UUID]*models.ConnectorSecret
}

func (f *memSecrets) Replace(ctx context.Context, s *models.ConnectorSecret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *s
	f.m[s.ConnectorID] = &clone
	return nil
}

func (f *memSecrets) GetByConnectorID(ctx context.Context, id uuid.UUID) (*models.ConnectorSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.m[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s has no client credentials", id)
	}
	clone := *s
	return &clone, nil
}

func (f *memSecrets) DeleteByConnectorID(ctx context.Context, id uuid.UUID) error { return nil }

type memCredentials struct {
	mu       sync.Mutex
	m        map[uuid.UUID]*models.OAuthCredential
	replaces int32
}

func (f *memCredentials) Replace(ctx context.Context, c *models.OAuthCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *c
	f.m[c.ConnectorID] = &clone
	atomic.AddInt32(&f.replaces, 1)
	return nil
}

func (f *memCredentials) GetByConnectorID(ctx context.Context, id uuid.UUID) (*models.OAuthCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.m[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s has no credentials", id)
	}
	clone := *c
	return &clone, nil
}

func (f *memCredentials) DeleteByConnectorID(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, id)
	return nil
}

type memAudits struct {
	mu      sync.Mutex
	entries []models.ConnectorAuditLog
}

func (f *memAudits) Create(ctx context.Context, e *models.ConnectorAuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *memAudits) ListByConnectorID(ctx context.Context, id uuid.UUID, limit int) ([]models.ConnectorAuditLog, error) {
	return nil, nil
}

func (f *memAudits) has(event models.AuditEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Event == event {
			return true
		}
	}
	return false
}

// localLocker is an in-process stand-in for the redis locker
type localLocker struct {
	mu sync.Mutex
}

func (l *localLocker) WithLockWait(ctx context.Context, key string, ttl, timeout time.Duration, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

type managerFixture struct {
	manager     *Manager
	connectors  *memConnectors
	credentials *memCredentials
	audits      *memAudits
	codec       vault.CredentialCodec
	connectorID uuid.UUID
}

func newManagerFixture(t *testing.T, tokenServerURL string) *managerFixture {
	t.Helper()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client := httpclient.NewClient(httpclient.DefaultConfig(), logger)
	registry := providers.NewRegistry(providers.NewKintoneAdapter(client), providers.NewSalesforceAdapter(client))
	codec := &vault.MockCodec{}

	connectors := &memConnectors{m: map[uuid.UUID]*models.Connector{}}
	secrets := &memSecrets{m: map[uuid.UUID]*models.ConnectorSecret{}}
	credentials := &memCredentials{m: map[uuid.UUID]*models.OAuthCredential{}}
	audits := &memAudits{}

	manager := NewManager(connectors, secrets, credentials, audits, registry, codec, &localLocker{}, logger)

	connectorID := uuid.New()
	config := map[string]any{"subdomain": "acme"}
	if tokenServerURL != "" {
		config["base_url"] = tokenServerURL
	}
	require.NoError(t, connectors.Create(context.Background(), &models.Connector{
		ID:       connectorID,
		Provider: "kintone",
		Name:     "Test",
		Status:   models.ConnectorStatusConnected,
		Config:   database.NewJSONB(config),
	}))

	idCipher, err := codec.Encrypt("client-1")
	require.NoError(t, err)
	secretCipher, err := codec.Encrypt("secret-1")
	require.NoError(t, err)
	require.NoError(t, secrets.Replace(context.Background(), &models.ConnectorSecret{
		ConnectorID:        connectorID,
		ClientIDCipher:     idCipher,
		ClientSecretCipher: secretCipher,
	}))

	return &managerFixture{
		manager:     manager,
		connectors:  connectors,
		credentials: credentials,
		audits:      audits,
		codec:       codec,
		connectorID: connectorID,
	}
}

func (fx *managerFixture) storeCredential(t *testing.T, accessToken string, refreshToken *string, expiresAt time.Time) {
	t.Helper()
	accessCipher, err := fx.codec.Encrypt(accessToken)
	require.NoError(t, err)

	var refreshCipher *string
	if refreshToken != nil {
		cipher, err := fx.codec.Encrypt(*refreshToken)
		require.NoError(t, err)
		refreshCipher = &cipher
	}

	require.NoError(t, fx.credentials.Replace(context.Background(), &models.OAuthCredential{
		ConnectorID:        fx.connectorID,
		AccessTokenCipher:  accessCipher,
		RefreshTokenCipher: refreshCipher,
		TokenType:          "Bearer",
		ExpiresAt:          expiresAt,
	}))
	atomic.StoreInt32(&fx.credentials.replaces, 0)
}

func strPtr(s string) *string { return &s }

func TestEnsureValidToken_OutsideSkewWindow(t *testing.T) {
	fx := newManagerFixture(t, "")
	fx.storeCredential(t, "at-valid", strPtr("rt-1"), time.Now().Add(time.Hour))

	token, err := fx.manager.EnsureValidToken(context.Background(), fx.connectorID)
	require.NoError(t, err)
	assert.Equal(t, "at-valid", token.Token)
	assert.Equal(t, "Bearer at-valid", token.AuthorizationHeader())

	// No refresh happened
	assert.Equal(t, int32(0), atomic.LoadInt32(&fx.credentials.replaces))
}

func TestEnsureValidToken_InsideSkewWindowRefreshesOnce(t *testing.T) {
	var refreshCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","refresh_token":"rt-new","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	fx := newManagerFixture(t, server.URL)
	// Expires in 30s, inside the 60s skew window
	fx.storeCredential(t, "at-stale", strPtr("rt-old"), time.Now().Add(30*time.Second))

	token, err := fx.manager.EnsureValidToken(context.Background(), fx.connectorID)
	require.NoError(t, err)
	assert.Equal(t, "at-new", token.Token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
	assert.True(t, fx.audits.has(models.AuditEventTokenRefreshed))

	// A second call finds the fresh token and does not refresh again
	token, err = fx.manager.EnsureValidToken(context.Background(), fx.connectorID)
	require.NoError(t, err)
	assert.Equal(t, "at-new", token.Token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))

	// The stored refresh token rotated
	credential, err := fx.credentials.GetByConnectorID(context.Background(), fx.connectorID)
	require.NoError(t, err)
	var storedRefresh string
	require.NotNil(t, credential.RefreshTokenCipher)
	require.NoError(t, fx.codec.Decrypt(*credential.RefreshTokenCipher, &storedRefresh))
	assert.Equal(t, "rt-new", storedRefresh)
}

func TestEnsureValidToken_RefreshKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	fx := newManagerFixture(t, server.URL)
	fx.storeCredential(t, "at-stale", strPtr("rt-keep"), time.Now().Add(10*time.Second))

	_, err := fx.manager.EnsureValidToken(context.Background(), fx.connectorID)
	require.NoError(t, err)

	credential, err := fx.credentials.GetByConnectorID(context.Background(), fx.connectorID)
	require.NoError(t, err)
	require.NotNil(t, credential.RefreshTokenCipher)

	var storedRefresh string
	require.NoError(t, fx.codec.Decrypt(*credential.RefreshTokenCipher, &storedRefresh))
	assert.Equal(t, "rt-keep", storedRefresh)
}

func TestEnsureValidToken_NoRefreshToken(t *testing.T) {
	fx := newManagerFixture(t, "")
	fx.storeCredential(t, "at-stale", nil, time.Now().Add(-time.Minute))

	_, err := fx.manager.EnsureValidToken(context.Background(), fx.connectorID)
	assert.ErrorIs(t, err, ErrReauthorizationRequired)
	assert.True(t, fx.audits.has(models.AuditEventTokenRefreshFailed))

	connector, err := fx.connectors.GetByID(context.Background(), fx.connectorID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectorStatusError, connector.Status)
}

func TestEnsureValidToken_ProviderRejectsRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	}))
	defer server.Close()

	fx := newManagerFixture(t, server.URL)
	fx.storeCredential(t, "at-stale", strPtr("rt-revoked"), time.Now().Add(-time.Minute))

	_, err := fx.manager.EnsureValidToken(context.Background(), fx.connectorID)
	assert.ErrorIs(t, err, ErrReauthorizationRequired)
	assert.True(t, fx.audits.has(models.AuditEventTokenRefreshFailed))

	connector, err := fx.connectors.GetByID(context.Background(), fx.connectorID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectorStatusError, connector.Status)
}

func TestEnsureValidToken_NoCredentials(t *testing.T) {
	fx := newManagerFixture(t, "")

	_, err := fx.manager.EnsureValidToken(context.Background(), fx.connectorID)
	assert.ErrorIs(t, err, ErrReauthorizationRequired)
}
