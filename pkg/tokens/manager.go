// Package tokens manages the lifecycle of a connector's OAuth tokens:
// expiry-skewed validity checks, serialized refresh and persistence.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/vault"
)

var (
	// ErrReauthorizationRequired is returned when a connector's tokens cannot
	// be refreshed and a user must run the authorization flow again.
	ErrReauthorizationRequired = errors.New("connector requires reauthorization")
)

const (
	// ExpirySkew treats tokens expiring within this window as already expired,
	// so a token never dies mid-request.
	ExpirySkew = 60 * time.Second

	// refresh lock bounds: one instance refreshes, the rest wait and re-read
	refreshLockTTL  = 30 * time.Second
	refreshLockWait = 10 * time.Second
)

// Locker serializes token refreshes for one connector across instances
type Locker interface {
	WithLockWait(ctx context.Context, key string, ttl, timeout time.Duration, fn func() error) error
}

// AccessToken is a decrypted, ready-to-use bearer token
type AccessToken struct {
	Token     string
	TokenType string
	ExpiresAt time.Time
}

// AuthorizationHeader formats the token for an Authorization header
func (t *AccessToken) AuthorizationHeader() string {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return tokenType + " " + t.Token
}

// Manager hands out valid access tokens, refreshing behind a per-connector
// lock when the stored token is inside the expiry skew window.
type Manager struct {
	connectors  repositories.ConnectorRepo
	secrets     repositories.SecretRepo
	credentials repositories.CredentialRepo
	audits      repositories.AuditRepo
	registry    *providers.Registry
	codec       vault.CredentialCodec
	locker      Locker
	logger      ectologger.Logger
	now         func() time.Time
}

// NewManager creates a token manager
func NewManager(
	connectors repositories.ConnectorRepo,
	secrets repositories.SecretRepo,
	credentials repositories.CredentialRepo,
	audits repositories.AuditRepo,
	registry *providers.Registry,
	codec vault.CredentialCodec,
	locker Locker,
	logger ectologger.Logger,
) *Manager {
	return &Manager{
		connectors:  connectors,
		secrets:     secrets,
		credentials: credentials,
		audits:      audits,
		registry:    registry,
		codec:       codec,
		locker:      locker,
		logger:      logger,
		now:         time.Now,
	}
}

// EnsureValidToken returns a token guaranteed to outlive the skew window,
// refreshing it first if needed. Callers treat ErrReauthorizationRequired as
// terminal for the connector; anything else is transient.
func (m *Manager) EnsureValidToken(ctx context.Context, connectorID uuid.UUID) (*AccessToken, error) {
	ctx, span := tracing.StartSpan(ctx, "TokenManager.EnsureValidToken")
	defer span.End()

	credential, err := m.credentials.GetByConnectorID(ctx, connectorID)
	if err != nil {
		if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: no stored credentials", ErrReauthorizationRequired)
		}
		return nil, err
	}

	if m.valid(credential) {
		return m.decryptToken(ctx, credential)
	}

	var token *AccessToken
	lockKey := "connector:" + connectorID.String()
	lockErr := m.locker.WithLockWait(ctx, lockKey, refreshLockTTL, refreshLockWait, func() error {
		// Another instance may have refreshed while we waited on the lock
		credential, err = m.credentials.GetByConnectorID(ctx, connectorID)
		if err != nil {
			if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
				return fmt.Errorf("%w: no stored credentials", ErrReauthorizationRequired)
			}
			return err
		}
		if m.valid(credential) {
			token, err = m.decryptToken(ctx, credential)
			return err
		}

		token, err = m.refresh(ctx, connectorID, credential)
		return err
	})
	if lockErr != nil {
		return nil, lockErr
	}
	return token, nil
}

// Invalidate drops a connector's stored tokens
func (m *Manager) Invalidate(ctx context.Context, connectorID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "TokenManager.Invalidate")
	defer span.End()

	return m.credentials.DeleteByConnectorID(ctx, connectorID)
}

// valid reports whether the stored token outlives the skew window
func (m *Manager) valid(credential *models.OAuthCredential) bool {
	return m.now().Add(ExpirySkew).Before(credential.ExpiresAt)
}

// refresh exchanges the refresh token and swaps in the new token set.
// Called with the connector's refresh lock held.
func (m *Manager) refresh(ctx context.Context, connectorID uuid.UUID, credential *models.OAuthCredential) (*AccessToken, error) {
	ctx, span := tracing.StartSpan(ctx, "TokenManager.refresh")
	defer span.End()

	if credential.RefreshTokenCipher == nil {
		return nil, m.refreshFailed(ctx, connectorID, "no refresh token was issued")
	}

	var refreshToken string
	if err := m.codec.Decrypt(*credential.RefreshTokenCipher, &refreshToken); err != nil {
		m.logger.WithContext(ctx).WithError(err).Error("failed to decrypt refresh token")
		return nil, m.refreshFailed(ctx, connectorID, "stored refresh token is unreadable")
	}

	connector, err := m.connectors.GetByID(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	provider, err := providers.FromString(connector.Provider)
	if err != nil {
		return nil, err
	}
	adapter, err := m.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	secret, err := m.secrets.GetByConnectorID(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	var creds providers.Credentials
	if err := m.codec.Decrypt(secret.ClientIDCipher, &creds.ClientID); err != nil {
		return nil, m.refreshFailed(ctx, connectorID, "stored client credentials are unreadable")
	}
	if err := m.codec.Decrypt(secret.ClientSecretCipher, &creds.ClientSecret); err != nil {
		return nil, m.refreshFailed(ctx, connectorID, "stored client credentials are unreadable")
	}

	cfg := providers.Config{Credentials: creds, Settings: connector.Config.Data}
	response, err := adapter.RefreshToken(ctx, cfg, refreshToken)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("token refresh rejected by provider")
		metrics.RecordTokenRefresh(connector.Provider, "failed")
		return nil, m.refreshFailed(ctx, connectorID, err.Error())
	}

	// Providers may omit the refresh token on rotation; keep the old one
	newRefreshCipher := credential.RefreshTokenCipher
	if response.RefreshToken != "" {
		cipher, err := m.codec.Encrypt(response.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		newRefreshCipher = &cipher
	}

	accessCipher, err := m.codec.Encrypt(response.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	var scope *string
	if response.Scope != "" {
		scope = &response.Scope
	}
	expiresAt := m.now().Add(response.ExpiresIn)

	replacement := &models.OAuthCredential{
		ConnectorID:        connectorID,
		AccessTokenCipher:  accessCipher,
		RefreshTokenCipher: newRefreshCipher,
		TokenType:          response.TokenType,
		ExpiresAt:          expiresAt,
		Scope:              scope,
		RawResponse:        database.NewJSONB(response.Raw),
	}
	if err := m.credentials.Replace(ctx, replacement); err != nil {
		return nil, err
	}

	m.audit(ctx, connectorID, models.AuditEventTokenRefreshed, map[string]any{
		"expires_at": expiresAt,
	})
	if err := m.connectors.UpdateStatus(ctx, connectorID, models.ConnectorStatusConnected, nil); err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("failed to mark connector connected after refresh")
	}

	metrics.RecordTokenRefresh(connector.Provider, "success")
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connectorID,
		"expires_at":   expiresAt,
	}).Info("Refreshed connector token")

	return &AccessToken{
		Token:     response.AccessToken,
		TokenType: response.TokenType,
		ExpiresAt: expiresAt,
	}, nil
}

// refreshFailed audits the failure, errors the connector and returns the
// terminal reauthorization error
func (m *Manager) refreshFailed(ctx context.Context, connectorID uuid.UUID, reason string) error {
	m.audit(ctx, connectorID, models.AuditEventTokenRefreshFailed, map[string]any{
		"reason": reason,
	})

	msg := "token refresh failed: " + reason
	if err := m.connectors.UpdateStatus(ctx, connectorID, models.ConnectorStatusError, &msg); err != nil {
		m.logger.WithContext(ctx).WithError(err).Error("failed to mark connector errored")
	}

	return fmt.Errorf("%w: %s", ErrReauthorizationRequired, reason)
}

func (m *Manager) decryptToken(ctx context.Context, credential *models.OAuthCredential) (*AccessToken, error) {
	var token string
	if err := m.codec.Decrypt(credential.AccessTokenCipher, &token); err != nil {
		m.logger.WithContext(ctx).WithError(err).Error("failed to decrypt access token")
		return nil, fmt.Errorf("%w: stored access token is unreadable", ErrReauthorizationRequired)
	}

	return &AccessToken{
		Token:     token,
		TokenType: credential.TokenType,
		ExpiresAt: credential.ExpiresAt,
	}, nil
}

func (m *Manager) audit(ctx context.Context, connectorID uuid.UUID, event models.AuditEvent, detail map[string]any) {
	entry := &models.ConnectorAuditLog{
		ConnectorID: connectorID,
		Event:       event,
		Detail:      database.NewJSONB(detail),
	}
	if err := m.audits.Create(ctx, entry); err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"event":        event,
		}).Warn("failed to write audit log entry")
	}
}
