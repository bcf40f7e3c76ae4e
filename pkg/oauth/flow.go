// Package oauth implements the authorization-code flow that connects a
// connector to its provider: PKCE, signed state, code exchange and
// credential persistence.
package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/vault"
)

// EventPublisher publishes connector lifecycle events downstream
type EventPublisher interface {
	PublishConnectorEvent(ctx context.Context, evt *kafka.ConnectorEventMessage) error
}

// FlowController drives a connector through the OAuth authorization flow.
// The flow is a one-way ladder: authorize -> callback -> connected. A failed
// callback drops the connector into the error state and the ladder restarts
// from authorize; there is no partial progress to resume.
type FlowController struct {
	connectors  repositories.ConnectorRepo
	secrets     repositories.SecretRepo
	credentials repositories.CredentialRepo
	audits      repositories.AuditRepo
	registry    *providers.Registry
	codec       vault.CredentialCodec
	signer      *StateSigner
	publisher   EventPublisher
	baseURL     string
	logger      ectologger.Logger
}

// NewFlowController creates a flow controller. baseURL is the externally
// visible origin used to build callback redirect URIs. publisher may be nil.
func NewFlowController(
	connectors repositories.ConnectorRepo,
	secrets repositories.SecretRepo,
	credentials repositories.CredentialRepo,
	audits repositories.AuditRepo,
	registry *providers.Registry,
	codec vault.CredentialCodec,
	signer *StateSigner,
	publisher EventPublisher,
	baseURL string,
	logger ectologger.Logger,
) *FlowController {
	return &FlowController{
		connectors:  connectors,
		secrets:     secrets,
		credentials: credentials,
		audits:      audits,
		registry:    registry,
		codec:       codec,
		signer:      signer,
		publisher:   publisher,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		logger:      logger,
	}
}

// AuthorizeResult is everything the handler needs to start a flow: where to
// send the browser and the verifier to stash in the flow cookie.
type AuthorizeResult struct {
	RedirectURL string
	Verifier    string
	State       string
}

// RedirectURI returns the callback URI registered with the provider
func (f *FlowController) RedirectURI(provider providers.Provider) string {
	return fmt.Sprintf("%s/connect/%s/callback", f.baseURL, provider)
}

// StoreSecrets encrypts and stores a connector's OAuth client credentials.
// Rotation goes through the same path and is audited.
func (f *FlowController) StoreSecrets(ctx context.Context, connectorID uuid.UUID, clientID, clientSecret string) error {
	ctx, span := tracing.StartSpan(ctx, "FlowController.StoreSecrets")
	defer span.End()

	if clientID == "" || clientSecret == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "client_id and client_secret are required")
	}

	connector, err := f.connectors.GetByID(ctx, connectorID)
	if err != nil {
		return err
	}

	idCipher, err := f.codec.Encrypt(clientID)
	if err != nil {
		f.logger.WithContext(ctx).WithError(err).Error("failed to encrypt client id")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store client credentials")
	}
	secretCipher, err := f.codec.Encrypt(clientSecret)
	if err != nil {
		f.logger.WithContext(ctx).WithError(err).Error("failed to encrypt client secret")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store client credentials")
	}

	secret := &models.ConnectorSecret{
		ConnectorID:        connector.ID,
		ClientIDCipher:     idCipher,
		ClientSecretCipher: secretCipher,
	}
	if err := f.secrets.Replace(ctx, secret); err != nil {
		return err
	}

	f.audit(ctx, connector.ID, models.AuditEventSecretsRotated, nil)
	return nil
}

// Authorize starts the flow for a connector and returns the provider redirect
func (f *FlowController) Authorize(ctx context.Context, connectorID uuid.UUID, returnPath string) (*AuthorizeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "FlowController.Authorize")
	defer span.End()

	connector, err := f.connectors.GetByID(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	provider, err := providers.FromString(connector.Provider)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	adapter, err := f.registry.Get(provider)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := adapter.ValidateConfig(connector.Config.Data); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cfg, err := f.providerConfig(ctx, connector)
	if err != nil {
		return nil, err
	}

	verifier, err := GenerateVerifier()
	if err != nil {
		f.logger.WithContext(ctx).WithError(err).Error("failed to generate code verifier")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start authorization")
	}

	state, err := f.signer.Sign(connector.TenantID, connector.Provider, connector.ID, returnPath)
	if err != nil {
		f.logger.WithContext(ctx).WithError(err).Error("failed to sign oauth state")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start authorization")
	}

	scopes := ""
	if connector.Scopes != nil {
		scopes = *connector.Scopes
	}

	redirectURL, err := adapter.BuildAuthorizeURL(cfg, providers.AuthorizeParams{
		RedirectURI:   f.RedirectURI(provider),
		State:         state,
		CodeChallenge: ChallengeS256(verifier),
		Scopes:        scopes,
	})
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	f.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connector.ID,
		"provider":     connector.Provider,
	}).Info("Started authorization flow")

	return &AuthorizeResult{
		RedirectURL: redirectURL,
		Verifier:    verifier,
		State:       state,
	}, nil
}

// Callback completes the flow. The request arrives unauthenticated, so the
// tenant is established from the verified state, never from the session.
// The attempt walks callbackTransitions in order; the first failing
// transition drops it into StateError and the error propagates to the
// handler. Returns the claims so the handler can redirect to the stored
// return path.
func (f *FlowController) Callback(ctx context.Context, providerName, code, state, verifier string) (*StateClaims, error) {
	ctx, span := tracing.StartSpan(ctx, "FlowController.Callback")
	defer span.End()

	attempt := newCallbackAttempt(providerName, code, state, verifier)
	for _, t := range callbackTransitions {
		next, err := t.run(ctx, f, attempt)
		if err != nil {
			attempt.fail()
			f.logger.WithContext(next).WithError(err).WithFields(map[string]any{
				"provider":   providerName,
				"flow_state": t.from,
			}).Warn("authorization callback failed")
			return nil, err
		}
		ctx = next
		attempt.advance(t.to)
	}

	return attempt.claims, nil
}

// Disconnect drops a connector's tokens and returns it to disconnected
func (f *FlowController) Disconnect(ctx context.Context, connectorID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "FlowController.Disconnect")
	defer span.End()

	connector, err := f.connectors.GetByID(ctx, connectorID)
	if err != nil {
		return err
	}

	if err := f.credentials.DeleteByConnectorID(ctx, connector.ID); err != nil {
		return err
	}
	if err := f.connectors.UpdateStatus(ctx, connector.ID, models.ConnectorStatusDisconnected, nil); err != nil {
		return err
	}

	f.audit(ctx, connector.ID, models.AuditEventStatusChanged, map[string]any{
		"status": models.ConnectorStatusDisconnected,
	})
	f.publishEvent(ctx, connector, kafka.EventConnectorDisconnected, "")
	return nil
}

// providerConfig assembles the adapter config from stored secrets and settings
func (f *FlowController) providerConfig(ctx context.Context, connector *models.Connector) (providers.Config, error) {
	secret, err := f.secrets.GetByConnectorID(ctx, connector.ID)
	if err != nil {
		return providers.Config{}, err
	}

	var creds providers.Credentials
	if err := f.codec.Decrypt(secret.ClientIDCipher, &creds.ClientID); err != nil {
		f.logger.WithContext(ctx).WithError(err).Error("failed to decrypt client id")
		return providers.Config{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read client credentials")
	}
	if err := f.codec.Decrypt(secret.ClientSecretCipher, &creds.ClientSecret); err != nil {
		f.logger.WithContext(ctx).WithError(err).Error("failed to decrypt client secret")
		return providers.Config{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read client credentials")
	}

	return providers.Config{
		Credentials: creds,
		Settings:    connector.Config.Data,
	}, nil
}

// persistToken encrypts and swaps in a fresh token set
func (f *FlowController) persistToken(ctx context.Context, connector *models.Connector, token *providers.TokenResponse) error {
	accessCipher, err := f.codec.Encrypt(token.AccessToken)
	if err != nil {
		f.logger.WithContext(ctx).WithError(err).Error("failed to encrypt access token")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store tokens")
	}

	var refreshCipher *string
	if token.RefreshToken != "" {
		cipher, err := f.codec.Encrypt(token.RefreshToken)
		if err != nil {
			f.logger.WithContext(ctx).WithError(err).Error("failed to encrypt refresh token")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store tokens")
		}
		refreshCipher = &cipher
	}

	var scope *string
	if token.Scope != "" {
		scope = &token.Scope
	}

	credential := &models.OAuthCredential{
		ConnectorID:        connector.ID,
		AccessTokenCipher:  accessCipher,
		RefreshTokenCipher: refreshCipher,
		TokenType:          token.TokenType,
		ExpiresAt:          time.Now().Add(token.ExpiresIn),
		Scope:              scope,
		RawResponse:        database.NewJSONB(token.Raw),
	}
	return f.credentials.Replace(ctx, credential)
}

// audit writes a best-effort audit entry
func (f *FlowController) audit(ctx context.Context, connectorID uuid.UUID, event models.AuditEvent, detail map[string]any) {
	entry := &models.ConnectorAuditLog{
		ConnectorID: connectorID,
		Event:       event,
		Detail:      database.NewJSONB(detail),
	}
	if err := f.audits.Create(ctx, entry); err != nil {
		f.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"event":        event,
		}).Warn("failed to write audit log entry")
	}
}

// publishEvent publishes a best-effort connector lifecycle event
func (f *FlowController) publishEvent(ctx context.Context, connector *models.Connector, eventType, detail string) {
	if f.publisher == nil {
		return
	}
	evt := &kafka.ConnectorEventMessage{
		Type:        eventType,
		TenantID:    connector.TenantID.String(),
		ConnectorID: connector.ID.String(),
		Provider:    connector.Provider,
		Detail:      detail,
	}
	if err := f.publisher.PublishConnectorEvent(ctx, evt); err != nil {
		f.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish connector event")
	}
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
