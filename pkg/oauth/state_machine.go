package oauth

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

// FlowState names one step of a single authorization attempt. Authorize moves
// an attempt from StateStart to StateAuthorizeRedirected; the provider
// callback walks the rest through callbackTransitions. StateError is reachable
// from every step and is terminal: a failed attempt restarts from Authorize.
type FlowState string

const (
	StateStart                FlowState = "start"
	StateAuthorizeRedirected  FlowState = "authorize_redirected"
	StateCallbackReceived     FlowState = "callback_received"
	StateStateVerified        FlowState = "state_verified"
	StateTokenExchanged       FlowState = "token_exchanged"
	StateCredentialsPersisted FlowState = "credentials_persisted"
	StateConnectorConnected   FlowState = "connector_connected"
	StateError                FlowState = "error"
)

// callbackAttempt carries one callback through the transition table,
// accumulating what later transitions need from earlier ones.
type callbackAttempt struct {
	providerName string
	code         string
	state        string
	verifier     string

	claims    *StateClaims
	connector *models.Connector
	token     *providers.TokenResponse

	current FlowState
	trail   []FlowState
}

func newCallbackAttempt(providerName, code, state, verifier string) *callbackAttempt {
	return &callbackAttempt{
		providerName: providerName,
		code:         code,
		state:        state,
		verifier:     verifier,
		current:      StateCallbackReceived,
		trail:        []FlowState{StateCallbackReceived},
	}
}

func (a *callbackAttempt) advance(to FlowState) {
	a.current = to
	a.trail = append(a.trail, to)
}

func (a *callbackAttempt) fail() {
	a.current = StateError
	a.trail = append(a.trail, StateError)
}

// transition moves an attempt from one state to the next. run returns the
// context because verifying the state is what establishes the tenant scope.
type transition struct {
	from FlowState
	to   FlowState
	run  func(ctx context.Context, f *FlowController, a *callbackAttempt) (context.Context, error)
}

// callbackTransitions is the linear happy path of a callback. The driver in
// Callback stops at the first failing transition and moves the attempt to
// StateError.
var callbackTransitions = []transition{
	{from: StateCallbackReceived, to: StateStateVerified, run: verifyCallbackState},
	{from: StateStateVerified, to: StateTokenExchanged, run: exchangeAuthorizationCode},
	{from: StateTokenExchanged, to: StateCredentialsPersisted, run: persistExchangedCredentials},
	{from: StateCredentialsPersisted, to: StateConnectorConnected, run: markConnectorConnected},
}

// verifyCallbackState checks the signed state before any side effect: the
// signature and expiry must hold, the embedded connector must exist and its
// provider must match the callback route.
func verifyCallbackState(ctx context.Context, f *FlowController, a *callbackAttempt) (context.Context, error) {
	claims, err := f.signer.Verify(a.state, a.providerName)
	if err != nil {
		return ctx, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Tenant scope comes from the signed state from here on
	ctx = appctx.SetTenantID(ctx, claims.TenantID)

	connectorID, err := uuid.Parse(claims.ConnectorID)
	if err != nil {
		return ctx, httperror.NewHTTPError(http.StatusBadRequest, "malformed connector id in state")
	}

	connector, err := f.connectors.GetByID(ctx, connectorID)
	if err != nil {
		return ctx, err
	}
	if connector.Provider != a.providerName {
		return ctx, httperror.NewHTTPErrorf(http.StatusBadRequest,
			"callback provider %q does not match connector provider %q", a.providerName, connector.Provider)
	}

	a.claims = claims
	a.connector = connector
	return ctx, nil
}

// exchangeAuthorizationCode trades the code and verifier for tokens. Exchange
// failure errors the connector and audits the truncated code; nothing is
// persisted, so stored credentials from an earlier flow survive intact.
func exchangeAuthorizationCode(ctx context.Context, f *FlowController, a *callbackAttempt) (context.Context, error) {
	if a.code == "" {
		return ctx, httperror.NewHTTPError(http.StatusBadRequest, "missing authorization code")
	}
	if a.verifier == "" {
		return ctx, httperror.NewHTTPError(http.StatusBadRequest, "missing code verifier; restart the authorization flow")
	}

	provider, err := providers.FromString(a.connector.Provider)
	if err != nil {
		return ctx, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	adapter, err := f.registry.Get(provider)
	if err != nil {
		return ctx, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cfg, err := f.providerConfig(ctx, a.connector)
	if err != nil {
		return ctx, err
	}

	token, err := adapter.ExchangeCode(ctx, cfg, a.code, a.verifier, f.RedirectURI(provider))
	if err != nil {
		f.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": a.connector.ID,
		}).Error("token exchange failed")

		f.audit(ctx, a.connector.ID, models.AuditEventTokenExchangeFailed, map[string]any{
			"error": err.Error(),
			"code":  truncate(a.code, 8),
		})
		msg := "token exchange failed"
		if statusErr := f.connectors.UpdateStatus(ctx, a.connector.ID, models.ConnectorStatusError, &msg); statusErr != nil {
			f.logger.WithContext(ctx).WithError(statusErr).Error("failed to mark connector errored")
		}
		return ctx, httperror.NewHTTPError(http.StatusBadGateway, "token exchange failed")
	}

	a.token = token
	return ctx, nil
}

// persistExchangedCredentials swaps in the fresh token set and captures any
// data-plane host the provider reported alongside the tokens.
func persistExchangedCredentials(ctx context.Context, f *FlowController, a *callbackAttempt) (context.Context, error) {
	if err := f.persistToken(ctx, a.connector, a.token); err != nil {
		return ctx, err
	}

	// Salesforce reports the org's data-plane host in the token payload
	if instanceURL, ok := a.token.Raw["instance_url"].(string); ok && instanceURL != "" {
		if a.connector.Config.Data == nil {
			a.connector.Config = database.NewJSONB(map[string]any{})
		}
		a.connector.Config.Data["instance_url"] = instanceURL
		if err := f.connectors.Update(ctx, a.connector); err != nil {
			f.logger.WithContext(ctx).WithError(err).Error("failed to store instance url")
		}
	}
	return ctx, nil
}

// markConnectorConnected flips the connector to connected, audits the
// exchange and announces the connection downstream.
func markConnectorConnected(ctx context.Context, f *FlowController, a *callbackAttempt) (context.Context, error) {
	if err := f.connectors.UpdateStatus(ctx, a.connector.ID, models.ConnectorStatusConnected, nil); err != nil {
		return ctx, err
	}

	f.audit(ctx, a.connector.ID, models.AuditEventTokenExchanged, map[string]any{
		"scope":      a.token.Scope,
		"expires_in": a.token.ExpiresIn.String(),
	})
	f.publishEvent(ctx, a.connector, kafka.EventConnectorConnected, "")

	f.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": a.connector.ID,
		"provider":     a.connector.Provider,
	}).Info("Connector authorized")
	return ctx, nil
}
