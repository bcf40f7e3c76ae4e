package oauth

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackTransitionsFormLinearPath(t *testing.T) {
	require.NotEmpty(t, callbackTransitions)
	assert.Equal(t, StateCallbackReceived, callbackTransitions[0].from)
	assert.Equal(t, StateConnectorConnected, callbackTransitions[len(callbackTransitions)-1].to)

	for i, tr := range callbackTransitions {
		assert.NotEqual(t, StateError, tr.to, "StateError is only entered by the driver on failure")
		if i > 0 {
			assert.Equal(t, callbackTransitions[i-1].to, tr.from,
				"transition %d must start where the previous one ended", i)
		}
	}
}

func TestVerifyCallbackStateRejectsTamperedState(t *testing.T) {
	fx := newFlowFixture(t, "")

	result, err := fx.controller.Authorize(fx.ctx, fx.connector.ID, "/settings")
	require.NoError(t, err)

	attempt := newCallbackAttempt("kintone", "code", result.State+"x", result.Verifier)
	_, err = verifyCallbackState(context.Background(), fx.controller, attempt)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Nil(t, attempt.connector, "a rejected state must not resolve a connector")
}

func TestCallbackAttemptFailureIsTerminal(t *testing.T) {
	fx := newFlowFixture(t, "")

	result, err := fx.controller.Authorize(fx.ctx, fx.connector.ID, "")
	require.NoError(t, err)

	// State signed for kintone arriving on the salesforce route fails the
	// first transition, so the attempt never reaches the exchange.
	_, err = fx.controller.Callback(context.Background(), "salesforce", "code", result.State, result.Verifier)
	require.Error(t, err)

	connector, err := fx.connectors.GetByID(fx.ctx, fx.connector.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "connected", string(connector.Status))

	_, err = fx.credentials.GetByConnectorID(fx.ctx, fx.connector.ID)
	assert.Error(t, err)
}
