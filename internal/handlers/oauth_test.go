package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/oauth"
)

type stubAuthFlow struct {
	claims      *oauth.StateClaims
	callbackErr error

	gotProvider string
	gotCode     string
	gotVerifier string
}

func (s *stubAuthFlow) Authorize(ctx context.Context, connectorID uuid.UUID, returnPath string) (*oauth.AuthorizeResult, error) {
	return &oauth.AuthorizeResult{RedirectURL: "https://provider.example.com/authorize", Verifier: "v"}, nil
}

func (s *stubAuthFlow) Callback(ctx context.Context, providerName, code, state, verifier string) (*oauth.StateClaims, error) {
	s.gotProvider = providerName
	s.gotCode = code
	s.gotVerifier = verifier
	if s.callbackErr != nil {
		return nil, s.callbackErr
	}
	return s.claims, nil
}

func callbackContext(t *testing.T, query string, withCookie bool) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/connect/kintone/callback?"+query, nil)
	if withCookie {
		req.AddCookie(&http.Cookie{Name: verifierCookieName, Value: "verifier-1"})
	}
	rec := httptest.NewRecorder()

	c := echo.New().NewContext(req, rec)
	c.SetParamNames("provider")
	c.SetParamValues("kintone")
	return c, rec
}

func TestOAuthCallbackRedirectsWithConnectionResult(t *testing.T) {
	tenantID := uuid.New().String()
	connectorID := uuid.New().String()
	flow := &stubAuthFlow{claims: &oauth.StateClaims{
		TenantID:    tenantID,
		ConnectorID: connectorID,
		ReturnPath:  "/settings",
	}}
	handler := NewOAuthHandler(flow, true)

	c, rec := callbackContext(t, "code=good-code&state=signed-state", true)
	require.NoError(t, handler.Callback(c))

	assert.Equal(t, "kintone", flow.gotProvider)
	assert.Equal(t, "good-code", flow.gotCode)
	assert.Equal(t, "verifier-1", flow.gotVerifier)

	assert.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "/settings", location.Path)

	query := location.Query()
	assert.Equal(t, "true", query.Get("connected"))
	assert.Equal(t, tenantID, query.Get("tenant_id"))
	assert.Equal(t, connectorID, query.Get("connector_id"))
}

func TestOAuthCallbackDefaultsReturnPath(t *testing.T) {
	flow := &stubAuthFlow{claims: &oauth.StateClaims{
		TenantID:    uuid.New().String(),
		ConnectorID: uuid.New().String(),
	}}
	handler := NewOAuthHandler(flow, true)

	c, rec := callbackContext(t, "code=good-code&state=signed-state", true)
	require.NoError(t, handler.Callback(c))

	location, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "/", location.Path)
	assert.Equal(t, "true", location.Query().Get("connected"))
}

func TestOAuthCallbackRedirectsProviderErrorToErrorView(t *testing.T) {
	flow := &stubAuthFlow{}
	handler := NewOAuthHandler(flow, true)

	c, rec := callbackContext(t, "error=access_denied&error_description=User+denied+access", false)
	require.NoError(t, handler.Callback(c))

	assert.Empty(t, flow.gotProvider, "a denied authorization must not reach the flow")

	assert.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, errorViewPath, location.Path)
	assert.Equal(t, "access_denied", location.Query().Get("error"))
	assert.Equal(t, "User denied access", location.Query().Get("error_description"))
}

func TestOAuthCallbackRequiresVerifierCookie(t *testing.T) {
	flow := &stubAuthFlow{}
	handler := NewOAuthHandler(flow, true)

	c, _ := callbackContext(t, "code=good-code&state=signed-state", false)
	err := handler.Callback(c)
	require.Error(t, err)
	assert.Empty(t, flow.gotCode)
}
