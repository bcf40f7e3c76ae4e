package handlers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/oauth"
)

const (
	// verifierCookieName holds the PKCE verifier between the authorize
	// redirect and the provider callback
	verifierCookieName = "fern_oauth_verifier"

	// verifierCookieTTL matches the state TTL so a stale cookie cannot
	// outlive the flow it belongs to
	verifierCookieTTL = 10 * time.Minute

	// errorViewPath is the admin view shown when a provider denies the
	// authorization request
	errorViewPath = "/connect/error"
)

// AuthFlow is the part of the OAuth flow the handler drives
type AuthFlow interface {
	Authorize(ctx context.Context, connectorID uuid.UUID, returnPath string) (*oauth.AuthorizeResult, error)
	Callback(ctx context.Context, providerName, code, state, verifier string) (*oauth.StateClaims, error)
}

// OAuthHandler handles the OAuth authorization flow endpoints
type OAuthHandler struct {
	flow         AuthFlow
	secureCookie bool
}

// NewOAuthHandler creates a new OAuth handler. secureCookie should be true
// everywhere except local development over plain HTTP.
func NewOAuthHandler(flow AuthFlow, secureCookie bool) *OAuthHandler {
	return &OAuthHandler{
		flow:         flow,
		secureCookie: secureCookie,
	}
}

// AuthorizeRequest is the request body for starting an OAuth flow
type AuthorizeRequest struct {
	ReturnPath string `json:"return_path,omitempty"`
}

// AuthorizeResponse is returned when an OAuth flow is started
type AuthorizeResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// RegisterRoutes registers the tenant-scoped OAuth routes
func (h *OAuthHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/connectors/:id/authorize", h.Authorize)
}

// RegisterCallbackRoutes registers the provider callback. It lives outside
// the authenticated group because the browser arrives from the provider
// without a session; the signed state carries the tenant binding.
func (h *OAuthHandler) RegisterCallbackRoutes(e *echo.Echo) {
	e.GET("/connect/:provider/callback", h.Callback)
}

// Authorize handles POST /connectors/:id/authorize. It returns the provider
// authorization URL and stashes the PKCE verifier in an HttpOnly cookie so
// the callback can complete the exchange.
func (h *OAuthHandler) Authorize(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req AuthorizeRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	result, err := h.flow.Authorize(ctx, id, req.ReturnPath)
	if err != nil {
		return err
	}

	c.SetCookie(&http.Cookie{
		Name:     verifierCookieName,
		Value:    result.Verifier,
		Path:     "/connect",
		MaxAge:   int(verifierCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	return SuccessResponse(c, AuthorizeResponse{RedirectURL: result.RedirectURL})
}

// Callback handles GET /connect/:provider/callback. A provider denial is
// redirected to the error view carrying the provider's error code; on
// success the browser is redirected to the return path embedded in the
// signed state, augmented with the connection result.
func (h *OAuthHandler) Callback(c echo.Context) error {
	ctx := c.Request().Context()

	provider := c.Param("provider")
	code := c.QueryParam("code")
	state := c.QueryParam("state")

	if errParam := c.QueryParam("error"); errParam != "" {
		return c.Redirect(http.StatusFound, errorRedirectURL(errParam, c.QueryParam("error_description")))
	}

	if code == "" {
		return BadRequest("missing code parameter")
	}
	if state == "" {
		return BadRequest("missing state parameter")
	}

	cookie, err := c.Cookie(verifierCookieName)
	if err != nil || cookie.Value == "" {
		return BadRequest("authorization flow expired, please start over")
	}

	claims, err := h.flow.Callback(ctx, provider, code, state, cookie.Value)
	if err != nil {
		return err
	}

	// Clear the verifier; it is single use
	c.SetCookie(&http.Cookie{
		Name:     verifierCookieName,
		Value:    "",
		Path:     "/connect",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	return c.Redirect(http.StatusFound, successRedirectURL(claims))
}

// errorRedirectURL points the browser at the error view with the provider's
// error code attached
func errorRedirectURL(errCode, description string) string {
	q := url.Values{}
	q.Set("error", errCode)
	if description != "" {
		q.Set("error_description", description)
	}
	return errorViewPath + "?" + q.Encode()
}

// successRedirectURL augments the stored return path with the connection
// result so the admin view can confirm which connector just connected
func successRedirectURL(claims *oauth.StateClaims) string {
	returnPath := claims.ReturnPath
	if returnPath == "" {
		returnPath = "/"
	}

	target, err := url.Parse(returnPath)
	if err != nil {
		target = &url.URL{Path: "/"}
	}

	q := target.Query()
	q.Set("connected", "true")
	q.Set("tenant_id", claims.TenantID)
	q.Set("connector_id", claims.ConnectorID)
	target.RawQuery = q.Encode()
	return target.String()
}
