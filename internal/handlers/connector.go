package handlers

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/oauth"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/validate"
)

// ConnectorHandler handles connector CRUD and secret management
type ConnectorHandler struct {
	repo     repositories.ConnectorRepo
	audits   repositories.AuditRepo
	flow     *oauth.FlowController
	registry *providers.Registry
}

// NewConnectorHandler creates a new connector handler
func NewConnectorHandler(
	repo repositories.ConnectorRepo,
	audits repositories.AuditRepo,
	flow *oauth.FlowController,
	registry *providers.Registry,
) *ConnectorHandler {
	return &ConnectorHandler{
		repo:     repo,
		audits:   audits,
		flow:     flow,
		registry: registry,
	}
}

// CreateConnectorRequest is the request body for creating a connector
type CreateConnectorRequest struct {
	Provider     string         `json:"provider" validate:"required"`
	Name         string         `json:"name" validate:"required"`
	Config       map[string]any `json:"config,omitempty"`
	Scopes       *string        `json:"scopes,omitempty"`
	SyncInterval *int           `json:"sync_interval_seconds,omitempty"`
}

// UpdateConnectorRequest is the request body for updating a connector
type UpdateConnectorRequest struct {
	Name         *string        `json:"name,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	Scopes       *string        `json:"scopes,omitempty"`
	SyncInterval *int           `json:"sync_interval_seconds,omitempty"`
}

// SetSecretsRequest is the request body for storing OAuth client credentials
type SetSecretsRequest struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

// RegisterRoutes registers the connector routes
func (h *ConnectorHandler) RegisterRoutes(g *echo.Group) {
	connectors := g.Group("/connectors")
	connectors.POST("", h.Create)
	connectors.GET("", h.List)
	connectors.GET("/:id", h.Get)
	connectors.PUT("/:id", h.Update)
	connectors.DELETE("/:id", h.Delete)
	connectors.PUT("/:id/secrets", h.SetSecrets)
	connectors.POST("/:id/disconnect", h.Disconnect)
	connectors.GET("/:id/audit-logs", h.ListAuditLogs)
}

// Create handles POST /connectors
func (h *ConnectorHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	var req CreateConnectorRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	provider, err := providers.FromString(req.Provider)
	if err != nil {
		return BadRequest(err.Error())
	}
	adapter, err := h.registry.Get(provider)
	if err != nil {
		return BadRequest(err.Error())
	}
	if err := adapter.ValidateConfig(req.Config); err != nil {
		return BadRequest(err.Error())
	}

	connector := &models.Connector{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Provider:     string(provider),
		Name:         req.Name,
		Config:       database.NewJSONB(req.Config),
		Scopes:       req.Scopes,
		SyncInterval: req.SyncInterval,
	}

	if err := h.repo.Create(ctx, connector); err != nil {
		return err
	}

	return CreatedResponse(c, connector)
}

// List handles GET /connectors
func (h *ConnectorHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	connectors, err := h.repo.List(ctx)
	if err != nil {
		return err
	}

	return SuccessResponse(c, connectors)
}

// Get handles GET /connectors/:id
func (h *ConnectorHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	connector, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, connector)
}

// Update handles PUT /connectors/:id. The provider is fixed at creation;
// changing systems means creating a new connector.
func (h *ConnectorHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	existing, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var req UpdateConnectorRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	if req.Name != nil {
		if *req.Name == "" {
			return BadRequest("name must not be empty")
		}
		existing.Name = *req.Name
	}
	if req.Config != nil {
		provider, err := providers.FromString(existing.Provider)
		if err != nil {
			return BadRequest(err.Error())
		}
		adapter, err := h.registry.Get(provider)
		if err != nil {
			return BadRequest(err.Error())
		}
		if err := adapter.ValidateConfig(req.Config); err != nil {
			return BadRequest(err.Error())
		}
		existing.Config = database.NewJSONB(req.Config)
	}
	if req.Scopes != nil {
		existing.Scopes = req.Scopes
	}
	if req.SyncInterval != nil {
		existing.SyncInterval = req.SyncInterval
	}

	if err := h.repo.Update(ctx, existing); err != nil {
		return err
	}

	return SuccessResponse(c, existing)
}

// Delete handles DELETE /connectors/:id
func (h *ConnectorHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.repo.Delete(ctx, id); err != nil {
		return err
	}

	return NoContentResponse(c)
}

// SetSecrets handles PUT /connectors/:id/secrets. The credentials are
// encrypted at rest and never returned by any endpoint.
func (h *ConnectorHandler) SetSecrets(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req SetSecretsRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	if err := h.flow.StoreSecrets(ctx, id, req.ClientID, req.ClientSecret); err != nil {
		return err
	}

	return SuccessResponse(c, map[string]string{"status": "stored"})
}

// Disconnect handles POST /connectors/:id/disconnect
func (h *ConnectorHandler) Disconnect(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.flow.Disconnect(ctx, id); err != nil {
		return err
	}

	return SuccessResponse(c, map[string]string{"status": "disconnected"})
}

// ListAuditLogs handles GET /connectors/:id/audit-logs
func (h *ConnectorHandler) ListAuditLogs(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	limit := ParseLimit(c, 50)
	logs, err := h.audits.ListByConnectorID(ctx, id, limit)
	if err != nil {
		return err
	}

	return SuccessResponse(c, logs)
}
