package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/remote"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

// SchemaHandler serves the cached remote schema and refreshes it on demand
type SchemaHandler struct {
	schemas repositories.RemoteSchemaRepo
	client  *remote.Client
}

// NewSchemaHandler creates a new schema handler
func NewSchemaHandler(schemas repositories.RemoteSchemaRepo, client *remote.Client) *SchemaHandler {
	return &SchemaHandler{
		schemas: schemas,
		client:  client,
	}
}

// RegisterRoutes registers the remote schema routes
func (h *SchemaHandler) RegisterRoutes(g *echo.Group) {
	connectors := g.Group("/connectors/:id")
	connectors.GET("/apps", h.ListApps)
	connectors.POST("/apps/sync", h.SyncApps)
	connectors.GET("/apps/:appId/fields", h.ListFields)
	connectors.POST("/apps/:appId/fields/sync", h.SyncFields)
}

// ListApps handles GET /connectors/:id/apps. Serves the cached catalog; use
// the sync action to refresh from the provider.
func (h *SchemaHandler) ListApps(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	apps, err := h.schemas.ListApps(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, apps)
}

// SyncApps handles POST /connectors/:id/apps/sync. Fetches the app catalog
// from the provider and replaces the cached copy.
func (h *SchemaHandler) SyncApps(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	apps, err := h.client.ListApps(ctx, id)
	if err != nil {
		return err
	}

	if err := h.schemas.ReplaceApps(ctx, id, apps); err != nil {
		return err
	}

	return SuccessResponse(c, apps)
}

// ListFields handles GET /connectors/:id/apps/:appId/fields
func (h *SchemaHandler) ListFields(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	appID := c.Param("appId")
	if appID == "" {
		return BadRequest("missing appId")
	}

	fields, err := h.schemas.ListFields(ctx, id, appID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, fields)
}

// SyncFields handles POST /connectors/:id/apps/:appId/fields/sync
func (h *SchemaHandler) SyncFields(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	appID := c.Param("appId")
	if appID == "" {
		return BadRequest("missing appId")
	}

	fields, err := h.client.ListFields(ctx, id, appID)
	if err != nil {
		return err
	}

	if err := h.schemas.ReplaceFields(ctx, id, appID, fields); err != nil {
		return err
	}

	return SuccessResponse(c, fields)
}
