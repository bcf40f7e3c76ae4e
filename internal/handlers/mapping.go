package handlers

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/validate"
)

// MappingHandler handles app mapping, field mapping and value rule endpoints
type MappingHandler struct {
	mappings repositories.MappingRepo
	rules    repositories.ValueRuleRepo
	schemas  repositories.RemoteSchemaRepo
}

// NewMappingHandler creates a new mapping handler
func NewMappingHandler(
	mappings repositories.MappingRepo,
	rules repositories.ValueRuleRepo,
	schemas repositories.RemoteSchemaRepo,
) *MappingHandler {
	return &MappingHandler{
		mappings: mappings,
		rules:    rules,
		schemas:  schemas,
	}
}

// CreateAppMappingRequest is the request body for creating an app mapping
type CreateAppMappingRequest struct {
	AppID                string `json:"app_id" validate:"required"`
	TargetEntity         string `json:"target_entity" validate:"required"`
	SkipWithoutUpdateKey bool   `json:"skip_without_update_key"`
}

// UpdateAppMappingRequest is the request body for updating an app mapping
type UpdateAppMappingRequest struct {
	SkipWithoutUpdateKey *bool `json:"skip_without_update_key,omitempty"`
}

// FieldMappingInput is one field mapping in a replace request
type FieldMappingInput struct {
	SourceCode  string `json:"source_code" validate:"required"`
	TargetField string `json:"target_field" validate:"required"`
	IsUpdateKey bool   `json:"is_update_key"`
}

// ReplaceFieldMappingsRequest is the request body for replacing field mappings
type ReplaceFieldMappingsRequest struct {
	Mappings []FieldMappingInput `json:"mappings"`
}

// CreateValueRuleRequest is the request body for creating a value rule
type CreateValueRuleRequest struct {
	TargetField string `json:"target_field" validate:"required"`
	SourceValue string `json:"source_value" validate:"required"`
	TargetValue string `json:"target_value" validate:"required"`
	SortOrder   int    `json:"sort_order"`
}

// UpdateValueRuleRequest is the request body for updating a value rule. The
// rule's mutable fields are replaced wholesale.
type UpdateValueRuleRequest struct {
	SourceValue string `json:"source_value" validate:"required"`
	TargetValue string `json:"target_value" validate:"required"`
	IsActive    bool   `json:"is_active"`
}

// ReorderValueRulesRequest is the request body for reordering value rules
type ReorderValueRulesRequest struct {
	TargetField string      `json:"target_field" validate:"required"`
	RuleIDs     []uuid.UUID `json:"rule_ids" validate:"required"`
}

// RegisterRoutes registers the mapping routes
func (h *MappingHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/connectors/:id/app-mappings", h.CreateAppMapping)
	g.GET("/connectors/:id/app-mappings", h.ListAppMappings)

	appMappings := g.Group("/app-mappings/:id")
	appMappings.GET("", h.GetAppMapping)
	appMappings.PUT("", h.UpdateAppMapping)
	appMappings.DELETE("", h.DeleteAppMapping)
	appMappings.POST("/activate", h.ActivateAppMapping)
	appMappings.POST("/deactivate", h.DeactivateAppMapping)
	appMappings.GET("/field-mappings", h.ListFieldMappings)
	appMappings.PUT("/field-mappings", h.ReplaceFieldMappings)
	appMappings.GET("/value-rules", h.ListValueRules)
	appMappings.POST("/value-rules", h.CreateValueRule)
	appMappings.POST("/value-rules/reorder", h.ReorderValueRules)

	g.PUT("/value-rules/:id", h.UpdateValueRule)
	g.DELETE("/value-rules/:id", h.DeleteValueRule)
}

// CreateAppMapping handles POST /connectors/:id/app-mappings. New mappings
// start inactive so half-configured mappings never feed a sync.
func (h *MappingHandler) CreateAppMapping(c echo.Context) error {
	ctx := c.Request().Context()

	connectorID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	var req CreateAppMappingRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	target := models.TargetEntityType(req.TargetEntity)
	if !models.ValidTargetEntityType(target) {
		return BadRequest("invalid target_entity: " + req.TargetEntity)
	}

	appMapping := &models.AppMapping{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		ConnectorID:          connectorID,
		AppID:                req.AppID,
		TargetEntity:         target,
		IsActive:             false,
		SkipWithoutUpdateKey: req.SkipWithoutUpdateKey,
	}

	if err := h.mappings.CreateAppMapping(ctx, appMapping); err != nil {
		return err
	}

	return CreatedResponse(c, appMapping)
}

// ListAppMappings handles GET /connectors/:id/app-mappings
func (h *MappingHandler) ListAppMappings(c echo.Context) error {
	ctx := c.Request().Context()

	connectorID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	appMappings, err := h.mappings.ListAppMappings(ctx, connectorID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, appMappings)
}

// GetAppMapping handles GET /app-mappings/:id
func (h *MappingHandler) GetAppMapping(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	appMapping, err := h.mappings.GetAppMapping(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, appMapping)
}

// UpdateAppMapping handles PUT /app-mappings/:id
func (h *MappingHandler) UpdateAppMapping(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	existing, err := h.mappings.GetAppMapping(ctx, id)
	if err != nil {
		return err
	}

	var req UpdateAppMappingRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	if req.SkipWithoutUpdateKey != nil {
		existing.SkipWithoutUpdateKey = *req.SkipWithoutUpdateKey
	}

	if err := h.mappings.UpdateAppMapping(ctx, existing); err != nil {
		return err
	}

	return SuccessResponse(c, existing)
}

// DeleteAppMapping handles DELETE /app-mappings/:id
func (h *MappingHandler) DeleteAppMapping(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.mappings.DeleteAppMapping(ctx, id); err != nil {
		return err
	}

	return NoContentResponse(c)
}

// ActivateAppMapping handles POST /app-mappings/:id/activate. A mapping needs
// at least one field mapping before it can be activated.
func (h *MappingHandler) ActivateAppMapping(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	fieldMappings, err := h.mappings.ListFieldMappings(ctx, id)
	if err != nil {
		return err
	}
	if len(fieldMappings) == 0 {
		return BadRequest("cannot activate a mapping with no field mappings")
	}

	if err := h.mappings.SetAppMappingActive(ctx, id, true); err != nil {
		return err
	}

	return SuccessResponse(c, map[string]string{"status": "activated"})
}

// DeactivateAppMapping handles POST /app-mappings/:id/deactivate
func (h *MappingHandler) DeactivateAppMapping(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.mappings.SetAppMappingActive(ctx, id, false); err != nil {
		return err
	}

	return SuccessResponse(c, map[string]string{"status": "deactivated"})
}

// ListFieldMappings handles GET /app-mappings/:id/field-mappings
func (h *MappingHandler) ListFieldMappings(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	fieldMappings, err := h.mappings.ListFieldMappings(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, fieldMappings)
}

// ReplaceFieldMappings handles PUT /app-mappings/:id/field-mappings. The full
// set is replaced in one transaction; the source type of each field is
// inferred from the cached remote schema.
func (h *MappingHandler) ReplaceFieldMappings(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	appMapping, err := h.mappings.GetAppMapping(ctx, id)
	if err != nil {
		return err
	}

	var req ReplaceFieldMappingsRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	seen := make(map[string]bool, len(req.Mappings))
	for _, m := range req.Mappings {
		if m.SourceCode == "" || m.TargetField == "" {
			return BadRequest("source_code and target_field are required for every mapping")
		}
		if seen[m.TargetField] {
			return BadRequest("duplicate target_field: " + m.TargetField)
		}
		seen[m.TargetField] = true
	}

	fields, err := h.schemas.ListFields(ctx, appMapping.ConnectorID, appMapping.AppID)
	if err != nil {
		return err
	}

	fieldMappings := make([]models.FieldMapping, 0, len(req.Mappings))
	for i, m := range req.Mappings {
		fieldMappings = append(fieldMappings, models.FieldMapping{
			ID:           uuid.New(),
			TenantID:     tenantID,
			AppMappingID: id,
			SourceCode:   m.SourceCode,
			SourceType:   mapping.InferFieldType(fields, m.SourceCode),
			TargetField:  m.TargetField,
			IsUpdateKey:  m.IsUpdateKey,
			SortOrder:    i,
		})
	}

	if err := h.mappings.ReplaceFieldMappings(ctx, id, fieldMappings); err != nil {
		return err
	}

	return SuccessResponse(c, fieldMappings)
}

// ListValueRules handles GET /app-mappings/:id/value-rules
func (h *MappingHandler) ListValueRules(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	rules, err := h.rules.List(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, rules)
}

// CreateValueRule handles POST /app-mappings/:id/value-rules
func (h *MappingHandler) CreateValueRule(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	var req CreateValueRuleRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	rule := &models.ValueMappingRule{
		ID:           uuid.New(),
		TenantID:     tenantID,
		AppMappingID: id,
		TargetField:  req.TargetField,
		SourceValue:  req.SourceValue,
		TargetValue:  req.TargetValue,
		IsActive:     true,
		SortOrder:    req.SortOrder,
	}

	if err := h.rules.Create(ctx, rule); err != nil {
		return err
	}

	return CreatedResponse(c, rule)
}

// UpdateValueRule handles PUT /value-rules/:id
func (h *MappingHandler) UpdateValueRule(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req UpdateValueRuleRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	rule := &models.ValueMappingRule{
		ID:          id,
		SourceValue: req.SourceValue,
		TargetValue: req.TargetValue,
		IsActive:    req.IsActive,
	}

	if err := h.rules.Update(ctx, rule); err != nil {
		return err
	}

	return SuccessResponse(c, rule)
}

// DeleteValueRule handles DELETE /value-rules/:id
func (h *MappingHandler) DeleteValueRule(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.rules.Delete(ctx, id); err != nil {
		return err
	}

	return NoContentResponse(c)
}

// ReorderValueRules handles POST /app-mappings/:id/value-rules/reorder. The
// provided order becomes the evaluation order for that field's rules.
func (h *MappingHandler) ReorderValueRules(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req ReorderValueRulesRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}
	if len(req.RuleIDs) == 0 {
		return BadRequest("rule_ids is required")
	}

	if err := h.rules.Reorder(ctx, id, req.TargetField, req.RuleIDs); err != nil {
		return err
	}

	return SuccessResponse(c, map[string]string{"status": "reordered"})
}
