package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	appMappingsTable   = "app_mappings"
	fieldMappingsTable = "field_mappings"
)

var (
	appMappingStruct   = database.NewStruct(new(models.AppMapping))
	fieldMappingStruct = database.NewStruct(new(models.FieldMapping))
)

// MappingRepository handles app mappings and their field mappings
type MappingRepository struct {
	*Repository
}

// NewMappingRepository creates a new mapping repository
func NewMappingRepository(db database.DB, logger ectologger.Logger) *MappingRepository {
	return &MappingRepository{
		Repository: NewRepository(db, logger),
	}
}

// CreateAppMapping creates a new app mapping as an inactive draft
func (r *MappingRepository) CreateAppMapping(ctx context.Context, mapping *models.AppMapping) error {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.CreateAppMapping")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	mapping.TenantID = tenantID

	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	if !models.ValidTargetEntityType(mapping.TargetEntity) {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid target entity %q", mapping.TargetEntity)
	}
	mapping.IsActive = false

	ib := database.NewInsertBuilder()
	ib.InsertInto(appMappingsTable).
		Cols("id", "tenant_id", "connector_id", "app_id", "target_entity", "is_active", "skip_without_update_key",
			"created_at", "updated_at").
		Values(mapping.ID, mapping.TenantID, mapping.ConnectorID, mapping.AppID, mapping.TargetEntity,
			mapping.IsActive, mapping.SkipWithoutUpdateKey, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": mapping.ConnectorID,
			"app_id":       mapping.AppID,
		}).Error("failed to create app mapping")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create app mapping")
	}

	return nil
}

// GetAppMapping retrieves an app mapping by ID (tenant-scoped)
func (r *MappingRepository) GetAppMapping(ctx context.Context, id uuid.UUID) (*models.AppMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.GetAppMapping")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := appMappingStruct.SelectFrom(appMappingsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var mapping models.AppMapping
	err = r.DB().GetContext(ctx, &mapping, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "app mapping %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"app_mapping_id": id,
		}).Error("failed to get app mapping")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get app mapping")
	}

	return &mapping, nil
}

// ListAppMappings retrieves the app mappings for a connector
func (r *MappingRepository) ListAppMappings(ctx context.Context, connectorID uuid.UUID) ([]models.AppMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.ListAppMappings")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := appMappingStruct.SelectFrom(appMappingsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("connector_id", connectorID))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var mappings []models.AppMapping
	if err := r.DB().SelectContext(ctx, &mappings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to list app mappings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list app mappings")
	}

	return mappings, nil
}

// ListActiveAppMappings retrieves the active app mappings for a connector,
// optionally filtered to one target entity. This is the set a sync pass runs.
func (r *MappingRepository) ListActiveAppMappings(ctx context.Context, connectorID uuid.UUID, targetEntity *models.TargetEntityType) ([]models.AppMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.ListActiveAppMappings")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := appMappingStruct.SelectFrom(appMappingsTable)
	conds := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Equal("connector_id", connectorID),
		sb.Equal("is_active", true),
	}
	if targetEntity != nil {
		conds = append(conds, sb.Equal("target_entity", *targetEntity))
	}
	sb.Where(conds...)
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var mappings []models.AppMapping
	if err := r.DB().SelectContext(ctx, &mappings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to list active app mappings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list active app mappings")
	}

	return mappings, nil
}

// UpdateAppMapping updates a mapping's target entity and skip behavior
func (r *MappingRepository) UpdateAppMapping(ctx context.Context, mapping *models.AppMapping) error {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.UpdateAppMapping")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	if !models.ValidTargetEntityType(mapping.TargetEntity) {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid target entity %q", mapping.TargetEntity)
	}

	ub := database.NewUpdateBuilder()
	ub.Update(appMappingsTable).
		Set(
			ub.Assign("target_entity", mapping.TargetEntity),
			ub.Assign("skip_without_update_key", mapping.SkipWithoutUpdateKey),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", mapping.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&mapping.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "app mapping %s does not exist", mapping.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"app_mapping_id": mapping.ID,
		}).Error("failed to update app mapping")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update app mapping")
	}

	return nil
}

// SetAppMappingActive activates or deactivates a mapping. Activation is what
// promotes a draft into the sync path, and demotes any other active mapping
// for the same remote app so at most one drives a sync.
func (r *MappingRepository) SetAppMappingActive(ctx context.Context, id uuid.UUID, active bool) error {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.SetAppMappingActive")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	if active {
		const demote = `
			UPDATE app_mappings
			SET is_active = FALSE, updated_at = NOW()
			WHERE tenant_id = $1 AND id <> $2 AND is_active
			  AND (connector_id, app_id) = (SELECT connector_id, app_id FROM app_mappings WHERE id = $2)`
		if _, err := r.DB().ExecContext(ctx, demote, tenantID, id); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"app_mapping_id": id,
			}).Error("failed to demote sibling app mappings")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set app mapping active state")
		}
	}

	ub := database.NewUpdateBuilder()
	ub.Update(appMappingsTable).
		Set(
			ub.Assign("is_active", active),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"app_mapping_id": id,
		}).Error("failed to set app mapping active state")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set app mapping active state")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set app mapping active state")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "app mapping %s does not exist", id)
	}

	return nil
}

// DeleteAppMapping deletes an app mapping. Field mappings and value rules
// cascade at the database level.
func (r *MappingRepository) DeleteAppMapping(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.DeleteAppMapping")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(appMappingsTable).
		Where(db.Equal("tenant_id", tenantID), db.Equal("id", id))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"app_mapping_id": id,
		}).Error("failed to delete app mapping")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete app mapping")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete app mapping")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "app mapping %s does not exist", id)
	}

	return nil
}

// ReplaceFieldMappings swaps the field mapping set under an app mapping.
// The UI edits field mappings as a unit, so partial updates are not supported.
func (r *MappingRepository) ReplaceFieldMappings(ctx context.Context, appMappingID uuid.UUID, mappings []models.FieldMapping) error {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.ReplaceFieldMappings")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store field mappings")
	}
	defer tx.Rollback(ctx)

	del := database.NewDeleteBuilder()
	del.DeleteFrom(fieldMappingsTable).
		Where(del.Equal("tenant_id", tenantID), del.Equal("app_mapping_id", appMappingID))
	query, args := del.Build()
	if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"app_mapping_id": appMappingID,
		}).Error("failed to clear previous field mappings")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store field mappings")
	}

	for i := range mappings {
		fm := &mappings[i]
		fm.TenantID = tenantID
		fm.AppMappingID = appMappingID
		if fm.ID == uuid.Nil {
			fm.ID = uuid.New()
		}
		fm.SortOrder = i

		ib := database.NewInsertBuilder()
		ib.InsertInto(fieldMappingsTable).
			Cols("id", "tenant_id", "app_mapping_id", "source_code", "source_type", "target_field",
				"is_update_key", "sort_order", "created_at", "updated_at").
			Values(fm.ID, fm.TenantID, fm.AppMappingID, fm.SourceCode, fm.SourceType, fm.TargetField,
				fm.IsUpdateKey, fm.SortOrder, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))

		query, args := ib.Build()
		if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"app_mapping_id": appMappingID,
				"source_code":    fm.SourceCode,
			}).Error("failed to store field mapping")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store field mappings")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store field mappings")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"app_mapping_id": appMappingID,
		"field_count":    len(mappings),
	}).Debugf("Replaced %s", fieldMappingsTable)
	return nil
}

// ListFieldMappings retrieves the field mappings under an app mapping in order
func (r *MappingRepository) ListFieldMappings(ctx context.Context, appMappingID uuid.UUID) ([]models.FieldMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.ListFieldMappings")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := fieldMappingStruct.SelectFrom(fieldMappingsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("app_mapping_id", appMappingID))
	sb.OrderBy("sort_order")

	query, args := sb.Build()
	var mappings []models.FieldMapping
	if err := r.DB().SelectContext(ctx, &mappings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"app_mapping_id": appMappingID,
		}).Error("failed to list field mappings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list field mappings")
	}

	return mappings, nil
}
