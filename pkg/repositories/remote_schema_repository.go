package repositories

import (
	"context"
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
	remoteAppsTable   = "remote_applications"
	remoteFieldsTable = "remote_fields"
)

var (
	remoteAppStruct   = database.NewStruct(new(models.RemoteApplication))
	remoteFieldStruct = database.NewStruct(new(models.RemoteField))
)

// RemoteSchemaRepository caches the provider's application and field catalog.
// The cache is replaced wholesale on each schema sync; it is never treated as
// authoritative.
type RemoteSchemaRepository struct {
	*Repository
}

// NewRemoteSchemaRepository creates a new remote schema repository
func NewRemoteSchemaRepository(db database.DB, logger ectologger.Logger) *RemoteSchemaRepository {
	return &RemoteSchemaRepository{
		Repository: NewRepository(db, logger),
	}
}

// ReplaceApps swaps the cached application list for a connector
func (r *RemoteSchemaRepository) ReplaceApps(ctx context.Context, connectorID uuid.UUID, apps []models.RemoteApplication) error {
	ctx, span := tracing.StartSpan(ctx, "RemoteSchemaRepository.ReplaceApps")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store remote applications")
	}
	defer tx.Rollback(ctx)

	del := database.NewDeleteBuilder()
	del.DeleteFrom(remoteAppsTable).
		Where(del.Equal("tenant_id", tenantID), del.Equal("connector_id", connectorID))
	query, args := del.Build()
	if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to clear cached remote applications")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store remote applications")
	}

	for i := range apps {
		app := &apps[i]
		app.TenantID = tenantID
		app.ConnectorID = connectorID
		if app.ID == uuid.Nil {
			app.ID = uuid.New()
		}

		ib := database.NewInsertBuilder()
		ib.InsertInto(remoteAppsTable).
			Cols("id", "tenant_id", "connector_id", "app_id", "code", "name", "synced_at", "created_at").
			Values(app.ID, app.TenantID, app.ConnectorID, app.AppID, app.Code, app.Name,
				sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))

		query, args := ib.Build()
		if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"connector_id": connectorID,
				"app_id":       app.AppID,
			}).Error("failed to store remote application")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store remote applications")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store remote applications")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connectorID,
		"app_count":    len(apps),
	}).Info("Refreshed remote application cache")
	return nil
}

// ReplaceFields swaps the cached field list for one application
func (r *RemoteSchemaRepository) ReplaceFields(ctx context.Context, connectorID uuid.UUID, appID string, fields []models.RemoteField) error {
	ctx, span := tracing.StartSpan(ctx, "RemoteSchemaRepository.ReplaceFields")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store remote fields")
	}
	defer tx.Rollback(ctx)

	del := database.NewDeleteBuilder()
	del.DeleteFrom(remoteFieldsTable).
		Where(del.Equal("tenant_id", tenantID), del.Equal("connector_id", connectorID), del.Equal("app_id", appID))
	query, args := del.Build()
	if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"app_id":       appID,
		}).Error("failed to clear cached remote fields")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store remote fields")
	}

	for i := range fields {
		field := &fields[i]
		field.TenantID = tenantID
		field.ConnectorID = connectorID
		field.AppID = appID
		if field.ID == uuid.Nil {
			field.ID = uuid.New()
		}

		ib := database.NewInsertBuilder()
		ib.InsertInto(remoteFieldsTable).
			Cols("id", "tenant_id", "connector_id", "app_id", "code", "label", "field_type", "raw_type",
				"required", "options", "synced_at", "created_at").
			Values(field.ID, field.TenantID, field.ConnectorID, field.AppID, field.Code, field.Label,
				field.FieldType, field.RawType, field.Required, field.Options,
				sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))

		query, args := ib.Build()
		if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"connector_id": connectorID,
				"app_id":       appID,
				"field_code":   field.Code,
			}).Error("failed to store remote field")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store remote fields")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store remote fields")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connectorID,
		"app_id":       appID,
		"field_count":  len(fields),
	}).Info("Refreshed remote field cache")
	return nil
}

// ListApps retrieves the cached applications for a connector
func (r *RemoteSchemaRepository) ListApps(ctx context.Context, connectorID uuid.UUID) ([]models.RemoteApplication, error) {
	ctx, span := tracing.StartSpan(ctx, "RemoteSchemaRepository.ListApps")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := remoteAppStruct.SelectFrom(remoteAppsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("connector_id", connectorID))
	sb.OrderBy("name")

	query, args := sb.Build()
	var apps []models.RemoteApplication
	if err := r.DB().SelectContext(ctx, &apps, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to list remote applications")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list remote applications")
	}

	return apps, nil
}

// ListFields retrieves the cached fields for one application
func (r *RemoteSchemaRepository) ListFields(ctx context.Context, connectorID uuid.UUID, appID string) ([]models.RemoteField, error) {
	ctx, span := tracing.StartSpan(ctx, "RemoteSchemaRepository.ListFields")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := remoteFieldStruct.SelectFrom(remoteFieldsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("connector_id", connectorID), sb.Equal("app_id", appID))
	sb.OrderBy("code")

	query, args := sb.Build()
	var fields []models.RemoteField
	if err := r.DB().SelectContext(ctx, &fields, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
			"app_id":       appID,
		}).Error("failed to list remote fields")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list remote fields")
	}

	return fields, nil
}

// DeleteByConnectorID clears the cached schema for a connector
func (r *RemoteSchemaRepository) DeleteByConnectorID(ctx context.Context, connectorID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "RemoteSchemaRepository.DeleteByConnectorID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	for _, table := range []string{remoteFieldsTable, remoteAppsTable} {
		db := database.NewDeleteBuilder()
		db.DeleteFrom(table).
			Where(db.Equal("tenant_id", tenantID), db.Equal("connector_id", connectorID))

		query, args := db.Build()
		if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"connector_id": connectorID,
				"table":        table,
			}).Error("failed to clear remote schema cache")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to clear remote schema cache")
		}
	}

	return nil
}
