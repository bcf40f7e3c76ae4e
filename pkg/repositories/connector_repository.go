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

const connectorsTable = "connectors"

var connectorStruct = database.NewStruct(new(models.Connector))

// ConnectorRepository handles database operations for connectors
type ConnectorRepository struct {
	*Repository
}

// NewConnectorRepository creates a new connector repository
func NewConnectorRepository(db database.DB, logger ectologger.Logger) *ConnectorRepository {
	return &ConnectorRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new connector in the disconnected state
func (r *ConnectorRepository) Create(ctx context.Context, connector *models.Connector) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	connector.TenantID = tenantID

	if connector.ID == uuid.Nil {
		connector.ID = uuid.New()
	}
	if connector.Status == "" {
		connector.Status = models.ConnectorStatusDisconnected
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(connectorsTable).
		Cols("id", "tenant_id", "provider", "name", "config", "scopes", "status", "created_at", "updated_at").
		Values(connector.ID, connector.TenantID, connector.Provider, connector.Name, connector.Config, connector.Scopes,
			connector.Status, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&connector.CreatedAt, &connector.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connector.ID,
		}).Error("failed to create connector")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create connector")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connector.ID,
		"provider":     connector.Provider,
	}).Debugf("Created %s", connectorsTable)
	return nil
}

// GetByID retrieves a connector by ID (tenant-scoped)
func (r *ConnectorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Connector, error) {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := connectorStruct.SelectFrom(connectorsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var connector models.Connector
	err = r.DB().GetContext(ctx, &connector, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": id,
		}).Error("failed to get connector by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get connector by ID")
	}

	return &connector, nil
}

// List retrieves all connectors for the current tenant
func (r *ConnectorRepository) List(ctx context.Context) ([]models.Connector, error) {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := connectorStruct.SelectFrom(connectorsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("name")

	query, args := sb.Build()
	var connectors []models.Connector
	err = r.DB().SelectContext(ctx, &connectors, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list connectors")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list connectors")
	}

	return connectors, nil
}

// Update updates a connector's name, config and scopes. Provider and status
// are never changed here; status moves through UpdateStatus only.
func (r *ConnectorRepository) Update(ctx context.Context, connector *models.Connector) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.Update")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(connectorsTable).
		Set(
			ub.Assign("name", connector.Name),
			ub.Assign("config", connector.Config),
			ub.Assign("scopes", connector.Scopes),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", connector.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&connector.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", connector.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connector.ID,
		}).Error("failed to update connector")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update connector")
	}

	return nil
}

// UpdateStatus moves a connector to a new status. errorMessage is cleared
// unless the new status is error.
func (r *ConnectorRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectorStatus, errorMessage *string) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.UpdateStatus")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	if status != models.ConnectorStatusError {
		errorMessage = nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update(connectorsTable).
		Set(
			ub.Assign("status", status),
			ub.Assign("error_message", errorMessage),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": id,
			"status":       status,
		}).Error("failed to update connector status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update connector status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update connector status")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": id,
		"status":       status,
	}).Infof("Connector status changed")
	return nil
}

// Delete deletes a connector by ID. Dependent rows (secrets, credentials,
// schema, mappings, sync logs) cascade at the database level.
func (r *ConnectorRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.Delete")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(connectorsTable).
		Where(db.Equal("tenant_id", tenantID), db.Equal("id", id))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": id,
		}).Error("failed to delete connector")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete connector")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete connector")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": id,
	}).Debugf("Deleted %s", connectorsTable)
	return nil
}

// DeleteByTenantID deletes all connectors for a tenant
func (r *ConnectorRepository) DeleteByTenantID(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "ConnectorRepository.DeleteByTenantID")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(connectorsTable).
		Where(db.Equal("tenant_id", tenantID))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
		}).Error("failed to delete connectors by tenant")
		return 0, err
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"count":     rows,
	}).Info("Deleted connectors by tenant")
	return rows, nil
}
