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

const secretsTable = "connector_secrets"

var secretStruct = database.NewStruct(new(models.ConnectorSecret))

// SecretRepository stores the encrypted OAuth client credentials per connector
type SecretRepository struct {
	*Repository
}

// NewSecretRepository creates a new secret repository
func NewSecretRepository(db database.DB, logger ectologger.Logger) *SecretRepository {
	return &SecretRepository{
		Repository: NewRepository(db, logger),
	}
}

// Replace stores a connector's client credentials, removing any previous row.
// Rotation is a full replacement so there is never more than one active row.
func (r *SecretRepository) Replace(ctx context.Context, secret *models.ConnectorSecret) error {
	ctx, span := tracing.StartSpan(ctx, "SecretRepository.Replace")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	secret.TenantID = tenantID

	if secret.ID == uuid.Nil {
		secret.ID = uuid.New()
	}

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store connector secrets")
	}
	defer tx.Rollback(ctx)

	del := database.NewDeleteBuilder()
	del.DeleteFrom(secretsTable).
		Where(del.Equal("tenant_id", tenantID), del.Equal("connector_id", secret.ConnectorID))
	query, args := del.Build()
	if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": secret.ConnectorID,
		}).Error("failed to clear previous connector secrets")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store connector secrets")
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(secretsTable).
		Cols("id", "tenant_id", "connector_id", "client_id_cipher", "client_secret_cipher", "created_at", "updated_at").
		Values(secret.ID, secret.TenantID, secret.ConnectorID, secret.ClientIDCipher, secret.ClientSecretCipher,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args = ib.Build()
	if err := tx.QueryRowContext(txCtx, query, args...).Scan(&secret.CreatedAt, &secret.UpdatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": secret.ConnectorID,
		}).Error("failed to store connector secrets")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store connector secrets")
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store connector secrets")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": secret.ConnectorID,
	}).Debugf("Replaced %s", secretsTable)
	return nil
}

// GetByConnectorID retrieves the secrets for a connector (tenant-scoped)
func (r *SecretRepository) GetByConnectorID(ctx context.Context, connectorID uuid.UUID) (*models.ConnectorSecret, error) {
	ctx, span := tracing.StartSpan(ctx, "SecretRepository.GetByConnectorID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := secretStruct.SelectFrom(secretsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("connector_id", connectorID))

	query, args := sb.Build()
	var secret models.ConnectorSecret
	err = r.DB().GetContext(ctx, &secret, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s has no client credentials", connectorID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to get connector secrets")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get connector secrets")
	}

	return &secret, nil
}

// DeleteByConnectorID removes a connector's client credentials
func (r *SecretRepository) DeleteByConnectorID(ctx context.Context, connectorID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "SecretRepository.DeleteByConnectorID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(secretsTable).
		Where(db.Equal("tenant_id", tenantID), db.Equal("connector_id", connectorID))

	query, args := db.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to delete connector secrets")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete connector secrets")
	}

	return nil
}
