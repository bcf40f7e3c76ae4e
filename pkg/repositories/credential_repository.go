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

const credentialsTable = "oauth_credentials"

var credentialStruct = database.NewStruct(new(models.OAuthCredential))

// CredentialRepository stores the active OAuth token set per connector
type CredentialRepository struct {
	*Repository
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db database.DB, logger ectologger.Logger) *CredentialRepository {
	return &CredentialRepository{
		Repository: NewRepository(db, logger),
	}
}

// Replace atomically swaps the connector's token row. Exchange and refresh
// both go through here; a partial failure leaves the previous row intact.
func (r *CredentialRepository) Replace(ctx context.Context, credential *models.OAuthCredential) error {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.Replace")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	credential.TenantID = tenantID

	if credential.ID == uuid.Nil {
		credential.ID = uuid.New()
	}

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store credentials")
	}
	defer tx.Rollback(ctx)

	del := database.NewDeleteBuilder()
	del.DeleteFrom(credentialsTable).
		Where(del.Equal("tenant_id", tenantID), del.Equal("connector_id", credential.ConnectorID))
	query, args := del.Build()
	if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": credential.ConnectorID,
		}).Error("failed to clear previous credentials")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store credentials")
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(credentialsTable).
		Cols("id", "tenant_id", "connector_id", "access_token_cipher", "refresh_token_cipher", "token_type",
			"expires_at", "scope", "raw_response", "created_at").
		Values(credential.ID, credential.TenantID, credential.ConnectorID, credential.AccessTokenCipher,
			credential.RefreshTokenCipher, credential.TokenType, credential.ExpiresAt, credential.Scope,
			credential.RawResponse, sqlbuilder.Raw("NOW()")).
		Returning("created_at")

	query, args = ib.Build()
	if err := tx.QueryRowContext(txCtx, query, args...).Scan(&credential.CreatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": credential.ConnectorID,
		}).Error("failed to store credentials")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store credentials")
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store credentials")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": credential.ConnectorID,
		"expires_at":   credential.ExpiresAt,
	}).Debugf("Replaced %s", credentialsTable)
	return nil
}

// GetByConnectorID retrieves the active credential for a connector
func (r *CredentialRepository) GetByConnectorID(ctx context.Context, connectorID uuid.UUID) (*models.OAuthCredential, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.GetByConnectorID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := credentialStruct.SelectFrom(credentialsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("connector_id", connectorID))

	query, args := sb.Build()
	var credential models.OAuthCredential
	err = r.DB().GetContext(ctx, &credential, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "connector %s has no credentials", connectorID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to get credentials")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get credentials")
	}

	return &credential, nil
}

// DeleteByConnectorID removes a connector's token set, forcing reauthorization
func (r *CredentialRepository) DeleteByConnectorID(ctx context.Context, connectorID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.DeleteByConnectorID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(credentialsTable).
		Where(db.Equal("tenant_id", tenantID), db.Equal("connector_id", connectorID))

	query, args := db.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to delete credentials")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete credentials")
	}

	return nil
}
