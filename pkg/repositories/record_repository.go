package repositories

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const recordsTable = "internal_records"

var recordStruct = database.NewStruct(new(models.InternalRecord))

// RecordRepository stores the internal records produced by sync passes.
// Records are keyed by composite id, so re-syncing the same remote record
// updates in place instead of duplicating.
type RecordRepository struct {
	*Repository
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db database.DB, logger ectologger.Logger) *RecordRepository {
	return &RecordRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert inserts or updates a record by its composite id
func (r *RecordRepository) Upsert(ctx context.Context, record *models.InternalRecord) error {
	ctx, span := tracing.StartSpan(ctx, "RecordRepository.Upsert")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	record.TenantID = tenantID

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	// sqlbuilder has no upsert support, so this one is raw SQL
	query := `
		INSERT INTO internal_records
			(id, tenant_id, connector_id, target_entity, composite_id, remote_id, attributes, synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), NOW())
		ON CONFLICT (tenant_id, composite_id) DO UPDATE SET
			target_entity = EXCLUDED.target_entity,
			attributes = EXCLUDED.attributes,
			synced_at = NOW(),
			updated_at = NOW()
		RETURNING id, synced_at, created_at, updated_at`

	err = r.DB().QueryRowContext(ctx, query,
		record.ID, record.TenantID, record.ConnectorID, record.TargetEntity, record.CompositeID,
		record.RemoteID, record.Attributes,
	).Scan(&record.ID, &record.SyncedAt, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"composite_id": record.CompositeID,
		}).Error("failed to upsert internal record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert internal record")
	}

	return nil
}

// ListByEntity retrieves records of one target entity for a connector
func (r *RecordRepository) ListByEntity(ctx context.Context, connectorID uuid.UUID, targetEntity models.TargetEntityType, limit, offset int) ([]models.InternalRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "RecordRepository.ListByEntity")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	sb := recordStruct.SelectFrom(recordsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("connector_id", connectorID), sb.Equal("target_entity", targetEntity))
	sb.OrderBy("composite_id")
	sb.Limit(limit).Offset(offset)

	query, args := sb.Build()
	var records []models.InternalRecord
	if err := r.DB().SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id":  connectorID,
			"target_entity": targetEntity,
		}).Error("failed to list internal records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list internal records")
	}

	return records, nil
}

// DeleteByConnectorID removes all records synced through a connector
func (r *RecordRepository) DeleteByConnectorID(ctx context.Context, connectorID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "RecordRepository.DeleteByConnectorID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return 0, err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(recordsTable).
		Where(db.Equal("tenant_id", tenantID), db.Equal("connector_id", connectorID))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to delete internal records")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete internal records")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
