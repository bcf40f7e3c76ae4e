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

const auditLogsTable = "connector_audit_logs"

var auditLogStruct = database.NewStruct(new(models.ConnectorAuditLog))

// AuditRepository records connector lifecycle events. Writes are best-effort
// from the caller's perspective; an audit failure never fails the operation
// being audited, so callers log and move on.
type AuditRepository struct {
	*Repository
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db database.DB, logger ectologger.Logger) *AuditRepository {
	return &AuditRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create appends an audit log entry
func (r *AuditRepository) Create(ctx context.Context, entry *models.ConnectorAuditLog) error {
	ctx, span := tracing.StartSpan(ctx, "AuditRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	entry.TenantID = tenantID

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(auditLogsTable).
		Cols("id", "tenant_id", "connector_id", "event", "detail", "created_at").
		Values(entry.ID, entry.TenantID, entry.ConnectorID, entry.Event, entry.Detail, sqlbuilder.Raw("NOW()")).
		Returning("created_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&entry.CreatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": entry.ConnectorID,
			"event":        entry.Event,
		}).Error("failed to create audit log entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create audit log entry")
	}

	return nil
}

// ListByConnectorID retrieves recent audit entries for a connector, newest first
func (r *AuditRepository) ListByConnectorID(ctx context.Context, connectorID uuid.UUID, limit int) ([]models.ConnectorAuditLog, error) {
	ctx, span := tracing.StartSpan(ctx, "AuditRepository.ListByConnectorID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	sb := auditLogStruct.SelectFrom(auditLogsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("connector_id", connectorID))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var entries []models.ConnectorAuditLog
	if err := r.DB().SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to list audit log entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list audit log entries")
	}

	return entries, nil
}
