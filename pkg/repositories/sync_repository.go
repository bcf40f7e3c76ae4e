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
	syncSessionsTable = "sync_sessions"
	syncItemLogsTable = "sync_item_logs"
)

var (
	syncSessionStruct = database.NewStruct(new(models.SyncSession))
	syncItemLogStruct = database.NewStruct(new(models.SyncItemLog))
)

// SyncRepository persists sync sessions and their per-record item logs
type SyncRepository struct {
	*Repository
}

// NewSyncRepository creates a new sync repository
func NewSyncRepository(db database.DB, logger ectologger.Logger) *SyncRepository {
	return &SyncRepository{
		Repository: NewRepository(db, logger),
	}
}

// CreateSession opens a new sync session in the running state
func (r *SyncRepository) CreateSession(ctx context.Context, session *models.SyncSession) error {
	ctx, span := tracing.StartSpan(ctx, "SyncRepository.CreateSession")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	session.TenantID = tenantID

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.Status = models.SyncStatusRunning

	ib := database.NewInsertBuilder()
	ib.InsertInto(syncSessionsTable).
		Cols("id", "tenant_id", "connector_id", "sync_type", "status", "target_entity",
			"total_count", "success_count", "failed_count", "started_at").
		Values(session.ID, session.TenantID, session.ConnectorID, session.SyncType, session.Status,
			session.TargetEntity, 0, 0, 0, sqlbuilder.Raw("NOW()")).
		Returning("started_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&session.StartedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": session.ConnectorID,
		}).Error("failed to create sync session")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create sync session")
	}

	return nil
}

// CompleteSession closes a running session with its final counts. A session
// already closed stays closed; the first completion wins.
func (r *SyncRepository) CompleteSession(ctx context.Context, session *models.SyncSession) error {
	ctx, span := tracing.StartSpan(ctx, "SyncRepository.CompleteSession")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(syncSessionsTable).
		Set(
			ub.Assign("status", session.Status),
			ub.Assign("total_count", session.TotalCount),
			ub.Assign("success_count", session.SuccessCount),
			ub.Assign("failed_count", session.FailedCount),
			ub.Assign("error_message", session.ErrorMessage),
			ub.Assign("completed_at", sqlbuilder.Raw("NOW()")),
		).
		Where(
			ub.Equal("tenant_id", tenantID),
			ub.Equal("id", session.ID),
			ub.Equal("status", models.SyncStatusRunning),
		)
	ub.SQL("RETURNING completed_at")

	query, args := ub.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&session.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusConflict, "sync session %s is not running", session.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"session_id": session.ID,
		}).Error("failed to complete sync session")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete sync session")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"session_id":    session.ID,
		"status":        session.Status,
		"total_count":   session.TotalCount,
		"success_count": session.SuccessCount,
		"failed_count":  session.FailedCount,
	}).Info("Sync session completed")
	return nil
}

// GetSession retrieves a session by ID (tenant-scoped)
func (r *SyncRepository) GetSession(ctx context.Context, id uuid.UUID) (*models.SyncSession, error) {
	ctx, span := tracing.StartSpan(ctx, "SyncRepository.GetSession")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := syncSessionStruct.SelectFrom(syncSessionsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var session models.SyncSession
	err = r.DB().GetContext(ctx, &session, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "sync session %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"session_id": id,
		}).Error("failed to get sync session")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync session")
	}

	return &session, nil
}

// ListSessions retrieves recent sessions for a connector, newest first
func (r *SyncRepository) ListSessions(ctx context.Context, connectorID uuid.UUID, limit int) ([]models.SyncSession, error) {
	ctx, span := tracing.StartSpan(ctx, "SyncRepository.ListSessions")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	sb := syncSessionStruct.SelectFrom(syncSessionsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("connector_id", connectorID))
	sb.OrderBy("started_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var sessions []models.SyncSession
	if err := r.DB().SelectContext(ctx, &sessions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"connector_id": connectorID,
		}).Error("failed to list sync sessions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list sync sessions")
	}

	return sessions, nil
}

// CreateItemLog records one record's outcome within a session
func (r *SyncRepository) CreateItemLog(ctx context.Context, item *models.SyncItemLog) error {
	ctx, span := tracing.StartSpan(ctx, "SyncRepository.CreateItemLog")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	item.TenantID = tenantID

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(syncItemLogsTable).
		Cols("id", "tenant_id", "session_id", "target_entity", "remote_id", "status", "error_detail", "created_at").
		Values(item.ID, item.TenantID, item.SessionID, item.TargetEntity, item.RemoteID, item.Status,
			item.ErrorDetail, sqlbuilder.Raw("NOW()")).
		Returning("created_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&item.CreatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"session_id": item.SessionID,
			"remote_id":  item.RemoteID,
		}).Error("failed to create sync item log")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create sync item log")
	}

	return nil
}

// ListItemLogs retrieves the item logs for a session
func (r *SyncRepository) ListItemLogs(ctx context.Context, sessionID uuid.UUID) ([]models.SyncItemLog, error) {
	ctx, span := tracing.StartSpan(ctx, "SyncRepository.ListItemLogs")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := syncItemLogStruct.SelectFrom(syncItemLogsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("session_id", sessionID))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var items []models.SyncItemLog
	if err := r.DB().SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"session_id": sessionID,
		}).Error("failed to list sync item logs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list sync item logs")
	}

	return items, nil
}
