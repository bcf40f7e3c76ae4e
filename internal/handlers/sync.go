package handlers

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
)

// SyncHandler handles sync triggers, session history and synced records
type SyncHandler struct {
	runner   queue.SyncRunner
	streams  *redis.Streams
	jobQueue string
	syncs    repositories.SyncRepo
	records  repositories.RecordRepo
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(
	runner queue.SyncRunner,
	streams *redis.Streams,
	jobQueue string,
	syncs repositories.SyncRepo,
	records repositories.RecordRepo,
) *SyncHandler {
	return &SyncHandler{
		runner:   runner,
		streams:  streams,
		jobQueue: jobQueue,
		syncs:    syncs,
		records:  records,
	}
}

// EnqueuedResponse is returned when a sync job is queued instead of run inline
type EnqueuedResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// RegisterRoutes registers the sync routes
func (h *SyncHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/connectors/:id/sync", h.TriggerSync)
	g.GET("/connectors/:id/sync-sessions", h.ListSessions)
	g.GET("/sync-sessions/:id", h.GetSession)
	g.GET("/sync-sessions/:id/items", h.ListItemLogs)
	g.GET("/connectors/:id/records", h.ListRecords)
}

// TriggerSync handles POST /connectors/:id/sync. By default the sync runs
// inline and the result is returned; pass async=true to enqueue it on the
// job queue instead.
func (h *SyncHandler) TriggerSync(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	var targetEntity *models.TargetEntityType
	if raw := c.QueryParam("target_entity"); raw != "" {
		entity := models.TargetEntityType(raw)
		if !models.ValidTargetEntityType(entity) {
			return BadRequest("invalid target_entity: " + raw)
		}
		targetEntity = &entity
	}

	if c.QueryParam("async") == "true" {
		job := queue.ConnectorSyncJob{
			ConnectorID: id.String(),
			TenantID:    tenantID.String(),
			SyncType:    string(models.SyncTypeManual),
			ScheduledAt: time.Now(),
		}
		if targetEntity != nil {
			job.TargetEntity = string(*targetEntity)
		}

		messageID, err := queue.PublishConnectorSync(ctx, h.streams, h.jobQueue, job)
		if err != nil {
			return err
		}

		return SuccessResponse(c, EnqueuedResponse{Status: "queued", MessageID: messageID})
	}

	result, err := h.runner.SyncAll(ctx, id, models.SyncTypeManual, targetEntity)
	if err != nil {
		return err
	}

	return SuccessResponse(c, result)
}

// ListSessions handles GET /connectors/:id/sync-sessions
func (h *SyncHandler) ListSessions(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	limit := ParseLimit(c, 20)
	sessions, err := h.syncs.ListSessions(ctx, id, limit)
	if err != nil {
		return err
	}

	return SuccessResponse(c, sessions)
}

// GetSession handles GET /sync-sessions/:id
func (h *SyncHandler) GetSession(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	session, err := h.syncs.GetSession(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, session)
}

// ListItemLogs handles GET /sync-sessions/:id/items. Item logs are only
// recorded for manual syncs.
func (h *SyncHandler) ListItemLogs(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	items, err := h.syncs.ListItemLogs(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, items)
}

// ListRecords handles GET /connectors/:id/records?entity=people
func (h *SyncHandler) ListRecords(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	entity := models.TargetEntityType(c.QueryParam("entity"))
	if !models.ValidTargetEntityType(entity) {
		return BadRequest("invalid or missing entity parameter")
	}

	limit := ParseLimit(c, 50)
	offset := ParseOffset(c)

	records, err := h.records.ListByEntity(ctx, id, entity, limit, offset)
	if err != nil {
		return err
	}

	return SuccessResponse(c, records)
}

// CronHandler exposes internal scheduling endpoints for external cron drivers
type CronHandler struct {
	scheduler  *scheduler.Scheduler
	cronSecret string
}

// NewCronHandler creates a new cron handler
func NewCronHandler(sched *scheduler.Scheduler, cronSecret string) *CronHandler {
	return &CronHandler{
		scheduler:  sched,
		cronSecret: cronSecret,
	}
}

// RegisterRoutes registers the internal cron routes directly on the server
// since they bypass tenant authentication
func (h *CronHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/internal/scheduler/run", h.RunCycle)
}

// RunCycle handles POST /internal/scheduler/run. The caller must present the
// static cron secret as a bearer token.
func (h *CronHandler) RunCycle(c echo.Context) error {
	if h.cronSecret == "" {
		return Unauthorized("scheduler endpoint is not configured")
	}

	auth := c.Request().Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
		return Unauthorized("invalid scheduler credentials")
	}

	h.scheduler.RunOnce(c.Request().Context())

	return SuccessResponse(c, map[string]string{"status": "completed"})
}
