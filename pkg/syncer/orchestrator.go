// Package syncer runs full sync passes for a connector: fetch remote records,
// map them to internal attributes and upsert them, with per-record failure
// isolation and a session/item audit trail.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tokens"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// RecordFetcher pulls remote records for one application. The remote client
// is the production implementation.
type RecordFetcher interface {
	FetchRecords(ctx context.Context, connectorID uuid.UUID, appID, filter string) ([]providers.RemoteRecord, error)
}

// EventPublisher publishes sync and connector events. Nil-safe wiring lives
// in the orchestrator so deployments without Kafka still sync.
type EventPublisher interface {
	PublishSyncEvent(ctx context.Context, evt *kafka.SyncEventMessage) error
	PublishConnectorEvent(ctx context.Context, evt *kafka.ConnectorEventMessage) error
}

// SyncResult summarizes one sync pass
type SyncResult struct {
	SessionID    uuid.UUID         `json:"session_id"`
	Status       models.SyncStatus `json:"status"`
	TotalCount   int               `json:"total_count"`
	SuccessCount int               `json:"success_count"`
	FailedCount  int               `json:"failed_count"`
	SkippedCount int               `json:"skipped_count"`
	CountsByType map[string]int    `json:"counts_by_type"`
	Errors       []string          `json:"errors,omitempty"`
	DurationMs   int64             `json:"duration_ms"`
}

// Orchestrator coordinates a sync pass across the connector's active app
// mappings
type Orchestrator struct {
	connectors repositories.ConnectorRepo
	mappings   repositories.MappingRepo
	valueRules repositories.ValueRuleRepo
	syncs      repositories.SyncRepo
	records    repositories.RecordRepo
	fetcher    RecordFetcher
	publisher  EventPublisher
	logger     ectologger.Logger
	now        func() time.Time
}

// NewOrchestrator creates a sync orchestrator. publisher may be nil.
func NewOrchestrator(
	connectors repositories.ConnectorRepo,
	mappings repositories.MappingRepo,
	valueRules repositories.ValueRuleRepo,
	syncs repositories.SyncRepo,
	records repositories.RecordRepo,
	fetcher RecordFetcher,
	publisher EventPublisher,
	logger ectologger.Logger,
) *Orchestrator {
	return &Orchestrator{
		connectors: connectors,
		mappings:   mappings,
		valueRules: valueRules,
		syncs:      syncs,
		records:    records,
		fetcher:    fetcher,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}
}

// SyncAll runs one sync pass for a connector. targetEntity optionally narrows
// the pass to app mappings of one internal entity type. Per-record errors are
// isolated and counted; the session is closed exactly once either way.
func (o *Orchestrator) SyncAll(ctx context.Context, connectorID uuid.UUID, syncType models.SyncType, targetEntity *models.TargetEntityType) (*SyncResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Syncer.SyncAll")
	defer span.End()

	started := o.now()

	connector, err := o.connectors.GetByID(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	session := &models.SyncSession{
		ConnectorID: connectorID,
		SyncType:    syncType,
		Status:      models.SyncStatusRunning,
		StartedAt:   started,
	}
	if targetEntity != nil {
		entity := string(*targetEntity)
		session.TargetEntity = &entity
	}
	if err := o.syncs.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	result := &SyncResult{
		SessionID:    session.ID,
		CountsByType: make(map[string]int),
	}

	runErr := o.run(ctx, connector, session, syncType, targetEntity, result)

	result.Status = models.SyncStatusSuccess
	if runErr != nil || result.FailedCount > 0 {
		result.Status = models.SyncStatusFailed
	}
	result.DurationMs = o.now().Sub(started).Milliseconds()

	o.closeSession(ctx, session, result, runErr)
	o.finish(ctx, connector, session, result, runErr)

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// run executes the per-mapping loop. A reauthorization failure aborts the
// whole pass; any other fetch failure fails that mapping and moves on.
func (o *Orchestrator) run(ctx context.Context, connector *models.Connector, session *models.SyncSession, syncType models.SyncType, targetEntity *models.TargetEntityType, result *SyncResult) error {
	appMappings, err := o.mappings.ListActiveAppMappings(ctx, connector.ID, targetEntity)
	if err != nil {
		return err
	}
	if len(appMappings) == 0 {
		o.logger.WithContext(ctx).WithFields(map[string]any{
			"connector_id": connector.ID,
		}).Infof("No active app mappings to sync")
		return nil
	}

	for _, appMapping := range appMappings {
		if err := o.syncAppMapping(ctx, connector, session, syncType, appMapping, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", appMapping.TargetEntity, err.Error()))
			if errors.Is(err, tokens.ErrReauthorizationRequired) {
				return err
			}
			result.FailedCount++
			result.TotalCount++
		}
	}
	return nil
}

func (o *Orchestrator) syncAppMapping(ctx context.Context, connector *models.Connector, session *models.SyncSession, syncType models.SyncType, appMapping models.AppMapping, result *SyncResult) error {
	fieldMappings, err := o.mappings.ListFieldMappings(ctx, appMapping.ID)
	if err != nil {
		return err
	}
	rules, err := o.valueRules.List(ctx, appMapping.ID)
	if err != nil {
		return err
	}
	rulesByField := mapping.GroupRulesByField(rules)

	remoteRecords, err := o.fetcher.FetchRecords(ctx, connector.ID, appMapping.AppID, "")
	if err != nil {
		return fmt.Errorf("failed to fetch records for app %s: %w", appMapping.AppID, err)
	}

	for _, record := range remoteRecords {
		mapped := mapping.MapRecord(record, fieldMappings, rulesByField)

		if appMapping.SkipWithoutUpdateKey && !mapped.HasUpdateKey() {
			result.SkippedCount++
			continue
		}

		result.TotalCount++
		if err := o.upsertRecord(ctx, connector, appMapping, record, mapped); err != nil {
			result.FailedCount++
			metrics.RecordSyncRecord(connector.TenantID.String(), connector.Provider, string(appMapping.TargetEntity), "failed")
			o.logItem(ctx, session, syncType, appMapping, record.ID, models.SyncItemStatusFailed, err)
			o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"connector_id": connector.ID,
				"app_id":       appMapping.AppID,
				"remote_id":    record.ID,
			}).Warnf("Failed to sync record")
			continue
		}

		result.SuccessCount++
		result.CountsByType[string(appMapping.TargetEntity)]++
		metrics.RecordSyncRecord(connector.TenantID.String(), connector.Provider, string(appMapping.TargetEntity), "success")
		o.logItem(ctx, session, syncType, appMapping, record.ID, models.SyncItemStatusSuccess, nil)
	}
	return nil
}

func (o *Orchestrator) upsertRecord(ctx context.Context, connector *models.Connector, appMapping models.AppMapping, record providers.RemoteRecord, mapped *mapping.MappedRecord) error {
	if record.ID == "" {
		return fmt.Errorf("remote record has no id")
	}

	internal := &models.InternalRecord{
		ConnectorID:  connector.ID,
		TargetEntity: appMapping.TargetEntity,
		CompositeID:  models.CompositeRecordID(connector.Provider, appMapping.AppID, record.ID),
		RemoteID:     record.ID,
		Attributes:   database.NewJSONB(mapped.Attributes),
	}
	return o.records.Upsert(ctx, internal)
}

// logItem writes a per-record log entry. Item logs are only written for
// manual runs to bound log volume on schedules, and are best-effort.
func (o *Orchestrator) logItem(ctx context.Context, session *models.SyncSession, syncType models.SyncType, appMapping models.AppMapping, remoteID string, status models.SyncItemStatus, cause error) {
	if syncType != models.SyncTypeManual {
		return
	}

	item := &models.SyncItemLog{
		SessionID:    session.ID,
		TargetEntity: string(appMapping.TargetEntity),
		RemoteID:     remoteID,
		Status:       status,
	}
	if cause != nil {
		detail := cause.Error()
		item.ErrorDetail = &detail
	}

	if err := o.syncs.CreateItemLog(ctx, item); err != nil {
		o.logger.WithContext(ctx).WithError(err).Warnf("Failed to write sync item log")
	}
}

// closeSession completes the session exactly once. A conflict means another
// path already closed it, which is logged and otherwise ignored.
func (o *Orchestrator) closeSession(ctx context.Context, session *models.SyncSession, result *SyncResult, runErr error) {
	session.Status = result.Status
	session.TotalCount = result.TotalCount
	session.SuccessCount = result.SuccessCount
	session.FailedCount = result.FailedCount
	if runErr != nil {
		msg := runErr.Error()
		session.ErrorMessage = &msg
	}

	if err := o.syncs.CompleteSession(ctx, session); err != nil {
		o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"session_id": session.ID,
		}).Warnf("Failed to complete sync session")
	}
}

func (o *Orchestrator) finish(ctx context.Context, connector *models.Connector, session *models.SyncSession, result *SyncResult, runErr error) {
	tenantID := connector.TenantID.String()
	metrics.RecordSyncSession(tenantID, connector.Provider, string(result.Status), float64(result.DurationMs)/1000)

	if runErr != nil {
		msg := runErr.Error()
		if err := o.connectors.UpdateStatus(ctx, connector.ID, models.ConnectorStatusError, &msg); err != nil {
			o.logger.WithContext(ctx).WithError(err).Warnf("Failed to update connector status")
		}
	}

	if o.publisher == nil {
		return
	}
	evt := &kafka.SyncEventMessage{
		Type:         kafka.EventSyncCompleted,
		TenantID:     tenantID,
		ConnectorID:  connector.ID.String(),
		Provider:     connector.Provider,
		SessionID:    session.ID.String(),
		SyncType:     string(session.SyncType),
		Status:       string(result.Status),
		TotalCount:   result.TotalCount,
		SuccessCount: result.SuccessCount,
		FailedCount:  result.FailedCount,
		DurationMs:   result.DurationMs,
	}
	if err := o.publisher.PublishSyncEvent(ctx, evt); err != nil {
		o.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish sync event")
	}
	if runErr != nil {
		connEvt := &kafka.ConnectorEventMessage{
			Type:        kafka.EventConnectorError,
			TenantID:    tenantID,
			ConnectorID: connector.ID.String(),
			Provider:    connector.Provider,
			Detail:      runErr.Error(),
		}
		if err := o.publisher.PublishConnectorEvent(ctx, connEvt); err != nil {
			o.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish connector event")
		}
	}
}
