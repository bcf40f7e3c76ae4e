package syncer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/tokens"
)

type memConnectorRepo struct {
	mu        sync.Mutex
	connector *models.Connector
	statuses  []models.ConnectorStatus
}

func (r *memConnectorRepo) Create(ctx context.Context, connector *models.Connector) error {
	panic("not used")
}

func (r *memConnectorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connector == nil || r.connector.ID != id {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "connector not found")
	}
	clone := *r.connector
	return &clone, nil
}

func (r *memConnectorRepo) List(ctx context.Context) ([]models.Connector, error) { panic("not used") }

func (r *memConnectorRepo) Update(ctx context.Context, connector *models.Connector) error {
	panic("not used")
}

func (r *memConnectorRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectorStatus, errorMessage *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connector.Status = status
	r.connector.ErrorMessage = errorMessage
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *memConnectorRepo) Delete(ctx context.Context, id uuid.UUID) error { panic("not used") }

func (r *memConnectorRepo) DeleteByTenantID(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	panic("not used")
}

type memMappingRepo struct {
	appMappings   []models.AppMapping
	fieldMappings map[uuid.UUID][]models.FieldMapping
}

func (r *memMappingRepo) CreateAppMapping(ctx context.Context, m *models.AppMapping) error {
	panic("not used")
}

func (r *memMappingRepo) GetAppMapping(ctx context.Context, id uuid.UUID) (*models.AppMapping, error) {
	panic("not used")
}

func (r *memMappingRepo) ListAppMappings(ctx context.Context, connectorID uuid.UUID) ([]models.AppMapping, error) {
	panic("not used")
}

func (r *memMappingRepo) ListActiveAppMappings(ctx context.Context, connectorID uuid.UUID, targetEntity *models.TargetEntityType) ([]models.AppMapping, error) {
	var active []models.AppMapping
	for _, m := range r.appMappings {
		if !m.IsActive {
			continue
		}
		if targetEntity != nil && m.TargetEntity != *targetEntity {
			continue
		}
		active = append(active, m)
	}
	return active, nil
}

func (r *memMappingRepo) UpdateAppMapping(ctx context.Context, m *models.AppMapping) error {
	panic("not used")
}

func (r *memMappingRepo) SetAppMappingActive(ctx context.Context, id uuid.UUID, active bool) error {
	panic("not used")
}

func (r *memMappingRepo) DeleteAppMapping(ctx context.Context, id uuid.UUID) error {
	panic("not used")
}

func (r *memMappingRepo) ReplaceFieldMappings(ctx context.Context, appMappingID uuid.UUID, mappings []models.FieldMapping) error {
	panic("not used")
}

func (r *memMappingRepo) ListFieldMappings(ctx context.Context, appMappingID uuid.UUID) ([]models.FieldMapping, error) {
	return r.fieldMappings[appMappingID], nil
}

type memValueRuleRepo struct {
	rules map[uuid.UUID][]models.ValueMappingRule
}

func (r *memValueRuleRepo) Create(ctx context.Context, rule *models.ValueMappingRule) error {
	panic("not used")
}

func (r *memValueRuleRepo) Update(ctx context.Context, rule *models.ValueMappingRule) error {
	panic("not used")
}

func (r *memValueRuleRepo) Delete(ctx context.Context, id uuid.UUID) error { panic("not used") }

func (r *memValueRuleRepo) List(ctx context.Context, appMappingID uuid.UUID) ([]models.ValueMappingRule, error) {
	return r.rules[appMappingID], nil
}

func (r *memValueRuleRepo) Reorder(ctx context.Context, appMappingID uuid.UUID, targetField string, ruleIDs []uuid.UUID) error {
	panic("not used")
}

type memSyncRepo struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*models.SyncSession
	items       []models.SyncItemLog
	completions int
}

func newMemSyncRepo() *memSyncRepo {
	return &memSyncRepo{sessions: make(map[uuid.UUID]*models.SyncSession)}
}

func (r *memSyncRepo) CreateSession(ctx context.Context, session *models.SyncSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session.ID = uuid.New()
	clone := *session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *memSyncRepo) CompleteSession(ctx context.Context, session *models.SyncSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[session.ID]
	if !ok {
		return httperror.NewHTTPError(http.StatusNotFound, "sync session not found")
	}
	if stored.Status != models.SyncStatusRunning {
		return httperror.NewHTTPError(http.StatusConflict, "sync session already completed")
	}
	clone := *session
	r.sessions[session.ID] = &clone
	r.completions++
	return nil
}

func (r *memSyncRepo) GetSession(ctx context.Context, id uuid.UUID) (*models.SyncSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "sync session not found")
	}
	clone := *stored
	return &clone, nil
}

func (r *memSyncRepo) ListSessions(ctx context.Context, connectorID uuid.UUID, limit int) ([]models.SyncSession, error) {
	panic("not used")
}

func (r *memSyncRepo) CreateItemLog(ctx context.Context, item *models.SyncItemLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item.ID = uuid.New()
	r.items = append(r.items, *item)
	return nil
}

func (r *memSyncRepo) ListItemLogs(ctx context.Context, sessionID uuid.UUID) ([]models.SyncItemLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []models.SyncItemLog
	for _, item := range r.items {
		if item.SessionID == sessionID {
			items = append(items, item)
		}
	}
	return items, nil
}

type memRecordRepo struct {
	mu      sync.Mutex
	records map[string]*models.InternalRecord
	failFor map[string]bool
	upserts int
}

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{
		records: make(map[string]*models.InternalRecord),
		failFor: make(map[string]bool),
	}
}

func (r *memRecordRepo) Upsert(ctx context.Context, record *models.InternalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if r.failFor[record.RemoteID] {
		return fmt.Errorf("simulated storage failure")
	}
	clone := *record
	r.records[record.CompositeID] = &clone
	return nil
}

func (r *memRecordRepo) ListByEntity(ctx context.Context, connectorID uuid.UUID, targetEntity models.TargetEntityType, limit, offset int) ([]models.InternalRecord, error) {
	panic("not used")
}

func (r *memRecordRepo) DeleteByConnectorID(ctx context.Context, connectorID uuid.UUID) (int64, error) {
	panic("not used")
}

type stubFetcher struct {
	pages map[string][]providers.RemoteRecord
	err   error
}

func (f *stubFetcher) FetchRecords(ctx context.Context, connectorID uuid.UUID, appID, filter string) ([]providers.RemoteRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[appID], nil
}

type memPublisher struct {
	mu              sync.Mutex
	syncEvents      []kafka.SyncEventMessage
	connectorEvents []kafka.ConnectorEventMessage
}

func (p *memPublisher) PublishSyncEvent(ctx context.Context, evt *kafka.SyncEventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncEvents = append(p.syncEvents, *evt)
	return nil
}

func (p *memPublisher) PublishConnectorEvent(ctx context.Context, evt *kafka.ConnectorEventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectorEvents = append(p.connectorEvents, *evt)
	return nil
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	connectorID  uuid.UUID
	appMapping   models.AppMapping
	connectors   *memConnectorRepo
	syncs        *memSyncRepo
	records      *memRecordRepo
	fetcher      *stubFetcher
	publisher    *memPublisher
}

func newFixture(t *testing.T, records []providers.RemoteRecord) *orchestratorFixture {
	t.Helper()

	connectorID := uuid.New()
	appMappingID := uuid.New()

	connectors := &memConnectorRepo{connector: &models.Connector{
		ID:       connectorID,
		TenantID: uuid.New(),
		Provider: "kintone",
		Name:     "test connector",
		Status:   models.ConnectorStatusConnected,
	}}

	appMapping := models.AppMapping{
		ID:           appMappingID,
		ConnectorID:  connectorID,
		AppID:        "11",
		TargetEntity: models.TargetEntityPeople,
		IsActive:     true,
	}

	mappings := &memMappingRepo{
		appMappings: []models.AppMapping{appMapping},
		fieldMappings: map[uuid.UUID][]models.FieldMapping{
			appMappingID: {
				{SourceCode: "name", TargetField: "name", SortOrder: 0},
				{SourceCode: "status", TargetField: "status", SortOrder: 1},
				{SourceCode: "email", TargetField: "email", IsUpdateKey: true, SortOrder: 2},
			},
		},
	}

	valueRules := &memValueRuleRepo{rules: map[uuid.UUID][]models.ValueMappingRule{
		appMappingID: {
			{AppMappingID: appMappingID, TargetField: "status", SourceValue: "営業_企業情報待ち", TargetValue: "書類準備中", IsActive: true, SortOrder: 0},
		},
	}}

	syncs := newMemSyncRepo()
	recordRepo := newMemRecordRepo()
	fetcher := &stubFetcher{pages: map[string][]providers.RemoteRecord{"11": records}}
	publisher := &memPublisher{}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	orchestrator := NewOrchestrator(connectors, mappings, valueRules, syncs, recordRepo, fetcher, publisher, logger)

	return &orchestratorFixture{
		orchestrator: orchestrator,
		connectorID:  connectorID,
		appMapping:   appMapping,
		connectors:   connectors,
		syncs:        syncs,
		records:      recordRepo,
		fetcher:      fetcher,
		publisher:    publisher,
	}
}

func remoteRecord(id, name, status, email string) providers.RemoteRecord {
	return providers.RemoteRecord{
		ID: id,
		Fields: map[string]any{
			"name":   name,
			"status": status,
			"email":  email,
		},
	}
}

func TestSyncAllSuccess(t *testing.T) {
	fixture := newFixture(t, []providers.RemoteRecord{
		remoteRecord("101", "山田太郎", "営業_企業情報待ち", "taro@example.com"),
		remoteRecord("102", "鈴木花子", "未知の値", "hanako@example.com"),
	})

	result, err := fixture.orchestrator.SyncAll(context.Background(), fixture.connectorID, models.SyncTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSuccess, result.Status)
	assert.Equal(t, 2, result.TotalCount)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Equal(t, 2, result.CountsByType["people"])

	// mapped rule applied; unmapped value passed through
	first := fixture.records.records["kintone:11:101"]
	require.NotNil(t, first)
	assert.Equal(t, "書類準備中", first.Attributes.Data["status"])
	second := fixture.records.records["kintone:11:102"]
	require.NotNil(t, second)
	assert.Equal(t, "未知の値", second.Attributes.Data["status"])

	session, err := fixture.syncs.GetSession(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, session.Status)
	assert.Equal(t, 2, session.SuccessCount)

	items, err := fixture.syncs.ListItemLogs(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.Len(t, fixture.publisher.syncEvents, 1)
	assert.Equal(t, kafka.EventSyncCompleted, fixture.publisher.syncEvents[0].Type)
	assert.Equal(t, "success", fixture.publisher.syncEvents[0].Status)
}

func TestSyncAllIsIdempotent(t *testing.T) {
	fixture := newFixture(t, []providers.RemoteRecord{
		remoteRecord("101", "山田太郎", "申請中", "taro@example.com"),
	})

	_, err := fixture.orchestrator.SyncAll(context.Background(), fixture.connectorID, models.SyncTypeManual, nil)
	require.NoError(t, err)
	_, err = fixture.orchestrator.SyncAll(context.Background(), fixture.connectorID, models.SyncTypeManual, nil)
	require.NoError(t, err)

	// same composite id twice means one stored record
	assert.Len(t, fixture.records.records, 1)
	assert.Equal(t, 2, fixture.records.upserts)
}

func TestSyncAllIsolatesRecordFailures(t *testing.T) {
	fixture := newFixture(t, []providers.RemoteRecord{
		remoteRecord("101", "ok", "x", "a@example.com"),
		remoteRecord("102", "broken", "x", "b@example.com"),
		remoteRecord("103", "ok too", "x", "c@example.com"),
	})
	fixture.records.failFor["102"] = true

	result, err := fixture.orchestrator.SyncAll(context.Background(), fixture.connectorID, models.SyncTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusFailed, result.Status)
	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailedCount)

	// surviving records made it despite the failure in the middle
	assert.NotNil(t, fixture.records.records["kintone:11:101"])
	assert.NotNil(t, fixture.records.records["kintone:11:103"])

	items, err := fixture.syncs.ListItemLogs(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.Len(t, items, 3)

	var failed int
	for _, item := range items {
		if item.Status == models.SyncItemStatusFailed {
			failed++
			require.NotNil(t, item.ErrorDetail)
			assert.Contains(t, *item.ErrorDetail, "simulated storage failure")
		}
	}
	assert.Equal(t, 1, failed)
}

func TestSyncAllScheduledRunSkipsItemLogs(t *testing.T) {
	fixture := newFixture(t, []providers.RemoteRecord{
		remoteRecord("101", "quiet", "x", "a@example.com"),
	})

	result, err := fixture.orchestrator.SyncAll(context.Background(), fixture.connectorID, models.SyncTypeScheduled, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, result.Status)

	items, err := fixture.syncs.ListItemLogs(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSyncAllSkipsRecordsWithoutUpdateKey(t *testing.T) {
	records := []providers.RemoteRecord{
		remoteRecord("101", "keyed", "x", "a@example.com"),
		{ID: "102", Fields: map[string]any{"name": "keyless", "status": "x"}},
	}
	fixture := newFixture(t, records)
	fixture.appMapping.SkipWithoutUpdateKey = true
	// reinstall the mapping with the skip option set
	fixture.orchestrator.mappings.(*memMappingRepo).appMappings = []models.AppMapping{fixture.appMapping}

	result, err := fixture.orchestrator.SyncAll(context.Background(), fixture.connectorID, models.SyncTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalCount)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Nil(t, fixture.records.records["kintone:11:102"])
}

func TestSyncAllFailsSessionOnReauthorizationRequired(t *testing.T) {
	fixture := newFixture(t, nil)
	fixture.fetcher.err = fmt.Errorf("%w: refresh token rejected", tokens.ErrReauthorizationRequired)

	result, err := fixture.orchestrator.SyncAll(context.Background(), fixture.connectorID, models.SyncTypeManual, nil)
	require.ErrorIs(t, err, tokens.ErrReauthorizationRequired)

	assert.Equal(t, models.SyncStatusFailed, result.Status)

	session, getErr := fixture.syncs.GetSession(context.Background(), result.SessionID)
	require.NoError(t, getErr)
	assert.Equal(t, models.SyncStatusFailed, session.Status)
	require.NotNil(t, session.ErrorMessage)
	assert.Contains(t, *session.ErrorMessage, "refresh token rejected")

	// connector flips to error and an error event goes out
	assert.Equal(t, models.ConnectorStatusError, fixture.connectors.connector.Status)
	require.Len(t, fixture.publisher.connectorEvents, 1)
	assert.Equal(t, kafka.EventConnectorError, fixture.publisher.connectorEvents[0].Type)
}

func TestSyncAllFiltersByTargetEntity(t *testing.T) {
	fixture := newFixture(t, []providers.RemoteRecord{
		remoteRecord("101", "ignored", "x", "a@example.com"),
	})

	other := models.TargetEntityVisas
	result, err := fixture.orchestrator.SyncAll(context.Background(), fixture.connectorID, models.SyncTypeManual, &other)
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSuccess, result.Status)
	assert.Equal(t, 0, result.TotalCount)
	assert.Empty(t, fixture.records.records)
}

func TestSyncAllSessionCompletedExactlyOnce(t *testing.T) {
	fixture := newFixture(t, []providers.RemoteRecord{
		remoteRecord("101", "once", "x", "a@example.com"),
	})

	_, err := fixture.orchestrator.SyncAll(context.Background(), fixture.connectorID, models.SyncTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, fixture.syncs.completions)
}
