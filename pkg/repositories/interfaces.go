package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ConnectorRepo defines the interface for connector repository operations
type ConnectorRepo interface {
	Create(ctx context.Context, connector *models.Connector) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Connector, error)
	List(ctx context.Context) ([]models.Connector, error)
	Update(ctx context.Context, connector *models.Connector) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectorStatus, errorMessage *string) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByTenantID(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// SecretRepo defines the interface for connector secret operations
type SecretRepo interface {
	Replace(ctx context.Context, secret *models.ConnectorSecret) error
	GetByConnectorID(ctx context.Context, connectorID uuid.UUID) (*models.ConnectorSecret, error)
	DeleteByConnectorID(ctx context.Context, connectorID uuid.UUID) error
}

// CredentialRepo defines the interface for OAuth credential operations
type CredentialRepo interface {
	Replace(ctx context.Context, credential *models.OAuthCredential) error
	GetByConnectorID(ctx context.Context, connectorID uuid.UUID) (*models.OAuthCredential, error)
	DeleteByConnectorID(ctx context.Context, connectorID uuid.UUID) error
}

// RemoteSchemaRepo defines the interface for the remote schema cache
type RemoteSchemaRepo interface {
	ReplaceApps(ctx context.Context, connectorID uuid.UUID, apps []models.RemoteApplication) error
	ReplaceFields(ctx context.Context, connectorID uuid.UUID, appID string, fields []models.RemoteField) error
	ListApps(ctx context.Context, connectorID uuid.UUID) ([]models.RemoteApplication, error)
	ListFields(ctx context.Context, connectorID uuid.UUID, appID string) ([]models.RemoteField, error)
	DeleteByConnectorID(ctx context.Context, connectorID uuid.UUID) error
}

// MappingRepo defines the interface for app and field mapping operations
type MappingRepo interface {
	CreateAppMapping(ctx context.Context, mapping *models.AppMapping) error
	GetAppMapping(ctx context.Context, id uuid.UUID) (*models.AppMapping, error)
	ListAppMappings(ctx context.Context, connectorID uuid.UUID) ([]models.AppMapping, error)
	ListActiveAppMappings(ctx context.Context, connectorID uuid.UUID, targetEntity *models.TargetEntityType) ([]models.AppMapping, error)
	UpdateAppMapping(ctx context.Context, mapping *models.AppMapping) error
	SetAppMappingActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteAppMapping(ctx context.Context, id uuid.UUID) error
	ReplaceFieldMappings(ctx context.Context, appMappingID uuid.UUID, mappings []models.FieldMapping) error
	ListFieldMappings(ctx context.Context, appMappingID uuid.UUID) ([]models.FieldMapping, error)
}

// ValueRuleRepo defines the interface for value mapping rule operations
type ValueRuleRepo interface {
	Create(ctx context.Context, rule *models.ValueMappingRule) error
	Update(ctx context.Context, rule *models.ValueMappingRule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, appMappingID uuid.UUID) ([]models.ValueMappingRule, error)
	Reorder(ctx context.Context, appMappingID uuid.UUID, targetField string, ruleIDs []uuid.UUID) error
}

// SyncRepo defines the interface for sync session and item log operations
type SyncRepo interface {
	CreateSession(ctx context.Context, session *models.SyncSession) error
	CompleteSession(ctx context.Context, session *models.SyncSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.SyncSession, error)
	ListSessions(ctx context.Context, connectorID uuid.UUID, limit int) ([]models.SyncSession, error)
	CreateItemLog(ctx context.Context, item *models.SyncItemLog) error
	ListItemLogs(ctx context.Context, sessionID uuid.UUID) ([]models.SyncItemLog, error)
}

// RecordRepo defines the interface for internal record operations
type RecordRepo interface {
	Upsert(ctx context.Context, record *models.InternalRecord) error
	ListByEntity(ctx context.Context, connectorID uuid.UUID, targetEntity models.TargetEntityType, limit, offset int) ([]models.InternalRecord, error)
	DeleteByConnectorID(ctx context.Context, connectorID uuid.UUID) (int64, error)
}

// AuditRepo defines the interface for connector audit log operations
type AuditRepo interface {
	Create(ctx context.Context, entry *models.ConnectorAuditLog) error
	ListByConnectorID(ctx context.Context, connectorID uuid.UUID, limit int) ([]models.ConnectorAuditLog, error)
}
