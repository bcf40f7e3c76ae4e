package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// AuditEvent identifies what happened to a connector
type AuditEvent string

const (
	AuditEventStatusChanged       AuditEvent = "status_changed"
	AuditEventTokenExchanged      AuditEvent = "token_exchanged"
	AuditEventTokenExchangeFailed AuditEvent = "token_exchange_failed"
	AuditEventTokenRefreshed      AuditEvent = "token_refreshed"
	AuditEventTokenRefreshFailed  AuditEvent = "token_refresh_failed"
	AuditEventSecretsRotated      AuditEvent = "secrets_rotated"
)

// ConnectorAuditLog records security-relevant connector events so the
// dashboard can surface why a connection went stale.
type ConnectorAuditLog struct {
	ID          uuid.UUID                      `db:"id" json:"id"`
	TenantID    uuid.UUID                      `db:"tenant_id" json:"tenant_id"`
	ConnectorID uuid.UUID                      `db:"connector_id" json:"connector_id"`
	Event       AuditEvent                     `db:"event" json:"event"`
	Detail      database.JSONB[map[string]any] `db:"detail" json:"detail,omitempty"`
	CreatedAt   time.Time                      `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (ConnectorAuditLog) TableName() string {
	return "connector_audit_logs"
}
