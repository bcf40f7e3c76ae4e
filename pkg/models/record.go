package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// CompositeRecordID builds the stable identity of an internal record synced
// from a provider. It is a deterministic function of provider, app and remote
// id, which is what makes re-running a sync idempotent.
func CompositeRecordID(provider, appID, remoteID string) string {
	return fmt.Sprintf("%s:%s:%s", provider, appID, remoteID)
}

// InternalRecord is a synced row in the internal store. Attributes hold the
// mapped field values keyed by internal field name.
type InternalRecord struct {
	ID           uuid.UUID                      `db:"id" json:"id"`
	TenantID     uuid.UUID                      `db:"tenant_id" json:"tenant_id"`
	ConnectorID  uuid.UUID                      `db:"connector_id" json:"connector_id"`
	TargetEntity TargetEntityType               `db:"target_entity" json:"target_entity"`
	CompositeID  string                         `db:"composite_id" json:"composite_id"`
	RemoteID     string                         `db:"remote_id" json:"remote_id"`
	Attributes   database.JSONB[map[string]any] `db:"attributes" json:"attributes"`
	SyncedAt     time.Time                      `db:"synced_at" json:"synced_at"`
	CreatedAt    time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time                      `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (InternalRecord) TableName() string {
	return "internal_records"
}
