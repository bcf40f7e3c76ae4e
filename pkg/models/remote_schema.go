package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// FieldType is the resolved kind of a remote field. Unknown is a valid,
// first-class variant: fields whose provider type we cannot classify keep
// their raw code and map as opaque strings.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeChoice   FieldType = "choice"
	FieldTypeUser     FieldType = "user"
	FieldTypeUnknown  FieldType = "unknown"
)

// RemoteApplication is a cached mirror of one application (record container)
// in the provider's schema. It is a read-through cache refreshed by explicit
// schema sync actions, never authoritative.
type RemoteApplication struct {
	ID          uuid.UUID `db:"id" json:"id"`
	TenantID    uuid.UUID `db:"tenant_id" json:"tenant_id"`
	ConnectorID uuid.UUID `db:"connector_id" json:"connector_id"`
	AppID       string    `db:"app_id" json:"app_id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	SyncedAt    time.Time `db:"synced_at" json:"synced_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (RemoteApplication) TableName() string {
	return "remote_applications"
}

// RemoteField is a cached field definition within a remote application.
type RemoteField struct {
	ID          uuid.UUID                      `db:"id" json:"id"`
	TenantID    uuid.UUID                      `db:"tenant_id" json:"tenant_id"`
	ConnectorID uuid.UUID                      `db:"connector_id" json:"connector_id"`
	AppID       string                         `db:"app_id" json:"app_id"`
	Code        string                         `db:"code" json:"code"`
	Label       string                         `db:"label" json:"label"`
	FieldType   FieldType                      `db:"field_type" json:"field_type"`
	RawType     *string                        `db:"raw_type" json:"raw_type,omitempty"`
	Required    bool                           `db:"required" json:"required"`
	Options     database.JSONB[[]string]       `db:"options" json:"options,omitempty"`
	SyncedAt    time.Time                      `db:"synced_at" json:"synced_at"`
	CreatedAt   time.Time                      `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (RemoteField) TableName() string {
	return "remote_fields"
}
