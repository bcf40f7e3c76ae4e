package models

import (
	"time"

	"github.com/google/uuid"
)

// TargetEntityType is the internal entity a remote application maps onto.
type TargetEntityType string

const (
	TargetEntityPeople   TargetEntityType = "people"
	TargetEntityVisas    TargetEntityType = "visas"
	TargetEntityMeetings TargetEntityType = "meetings"
	TargetEntitySupport  TargetEntityType = "support_records"
)

// ValidTargetEntityType reports whether t is a known internal entity type.
func ValidTargetEntityType(t TargetEntityType) bool {
	switch t {
	case TargetEntityPeople, TargetEntityVisas, TargetEntityMeetings, TargetEntitySupport:
		return true
	}
	return false
}

// AppMapping binds one remote application to one internal target entity type.
// Mappings are drafts (is_active = false) until explicitly activated.
type AppMapping struct {
	ID                   uuid.UUID        `db:"id" json:"id"`
	TenantID             uuid.UUID        `db:"tenant_id" json:"tenant_id"`
	ConnectorID          uuid.UUID        `db:"connector_id" json:"connector_id"`
	AppID                string           `db:"app_id" json:"app_id"`
	TargetEntity         TargetEntityType `db:"target_entity" json:"target_entity"`
	IsActive             bool             `db:"is_active" json:"is_active"`
	SkipWithoutUpdateKey bool             `db:"skip_without_update_key" json:"skip_without_update_key"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (AppMapping) TableName() string {
	return "app_mappings"
}

// FieldMapping binds one remote field (by code) to one internal field.
// IsUpdateKey marks fields used to match existing internal records on upsert.
type FieldMapping struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TenantID     uuid.UUID `db:"tenant_id" json:"tenant_id"`
	AppMappingID uuid.UUID `db:"app_mapping_id" json:"app_mapping_id"`
	SourceCode   string    `db:"source_code" json:"source_code"`
	SourceType   FieldType `db:"source_type" json:"source_type"`
	TargetField  string    `db:"target_field" json:"target_field"`
	IsUpdateKey  bool      `db:"is_update_key" json:"is_update_key"`
	SortOrder    int       `db:"sort_order" json:"sort_order"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (FieldMapping) TableName() string {
	return "field_mappings"
}

// ValueMappingRule is one (source value -> target value) substitution for an
// internal field under an app mapping. Rule order is significant: the first
// active rule whose source value matches wins, and unmapped values pass
// through unchanged.
type ValueMappingRule struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TenantID     uuid.UUID `db:"tenant_id" json:"tenant_id"`
	AppMappingID uuid.UUID `db:"app_mapping_id" json:"app_mapping_id"`
	TargetField  string    `db:"target_field" json:"target_field"`
	SourceValue  string    `db:"source_value" json:"source_value"`
	TargetValue  string    `db:"target_value" json:"target_value"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	SortOrder    int       `db:"sort_order" json:"sort_order"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (ValueMappingRule) TableName() string {
	return "value_mapping_rules"
}
