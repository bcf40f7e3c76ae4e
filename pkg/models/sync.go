package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncType distinguishes interactive runs from scheduled ones. Item-level
// logs are only written for manual runs to bound log volume on schedules.
type SyncType string

const (
	SyncTypeManual    SyncType = "manual"
	SyncTypeScheduled SyncType = "scheduled"
)

// SyncStatus represents the status of a sync session
type SyncStatus string

const (
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncSession is one execution record of a full or type-scoped sync pass.
// It is created when the pass starts and closed exactly once at completion.
type SyncSession struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	TenantID     uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	ConnectorID  uuid.UUID  `db:"connector_id" json:"connector_id"`
	SyncType     SyncType   `db:"sync_type" json:"sync_type"`
	Status       SyncStatus `db:"status" json:"status"`
	TargetEntity *string    `db:"target_entity" json:"target_entity,omitempty"`
	TotalCount   int        `db:"total_count" json:"total_count"`
	SuccessCount int        `db:"success_count" json:"success_count"`
	FailedCount  int        `db:"failed_count" json:"failed_count"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// TableName returns the database table name
func (SyncSession) TableName() string {
	return "sync_sessions"
}

// SyncItemStatus represents the outcome of a single record within a session
type SyncItemStatus string

const (
	SyncItemStatusSuccess SyncItemStatus = "success"
	SyncItemStatusFailed  SyncItemStatus = "failed"
)

// SyncItemLog is the per-record outcome of a sync session.
type SyncItemLog struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	TenantID     uuid.UUID      `db:"tenant_id" json:"tenant_id"`
	SessionID    uuid.UUID      `db:"session_id" json:"session_id"`
	TargetEntity string         `db:"target_entity" json:"target_entity"`
	RemoteID     string         `db:"remote_id" json:"remote_id"`
	Status       SyncItemStatus `db:"status" json:"status"`
	ErrorDetail  *string        `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (SyncItemLog) TableName() string {
	return "sync_item_logs"
}
