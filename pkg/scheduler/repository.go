package scheduler

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// DefaultSyncIntervalSeconds is the interval between scheduled syncs when
	// the connector does not set one
	DefaultSyncIntervalSeconds = 3600 // 1 hour
)

// SchedulerRepositoryImpl implements SchedulerRepository with cross-tenant access
// This is a system-level repository not scoped to a single tenant
type SchedulerRepositoryImpl struct {
	db     database.DB
	logger ectologger.Logger
}

// NewSchedulerRepository creates a new scheduler repository
func NewSchedulerRepository(db database.DB, logger ectologger.Logger) *SchedulerRepositoryImpl {
	return &SchedulerRepositoryImpl{
		db:     db,
		logger: logger,
	}
}

// ListDueConnectors returns connected connectors whose last completed sync is
// older than their sync interval. The query:
// 1. Filters to connected connectors with at least one active app mapping
// 2. Left joins the latest completed sync session per connector
// 3. Keeps connectors that never synced or whose interval has elapsed
func (r *SchedulerRepositoryImpl) ListDueConnectors(ctx context.Context, limit int) ([]DueConnector, error) {
	ctx, span := tracing.StartSpan(ctx, "SchedulerRepository.ListDueConnectors")
	defer span.End()

	query := `
		SELECT
			c.tenant_id,
			c.id AS connector_id,
			c.provider,
			COALESCE(c.sync_interval_seconds, $1) AS sync_interval_seconds,
			ls.last_synced_at
		FROM connectors c
		LEFT JOIN (
			SELECT connector_id, MAX(completed_at) AS last_synced_at
			FROM sync_sessions
			WHERE completed_at IS NOT NULL
			GROUP BY connector_id
		) ls ON ls.connector_id = c.id
		WHERE c.status = 'connected'
		AND EXISTS (
			SELECT 1 FROM app_mappings am
			WHERE am.connector_id = c.id AND am.is_active = true
		)
		AND (
			ls.last_synced_at IS NULL
			OR ls.last_synced_at + (COALESCE(c.sync_interval_seconds, $1) * INTERVAL '1 second') < NOW()
		)
		ORDER BY ls.last_synced_at ASC NULLS FIRST
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, DefaultSyncIntervalSeconds, limit)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to query due connectors")
		return nil, err
	}
	defer rows.Close()

	var due []DueConnector
	for rows.Next() {
		var connector DueConnector
		var lastSync *time.Time

		err := rows.Scan(
			&connector.TenantID,
			&connector.ConnectorID,
			&connector.Provider,
			&connector.SyncIntervalSeconds,
			&lastSync,
		)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to scan due connector")
			continue
		}

		connector.LastSyncedAt = lastSync
		due = append(due, connector)
	}

	if err := rows.Err(); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Error iterating due connectors")
		return nil, err
	}

	r.logger.WithContext(ctx).Debugf("Found %d due connectors", len(due))
	return due, nil
}
