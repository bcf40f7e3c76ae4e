// Package scheduler polls for connectors whose scheduled sync is due and
// enqueues sync jobs, using a per-connector redis lock so only one instance
// schedules a given connector per cycle.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrSchedulerStopped is returned when the scheduler is stopped
	ErrSchedulerStopped = errors.New("scheduler stopped")

	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultPollInterval is the default interval between scheduling runs
	DefaultPollInterval = 30 * time.Second

	// DefaultLockTTL is the default TTL for distributed locks
	DefaultLockTTL = 60 * time.Second

	// DefaultBatchSize is the number of connectors to fetch per poll
	DefaultBatchSize = 100

	// LockKeyPrefix is the prefix for scheduler locks
	LockKeyPrefix = "scheduler:connector:"
)

// DueConnector represents a connector due for a scheduled sync
type DueConnector struct {
	TenantID            uuid.UUID
	ConnectorID         uuid.UUID
	Provider            string
	SyncIntervalSeconds int
	LastSyncedAt        *time.Time
}

// SchedulerRepository defines the interface for scheduler data access
// This is separate from tenant-scoped repositories as it needs cross-tenant access
type SchedulerRepository interface {
	// ListDueConnectors returns connected connectors that are due for a sync
	ListDueConnectors(ctx context.Context, limit int) ([]DueConnector, error)
}

// Config holds configuration for the scheduler
type Config struct {
	// PollInterval is how often to check for due connectors
	PollInterval time.Duration

	// LockTTL is how long to hold a lock for a connector
	LockTTL time.Duration

	// BatchSize is the maximum number of connectors to schedule per poll
	BatchSize int

	// JobQueue is the Redis Streams queue name
	JobQueue string
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		LockTTL:      DefaultLockTTL,
		BatchSize:    DefaultBatchSize,
		JobQueue:     "fern:sync-jobs",
	}
}

// Scheduler polls for and enqueues due connector syncs
type Scheduler struct {
	repo    SchedulerRepository
	streams *redis.Streams
	locker  *redis.Locker
	config  Config
	logger  ectologger.Logger

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(
	repo SchedulerRepository,
	streams *redis.Streams,
	locker *redis.Locker,
	config Config,
	logger ectologger.Logger,
) *Scheduler {
	// Apply defaults
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.JobQueue == "" {
		config.JobQueue = "fern:sync-jobs"
	}

	return &Scheduler{
		repo:     repo,
		streams:  streams,
		locker:   locker,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "Scheduler.Start")
	defer span.End()

	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s batch_size=%d",
		s.config.PollInterval, s.config.BatchSize)

	// Start the polling loop
	go s.pollLoop(ctx)

	s.logger.WithContext(ctx).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	close(s.stopCh)

	// Wait for graceful shutdown with timeout
	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunOnce runs a single scheduling cycle outside the poll loop. Used by the
// internal cron endpoint so an external scheduler can drive cycles when the
// poll loop is disabled.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.runSchedulingCycle(ctx)
}

// pollLoop continuously polls for due connectors
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.runSchedulingCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Scheduler poll loop stopping")
			return
		case <-ticker.C:
			s.runSchedulingCycle(ctx)
		}
	}
}

// runSchedulingCycle runs a single scheduling cycle
func (s *Scheduler) runSchedulingCycle(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.runSchedulingCycle")
	defer span.End()

	start := time.Now()
	s.logger.WithContext(ctx).Debug("Running scheduling cycle")

	// Fetch due connectors
	due, err := s.repo.ListDueConnectors(ctx, s.config.BatchSize)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list due connectors")
		return
	}

	if len(due) == 0 {
		s.logger.WithContext(ctx).Debug("No connectors to schedule")
		return
	}

	s.logger.WithContext(ctx).Infof("Found %d connectors to schedule", len(due))

	// Schedule each connector
	scheduled := 0
	skipped := 0
	for _, connector := range due {
		if err := s.scheduleConnector(ctx, connector); err != nil {
			if errors.Is(err, redis.ErrLockNotAcquired) {
				skipped++
				continue
			}
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to schedule connector %s", connector.ConnectorID)
			continue
		}
		scheduled++
	}

	duration := time.Since(start)
	s.logger.WithContext(ctx).Infof("Scheduling cycle completed: scheduled=%d skipped=%d duration=%s",
		scheduled, skipped, duration)
}

// scheduleConnector enqueues a sync job for one connector
func (s *Scheduler) scheduleConnector(ctx context.Context, connector DueConnector) error {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.scheduleConnector")
	defer span.End()

	// The lock spans the sync interval check window so two instances polling
	// at the same time enqueue the job once
	lock, err := s.locker.Acquire(ctx, s.lockKey(connector.ConnectorID), s.config.LockTTL)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	// Set tenant context for logging
	ctx = appctx.SetTenantID(ctx, connector.TenantID.String())

	s.logger.WithContext(ctx).Debugf("Scheduling sync for connector %s", connector.ConnectorID)

	job := queue.ConnectorSyncJob{
		ConnectorID: connector.ConnectorID.String(),
		TenantID:    connector.TenantID.String(),
		SyncType:    string(models.SyncTypeScheduled),
		ScheduledAt: time.Now(),
	}

	messageID, err := queue.PublishConnectorSync(ctx, s.streams, s.config.JobQueue, job)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish sync job for connector %s", connector.ConnectorID)
		return err
	}

	metrics.SchedulerSyncsScheduled.Inc()
	s.logger.WithContext(ctx).Infof("Scheduled sync for connector %s (message_id=%s)", connector.ConnectorID, messageID)

	return nil
}

// lockKey generates a lock key for a connector
func (s *Scheduler) lockKey(connectorID uuid.UUID) string {
	return LockKeyPrefix + connectorID.String()
}
