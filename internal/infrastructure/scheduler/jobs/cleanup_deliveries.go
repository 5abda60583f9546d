package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/antbot/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLEANUP DELIVERIES JOB
// ══════════════════════════════════════════════════════════════════════════════

// DeliveryCleaner deletes delivered rows older than retention.
type DeliveryCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupDeliveriesJob trims the scheduled_deliveries table. Failed rows
// are never removed here; they wait for /redeliver.
type CleanupDeliveriesJob struct {
	cleaner DeliveryCleaner
	logger  *slog.Logger
	config  CleanupDeliveriesConfig

	lastRunStats atomic.Value // *CleanupDeliveriesStats
}

// CleanupDeliveriesConfig contains configuration for the cleanup job.
type CleanupDeliveriesConfig struct {
	// Cron is a 5-field expression evaluated in Moscow time.
	Cron string

	// Retention is how long delivered rows are kept.
	Retention time.Duration

	Timeout time.Duration
}

// DefaultCleanupDeliveriesConfig runs nightly and keeps a week of history.
func DefaultCleanupDeliveriesConfig() CleanupDeliveriesConfig {
	return CleanupDeliveriesConfig{
		Cron:      "0 3 * * *",
		Retention: 7 * 24 * time.Hour,
		Timeout:   5 * time.Minute,
	}
}

// CleanupDeliveriesStats contains statistics from one run.
type CleanupDeliveriesStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Deleted     int64
}

// NewCleanupDeliveriesJob creates a new cleanup job.
func NewCleanupDeliveriesJob(cleaner DeliveryCleaner, log *slog.Logger, config CleanupDeliveriesConfig) *CleanupDeliveriesJob {
	if log == nil {
		log = slog.Default()
	}
	if config.Retention <= 0 {
		config.Retention = DefaultCleanupDeliveriesConfig().Retention
	}
	return &CleanupDeliveriesJob{
		cleaner: cleaner,
		logger:  log.With(logger.Component("cleanup_deliveries")),
		config:  config,
	}
}

// Name returns the job name.
func (j *CleanupDeliveriesJob) Name() string {
	return "cleanup_deliveries"
}

// Description returns a human-readable description.
func (j *CleanupDeliveriesJob) Description() string {
	return fmt.Sprintf("Deletes delivered rows older than %s", j.config.Retention)
}

// Cron returns the job's cron expression.
func (j *CleanupDeliveriesJob) Cron() string {
	return j.config.Cron
}

// Run executes the cleanup.
func (j *CleanupDeliveriesJob) Run(ctx context.Context) error {
	startedAt := time.Now()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	deleted, err := j.cleaner.Cleanup(ctx, j.config.Retention)

	stats := &CleanupDeliveriesStats{StartedAt: startedAt, Deleted: deleted}
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	if err != nil {
		return fmt.Errorf("cleanup deliveries: %w", err)
	}

	j.logger.Info("cleanup_deliveries job completed",
		"duration", stats.Duration.String(),
		"deleted", deleted,
	)
	return nil
}

// LastRunStats returns statistics from the last run.
func (j *CleanupDeliveriesJob) LastRunStats() *CleanupDeliveriesStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*CleanupDeliveriesStats)
}
