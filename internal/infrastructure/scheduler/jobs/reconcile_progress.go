package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/antbot/course-bot/internal/application/lesson"
	"github.com/antbot/course-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE PROGRESS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ProgressReconciler repairs users stuck in WaitingLessonDelivery.
type ProgressReconciler interface {
	Reconcile(ctx context.Context) (lesson.ReconcileReport, error)
}

// ReconcileProgressJob finishes lessons whose last row was delivered by a
// process that died before the state update, and arms lessons whose content
// appeared after the user reached them.
type ReconcileProgressJob struct {
	reconciler ProgressReconciler
	logger     *slog.Logger
	config     ReconcileProgressConfig

	lastRunStats atomic.Value // *ReconcileProgressStats
}

// ReconcileProgressConfig contains configuration for the reconcile job.
type ReconcileProgressConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultReconcileProgressConfig returns sensible defaults.
func DefaultReconcileProgressConfig() ReconcileProgressConfig {
	return ReconcileProgressConfig{
		Interval: 10 * time.Minute,
		Timeout:  2 * time.Minute,
	}
}

// ReconcileProgressStats contains statistics from one run.
type ReconcileProgressStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Report      lesson.ReconcileReport
}

// NewReconcileProgressJob creates a new reconcile progress job.
func NewReconcileProgressJob(reconciler ProgressReconciler, log *slog.Logger, config ReconcileProgressConfig) *ReconcileProgressJob {
	if log == nil {
		log = slog.Default()
	}
	return &ReconcileProgressJob{
		reconciler: reconciler,
		logger:     log.With(logger.Component("reconcile_progress")),
		config:     config,
	}
}

// Name returns the job name.
func (j *ReconcileProgressJob) Name() string {
	return "reconcile_progress"
}

// Description returns a human-readable description.
func (j *ReconcileProgressJob) Description() string {
	return "Completes delivered lessons and arms lessons with late content"
}

// Interval returns how often the job should be scheduled.
func (j *ReconcileProgressJob) Interval() time.Duration {
	return j.config.Interval
}

// Run executes the reconciliation.
func (j *ReconcileProgressJob) Run(ctx context.Context) error {
	startedAt := time.Now()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	report, err := j.reconciler.Reconcile(ctx)

	stats := &ReconcileProgressStats{StartedAt: startedAt, Report: report}
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	if err != nil {
		return fmt.Errorf("reconcile progress: %w", err)
	}

	j.logger.Info("reconcile_progress job completed",
		"duration", stats.Duration.String(),
		"checked", report.Checked,
		"armed", report.Armed,
		"completed", report.Completed,
		"errors", report.Errors,
	)
	return nil
}

// LastRunStats returns statistics from the last run.
func (j *ReconcileProgressJob) LastRunStats() *ReconcileProgressStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*ReconcileProgressStats)
}
