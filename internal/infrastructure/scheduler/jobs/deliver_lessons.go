// Package jobs contains the scheduled jobs of the course bot.
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
// DELIVER LESSONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// LessonDeliverer sends every scheduled item whose time has come.
type LessonDeliverer interface {
	DeliverDue(ctx context.Context) (lesson.DeliveryReport, error)
}

// DeliverLessonsJob is the polling pass of the delivery scheduler. Several
// bot instances may run it at once; each row is claimed by one of them.
type DeliverLessonsJob struct {
	lessons LessonDeliverer
	logger  *slog.Logger
	config  DeliverLessonsConfig

	lastRunStats atomic.Value // *DeliverLessonsStats
}

// DeliverLessonsConfig contains configuration for the deliver lessons job.
type DeliverLessonsConfig struct {
	// Interval between polling passes.
	Interval time.Duration

	// Timeout bounds a single pass.
	Timeout time.Duration
}

// DefaultDeliverLessonsConfig returns the 60s polling interval.
func DefaultDeliverLessonsConfig() DeliverLessonsConfig {
	return DeliverLessonsConfig{
		Interval: 60 * time.Second,
		Timeout:  50 * time.Second,
	}
}

// DeliverLessonsStats contains statistics from one pass.
type DeliverLessonsStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Report      lesson.DeliveryReport
}

// NewDeliverLessonsJob creates a new deliver lessons job.
func NewDeliverLessonsJob(lessons LessonDeliverer, log *slog.Logger, config DeliverLessonsConfig) *DeliverLessonsJob {
	if log == nil {
		log = slog.Default()
	}
	return &DeliverLessonsJob{
		lessons: lessons,
		logger:  log.With(logger.Component("deliver_lessons")),
		config:  config,
	}
}

// Name returns the job name.
func (j *DeliverLessonsJob) Name() string {
	return "deliver_lessons"
}

// Description returns a human-readable description.
func (j *DeliverLessonsJob) Description() string {
	return "Sends lesson content whose scheduled time has come"
}

// Interval returns how often the job should be scheduled.
func (j *DeliverLessonsJob) Interval() time.Duration {
	return j.config.Interval
}

// Run executes one polling pass.
func (j *DeliverLessonsJob) Run(ctx context.Context) error {
	startedAt := time.Now()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	report, err := j.lessons.DeliverDue(ctx)

	stats := &DeliverLessonsStats{StartedAt: startedAt, Report: report}
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	if err != nil {
		return fmt.Errorf("deliver due lessons: %w", err)
	}

	// Idle passes are the common case every minute.
	if report.Due == 0 {
		return nil
	}
	j.logger.Info("deliver_lessons pass completed",
		"duration", stats.Duration.String(),
		"due", report.Due,
		"claimed", report.Claimed,
		"delivered", report.Delivered,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"lessons_completed", report.LessonsCompleted,
	)
	return nil
}

// LastRunStats returns statistics from the last pass.
func (j *DeliverLessonsJob) LastRunStats() *DeliverLessonsStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*DeliverLessonsStats)
}
