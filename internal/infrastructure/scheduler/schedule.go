package scheduler

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration

	// immediate makes the first Next return t itself.
	immediate atomic.Bool
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Immediately makes the job due on the first scheduler tick.
func (s *IntervalSchedule) Immediately() *IntervalSchedule {
	s.immediate.Store(true)
	return s
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	if s.immediate.CompareAndSwap(true, false) {
		return t
	}
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// CronSchedule wraps a standard 5-field cron expression.
// Examples:
//   - "*/5 * * * *"  - every 5 minutes
//   - "0 3 * * *"    - every day at 03:00
//   - "@daily"       - every day at midnight
type CronSchedule struct {
	raw      string
	schedule cron.Schedule
	location *time.Location
}

// ParseCron parses expr; times are evaluated in loc (UTC if nil).
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CronSchedule{raw: expr, schedule: sched, location: loc}, nil
}

// Next returns the next activation strictly after t.
func (s *CronSchedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

// String returns the raw expression.
func (s *CronSchedule) String() string {
	return s.raw
}
