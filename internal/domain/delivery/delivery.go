// Package delivery models scheduled lesson content deliveries.
package delivery

import (
	"context"
	"strconv"
	"time"

	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/shared"
)

// ScheduledDelivery is a claimable unit of work: send one content item of
// a lesson at or after DueAt. Sent flips false to true once, by Claim.
type ScheduledDelivery struct {
	ID          int64
	UserID      int64
	CourseID    string
	Lesson      int
	ContentItem string
	Path        string
	Kind        course.ContentKind
	DueAt       time.Time
	Sent        bool
	SentAt      *time.Time
	DeliveredAt *time.Time
	Failed      bool
	LastError   string
	CreatedAt   time.Time
}

// IsDue reports whether the row can be claimed at now.
func (d ScheduledDelivery) IsDue(now time.Time) bool {
	return !d.Sent && !d.DueAt.After(now)
}

// Item returns the content item the row refers to.
func (d ScheduledDelivery) Item() course.ContentItem {
	return course.ContentItem{Name: d.ContentItem, Path: d.Path, Kind: d.Kind}
}

// Plan builds the unsent rows for a lesson. Each row is due at
// base + policy.FileDelay(item.Delay).
func Plan(userID int64, courseID string, lesson int, items []course.ContentItem, base time.Time, policy course.DelayPolicy, now time.Time) []ScheduledDelivery {
	rows := make([]ScheduledDelivery, 0, len(items))
	for _, item := range items {
		rows = append(rows, ScheduledDelivery{
			UserID:      userID,
			CourseID:    courseID,
			Lesson:      lesson,
			ContentItem: item.Name,
			Path:        item.Path,
			Kind:        item.Kind,
			DueAt:       base.Add(policy.FileDelay(item.Delay)),
			CreatedAt:   now,
		})
	}
	return rows
}

// LessonStatus summarizes the rows of one lesson.
type LessonStatus struct {
	Total     int
	Pending   int // not yet claimed
	InFlight  int // claimed, outcome not recorded
	Delivered int
	Failed    int
}

// Complete reports whether every row of the lesson was delivered.
func (s LessonStatus) Complete() bool {
	return s.Total > 0 && s.Delivered == s.Total
}

// ReasonOutcomeUnknown is recorded on rows that were claimed but never
// marked delivered or failed, for example after a crash mid-dispatch.
// The item may or may not have reached the user.
const ReasonOutcomeUnknown = "outcome unknown: claimed but never recorded"

// Delivery errors.
var (
	ErrDeliveryNotFound = shared.NewDomainError("delivery", "Find", shared.ErrNotFound, "scheduled delivery not found")
	ErrContentMissing   = shared.NewDomainError("delivery", "Dispatch", shared.ErrNotFound, "content item is missing")
)

// Repository persists scheduled deliveries.
type Repository interface {
	// ReplaceLesson removes the lesson's unsent rows and inserts rows.
	// Rows whose item was already sent are kept and not duplicated.
	ReplaceLesson(ctx context.Context, userID int64, courseID string, lesson int, rows []ScheduledDelivery) error

	// ListDue returns unsent rows with due_at <= now, oldest due first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledDelivery, error)

	// Claim flips sent to true iff the row is unsent and due.
	// Exactly one concurrent caller observes true.
	Claim(ctx context.Context, id int64, now time.Time) (bool, error)

	// MarkDelivered records a successful dispatch and clears any failure.
	MarkDelivered(ctx context.Context, id int64, at time.Time) error

	// MarkFailed records a terminal dispatch failure. The row stays sent.
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error

	// LessonStatus counts the rows of a lesson.
	LessonStatus(ctx context.Context, userID int64, courseID string, lesson int) (LessonStatus, error)

	// FailStale marks rows claimed before claimedBefore whose outcome was
	// never recorded as failed with reason, and returns them.
	FailStale(ctx context.Context, claimedBefore time.Time, reason string, at time.Time) ([]ScheduledDelivery, error)

	// ListFailed returns the failed rows of a lesson.
	ListFailed(ctx context.Context, userID int64, courseID string, lesson int) ([]ScheduledDelivery, error)

	// NextDue returns the earliest unsent due_at for the user's course.
	// Returns ErrDeliveryNotFound when nothing is pending.
	NextDue(ctx context.Context, userID int64, courseID string) (time.Time, error)

	// DeleteDeliveredBefore removes delivered rows sent before t.
	DeleteDeliveredBefore(ctx context.Context, t time.Time) (int64, error)
}

// FailedEvent is emitted when a claimed row could not be dispatched.
// The row stays claimed; an operator re-sends it with /redeliver.
type FailedEvent struct {
	shared.BaseEvent
	Delivery ScheduledDelivery
	Reason   string
}

// NewFailedEvent creates a FailedEvent.
func NewFailedEvent(d ScheduledDelivery, reason string, at time.Time) FailedEvent {
	return FailedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventDeliveryFailed, strconv.FormatInt(d.ID, 10), at),
		Delivery:  d,
		Reason:    reason,
	}
}
