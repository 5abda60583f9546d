// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/delivery"
	"github.com/antbot/course-bot/internal/domain/progression"
	"github.com/antbot/course-bot/internal/domain/repository"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery asks for a user's position in their current course.
type GetProgressQuery struct {
	UserID int64
}

// ProgressView is what /progress shows.
type ProgressView struct {
	// HasCourse is false when the user never activated a course.
	HasCourse bool

	CourseID   string
	CourseName string
	TierID     string
	TierName   string

	State  progression.State
	Lesson int

	EnrolledAt  time.Time
	CompletedAt *time.Time

	// NextDueAt is the earliest pending content delivery, if any.
	NextDueAt *time.Time

	PendingHomework int
}

// GetProgressHandler handles GetProgressQuery.
type GetProgressHandler struct {
	store   repository.Store
	catalog course.Catalog
}

// NewGetProgressHandler creates a new GetProgressHandler.
func NewGetProgressHandler(store repository.Store, catalog course.Catalog) *GetProgressHandler {
	return &GetProgressHandler{store: store, catalog: catalog}
}

// Handle executes the query.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressView, error) {
	st, err := h.store.States().GetState(ctx, q.UserID)
	if errors.Is(err, progression.ErrStateNotFound) {
		return &ProgressView{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_progress: state: %w", err)
	}

	view := &ProgressView{
		HasCourse:  true,
		CourseID:   st.CourseID,
		CourseName: st.CourseID,
		State:      st.State,
		Lesson:     st.Lesson,
	}

	enrollment, err := h.store.Enrollments().GetEnrollment(ctx, q.UserID, st.CourseID)
	switch {
	case err == nil:
		view.TierID = enrollment.TierID
		view.TierName = enrollment.TierID
		view.EnrolledAt = enrollment.EnrolledAt
		view.CompletedAt = enrollment.CompletedAt
	case !errors.Is(err, progression.ErrEnrollmentNotFound):
		return nil, fmt.Errorf("get_progress: enrollment: %w", err)
	}

	if c, err := h.catalog.Course(ctx, st.CourseID); err == nil {
		view.CourseName = c.Name
		if t, ok := c.Tier(view.TierID); ok {
			view.TierName = t.Name
		}
	}

	next, err := h.store.Deliveries().NextDue(ctx, q.UserID, st.CourseID)
	switch {
	case err == nil:
		view.NextDueAt = &next
	case !errors.Is(err, delivery.ErrDeliveryNotFound):
		return nil, fmt.Errorf("get_progress: next due: %w", err)
	}

	view.PendingHomework, err = h.store.Homework().CountPending(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: pending homework: %w", err)
	}

	return view, nil
}
