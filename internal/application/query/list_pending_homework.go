package query

import (
	"context"
	"fmt"

	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/homework"
	"github.com/antbot/course-bot/internal/domain/repository"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST PENDING HOMEWORK QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListPendingHomeworkQuery lists submissions waiting for review.
type ListPendingHomeworkQuery struct {
	// Limit defaults to 20 and is capped at 100.
	Limit int
}

// PendingHomework is one row of the admin /pending listing.
type PendingHomework struct {
	Submission homework.Submission
	CourseName string
}

// ListPendingHomeworkHandler handles ListPendingHomeworkQuery.
type ListPendingHomeworkHandler struct {
	store   repository.Store
	catalog course.Catalog
}

// NewListPendingHomeworkHandler creates a new ListPendingHomeworkHandler.
func NewListPendingHomeworkHandler(store repository.Store, catalog course.Catalog) *ListPendingHomeworkHandler {
	return &ListPendingHomeworkHandler{store: store, catalog: catalog}
}

// Handle returns the oldest pending submissions first.
func (h *ListPendingHomeworkHandler) Handle(ctx context.Context, q ListPendingHomeworkQuery) ([]PendingHomework, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	subs, err := h.store.Homework().ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list_pending_homework: %w", err)
	}

	names := make(map[string]string)
	out := make([]PendingHomework, 0, len(subs))
	for _, s := range subs {
		name, ok := names[s.CourseID]
		if !ok {
			name = s.CourseID
			if c, err := h.catalog.Course(ctx, s.CourseID); err == nil {
				name = c.Name
			}
			names[s.CourseID] = name
		}
		out = append(out, PendingHomework{Submission: *s, CourseName: name})
	}
	return out, nil
}
