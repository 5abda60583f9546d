package homework

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newPending(t *testing.T) *Submission {
	t.Helper()
	s, err := NewSubmission(42, "intro", 1, ContentRef{FileID: "file-1", Kind: FilePhoto}, now)
	require.NoError(t, err)
	return s
}

func TestNewSubmission(t *testing.T) {
	s := newPending(t)
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, StatusPending, s.Status)
	assert.False(t, s.Status.IsTerminal())

	_, err := NewSubmission(42, "intro", 1, ContentRef{}, now)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestSubmission_ReviewedOnce(t *testing.T) {
	s := newPending(t)
	due := now.Add(24 * time.Hour)

	require.NoError(t, s.Approve(7, &due, now))
	assert.Equal(t, StatusApproved, s.Status)
	assert.Equal(t, int64(7), s.ReviewerID)
	assert.Equal(t, &due, s.NextLessonDueAt)

	assert.ErrorIs(t, s.Decline(7, "late", now), ErrAlreadyReviewed)
	assert.ErrorIs(t, s.Approve(7, nil, now), ErrAlreadyReviewed)
	assert.Equal(t, StatusApproved, s.Status)
}

func TestSubmission_Decline(t *testing.T) {
	s := newPending(t)

	require.NoError(t, s.Decline(7, "нет решения задачи 2", now))
	assert.Equal(t, StatusDeclined, s.Status)
	assert.Equal(t, "нет решения задачи 2", s.ReviewComment)
	assert.Nil(t, s.NextLessonDueAt)
	assert.True(t, s.Status.IsTerminal())
}

func TestDecision_TypedVariants(t *testing.T) {
	id := uuid.New()
	decisions := []Decision{Approve{ID: id}, Reject{ID: id, Reason: "x"}}

	for _, d := range decisions {
		assert.Equal(t, id, d.Submission())
	}

	_, isReject := decisions[1].(Reject)
	assert.True(t, isReject)
}
