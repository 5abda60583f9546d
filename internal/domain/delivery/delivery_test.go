package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antbot/course-bot/internal/domain/course"
)

func TestPlan(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	items := []course.ContentItem{
		course.NewContentItem("intro.txt", "/c/intro/lesson1/intro.txt"),
		course.NewContentItem("task_15min.pdf", "/c/intro/lesson1/task_15min.pdf"),
	}

	rows := Plan(42, "intro", 1, items, base, course.DefaultDelayPolicy(), base)
	require.Len(t, rows, 2)
	assert.Equal(t, base, rows[0].DueAt)
	assert.Equal(t, base.Add(15*time.Minute), rows[1].DueAt)
	assert.Equal(t, course.KindDocument, rows[1].Kind)
	assert.False(t, rows[1].Sent)

	policy := course.DefaultDelayPolicy()
	policy.TestMode = true
	rows = Plan(42, "intro", 1, items, base, policy, base)
	assert.Equal(t, base.Add(10*time.Second), rows[1].DueAt)
}

func TestIsDue(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, ScheduledDelivery{DueAt: now}.IsDue(now))
	assert.False(t, ScheduledDelivery{DueAt: now.Add(time.Second)}.IsDue(now))
	assert.False(t, ScheduledDelivery{DueAt: now, Sent: true}.IsDue(now))
}

func TestLessonStatus_Complete(t *testing.T) {
	assert.False(t, LessonStatus{}.Complete())
	assert.True(t, LessonStatus{Total: 2, Delivered: 2}.Complete())
	assert.False(t, LessonStatus{Total: 2, Delivered: 1, Failed: 1}.Complete())
	assert.False(t, LessonStatus{Total: 2, Delivered: 1, InFlight: 1}.Complete())
}
