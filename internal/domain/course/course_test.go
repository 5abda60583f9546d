package course

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDelay(t *testing.T) {
	tests := []struct {
		name string
		file string
		want time.Duration
	}{
		{"minutes", "task_15min.txt", 15 * time.Minute},
		{"hours", "theory_2hour.txt", 2 * time.Hour},
		{"no directive", "intro.txt", 0},
		{"digits elsewhere", "lesson2_intro.txt", 0},
		{"missing period", "intro_15min", 0},
		{"unit is case sensitive", "task_15MIN.txt", 0},
		{"plural unit", "task_2hours.txt", 0},
		{"zero", "task_0min.txt", 0},
		{"first match wins", "a_5min_2hour.txt", 5 * time.Minute},
		{"double extension", "slides_3hour.tar.gz", 3 * time.Hour},
		{"media file", "video_30min.mp4", 30 * time.Minute},
		{"does not fit int64", "x_99999999999999999999hour.txt", 0},
		{"overflows duration", "x_9999999999hour.txt", 0},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDelay(tt.file))
		})
	}
}

func TestDelayPolicy(t *testing.T) {
	prod := DefaultDelayPolicy()
	assert.Equal(t, time.Duration(0), prod.FileDelay(0))
	assert.Equal(t, 15*time.Minute, prod.FileDelay(15*time.Minute))
	assert.Equal(t, 24*time.Hour, prod.NextLessonDelay())

	test := prod
	test.TestMode = true
	assert.Equal(t, time.Duration(0), test.FileDelay(0))
	assert.Equal(t, 10*time.Second, test.FileDelay(15*time.Minute))
	assert.Equal(t, 10*time.Second, test.FileDelay(2*time.Hour))
	assert.Equal(t, 5*time.Minute, test.NextLessonDelay())
}

func TestKindFromName(t *testing.T) {
	assert.Equal(t, KindText, KindFromName("intro.txt"))
	assert.Equal(t, KindText, KindFromName("README.MD"))
	assert.Equal(t, KindPhoto, KindFromName("scheme_5min.PNG"))
	assert.Equal(t, KindVideo, KindFromName("talk.mov"))
	assert.Equal(t, KindDocument, KindFromName("workbook.pdf"))
	assert.Equal(t, KindDocument, KindFromName("noext"))
}

func TestSortItems(t *testing.T) {
	items := []ContentItem{
		NewContentItem("theory_2hour.txt", "/c/theory_2hour.txt"),
		NewContentItem("b.txt", "/c/b.txt"),
		NewContentItem("task_15min.pdf", "/c/task_15min.pdf"),
		NewContentItem("a.jpg", "/c/a.jpg"),
	}

	SortItems(items)

	var names []string
	for _, it := range items {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"a.jpg", "b.txt", "task_15min.pdf", "theory_2hour.txt"}, names)
	assert.Equal(t, KindDocument, items[2].Kind)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "start-2025", NormalizeCode("  START-2025\n"))
}

func TestCourseTier(t *testing.T) {
	c := Course{ID: "intro", Tiers: []Tier{{ID: "basic"}, {ID: "vip"}}}

	tier, ok := c.Tier("vip")
	assert.True(t, ok)
	assert.Equal(t, "vip", tier.ID)

	_, ok = c.Tier("gold")
	assert.False(t, ok)
}
