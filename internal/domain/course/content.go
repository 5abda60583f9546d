package course

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/antbot/course-bot/internal/domain/shared"
)

// ContentKind selects how a content item is sent.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindPhoto    ContentKind = "photo"
	KindVideo    ContentKind = "video"
	KindDocument ContentKind = "document"
)

// IsValid checks if the kind is known.
func (k ContentKind) IsValid() bool {
	switch k {
	case KindText, KindPhoto, KindVideo, KindDocument:
		return true
	}
	return false
}

// KindFromName derives the content kind from a file extension.
func KindFromName(name string) ContentKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return KindText
	case ".jpg", ".jpeg", ".png":
		return KindPhoto
	case ".mp4", ".avi", ".mov":
		return KindVideo
	default:
		return KindDocument
	}
}

// ContentItem is one deliverable file of a lesson.
type ContentItem struct {
	// Name is the file name, unique within a lesson.
	Name string

	// Path locates the file for the content repository.
	Path string

	Kind ContentKind

	// Delay is the parsed delay directive, before any policy is applied.
	Delay time.Duration
}

// NewContentItem builds an item from a file name and path.
func NewContentItem(name, path string) ContentItem {
	return ContentItem{
		Name:  name,
		Path:  path,
		Kind:  KindFromName(name),
		Delay: ParseDelay(name),
	}
}

// SortItems orders items by delay, then by name.
func SortItems(items []ContentItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Delay != items[j].Delay {
			return items[i].Delay < items[j].Delay
		}
		return items[i].Name < items[j].Name
	})
}

// ContentRepository gives access to lesson material.
type ContentRepository interface {
	// ListLessonContent returns the lesson's items sorted by delay ascending.
	// A lesson without content returns ErrLessonNotFound.
	ListLessonContent(ctx context.Context, courseID string, lesson int) ([]ContentItem, error)

	// ReadText returns the body of a text item.
	ReadText(ctx context.Context, item ContentItem) (string, error)
}

// Content errors.
// MaxTextLength is the Telegram limit for one text message, in characters.
const MaxTextLength = 4096

var (
	ErrTextTooLong    = shared.NewDomainError("course", "ReadText", shared.ErrValidation, "text item exceeds the Telegram message limit")
	ErrLessonNotFound = shared.NewDomainError("course", "ListLessonContent", shared.ErrNotFound, "lesson content not found")
	ErrCourseNotFound = shared.NewDomainError("course", "Find", shared.ErrNotFound, "course not found")
)
