// Package content serves lesson material from disk and loads the course
// catalog.
package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/antbot/course-bot/internal/domain/course"
)

// maxTextSize bounds the read; a UTF-8 character takes at most 4 bytes.
const maxTextSize = course.MaxTextLength * utf8.UTFMax

// Filesystem implements course.ContentRepository over
// <root>/<course_id>/lesson<N>/.
type Filesystem struct {
	root string
}

// NewFilesystem creates a repository rooted at dir.
func NewFilesystem(dir string) *Filesystem {
	return &Filesystem{root: dir}
}

// LessonDir returns the directory of a lesson.
func (f *Filesystem) LessonDir(courseID string, lesson int) string {
	return filepath.Join(f.root, courseID, "lesson"+strconv.Itoa(lesson))
}

// ListLessonContent implements course.ContentRepository.
// Hidden files and subdirectories are skipped.
func (f *Filesystem) ListLessonContent(ctx context.Context, courseID string, lesson int) ([]course.ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := f.LessonDir(courseID, lesson)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, course.ErrLessonNotFound
		}
		return nil, fmt.Errorf("content: read %s: %w", dir, err)
	}

	items := make([]course.ContentItem, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		items = append(items, course.NewContentItem(name, filepath.Join(dir, name)))
	}
	if len(items) == 0 {
		return nil, course.ErrLessonNotFound
	}

	course.SortItems(items)
	return items, nil
}

// ReadText implements course.ContentRepository.
func (f *Filesystem) ReadText(ctx context.Context, item course.ContentItem) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(item.Path)
	if err != nil {
		return "", fmt.Errorf("content: stat %s: %w", item.Name, err)
	}
	if info.Size() > maxTextSize {
		return "", fmt.Errorf("content: %s is %d bytes: %w", item.Name, info.Size(), course.ErrTextTooLong)
	}

	body, err := os.ReadFile(item.Path)
	if err != nil {
		return "", fmt.Errorf("content: read %s: %w", item.Name, err)
	}
	text := strings.TrimSpace(string(body))
	if n := utf8.RuneCountInString(text); n > course.MaxTextLength {
		return "", fmt.Errorf("content: %s has %d characters, limit %d: %w", item.Name, n, course.MaxTextLength, course.ErrTextTooLong)
	}
	return text, nil
}
