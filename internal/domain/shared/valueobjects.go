package shared

import (
	"regexp"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Course ids double as directory names under the content root.
var courseIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// IsValidCourseID reports whether id is a usable course identifier.
func IsValidCourseID(id string) bool {
	return courseIDRegex.MatchString(id)
}

// IsValidUserID reports whether id is a plausible Telegram user id.
func IsValidUserID(id int64) bool {
	return id > 0
}

// IsValidLesson reports whether n is a lesson number. Lessons start at 1.
func IsValidLesson(n int) bool {
	return n >= 1
}
