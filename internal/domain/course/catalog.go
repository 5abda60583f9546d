// Package course models the course catalog and lesson content.
package course

import (
	"context"
	"strings"

	"github.com/antbot/course-bot/internal/domain/shared"
)

// DefaultTierID is used when a catalog entry omits the tier id.
const DefaultTierID = "basic"

// ErrInvalidCode is returned when no active tier matches an activation code.
var ErrInvalidCode = shared.NewDomainError("course", "Activate", shared.ErrInvalidInput, "invalid activation code")

// Tier is a pricing variant of a course, unlocked by its own code.
type Tier struct {
	ID       string
	Name     string
	Code     string
	CodeHash string
	Active   bool
}

// Course is a catalog entry.
type Course struct {
	ID    string
	Name  string
	Tiers []Tier
}

// Tier returns the tier with the given id.
func (c Course) Tier(id string) (Tier, bool) {
	for _, t := range c.Tiers {
		if t.ID == id {
			return t, true
		}
	}
	return Tier{}, false
}

// Activation is the result of resolving a code.
type Activation struct {
	CourseID   string
	CourseName string
	TierID     string
	TierName   string
}

// Catalog resolves activation codes and course metadata.
type Catalog interface {
	// Resolve finds the course tier bound to code. Returns ErrInvalidCode.
	Resolve(ctx context.Context, code string) (Activation, error)

	// Course returns the catalog entry. Returns ErrCourseNotFound.
	Course(ctx context.Context, id string) (Course, error)
}

// NormalizeCode trims and lower-cases an activation code.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
