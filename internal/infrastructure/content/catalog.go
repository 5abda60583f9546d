package content

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG FILE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

// The catalog is a map of course id to course entry. JSON files parse as
// YAML, so courses.json and courses.yaml share one loader:
//
//	intro:
//	  name: Intro course
//	  is_active: true
//	  tiers:
//	    basic: {name: Basic, code: START-42, is_active: true}
//	    vip:   {name: VIP, code_hash: "$2a$10$...", is_active: true}
type fileCourse struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Active      *bool               `yaml:"is_active"`
	Code        string              `yaml:"code"`
	CodeHash    string              `yaml:"code_hash"`
	Tiers       map[string]fileTier `yaml:"tiers"`
}

type fileTier struct {
	Name     string `yaml:"name"`
	Code     string `yaml:"code"`
	CodeHash string `yaml:"code_hash"`
	Active   *bool  `yaml:"is_active"`
	Includes string `yaml:"includes"`
}

func isActive(flag *bool) bool {
	return flag == nil || *flag
}

// ══════════════════════════════════════════════════════════════════════════════
// FILE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// FileCatalog is a course.Catalog loaded once from a YAML or JSON file.
type FileCatalog struct {
	courses map[string]course.Course
	order   []string
}

// LoadCatalog reads and validates the catalog at path.
func LoadCatalog(path string) (*FileCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog builds a catalog from YAML or JSON bytes.
func ParseCatalog(data []byte) (*FileCatalog, error) {
	var raw map[string]fileCourse
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	cat := &FileCatalog{courses: make(map[string]course.Course, len(raw))}
	for id, fc := range raw {
		if !shared.IsValidCourseID(id) {
			return nil, fmt.Errorf("catalog: invalid course id %q", id)
		}

		c := course.Course{ID: id, Name: fc.Name}
		if c.Name == "" {
			c.Name = id
		}
		courseActive := isActive(fc.Active)

		if len(fc.Tiers) == 0 {
			// A course without tiers carries its code itself.
			fc.Tiers = map[string]fileTier{
				course.DefaultTierID: {Code: fc.Code, CodeHash: fc.CodeHash},
			}
		}

		for tierID, ft := range fc.Tiers {
			if tierID == "" {
				tierID = course.DefaultTierID
			}
			if ft.Code == "" && ft.CodeHash == "" {
				return nil, fmt.Errorf("catalog: course %q tier %q has no code", id, tierID)
			}
			name := ft.Name
			if name == "" {
				name = tierID
			}
			c.Tiers = append(c.Tiers, course.Tier{
				ID:       tierID,
				Name:     name,
				Code:     course.NormalizeCode(ft.Code),
				CodeHash: ft.CodeHash,
				Active:   courseActive && isActive(ft.Active),
			})
		}
		sort.Slice(c.Tiers, func(i, j int) bool { return c.Tiers[i].ID < c.Tiers[j].ID })

		cat.courses[id] = c
		cat.order = append(cat.order, id)
	}
	sort.Strings(cat.order)

	return cat, nil
}

// Resolve implements course.Catalog. Courses are scanned in id order;
// inactive tiers never match.
func (c *FileCatalog) Resolve(_ context.Context, code string) (course.Activation, error) {
	normalized := course.NormalizeCode(code)
	if normalized == "" {
		return course.Activation{}, course.ErrInvalidCode
	}

	for _, id := range c.order {
		entry := c.courses[id]
		for _, t := range entry.Tiers {
			if !t.Active || !matches(t, normalized) {
				continue
			}
			return course.Activation{
				CourseID:   entry.ID,
				CourseName: entry.Name,
				TierID:     t.ID,
				TierName:   t.Name,
			}, nil
		}
	}
	return course.Activation{}, course.ErrInvalidCode
}

// Course implements course.Catalog.
func (c *FileCatalog) Course(_ context.Context, id string) (course.Course, error) {
	entry, ok := c.courses[id]
	if !ok {
		return course.Course{}, course.ErrCourseNotFound
	}
	return entry, nil
}

// IDs returns the known course ids, sorted.
func (c *FileCatalog) IDs() []string {
	return append([]string(nil), c.order...)
}

func matches(t course.Tier, normalized string) bool {
	if t.CodeHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(t.CodeHash), []byte(normalized)) == nil
	}
	return t.Code != "" && t.Code == normalized
}

// HashCode returns the bcrypt hash to store as code_hash for code.
func HashCode(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(course.NormalizeCode(code)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Describe renders a short one-line summary of a course for logs.
func Describe(c course.Course) string {
	ids := make([]string, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		ids = append(ids, t.ID)
	}
	return c.ID + " [" + strings.Join(ids, ",") + "]"
}
