// Package timeutil provides the clock abstraction and Moscow time helpers
// used by the course bot. Every component that needs "now" takes a Clock so
// loops and workflows can be driven by a fake clock in tests.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// MoscowTZ is the timezone students see in bot messages.
var MoscowTZ = loadMoscow()

func loadMoscow() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		// Moscow has been UTC+3 without DST since 2014.
		return time.FixedZone("Europe/Moscow", 3*60*60)
	}
	return loc
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock and returns UTC.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FakeClock is a manually driven clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a fake clock frozen at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

// Now implements Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// FORMATTING
// ══════════════════════════════════════════════════════════════════════════════

// FormatRussianDateTime is the layout students see.
const FormatRussianDateTime = "02.01.2006 15:04"

// ToMoscow converts t to Moscow time.
func ToMoscow(t time.Time) time.Time {
	return t.In(MoscowTZ)
}

// FormatMoscow formats t as "DD.MM.YYYY HH:MM" in Moscow time.
func FormatMoscow(t time.Time) string {
	return ToMoscow(t).Format(FormatRussianDateTime)
}

// FormatDelay renders a delay the way it is shown to students: "24 ч",
// "1 ч 30 мин", "15 мин", "10 сек".
func FormatDelay(d time.Duration) string {
	if d <= 0 {
		return "сейчас"
	}

	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	seconds := int((d % time.Minute) / time.Second)

	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%d ч %d мин", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%d ч", hours)
	case minutes > 0:
		return fmt.Sprintf("%d мин", minutes)
	default:
		return fmt.Sprintf("%d сек", seconds)
	}
}

// FormatUntil returns a relative "через ..." string for a future moment.
func FormatUntil(now, t time.Time) string {
	d := t.Sub(now)
	if d < time.Minute {
		return "в течение минуты"
	}
	return "через " + FormatDelay(d.Truncate(time.Minute))
}

// DaysAgo returns the instant n days before now.
func DaysAgo(now time.Time, n int) time.Time {
	return now.Add(-time.Duration(n) * 24 * time.Hour)
}
