package course

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

// delayDirective matches "_<digits><unit>." in a content file name,
// e.g. intro_15min.txt or theory_2hour.pdf.
var delayDirective = regexp.MustCompile(`_(\d+)(min|hour)\.`)

// ParseDelay extracts the delivery delay encoded in a file name.
// The first directive wins. Names without a directive, and directives
// whose value does not fit a time.Duration, yield 0.
func ParseDelay(name string) time.Duration {
	m := delayDirective.FindStringSubmatch(name)
	if m == nil {
		return 0
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}

	unit := time.Minute
	if m[2] == "hour" {
		unit = time.Hour
	}

	if n > math.MaxInt64/int64(unit) {
		return 0
	}
	return time.Duration(n) * unit
}

// DelayPolicy maps parsed delays to the delays actually used for scheduling.
// In test mode every non-zero file delay collapses to TestFileDelay and the
// gap between lessons becomes TestLessonDelay.
type DelayPolicy struct {
	TestMode        bool
	TestFileDelay   time.Duration
	TestLessonDelay time.Duration
	LessonDelay     time.Duration
}

// DefaultDelayPolicy returns the production policy.
func DefaultDelayPolicy() DelayPolicy {
	return DelayPolicy{
		TestFileDelay:   10 * time.Second,
		TestLessonDelay: 5 * time.Minute,
		LessonDelay:     24 * time.Hour,
	}
}

// FileDelay returns the scheduling delay for a parsed file delay.
func (p DelayPolicy) FileDelay(parsed time.Duration) time.Duration {
	if parsed <= 0 {
		return 0
	}
	if p.TestMode {
		return p.TestFileDelay
	}
	return parsed
}

// NextLessonDelay returns the gap between an approval and the next lesson.
func (p DelayPolicy) NextLessonDelay() time.Duration {
	if p.TestMode {
		return p.TestLessonDelay
	}
	return p.LessonDelay
}
