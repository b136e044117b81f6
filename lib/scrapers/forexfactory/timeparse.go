package forexfactory

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a resolved wall-clock time within one calendar day.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// At combines the time-of-day with a base date in the given zone.
func (t TimeOfDay) At(base time.Time, loc *time.Location) time.Time {
	return time.Date(base.Year(), base.Month(), base.Day(), t.Hour, t.Minute, t.Second, 0, loc)
}

var clockRegex = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)

// ResolveTime turns raw calendar time-cell text into a time-of-day. Total:
// any input resolves, unparsable text falls back to midnight. The sentinel
// values are page conventions:
//
//	"all day"  -> 00:00:00
//	"day"      -> 23:59:59 (day-level marker without a precise time)
//	"data"     -> 00:00:01 (real marker that carries no clock time)
func ResolveTime(text string) TimeOfDay {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "all day"):
		return TimeOfDay{}
	case strings.Contains(lower, "day"):
		return TimeOfDay{Hour: 23, Minute: 59, Second: 59}
	case strings.Contains(lower, "data"):
		return TimeOfDay{Second: 1}
	}

	m := clockRegex.FindStringSubmatch(lower)
	if m == nil {
		return TimeOfDay{}
	}

	// the regex only captures digit runs, so conversion cannot fail
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}

	if hour > 23 || minute > 59 {
		return TimeOfDay{}
	}
	return TimeOfDay{Hour: hour, Minute: minute}
}

// defaultTimeText is substituted when a day's first rows carry no usable
// time at all.
const defaultTimeText = "0:00am"

// timeCarryOver implements the page convention that an event row with no
// explicit time inherits the most recent preceding row's time within the
// same day. Empty cells and the "tentative" marker both inherit.
type timeCarryOver struct {
	last string
}

func (c *timeCarryOver) apply(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "tentative") {
		if c.last == "" {
			return defaultTimeText
		}
		return c.last
	}
	c.last = trimmed
	return trimmed
}
