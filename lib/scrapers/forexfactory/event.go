// Package forexfactory extracts economic-calendar events from the
// ForexFactory per-day calendar page and normalizes them into canonical
// records. Extraction runs in one of two modes over the same pipeline:
// structured element handles when the DOM access layer is healthy, or a
// single in-page script evaluation when it is not.
package forexfactory

import (
	"strings"
	"time"
)

// Impact is the canonical event-impact classification.
type Impact int

const (
	ImpactUnknown Impact = iota
	ImpactLow
	ImpactMedium
	ImpactHigh
	ImpactHoliday
)

// String returns the enum name used in the persisted store; UNKNOWN is the
// empty string there.
func (i Impact) String() string {
	switch i {
	case ImpactHigh:
		return "HIGH"
	case ImpactMedium:
		return "MEDIUM"
	case ImpactLow:
		return "LOW"
	case ImpactHoliday:
		return "HOLIDAY"
	}
	return ""
}

// ParseImpact is the inverse of String. Unrecognized names map to UNKNOWN.
func ParseImpact(s string) Impact {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return ImpactHigh
	case "MEDIUM":
		return ImpactMedium
	case "LOW":
		return ImpactLow
	case "HOLIDAY":
		return ImpactHoliday
	}
	return ImpactUnknown
}

// NormalizeImpact classifies the raw impact cell text. Case-insensitive
// substring match, first match wins. Total: anything unrecognized is UNKNOWN.
func NormalizeImpact(text string) Impact {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "high"):
		return ImpactHigh
	case strings.Contains(lower, "medium"):
		return ImpactMedium
	case strings.Contains(lower, "low"):
		return ImpactLow
	case strings.Contains(lower, "non-economic"), strings.Contains(lower, "holiday"):
		return ImpactHoliday
	}
	return ImpactUnknown
}

// CalendarEvent is one scheduled economic release. Event is never empty:
// rows without an event name are structural separators and are discarded
// before construction.
type CalendarEvent struct {
	Time     time.Time
	Currency string
	Impact   Impact
	Event    string
	Actual   string
	Forecast string
	Previous string
	Detail   string
}

// EventKey identifies one logical economic event across repeated scrapes:
// the event instant, trimmed currency code, and trimmed event name. Instants
// compare by Unix time so the same moment matches regardless of the zone it
// was stamped with (keys survive a change of clock-offset mode).
type EventKey struct {
	Unix     int64
	Currency string
	Event    string
}

func NewEventKey(t time.Time, currency, event string) EventKey {
	return EventKey{
		Unix:     t.Unix(),
		Currency: strings.TrimSpace(currency),
		Event:    strings.TrimSpace(event),
	}
}

// Key returns the event's uniqueness key for merge/dedup and detail-cache
// lookups.
func (e CalendarEvent) Key() EventKey {
	return NewEventKey(e.Time, e.Currency, e.Event)
}
