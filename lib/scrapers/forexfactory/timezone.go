package forexfactory

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ClockOffsetMode selects how the page's header clock influences the zone
// stamped on parsed event times.
//
// The page displays a live clock in an unknown but fixed zone; comparing it
// to system time approximates the page's offset from us. The reference
// implementation computed that offset and then discarded it, always using
// the system zone. Both behaviors are kept here because it is unclear which
// was intended: ClockOffsetSystem reproduces the reference (computed offset
// is logged, system zone wins), ClockOffsetDerived actually applies it.
type ClockOffsetMode int

const (
	ClockOffsetSystem ClockOffsetMode = iota
	ClockOffsetDerived
)

func (m ClockOffsetMode) String() string {
	if m == ClockOffsetDerived {
		return "derived"
	}
	return "system"
}

func ParseClockOffsetMode(s string) (ClockOffsetMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "system":
		return ClockOffsetSystem, nil
	case "derived":
		return ClockOffsetDerived, nil
	}
	return ClockOffsetSystem, fmt.Errorf("unknown clock-offset mode %q (want system or derived)", s)
}

// DeriveClockOffset estimates the page zone's offset relative to the system
// zone from the header clock text. The clock is parsed with the same
// 12-hour rules as event times, applied to today's date, and the signed
// difference against now is rounded to the nearest 30 minutes. A magnitude
// beyond 12 hours is a day-boundary artifact and collapses to zero.
func DeriveClockOffset(headerClock string, now time.Time) time.Duration {
	if strings.TrimSpace(headerClock) == "" {
		return 0
	}

	tod := ResolveTime(headerClock)
	pageNow := tod.At(now, now.Location())

	diff := pageNow.Sub(now).Round(30 * time.Minute)
	if diff > 12*time.Hour || diff < -12*time.Hour {
		return 0
	}
	return diff
}

// location resolves the zone used for stamping event instants under this
// mode. The derived offset is always computed and logged so the discrepancy
// between the two modes stays visible.
func (m ClockOffsetMode) location(headerClock string, now time.Time) *time.Location {
	offset := DeriveClockOffset(headerClock, now)
	slog.Debug("page clock offset",
		"clock", headerClock,
		"derived_offset", offset.String(),
		"mode", m.String(),
	)

	if m == ClockOffsetDerived && offset != 0 {
		_, sysOffset := now.Zone()
		total := sysOffset + int(offset.Seconds())
		return time.FixedZone("page", total)
	}
	return now.Location()
}
