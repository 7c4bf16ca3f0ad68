/*
window.go - "Today" as seen from the acting user's timezone

PURPOSE:
  Every aggregation is scoped to the business day of the person (or
  station) ringing up the ticket. Orders are stored in UTC, so the window
  is computed in the resolved zone and carried around in UTC.

RULES:
  - The zone comes from the user's profile, then the point of sale, then
    UTC. An empty or unknown zone name degrades to UTC; resolving a
    window never fails.
  - Start is local midnight of "now". End is "now" itself, not end of
    day: decisions happen in real time as tickets arrive.
  - Membership is decided by local calendar date (Contains). An order at
    23:50 UTC is 00:50 the next day in UTC+1 and belongs to that next day.
*/
package routing

import (
	"time"
)

// =============================================================================
// TIMEZONE RESOLUTION
// =============================================================================

// ResolveLocation loads the named zone, falling back to UTC.
func ResolveLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// =============================================================================
// WINDOW
// =============================================================================

// Window is the [Start, End] instant range of one local business day,
// expressed in UTC.
type Window struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
}

// ResolveWindow computes today's window for the named zone at now.
func ResolveWindow(timezone string, now time.Time) Window {
	return WindowIn(ResolveLocation(timezone), now)
}

// WindowIn computes today's window in loc at now.
func WindowIn(loc *time.Location, now time.Time) Window {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Window{
		Start:    midnight.UTC(),
		End:      now.UTC(),
		Location: loc,
	}
}

// DayWindow returns the full window of a local calendar day, used for
// reports on past days.
func DayWindow(loc *time.Location, year int, month time.Month, day int) Window {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, day, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return Window{Start: start.UTC(), End: end.UTC(), Location: loc}
}

// Day returns the local calendar date of the window.
func (w Window) Day() string {
	return w.Start.In(w.location()).Format("2006-01-02")
}

// Contains reports whether t falls on the window's local calendar day and
// not after End.
func (w Window) Contains(t time.Time) bool {
	if t.After(w.End) {
		return false
	}
	loc := w.location()
	ty, tm, td := t.In(loc).Date()
	sy, sm, sd := w.Start.In(loc).Date()
	return ty == sy && tm == sm && td == sd
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}
