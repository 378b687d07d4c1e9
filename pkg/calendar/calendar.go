// Package calendar does civil-date arithmetic on year/month/day components.
//
// Every date produced here is a time.Time at 00:00 UTC. Day differences are
// computed from the date components, not from elapsed nanoseconds, so results
// do not shift when a local zone crosses a daylight-saving boundary.
package calendar

import (
	"fmt"
	"time"
)

// Layout is the wire format for civil dates.
const Layout = "2006-01-02"

// Date returns the civil date of t in t's own location, as UTC midnight.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateIn returns the civil date of t as observed in loc.
func DateIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc))
}

// AddDays adds n calendar days to the civil date of d.
func AddDays(d time.Time, n int) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day+n, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from a to b (b - a).
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return daysFromCivil(by, int(bm), bd) - daysFromCivil(ay, int(am), ad)
}

// At returns the wall-clock time hour:minute on the civil date d in loc.
func At(d time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, day := d.Date()
	return time.Date(y, m, day, hour, minute, 0, 0, loc)
}

// DayBounds returns [start, end) of the local day containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return start, end
}

// Parse reads a YYYY-MM-DD civil date.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// daysFromCivil maps a proleptic Gregorian date to a day count relative to
// 1970-01-01.
func daysFromCivil(y, m, d int) int {
	if m <= 2 {
		y--
	}
	era := y / 400
	if y < 0 && y%400 != 0 {
		era = (y - 399) / 400
	}
	yoe := y - era*400
	mp := (m + 9) % 12
	doy := (153*mp+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}
