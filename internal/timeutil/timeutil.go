// Package timeutil handles the time grammar used by stream and collection
// descriptors: compact ISO-8601-like intervals (PT6H, PT30M, PT10S, P1D),
// absolute timestamps of the form YYYY-MM-DD-HH:MM:SS, calendar kinds, and
// the timestamp component of output filenames.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Calendar identifies the calendar a stream's time axis is expressed in.
type Calendar int

const (
	// CalendarStandard is the proleptic Gregorian calendar
	CalendarStandard Calendar = iota
	// CalendarNoLeap is a 365-day calendar with no February 29th
	CalendarNoLeap
)

// ParseCalendar parses a calendar kind from its descriptor spelling.
func ParseCalendar(s string) (Calendar, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "gregorian":
		return CalendarStandard, nil
	case "noleap", "365_day":
		return CalendarNoLeap, nil
	default:
		return CalendarStandard, fmt.Errorf("unknown calendar kind %q", s)
	}
}

// String returns the descriptor spelling of the calendar.
func (c Calendar) String() string {
	if c == CalendarNoLeap {
		return "noleap"
	}
	return "standard"
}

// ParseInterval parses a compact ISO-8601-like interval string (PT6H,
// PT30M, PT10S, P1D). Hyphens and spaces inside the string are tolerated,
// as is lowercase input.
func ParseInterval(s string) (time.Duration, error) {
	cleaned := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(s))
	if cleaned == "" {
		return 0, fmt.Errorf("empty interval string")
	}
	if !strings.HasPrefix(cleaned, "P") {
		return 0, fmt.Errorf("interval %q must start with P", s)
	}
	body := cleaned[1:]

	var unit time.Duration
	switch {
	case strings.HasPrefix(body, "T"):
		body = body[1:]
		if len(body) < 2 {
			return 0, fmt.Errorf("malformed interval %q", s)
		}
		switch body[len(body)-1] {
		case 'H':
			unit = time.Hour
		case 'M':
			unit = time.Minute
		case 'S':
			unit = time.Second
		default:
			return 0, fmt.Errorf("interval %q has unknown time unit %q", s, body[len(body)-1])
		}
	case strings.HasSuffix(body, "D"):
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("interval %q has unknown unit", s)
	}

	n, err := strconv.Atoi(body[:len(body)-1])
	if err != nil {
		return 0, fmt.Errorf("interval %q has non-numeric count: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("interval %q must be positive", s)
	}
	return time.Duration(n) * unit, nil
}

// FormatInterval renders d in the compact grammar, choosing the largest
// unit that divides it evenly.
func FormatInterval(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("P%dD", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("PT%dH", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("PT%dM", d/time.Minute)
	default:
		return fmt.Sprintf("PT%dS", d/time.Second)
	}
}

// ParseTimestamp parses an absolute timestamp of the form
// YYYY-MM-DD-HH:MM:SS. The separator between date and time may be a
// hyphen, a space, or a T.
func ParseTimestamp(s string) (time.Time, error) {
	cleaned := strings.TrimSpace(s)
	if len(cleaned) >= 11 {
		// normalize the date/time separator so a single layout suffices
		b := []byte(cleaned)
		if b[10] == ' ' || b[10] == 'T' {
			b[10] = '-'
		}
		cleaned = string(b)
	}
	t, err := time.Parse("2006-01-02-15:04:05", cleaned)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FormatTimestamp renders t in the descriptor timestamp grammar.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02-15:04:05")
}

// Stamp renders the YYYYMMDD_HHMMSS filename component for t.
func Stamp(t time.Time) string {
	return t.UTC().Format("20060102_150405")
}

// FloorToGrid returns the largest time on the sampling grid defined by
// origin and freq that does not exceed t. For t before origin the origin
// itself is returned.
func FloorToGrid(t, origin time.Time, freq time.Duration) time.Time {
	if !t.After(origin) {
		return origin
	}
	n := t.Sub(origin) / freq
	return origin.Add(n * freq)
}

// Clamp restricts t to the inclusive range [lo, hi].
func Clamp(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}

// ProjectToYear maps t onto the same month/day/time-of-day in the given
// year. Under the noleap calendar February 29th maps to February 28th;
// under the standard calendar a Feb 29 source date projected onto a
// non-leap year likewise falls back to Feb 28.
func ProjectToYear(t time.Time, year int, cal Calendar) time.Time {
	t = t.UTC()
	month, day := t.Month(), t.Day()
	if month == time.February && day == 29 {
		if cal == CalendarNoLeap || !isLeapYear(year) {
			day = 28
		}
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func isLeapYear(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// HoursSince returns the offset of t from epoch in hours, the unit the
// slab file time coordinate is stored in.
func HoursSince(t, epoch time.Time) float64 {
	return t.Sub(epoch).Hours()
}

// FromHours inverts HoursSince.
func FromHours(h float64, epoch time.Time) time.Time {
	return epoch.Add(time.Duration(h * float64(time.Hour))).UTC()
}
