// Package timeutil provides date helpers for the risk analytics pipeline:
// analysis windows, academic years and school-calendar arithmetic.
// All school-facing times use Europe/Paris.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// ParisTZ is the school timezone. A fixed zone is used as fallback so the
// package works on systems without tzdata; callers that need DST-correct
// conversions should load Europe/Paris through config.
var ParisTZ = loadParis()

func loadParis() *time.Location {
	if loc, err := time.LoadLocation("Europe/Paris"); err == nil {
		return loc
	}
	return time.FixedZone("Europe/Paris", 1*60*60)
}

// Now returns the current time in the school timezone.
func Now() time.Time {
	return time.Now().In(ParisTZ)
}

// ToParis converts a time to the school timezone.
func ToParis(t time.Time) time.Time {
	return t.In(ParisTZ)
}

// Date builds a date at midnight in the school timezone.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, ParisTZ)
}

// StartOfDay returns midnight of the given day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last nanosecond of the given day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// IsSameDay reports whether two times fall on the same calendar day.
func IsSameDay(t1, t2 time.Time) bool {
	y1, m1, d1 := t1.Date()
	y2, m2, d2 := t2.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// DaysBetween returns the number of whole days between two dates.
// The result is non-negative regardless of argument order.
func DaysBetween(t1, t2 time.Time) int {
	d1 := StartOfDay(t1)
	d2 := StartOfDay(t2)
	diff := d2.Sub(d1)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// DaysSince returns the number of whole days elapsed since t.
func DaysSince(t time.Time) int {
	return int(time.Since(t).Hours() / 24)
}

// ═════════════════════════════════════════════════════════════════════════════
// ANALYSIS WINDOWS
// ═════════════════════════════════════════════════════════════════════════════

// Window is a closed date interval used for feature extraction.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds the window [end - days, end].
func NewWindow(end time.Time, days int) Window {
	return Window{Start: end.AddDate(0, 0, -days), End: end}
}

// Days returns the window length in whole days.
func (w Window) Days() int {
	return DaysBetween(w.Start, w.End)
}

// Contains reports whether t falls inside the window (inclusive).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Halves splits the window into two equal halves.
func (w Window) Halves() (Window, Window) {
	mid := w.Start.Add(w.End.Sub(w.Start) / 2)
	return Window{Start: w.Start, End: mid}, Window{Start: mid, End: w.End}
}

// Thirds splits the window into three equal periods.
func (w Window) Thirds() [3]Window {
	step := w.End.Sub(w.Start) / 3
	return [3]Window{
		{Start: w.Start, End: w.Start.Add(step)},
		{Start: w.Start.Add(step), End: w.Start.Add(2 * step)},
		{Start: w.Start.Add(2 * step), End: w.End},
	}
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return fmt.Sprintf("[%s .. %s]", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

// CountWeekday returns the number of occurrences of the given weekday
// within the window, counting calendar days inclusively.
func (w Window) CountWeekday(day time.Weekday) int {
	count := 0
	for d := StartOfDay(w.Start); !d.After(w.End); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == day {
			count++
		}
	}
	return count
}

// ═════════════════════════════════════════════════════════════════════════════
// ACADEMIC YEARS
// ═════════════════════════════════════════════════════════════════════════════

// The French school year runs September through August.
const academicYearStartMonth = time.September

// AcademicYearOf returns the academic year label ("2024-2025") containing t.
func AcademicYearOf(t time.Time) string {
	t = ToParis(t)
	start := t.Year()
	if t.Month() < academicYearStartMonth {
		start--
	}
	return fmt.Sprintf("%d-%d", start, start+1)
}

// AcademicYearBounds returns the [start, end) bounds of an academic year label.
// An error is returned when the label is not of the form "YYYY-YYYY".
func AcademicYearBounds(label string) (time.Time, time.Time, error) {
	var from, to int
	if _, err := fmt.Sscanf(label, "%d-%d", &from, &to); err != nil || to != from+1 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid academic year %q", label)
	}
	start := time.Date(from, academicYearStartMonth, 1, 0, 0, 0, 0, ParisTZ)
	return start, start.AddDate(1, 0, 0), nil
}

// PreviousAcademicYear returns the label of the year before the given one.
func PreviousAcademicYear(label string) (string, error) {
	var from, to int
	if _, err := fmt.Sscanf(label, "%d-%d", &from, &to); err != nil || to != from+1 {
		return "", fmt.Errorf("invalid academic year %q", label)
	}
	return fmt.Sprintf("%d-%d", from-1, from), nil
}

// NextAcademicYear returns the label of the year after the given one.
func NextAcademicYear(label string) (string, error) {
	var from, to int
	if _, err := fmt.Sscanf(label, "%d-%d", &from, &to); err != nil || to != from+1 {
		return "", fmt.Errorf("invalid academic year %q", label)
	}
	return fmt.Sprintf("%d-%d", from+1, from+2), nil
}

// ═════════════════════════════════════════════════════════════════════════════
// FORMATTING
// ═════════════════════════════════════════════════════════════════════════════

// Common layout constants.
const (
	LayoutDate     = "2006-01-02"
	LayoutDateTime = "2006-01-02 15:04:05"
	LayoutFrench   = "02/01/2006"
)

// FormatDateStr formats a date as YYYY-MM-DD in the school timezone.
func FormatDateStr(t time.Time) string {
	return ToParis(t).Format(LayoutDate)
}

// FormatFrench formats a date as DD/MM/YYYY in the school timezone.
func FormatFrench(t time.Time) string {
	return ToParis(t).Format(LayoutFrench)
}

// ParseDate parses a YYYY-MM-DD date in the school timezone.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(LayoutDate, value, ParisTZ)
}

// WeekdayNameFr returns the French name of the weekday.
func WeekdayNameFr(t time.Time) string {
	switch t.Weekday() {
	case time.Monday:
		return "lundi"
	case time.Tuesday:
		return "mardi"
	case time.Wednesday:
		return "mercredi"
	case time.Thursday:
		return "jeudi"
	case time.Friday:
		return "vendredi"
	case time.Saturday:
		return "samedi"
	default:
		return "dimanche"
	}
}
