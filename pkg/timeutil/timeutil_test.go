package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_Bounds(t *testing.T) {
	w := NewWindow(Date(2026, 3, 1), 90)

	assert.Equal(t, Date(2025, 12, 1), w.Start)
	assert.Equal(t, Date(2026, 3, 1), w.End)
	assert.Equal(t, 90, w.Days())

	// Inclusive on both ends.
	assert.True(t, w.Contains(Date(2025, 12, 1)))
	assert.True(t, w.Contains(Date(2026, 3, 1)))
	assert.False(t, w.Contains(Date(2025, 11, 30)))
	assert.False(t, w.Contains(Date(2026, 3, 2)))
}

func TestWindow_Halves(t *testing.T) {
	w := NewWindow(Date(2026, 1, 31), 30)
	first, second := w.Halves()

	assert.Equal(t, w.Start, first.Start)
	assert.Equal(t, first.End, second.Start)
	assert.Equal(t, w.End, second.End)
	assert.Equal(t, 15, first.Days())
	assert.Equal(t, 15, second.Days())
}

func TestWindow_Thirds(t *testing.T) {
	w := NewWindow(Date(2026, 3, 1), 90)
	thirds := w.Thirds()

	assert.Equal(t, w.Start, thirds[0].Start)
	assert.Equal(t, thirds[0].End, thirds[1].Start)
	assert.Equal(t, thirds[1].End, thirds[2].Start)
	assert.Equal(t, w.End, thirds[2].End)
	assert.Equal(t, 30, thirds[0].Days())
}

func TestWindow_CountWeekday(t *testing.T) {
	// 2025-12-01 is a Monday and 2026-03-01 a Sunday.
	w := NewWindow(Date(2026, 3, 1), 90)
	assert.Equal(t, 13, w.CountWeekday(time.Monday))
	assert.Equal(t, 13, w.CountWeekday(time.Sunday))
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 5, DaysBetween(Date(2026, 3, 1), Date(2026, 3, 6)))
	assert.Equal(t, 5, DaysBetween(Date(2026, 3, 6), Date(2026, 3, 1)))
	assert.Equal(t, 0, DaysBetween(Date(2026, 3, 1), Date(2026, 3, 1)))
}

func TestAcademicYearOf(t *testing.T) {
	assert.Equal(t, "2025-2026", AcademicYearOf(Date(2025, 9, 1)))
	assert.Equal(t, "2025-2026", AcademicYearOf(Date(2026, 3, 15)))
	assert.Equal(t, "2025-2026", AcademicYearOf(Date(2026, 8, 31)))
	assert.Equal(t, "2026-2027", AcademicYearOf(Date(2026, 9, 1)))
}

func TestAcademicYearBounds(t *testing.T) {
	start, end, err := AcademicYearBounds("2025-2026")
	require.NoError(t, err)
	assert.Equal(t, Date(2025, 9, 1), start)
	assert.Equal(t, Date(2026, 9, 1), end)

	_, _, err = AcademicYearBounds("2025-2027")
	assert.Error(t, err)
	_, _, err = AcademicYearBounds("n'importe quoi")
	assert.Error(t, err)
}

func TestAcademicYearNeighbours(t *testing.T) {
	prev, err := PreviousAcademicYear("2025-2026")
	require.NoError(t, err)
	assert.Equal(t, "2024-2025", prev)

	next, err := NextAcademicYear("2025-2026")
	require.NoError(t, err)
	assert.Equal(t, "2026-2027", next)
}

func TestParseAndFormat(t *testing.T) {
	d, err := ParseDate("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, Date(2026, 3, 1), d)
	assert.Equal(t, "2026-03-01", FormatDateStr(d))
	assert.Equal(t, "01/03/2026", FormatFrench(d))
	assert.Equal(t, "dimanche", WeekdayNameFr(d))
}
