package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(y int, m time.Month, d, hour, min int) time.Time {
	return time.Date(y, m, d, hour, min, 0, 0, time.UTC)
}

func TestIntervalSchedule_Next(t *testing.T) {
	s := NewIntervalSchedule(45 * time.Minute)

	now := at(2026, 3, 2, 10, 0)
	assert.Equal(t, now.Add(45*time.Minute), s.Next(now))
	assert.Equal(t, "@every 45m0s", s.String())
}

func TestDailySchedule_Next(t *testing.T) {
	s := DailyAt(6, 0)

	// Before today's slot: fires today.
	assert.Equal(t, at(2026, 3, 2, 6, 0), s.Next(at(2026, 3, 2, 5, 30)))
	// After today's slot: fires tomorrow.
	assert.Equal(t, at(2026, 3, 3, 6, 0), s.Next(at(2026, 3, 2, 7, 0)))
	// Exactly on the slot: fires tomorrow, never "now".
	assert.Equal(t, at(2026, 3, 3, 6, 0), s.Next(at(2026, 3, 2, 6, 0)))
}

func TestWeeklySchedule_Next(t *testing.T) {
	s := WeeklyAt(time.Sunday, 22, 0)

	// 2026-03-02 is a Monday; next Sunday is 2026-03-08.
	assert.Equal(t, at(2026, 3, 8, 22, 0), s.Next(at(2026, 3, 2, 10, 0)))

	sameDay := WeeklyAt(time.Monday, 22, 0)
	// Still later the same weekday.
	assert.Equal(t, at(2026, 3, 2, 22, 0), sameDay.Next(at(2026, 3, 2, 10, 0)))
	// Slot already passed: a full week out.
	assert.Equal(t, at(2026, 3, 9, 22, 0), sameDay.Next(at(2026, 3, 2, 23, 0)))
}

func TestMonthlySchedule_Next(t *testing.T) {
	s := MonthlyAt(1, 2, 0)

	assert.Equal(t, at(2026, 4, 1, 2, 0), s.Next(at(2026, 3, 2, 10, 0)))
	assert.Equal(t, at(2026, 3, 1, 2, 0), s.Next(at(2026, 2, 10, 0, 0)))
	// Year rollover.
	assert.Equal(t, at(2027, 1, 1, 2, 0), s.Next(at(2026, 12, 15, 0, 0)))
}

func TestMonthlySchedule_SkipsShortMonths(t *testing.T) {
	s := MonthlyAt(31, 0, 0)

	// February has no 31st; the next occurrence is March 31st.
	assert.Equal(t, at(2026, 3, 31, 0, 0), s.Next(at(2026, 2, 10, 0, 0)))
	// From late January the February slot does not exist either.
	assert.Equal(t, at(2026, 3, 31, 0, 0), s.Next(at(2026, 1, 31, 12, 0)))
	// April has 30 days: May 31st follows March 31st.
	assert.Equal(t, at(2026, 5, 31, 0, 0), s.Next(at(2026, 3, 31, 0, 0)))
}
