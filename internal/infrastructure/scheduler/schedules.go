package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}

// DailySchedule runs once a day at a fixed local time.
type DailySchedule struct {
	Hour   int
	Minute int
}

// DailyAt creates a daily schedule at hour:minute in the scheduler timezone.
func DailyAt(hour, minute int) *DailySchedule {
	return &DailySchedule{Hour: hour, Minute: minute}
}

// Next returns the next occurrence after t.
func (s *DailySchedule) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, s.Minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// String returns the string representation of the schedule.
func (s *DailySchedule) String() string {
	return fmt.Sprintf("@daily %02d:%02d", s.Hour, s.Minute)
}

// WeeklySchedule runs once a week on a fixed weekday and local time.
type WeeklySchedule struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

// WeeklyAt creates a weekly schedule.
func WeeklyAt(day time.Weekday, hour, minute int) *WeeklySchedule {
	return &WeeklySchedule{Weekday: day, Hour: hour, Minute: minute}
}

// Next returns the next occurrence after t.
func (s *WeeklySchedule) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, s.Minute, 0, 0, t.Location())
	offset := (int(s.Weekday) - int(next.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, offset)
	if !next.After(t) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// String returns the string representation of the schedule.
func (s *WeeklySchedule) String() string {
	return fmt.Sprintf("@weekly %s %02d:%02d", s.Weekday, s.Hour, s.Minute)
}

// MonthlySchedule runs once a month on a fixed day of month and local time.
// Months shorter than Day are skipped.
type MonthlySchedule struct {
	Day    int
	Hour   int
	Minute int
}

// MonthlyAt creates a monthly schedule.
func MonthlyAt(day, hour, minute int) *MonthlySchedule {
	return &MonthlySchedule{Day: day, Hour: hour, Minute: minute}
}

// Next returns the next occurrence after t.
func (s *MonthlySchedule) Next(t time.Time) time.Time {
	year, month := t.Year(), t.Month()
	for {
		// time.Date normalizes both month overflow (year rollover) and
		// day overflow (Feb 31 becomes Mar 3); the latter marks a month
		// too short for Day, detected by the day check.
		next := time.Date(year, month, s.Day, s.Hour, s.Minute, 0, 0, t.Location())
		if next.After(t) && next.Day() == s.Day {
			return next
		}
		month++
	}
}

// String returns the string representation of the schedule.
func (s *MonthlySchedule) String() string {
	return fmt.Sprintf("@monthly day %d %02d:%02d", s.Day, s.Hour, s.Minute)
}
