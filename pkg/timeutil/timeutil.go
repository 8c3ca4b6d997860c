// Package timeutil provides timezone utilities for the school's local
// timezone. Schedule and exam data is date-keyed in school-local dates, so
// poll windows have to be computed in that zone, not in the host's.
// No external dependencies - uses only standard library.
package timeutil

import (
	"time"
)

// SchoolTZ is the timezone used for all date window calculations. The
// platform serves German schools; Europe/Berlin observes DST, so a fixed
// offset would drift twice a year. Falls back to a fixed CET offset when
// the zone database is unavailable.
var SchoolTZ = loadSchoolTZ()

func loadSchoolTZ() *time.Location {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		return time.FixedZone("CET", 1*60*60)
	}
	return loc
}

// Now returns the current time in the school timezone.
func Now() time.Time {
	return time.Now().In(SchoolTZ)
}

// ToSchool converts a time to the school timezone.
func ToSchool(t time.Time) time.Time {
	return t.In(SchoolTZ)
}

// Date creates a time in the school timezone with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, SchoolTZ)
}

// StartOfDay returns the start of the day (00:00:00) in the school timezone.
func StartOfDay(t time.Time) time.Time {
	local := ToSchool(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, SchoolTZ)
}

// EndOfDay returns the end of the day (23:59:59.999999999) in the school
// timezone.
func EndOfDay(t time.Time) time.Time {
	local := ToSchool(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 999999999, SchoolTZ)
}

// StartOfWeek returns the start of the school week (Monday 00:00:00).
func StartOfWeek(t time.Time) time.Time {
	local := ToSchool(t)
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return StartOfDay(local.AddDate(0, 0, -(weekday - 1)))
}

// EndOfWeek returns the end of the school week (Sunday 23:59:59).
func EndOfWeek(t time.Time) time.Time {
	return EndOfDay(StartOfWeek(t).AddDate(0, 0, 6))
}

// ScheduleWindow returns the date range a schedule poll covers: the Monday
// of the current week through the Sunday that closes the lookahead. With
// zero lookahead the window is exactly the current school week.
func ScheduleWindow(t time.Time, lookaheadWeeks int) (start, end time.Time) {
	if lookaheadWeeks < 0 {
		lookaheadWeeks = 0
	}
	start = StartOfWeek(t)
	end = EndOfWeek(start.AddDate(0, 0, 7*lookaheadWeeks))
	return start, end
}

// ExamWindow returns the date range an exam poll covers: one week back
// through the given number of weeks ahead. The trailing week keeps exams
// visible briefly after they happen.
func ExamWindow(t time.Time, aheadWeeks int) (start, end time.Time) {
	if aheadWeeks < 0 {
		aheadWeeks = 0
	}
	local := ToSchool(t)
	return StartOfDay(local.AddDate(0, 0, -7)), EndOfDay(local.AddDate(0, 0, 7*aheadWeeks))
}

// IsSameDay checks if two times are on the same day in the school timezone.
func IsSameDay(t1, t2 time.Time) bool {
	a, b := ToSchool(t1), ToSchool(t2)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// IsWeekend checks if the given time is on a weekend.
func IsWeekend(t time.Time) bool {
	weekday := ToSchool(t).Weekday()
	return weekday == time.Saturday || weekday == time.Sunday
}

// Common date/time formats.
const (
	// FormatDate is the wire date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
)

// FormatDateStr formats a time as a date string (YYYY-MM-DD) in the school
// timezone.
func FormatDateStr(t time.Time) string {
	return ToSchool(t).Format(FormatDate)
}

// ParseDate parses a date string (YYYY-MM-DD) in the school timezone.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, SchoolTZ)
}
