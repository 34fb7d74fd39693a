// Package holidays implements the Spanish national plus Madrid-regional
// holiday calendar and the effective day-type rule used by schedule
// queries. All dates are evaluated in the caller's wall clock, expected
// to be Europe/Madrid.
package holidays

import "time"

type DayType string

const (
	Weekday  DayType = "weekday"
	Friday   DayType = "friday"
	Saturday DayType = "saturday"
	Sunday   DayType = "sunday"
)

type monthDay struct {
	month time.Month
	day   int
}

var national = []monthDay{
	{time.January, 1},
	{time.January, 6},
	{time.May, 1},
	{time.August, 15},
	{time.October, 12},
	{time.November, 1},
	{time.December, 6},
	{time.December, 8},
	{time.December, 25},
}

var madrid = []monthDay{
	{time.May, 2},
	{time.May, 15},
	{time.November, 9},
}

// Easter computes Easter Sunday for a Gregorian year using the Anonymous
// Gregorian algorithm.
func Easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// IsHoliday reports whether the date (in its own location) is a national,
// Madrid-regional, or Easter-relative holiday.
func IsHoliday(t time.Time) bool {
	m, d := t.Month(), t.Day()
	for _, h := range national {
		if h.month == m && h.day == d {
			return true
		}
	}
	for _, h := range madrid {
		if h.month == m && h.day == d {
			return true
		}
	}
	easter := Easter(t.Year())
	maundy := easter.AddDate(0, 0, -3)
	goodFriday := easter.AddDate(0, 0, -2)
	if m == maundy.Month() && d == maundy.Day() {
		return true
	}
	if m == goodFriday.Month() && d == goodFriday.Day() {
		return true
	}
	return false
}

// EffectiveDayType maps a wall-clock date to the schedule day type.
// Holidays run the Sunday service; Fridays and holiday eves run the
// extended Friday service.
func EffectiveDayType(t time.Time) DayType {
	if IsHoliday(t) {
		return Sunday
	}
	switch t.Weekday() {
	case time.Sunday:
		return Sunday
	case time.Saturday:
		return Saturday
	}
	if t.Weekday() == time.Friday || IsHoliday(t.AddDate(0, 0, 1)) {
		return Friday
	}
	return Weekday
}
