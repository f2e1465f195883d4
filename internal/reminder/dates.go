package reminder

import (
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// rolloverGuardDays protects dates just past New Year from being reset while
// their reminders are still being sent in late December.
const rolloverGuardDays = 7

// LocalDate returns the calendar day of now in a fixed UTC offset, as midnight UTC.
func LocalDate(now time.Time, offset time.Duration) time.Time {
	local := now.UTC().Add(offset)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// AddDays adds n calendar days, rolling over month and year boundaries.
func AddDays(d time.Time, n int) time.Time {
	return d.AddDate(0, 0, n)
}

// Targets are the calendar days one, three and seven days after today.
type Targets struct {
	Today time.Time
	Day1  time.Time
	Day3  time.Time
	Day7  time.Time
}

// TargetsFor computes the reminder targets of today.
func TargetsFor(today time.Time) Targets {
	return Targets{Today: today, Day1: AddDays(today, 1), Day3: AddDays(today, 3), Day7: AddDays(today, 7)}
}

// occursOn reports whether an event dated d happens on day. A 29 February
// event falls on 1 March in common years.
func occursOn(d models.DayMonth, day time.Time) bool {
	return models.DayMonthOf(d.InYear(day.Year())) == models.DayMonthOf(day)
}

// IsPast reports whether d is strictly before today within the reference year
// and not one of the next rolloverGuardDays days.
func IsPast(today time.Time, d models.DayMonth) bool {
	if !d.Before(models.DayMonthOf(today)) {
		return false
	}
	for i := 1; i <= rolloverGuardDays; i++ {
		if occursOn(d, AddDays(today, i)) {
			return false
		}
	}
	return true
}
