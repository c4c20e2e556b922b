// Package recurrence computes the next occurrence of a repeating schedule.
//
// Arithmetic is calendar based in the location of the input instant, so a
// daily schedule keeps its wall clock time across DST changes. Monthly
// recurrence clamps to the last day of the target month: 2024-01-31 is
// followed by 2024-02-29, not by a date in March.
package recurrence

import (
	"fmt"
	"time"

	"castbox/internal/domain"
)

// Next returns the instant after last for the given policy. ok is false for
// RepeatNone, which means the chain ends.
func Next(last time.Time, repeat domain.Repeat, customDays int) (next time.Time, ok bool, err error) {
	switch repeat {
	case domain.RepeatNone, "":
		return time.Time{}, false, nil
	case domain.RepeatDaily:
		return last.AddDate(0, 0, 1), true, nil
	case domain.RepeatWeekly:
		return last.AddDate(0, 0, 7), true, nil
	case domain.RepeatMonthly:
		return addMonthClamped(last, 1), true, nil
	case domain.RepeatCustom:
		if customDays <= 0 {
			return time.Time{}, false, fmt.Errorf("recurrence: custom repeat needs positive days, got %d", customDays)
		}
		return last.AddDate(0, 0, customDays), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("recurrence: unknown repeat %q", repeat)
	}
}

// Validate reports whether Next can compute a successor for the policy.
func Validate(repeat domain.Repeat, customDays int) error {
	_, _, err := Next(time.Unix(0, 0).UTC(), repeat, customDays)
	return err
}

func addMonthClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
