// Package schedule computes wait-node target times under business-hour rules.
package schedule

import (
	"fmt"
	"time"

	"github.com/dukex/dunning/pkg/models"
)

// Next returns base advanced by d and adjusted to rules. The result is in UTC.
// Next never reads the wall clock, so identical inputs always give identical output.
func Next(base time.Time, d models.DurationSpec, rules models.ScheduleRules) (time.Time, error) {
	loc := time.UTC

	if rules.Timezone != "" {
		l, err := time.LoadLocation(rules.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: unknown timezone %q", models.ErrInvalidNodeConfig, rules.Timezone)
		}

		loc = l
	}

	t, err := add(base.In(loc), d)
	if err != nil {
		return time.Time{}, err
	}

	if rules.SkipWeekends() {
		t = skipWeekend(t)
	}

	if rules.WorkHours != nil {
		start, end, err := rules.WorkHours.Bounds()
		if err != nil {
			return time.Time{}, err
		}

		offset := sinceMidnight(t)

		switch {
		case offset < start:
			t = atOffset(t, start)
		case offset > end:
			t = atOffset(t.AddDate(0, 0, 1), start)
			if rules.SkipWeekends() {
				t = skipWeekend(t)
			}
		}
	}

	return t.UTC(), nil
}

func add(t time.Time, d models.DurationSpec) (time.Time, error) {
	switch d.Unit {
	case models.UnitMinutes:
		return t.Add(time.Duration(d.Amount) * time.Minute), nil
	case models.UnitHours:
		return t.Add(time.Duration(d.Amount) * time.Hour), nil
	case models.UnitDays:
		return t.AddDate(0, 0, d.Amount), nil
	case models.UnitWeeks:
		return t.AddDate(0, 0, 7*d.Amount), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown duration unit %q", models.ErrInvalidNodeConfig, d.Unit)
	}
}

// skipWeekend moves t forward day by day, keeping the time of day, until it is a weekday.
func skipWeekend(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}

	return t
}

func sinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()

	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

func atOffset(t time.Time, offset time.Duration) time.Time {
	y, mo, d := t.Date()
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)

	return time.Date(y, mo, d, h, m, 0, 0, t.Location())
}
