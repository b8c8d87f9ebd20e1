// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package budget

import "time"

// PeriodWindow returns the half-open [start, end) window containing now
// for the given period in the given location. Daily windows follow the
// calendar day, weekly windows start Monday 00:00, monthly windows start
// on the 1st at 00:00.
func PeriodWindow(period string, loc *time.Location, now time.Time) (time.Time, time.Time) {
	local := now.In(loc)
	switch period {
	case PeriodWeekly:
		day := local.Weekday()
		// time.Weekday has Sunday=0; shift so Monday opens the week.
		offset := (int(day) + 6) % 7
		start := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 7)
	case PeriodMonthly:
		start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	default:
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	}
}

// Location resolves the budget's timezone, defaulting to UTC.
func (b *Budget) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, ErrInvalidTimezone
	}
	return loc, nil
}
