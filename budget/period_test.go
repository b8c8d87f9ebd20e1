// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodWindowDaily(t *testing.T) {
	now := time.Date(2026, 3, 14, 17, 42, 9, 0, time.UTC)
	start, end := PeriodWindow(PeriodDaily, time.UTC, now)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), end)
}

func TestPeriodWindowWeeklyStartsMonday(t *testing.T) {
	// 2026-03-14 is a Saturday; the containing week opened Monday 03-09.
	now := time.Date(2026, 3, 14, 17, 42, 9, 0, time.UTC)
	start, end := PeriodWindow(PeriodWeekly, time.UTC, now)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Monday, start.Weekday())
}

func TestPeriodWindowWeeklyOnSunday(t *testing.T) {
	// Sunday belongs to the week that opened six days earlier.
	now := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	start, _ := PeriodWindow(PeriodWeekly, time.UTC, now)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), start)
}

func TestPeriodWindowWeeklyOnMonday(t *testing.T) {
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	start, end := PeriodWindow(PeriodWeekly, time.UTC, now)
	assert.Equal(t, now, start)
	assert.Equal(t, now.AddDate(0, 0, 7), end)
}

func TestPeriodWindowMonthly(t *testing.T) {
	now := time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC)
	start, end := PeriodWindow(PeriodMonthly, time.UTC, now)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestPeriodWindowRespectsLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 02:00 UTC is still the previous calendar day in New York.
	now := time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC)
	start, _ := PeriodWindow(PeriodDaily, loc, now)
	assert.Equal(t, 13, start.Day())
}

func TestEstimateCostFormula(t *testing.T) {
	b := &Budget{InputTokenRate: 0.001, OutputTokenRate: 0.002, BaseCost: 0.01}
	got := b.EstimateCost(100, 50, 1)
	assert.InDelta(t, 0.1+0.1+0.01, got, 1e-9)
}
