// Package budget computes spending aggregates over account and category
// scoped date windows, and rolls recurring budgets forward period by period.
package budget

import (
	"math"
	"time"

	"github.com/mkalis/bursar/internal/model"
)

// PeriodRange returns the calendar period containing ref. Months run from
// the 1st at 00:00 to the last day at 23:59, quarters and years likewise on
// calendar boundaries.
func PeriodRange(period model.BudgetPeriod, ref time.Time) (start, end time.Time) {
	loc := ref.Location()

	switch period {
	case model.PeriodQuarterly:
		quarterStart := time.Month((int(ref.Month())-1)/3*3 + 1)
		start = time.Date(ref.Year(), quarterStart, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 3, 0).Add(-time.Minute)
	case model.PeriodYearly:
		start = time.Date(ref.Year(), time.January, 1, 0, 0, 0, 0, loc)
		end = time.Date(ref.Year(), time.December, 31, 23, 59, 0, 0, loc)
	default: // monthly
		start = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0).Add(-time.Minute)
	}
	return start, end
}

// NextPeriodRange returns the period immediately after the one ending at
// end: one minute past the end lands in the next period.
func NextPeriodRange(period model.BudgetPeriod, end time.Time) (time.Time, time.Time) {
	return PeriodRange(period, end.Add(time.Minute))
}

// DynamicDailyLimit spreads a budget's unspent remainder over the days left
// in its window, inclusive of today. It returns 0 once the window has closed
// or the budget is exhausted. Rounded to 2 decimal places.
func DynamicDailyLimit(amount, spent float64, end, now time.Time) float64 {
	if now.After(end) {
		return 0
	}
	remaining := amount - spent
	if remaining <= 0 {
		return 0
	}

	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	lastDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	remainingDays := int(lastDay.Sub(today).Hours()/24) + 1
	if remainingDays < 1 {
		remainingDays = 1
	}

	return math.Round(remaining/float64(remainingDays)*100) / 100
}

// totalPeriodDays is the inclusive day count of a budget window.
func totalPeriodDays(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, start.Location())
	days := int(e.Sub(s).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	return days
}

// elapsedPeriodDays is the inclusive day count from the window start through
// now, clamped to at least 1 and to the window's total length.
func elapsedPeriodDays(start, end, now time.Time) int {
	if now.After(end) {
		now = end
	}
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	n := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, start.Location())
	days := int(n.Sub(s).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	return days
}
