package model

import "time"

// RecurringExpense is a monthly schedule that generates at most one debit
// transaction per calendar month, on DayOfMonth (clamped to the month's
// last day when the month is shorter).
type RecurringExpense struct {
	StartDate        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	EndDate          *time.Time
	LastExecutedDate *time.Time
	Description      string
	Category         string
	Note             string
	RecurringGroupID string
	ID               int64
	AccountID        int64
	Amount           float64
	DayOfMonth       int
	IsActive         bool
}

// Ended reports whether the schedule's end date has passed as of today.
func (r *RecurringExpense) Ended(today time.Time) bool {
	if r.EndDate == nil {
		return false
	}
	y, m, d := r.EndDate.Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, today.Location())
	ty, tm, td := today.Date()
	return time.Date(ty, tm, td, 0, 0, 0, 0, today.Location()).After(end)
}
