package model

import "time"

// DailyLimitMode selects how a budget's per-day cap is derived.
type DailyLimitMode string

// RangeMode selects how a budget's date window is defined.
type RangeMode string

// BudgetPeriod is the recurrence length of a recurring budget.
type BudgetPeriod string

// Budget mode and period values.
const (
	DailyLimitAuto   DailyLimitMode = "auto"
	DailyLimitManual DailyLimitMode = "manual"

	RangeCustom    RangeMode = "custom"
	RangeRecurring RangeMode = "recurring"

	PeriodMonthly   BudgetPeriod = "monthly"
	PeriodQuarterly BudgetPeriod = "quarterly"
	PeriodYearly    BudgetPeriod = "yearly"
)

// Valid reports whether p is a known budget period.
func (p BudgetPeriod) Valid() bool {
	switch p {
	case PeriodMonthly, PeriodQuarterly, PeriodYearly:
		return true
	}
	return false
}

// Budget is a spending cap over a date window, scoped to a set of accounts
// and categories. Empty scope sets mean "applies to all". Spent is a cached,
// recomputable value and never authoritative. Recurring budgets chain
// through ParentBudgetID, with exactly one IsLatestPeriod head per chain.
type Budget struct {
	StartDate        time.Time
	EndDate          time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastStatsUpdate  *time.Time
	ParentBudgetID   *int64
	Name             string
	DailyLimitMode   DailyLimitMode
	RangeMode        RangeMode
	Period           BudgetPeriod
	AccountIDs       []int64
	Categories       []string
	ID               int64
	UserID           int64
	Amount           float64
	DailyLimit       float64
	Spent            float64
	OverBudgetDays   int
	WithinBudgetDays int
	IsLatestPeriod   bool
}

// Global reports whether the budget applies to every category.
func (b *Budget) Global() bool {
	return len(b.Categories) == 0
}

// AppliesToCategory reports whether a transaction category falls inside the
// budget's category scope.
func (b *Budget) AppliesToCategory(category string) bool {
	if b.Global() {
		return true
	}
	for _, c := range b.Categories {
		if c == category {
			return true
		}
	}
	return false
}
