package budget

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mkalis/bursar/internal/common"
	"github.com/mkalis/bursar/internal/model"
	"github.com/mkalis/bursar/internal/service"
)

// Status classifies a budget's health against its cap.
type Status string

// Budget status values, ordered worst to best.
const (
	StatusOverBudget Status = "over_budget"
	StatusWarning    Status = "warning"
	StatusOnTrack    Status = "on_track"
)

// warningThreshold is the spent/amount ratio above which a budget is
// flagged before it is actually exceeded.
const warningThreshold = 0.8

// StatusFor returns the status of a budget with the given cap and spend.
func StatusFor(amount, spent float64) Status {
	switch {
	case spent > amount:
		return StatusOverBudget
	case amount > 0 && spent/amount > warningThreshold:
		return StatusWarning
	default:
		return StatusOnTrack
	}
}

// Aggregator computes spend totals, daily statistics, and reports for
// budgets, and keeps their cached columns current.
type Aggregator struct {
	store service.Storage
}

// NewAggregator creates an aggregator backed by the given store.
func NewAggregator(store service.Storage) *Aggregator {
	return &Aggregator{store: store}
}

// ResolveScope returns the account ids a budget covers: its linked accounts,
// or every account of the owning user when none are linked.
func (a *Aggregator) ResolveScope(ctx context.Context, budget *model.Budget) ([]int64, error) {
	if len(budget.AccountIDs) > 0 {
		return budget.AccountIDs, nil
	}

	accounts, err := a.store.GetAccountsByUser(ctx, budget.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve budget scope: %w", err)
	}
	ids := make([]int64, 0, len(accounts))
	for i := range accounts {
		ids = append(ids, accounts[i].ID)
	}
	return ids, nil
}

// ComputeSpent sums debit and installment spending inside the budget's
// window, account scope, and category scope. Budget-excluded transactions
// never count.
func (a *Aggregator) ComputeSpent(ctx context.Context, budget *model.Budget) (float64, error) {
	scope, err := a.ResolveScope(ctx, budget)
	if err != nil {
		return 0, err
	}

	return a.store.SumSpent(ctx, service.SpendFilter{
		Start:      budget.StartDate,
		End:        budget.EndDate,
		AccountIDs: scope,
		Categories: budget.Categories,
	})
}

// ComputeSpentFromTransactions is the in-memory equivalent of ComputeSpent
// over an already loaded transaction set.
func ComputeSpentFromTransactions(budget *model.Budget, txns []model.Transaction) float64 {
	var spent float64
	for i := range txns {
		if countsAgainst(budget, &txns[i]) {
			spent += txns[i].Amount
		}
	}
	return spent
}

func countsAgainst(budget *model.Budget, txn *model.Transaction) bool {
	if txn.Type != model.TypeDebit && txn.Type != model.TypeInstallment {
		return false
	}
	if txn.ExcludeFromBudget {
		return false
	}
	if txn.Date.Before(budget.StartDate) || txn.Date.After(budget.EndDate) {
		return false
	}
	if len(budget.AccountIDs) > 0 {
		found := false
		for _, id := range budget.AccountIDs {
			if id == txn.AccountID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return budget.AppliesToCategory(txn.Category)
}

// scopedTransactions loads every transaction that counts against the budget,
// newest first.
func (a *Aggregator) scopedTransactions(ctx context.Context, budget *model.Budget) ([]model.Transaction, error) {
	scope, err := a.ResolveScope(ctx, budget)
	if err != nil {
		return nil, err
	}
	if len(scope) == 0 {
		return nil, nil
	}

	start, end := budget.StartDate, budget.EndDate
	rows, err := a.store.GetTransactions(ctx, service.TransactionFilter{
		StartDate:  &start,
		EndDate:    &end,
		AccountIDs: scope,
		Types:      []model.TransactionType{model.TypeDebit, model.TypeInstallment},
	})
	if err != nil {
		return nil, err
	}

	if budget.Global() {
		return rows, nil
	}
	scoped := rows[:0]
	for i := range rows {
		if budget.AppliesToCategory(rows[i].Category) {
			scoped = append(scoped, rows[i])
		}
	}
	return scoped, nil
}

// Stats is the headline block of a budget report.
type Stats struct {
	TotalBudget       float64 `json:"total_budget"`
	TotalSpent        float64 `json:"total_spent"`
	Remaining         float64 `json:"remaining"`
	DailyAverage      float64 `json:"daily_average"`
	ProjectedSpending float64 `json:"projected_spending"`
	Status            Status  `json:"status"`
}

// Report pairs the aggregate stats with the transactions behind them.
type Report struct {
	Stats        Stats               `json:"stats"`
	Transactions []model.Transaction `json:"transactions"`
}

// BuildReport assembles a budget report as of now. The daily average divides
// spend by elapsed days (clamped to at least 1), and projected spending
// extrapolates that average over the whole window.
func (a *Aggregator) BuildReport(ctx context.Context, budget *model.Budget, now time.Time) (*Report, error) {
	txns, err := a.scopedTransactions(ctx, budget)
	if err != nil {
		return nil, err
	}

	spent := ComputeSpentFromTransactions(budget, txns)
	elapsed := elapsedPeriodDays(budget.StartDate, budget.EndDate, now)
	total := totalPeriodDays(budget.StartDate, budget.EndDate)

	dailyAverage := round2(spent / float64(elapsed))
	return &Report{
		Stats: Stats{
			TotalBudget:       budget.Amount,
			TotalSpent:        spent,
			Remaining:         round2(budget.Amount - spent),
			DailyAverage:      dailyAverage,
			ProjectedSpending: round2(dailyAverage * float64(total)),
			Status:            StatusFor(budget.Amount, spent),
		},
		Transactions: txns,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DayStats tallies how many fully elapsed days of the budget window stayed
// within the daily limit and how many exceeded it.
type DayStats struct {
	OverBudgetDays   int
	WithinBudgetDays int
}

// dailyLimitFor is the per-day cap used by the day tally: the manual limit
// when set, otherwise the budget amount spread evenly over the window.
func dailyLimitFor(budget *model.Budget) float64 {
	if budget.DailyLimitMode == model.DailyLimitManual && budget.DailyLimit > 0 {
		return budget.DailyLimit
	}
	return budget.Amount / float64(totalPeriodDays(budget.StartDate, budget.EndDate))
}

// ComputeDayStats evaluates every fully elapsed day of the window, from the
// start through yesterday or the window end, whichever is earlier. Today is
// never counted.
func (a *Aggregator) ComputeDayStats(ctx context.Context, budget *model.Budget, now time.Time) (DayStats, error) {
	var stats DayStats

	loc := budget.StartDate.Location()
	yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	last := time.Date(budget.EndDate.Year(), budget.EndDate.Month(), budget.EndDate.Day(), 0, 0, 0, 0, loc)
	if yesterday.Before(last) {
		last = yesterday
	}

	first := time.Date(budget.StartDate.Year(), budget.StartDate.Month(), budget.StartDate.Day(), 0, 0, 0, 0, loc)
	if last.Before(first) {
		return stats, nil
	}

	txns, err := a.scopedTransactions(ctx, budget)
	if err != nil {
		return stats, err
	}

	perDay := make(map[time.Time]float64)
	for i := range txns {
		if !countsAgainst(budget, &txns[i]) {
			continue
		}
		d := txns[i].Date.In(loc)
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
		perDay[day] += txns[i].Amount
	}

	limit := dailyLimitFor(budget)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if perDay[day] > limit {
			stats.OverBudgetDays++
		} else {
			stats.WithinBudgetDays++
		}
	}
	return stats, nil
}

// RefreshStats recomputes and caches a budget's spent total and day tallies.
func (a *Aggregator) RefreshStats(ctx context.Context, budget *model.Budget, now time.Time) error {
	spent, err := a.ComputeSpent(ctx, budget)
	if err != nil {
		return err
	}
	if err := a.store.SetBudgetSpent(ctx, budget.ID, spent); err != nil {
		return err
	}

	dayStats, err := a.ComputeDayStats(ctx, budget, now)
	if err != nil {
		return err
	}
	return a.store.SetBudgetDayStats(ctx, budget.ID,
		dayStats.OverBudgetDays, dayStats.WithinBudgetDays, now)
}

// UpdateAllActiveBudgetsStats refreshes the cached stats of every budget
// whose window is still open as of now, returning how many were refreshed.
// A failure on one budget is logged and never aborts the rest.
func (a *Aggregator) UpdateAllActiveBudgetsStats(ctx context.Context, now time.Time) (int, error) {
	budgets, err := a.store.GetActiveBudgets(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load active budgets: %w", err)
	}

	updated := 0
	for i := range budgets {
		if err := a.RefreshStats(ctx, &budgets[i], now); err != nil {
			common.LogError(err, "failed to refresh budget stats", common.Fields{
				"budget_id": budgets[i].ID,
			})
			continue
		}
		updated++
	}

	slog.Info("budget stats refresh complete",
		"updated", updated, "total_active", len(budgets))
	return updated, nil
}
