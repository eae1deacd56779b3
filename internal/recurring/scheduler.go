// Package recurring generates ledger transactions from monthly expense
// schedules. A schedule fires at most once per calendar month, so the
// processing job is safe to invoke any number of times a day.
package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkalis/bursar/internal/common"
	"github.com/mkalis/bursar/internal/model"
	"github.com/mkalis/bursar/internal/service"
)

// Scheduler creates and maintains recurring expense schedules and fires
// their monthly transactions.
type Scheduler struct {
	store service.Storage
}

// NewScheduler creates a scheduler backed by the given store.
func NewScheduler(store service.Storage) *Scheduler {
	return &Scheduler{store: store}
}

// TargetDateForMonth returns today's month with the day replaced by
// dayOfMonth, clamped to the month's last day when the month is shorter
// (day 31 in April resolves to April 30).
func TargetDateForMonth(today time.Time, dayOfMonth int) time.Time {
	year, month, _ := today.Date()
	if last := daysInMonth(year, month); dayOfMonth > last {
		dayOfMonth = last
	}
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, today.Location())
}

// NextStartDate returns the first date a new schedule would fire: this
// month's occurrence of dayOfMonth if it has not passed yet, otherwise next
// month's, clamped either way.
func NextStartDate(now time.Time, dayOfMonth int) time.Time {
	start := TargetDateForMonth(now, dayOfMonth)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if start.Before(today) {
		next := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
		start = TargetDateForMonth(next, dayOfMonth)
	}
	return start
}

// shouldFire reports whether a schedule is due: the target date has arrived
// and the schedule has not already fired in the target's month.
func shouldFire(expense *model.RecurringExpense, targetDate, today time.Time) bool {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	if day.Before(targetDate) {
		return false
	}
	if expense.LastExecutedDate != nil {
		last := expense.LastExecutedDate.In(targetDate.Location())
		if last.Year() == targetDate.Year() && last.Month() == targetDate.Month() {
			return false
		}
	}
	return true
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ProcessDueExpenses fires every active schedule that is due as of now and
// returns the number of transactions created. A failure on one schedule is
// logged and never aborts the rest of the batch.
func (s *Scheduler) ProcessDueExpenses(ctx context.Context, now time.Time) (int, error) {
	expenses, err := s.store.GetActiveRecurringExpenses(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active recurring expenses: %w", err)
	}

	slog.Info("processing recurring expenses",
		"total_active", len(expenses),
		"processing_date", now.Format("2006-01-02"))

	created := 0
	for i := range expenses {
		expense := &expenses[i]

		if expense.Ended(now) {
			continue
		}

		targetDate := TargetDateForMonth(now, expense.DayOfMonth)
		if !shouldFire(expense, targetDate, now) {
			continue
		}

		if err := s.fire(ctx, expense, targetDate); err != nil {
			common.LogError(err, "failed to process recurring expense", common.Fields{
				"id":       expense.ID,
				"group_id": expense.RecurringGroupID,
			})
			continue
		}
		created++
	}

	slog.Info("recurring expense processing complete",
		"created", created, "total_checked", len(expenses))
	return created, nil
}

// fire books one debit for the schedule and advances last_executed_date, in
// one atomic unit.
func (s *Scheduler) fire(ctx context.Context, expense *model.RecurringExpense, targetDate time.Time) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	note := fmt.Sprintf("Recurring expense, monthly on day %d", expense.DayOfMonth)
	if expense.Note != "" {
		note = expense.Note + "\n\n" + note
	}

	txn := &model.Transaction{
		Description:      expense.Description,
		Amount:           expense.Amount,
		Type:             model.TypeDebit,
		Category:         expense.Category,
		Note:             note,
		Date:             targetDate,
		AccountID:        expense.AccountID,
		RecurringGroupID: expense.RecurringGroupID,
		IsFromRecurring:  true,
	}
	if err := tx.CreateTransaction(ctx, txn); err != nil {
		return err
	}
	if err := tx.ApplyBalanceDelta(ctx, expense.AccountID, txn.BalanceEffect()); err != nil {
		return err
	}

	executed := targetDate
	expense.LastExecutedDate = &executed
	if err := tx.UpdateRecurringExpense(ctx, expense); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recurring fire: %w", err)
	}

	slog.Debug("fired recurring expense",
		"id", expense.ID, "target_date", targetDate.Format("2006-01-02"))
	return nil
}
