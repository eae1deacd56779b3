package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkalis/bursar/internal/common"
	"github.com/mkalis/bursar/internal/model"
	"github.com/mkalis/bursar/internal/service"
)

// CreateInput describes a new monthly schedule.
type CreateInput struct {
	Description string
	Category    string
	Note        string
	AccountID   int64
	Amount      float64
	DayOfMonth  int
	EndDate     *time.Time
}

func (in *CreateInput) validate() error {
	if in.Description == "" {
		return common.NewValidationError("description", "is required")
	}
	if in.Amount <= 0 {
		return common.NewValidationError("amount", "must be positive")
	}
	if in.DayOfMonth < 1 || in.DayOfMonth > 31 {
		return common.NewValidationError("day_of_month", "must be between 1 and 31")
	}
	if in.AccountID <= 0 {
		return common.NewValidationError("account_id", "is required")
	}
	return nil
}

// Create registers a monthly schedule. The start date is the next occurrence
// of DayOfMonth as of now; the schedule fires for the first time when the
// processing job runs on or after that date.
func (s *Scheduler) Create(ctx context.Context, input CreateInput, now time.Time) (*model.RecurringExpense, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.EndDate != nil && input.EndDate.Before(now) {
		return nil, common.NewValidationError("end_date", "must not be in the past")
	}

	if _, err := s.store.GetAccount(ctx, input.AccountID); err != nil {
		return nil, err
	}

	expense := &model.RecurringExpense{
		Description:      input.Description,
		Category:         input.Category,
		Note:             input.Note,
		AccountID:        input.AccountID,
		Amount:           input.Amount,
		DayOfMonth:       input.DayOfMonth,
		StartDate:        NextStartDate(now, input.DayOfMonth),
		EndDate:          input.EndDate,
		RecurringGroupID: uuid.New().String(),
		IsActive:         true,
	}
	if err := s.store.CreateRecurringExpense(ctx, expense); err != nil {
		return nil, err
	}

	slog.Debug("created recurring expense",
		"id", expense.ID, "group_id", expense.RecurringGroupID,
		"start_date", expense.StartDate.Format("2006-01-02"))
	return expense, nil
}

// UpdateCommand enumerates the mutable fields of a schedule. Nil pointers
// leave the field untouched. Changes never rewrite transactions already
// generated; they only affect future fires.
type UpdateCommand struct {
	Description *string
	Category    *string
	Note        *string
	Amount      *float64
	DayOfMonth  *int
	EndDate     *time.Time
	ClearEnd    bool
	IsActive    *bool
}

// Update applies a typed change set to a schedule.
func (s *Scheduler) Update(ctx context.Context, id int64, cmd UpdateCommand) (*model.RecurringExpense, error) {
	if cmd.Amount != nil && *cmd.Amount <= 0 {
		return nil, common.NewValidationError("amount", "must be positive")
	}
	if cmd.DayOfMonth != nil && (*cmd.DayOfMonth < 1 || *cmd.DayOfMonth > 31) {
		return nil, common.NewValidationError("day_of_month", "must be between 1 and 31")
	}
	if cmd.EndDate != nil && cmd.ClearEnd {
		return nil, common.NewValidationError("end_date", "cannot both set and clear the end date")
	}

	expense, err := s.store.GetRecurringExpense(ctx, id)
	if err != nil {
		return nil, err
	}

	if cmd.Description != nil {
		expense.Description = *cmd.Description
	}
	if cmd.Category != nil {
		expense.Category = *cmd.Category
	}
	if cmd.Note != nil {
		expense.Note = *cmd.Note
	}
	if cmd.Amount != nil {
		expense.Amount = *cmd.Amount
	}
	if cmd.DayOfMonth != nil {
		expense.DayOfMonth = *cmd.DayOfMonth
	}
	if cmd.EndDate != nil {
		expense.EndDate = cmd.EndDate
	}
	if cmd.ClearEnd {
		expense.EndDate = nil
	}
	if cmd.IsActive != nil {
		expense.IsActive = *cmd.IsActive
	}

	if err := s.store.UpdateRecurringExpense(ctx, expense); err != nil {
		return nil, err
	}
	return expense, nil
}

// DeleteMode selects how much of a schedule's history a delete removes.
type DeleteMode string

const (
	// DeleteSingle removes one generated transaction, leaving the schedule
	// and its other transactions alone.
	DeleteSingle DeleteMode = "single"
	// DeleteFuture removes the anchor transaction and everything after it,
	// then ends the schedule at the anchor's date.
	DeleteFuture DeleteMode = "future"
	// DeleteAll removes every generated transaction and the schedule itself.
	DeleteAll DeleteMode = "all"
)

// Valid reports whether the mode is one of the supported values.
func (m DeleteMode) Valid() bool {
	switch m {
	case DeleteSingle, DeleteFuture, DeleteAll:
		return true
	}
	return false
}

// Delete removes generated transactions for a schedule according to mode.
// Balance effects are reversed only for transactions dated on or before now.
// Single and future modes require the anchor transaction's id.
func (s *Scheduler) Delete(ctx context.Context, expenseID int64, mode DeleteMode, transactionID int64, now time.Time) error {
	if !mode.Valid() {
		return common.NewValidationError("mode", fmt.Sprintf("unknown delete mode %q", mode))
	}
	if mode != DeleteAll && transactionID <= 0 {
		return common.NewValidationError("transaction_id", "is required for single and future deletes")
	}

	expense, err := s.store.GetRecurringExpense(ctx, expenseID)
	if err != nil {
		return err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	switch mode {
	case DeleteSingle:
		err = s.deleteSingle(ctx, tx, expense, transactionID, now)
	case DeleteFuture:
		err = s.deleteFuture(ctx, tx, expense, transactionID, now)
	case DeleteAll:
		err = s.deleteAll(ctx, tx, expense, now)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recurring delete: %w", err)
	}

	slog.Debug("deleted recurring expense transactions",
		"expense_id", expenseID, "mode", mode)
	return nil
}

func (s *Scheduler) deleteSingle(ctx context.Context, tx service.Transaction, expense *model.RecurringExpense, transactionID int64, now time.Time) error {
	txn, err := s.groupTransaction(ctx, tx, expense, transactionID)
	if err != nil {
		return err
	}
	return removeGenerated(ctx, tx, txn, now)
}

func (s *Scheduler) deleteFuture(ctx context.Context, tx service.Transaction, expense *model.RecurringExpense, transactionID int64, now time.Time) error {
	anchor, err := s.groupTransaction(ctx, tx, expense, transactionID)
	if err != nil {
		return err
	}

	rows, err := tx.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	if err != nil {
		return err
	}
	for i := range rows {
		if rows[i].Date.Before(anchor.Date) {
			continue
		}
		if err := removeGenerated(ctx, tx, &rows[i], now); err != nil {
			return err
		}
	}

	// The schedule survives but never fires past the anchor again.
	end := anchor.Date
	expense.EndDate = &end
	expense.IsActive = false
	return tx.UpdateRecurringExpense(ctx, expense)
}

func (s *Scheduler) deleteAll(ctx context.Context, tx service.Transaction, expense *model.RecurringExpense, now time.Time) error {
	rows, err := tx.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	if err != nil {
		return err
	}
	for i := range rows {
		if err := removeGenerated(ctx, tx, &rows[i], now); err != nil {
			return err
		}
	}
	return tx.DeleteRecurringExpense(ctx, expense.ID)
}

// groupTransaction loads a transaction and verifies it belongs to the
// schedule's group.
func (s *Scheduler) groupTransaction(ctx context.Context, tx service.Transaction, expense *model.RecurringExpense, transactionID int64) (*model.Transaction, error) {
	txn, err := tx.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.RecurringGroupID != expense.RecurringGroupID {
		return nil, common.NewValidationError("transaction_id",
			"transaction does not belong to this recurring expense")
	}
	return txn, nil
}

// removeGenerated deletes one generated transaction, reversing its balance
// effect only when it is not dated in the future.
func removeGenerated(ctx context.Context, tx service.Transaction, txn *model.Transaction, now time.Time) error {
	if !txn.Date.After(now) {
		if err := tx.ApplyBalanceDelta(ctx, txn.AccountID, -txn.BalanceEffect()); err != nil {
			return err
		}
	}
	return tx.DeleteTransaction(ctx, txn.ID)
}
