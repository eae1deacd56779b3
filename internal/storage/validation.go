// Package storage provides the data persistence layer for the bursar application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mkalis/bursar/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidID          = errors.New("id must be positive")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidAccount     = errors.New("invalid account")
	ErrInvalidRecurring   = errors.New("invalid recurring expense")
	ErrInvalidBudget      = errors.New("invalid budget")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateID ensures a row id is positive.
func validateID(id int64, paramName string) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidID, paramName)
	}
	return nil
}

// validateAccount validates a single account.
func validateAccount(account *model.Account) error {
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if strings.TrimSpace(account.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAccount)
	}
	if account.UserID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidAccount)
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if !txn.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, txn.Type)
	}
	if txn.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	}
	if txn.AccountID <= 0 {
		return fmt.Errorf("%w: account id is required", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidTransaction)
	}
	return nil
}

// validateRecurringExpense validates a single recurring expense schedule.
func validateRecurringExpense(expense *model.RecurringExpense) error {
	if expense == nil {
		return fmt.Errorf("%w: expense", ErrNilParameter)
	}
	if expense.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRecurring)
	}
	if expense.DayOfMonth < 1 || expense.DayOfMonth > 31 {
		return fmt.Errorf("%w: day of month must be between 1 and 31", ErrInvalidRecurring)
	}
	if expense.AccountID <= 0 {
		return fmt.Errorf("%w: account id is required", ErrInvalidRecurring)
	}
	if strings.TrimSpace(expense.RecurringGroupID) == "" {
		return fmt.Errorf("%w: recurring group id is required", ErrInvalidRecurring)
	}
	return nil
}

// validateBudget validates a single budget.
func validateBudget(budget *model.Budget) error {
	if budget == nil {
		return fmt.Errorf("%w: budget", ErrNilParameter)
	}
	if strings.TrimSpace(budget.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidBudget)
	}
	if budget.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidBudget)
	}
	if budget.UserID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidBudget)
	}
	if budget.EndDate.Before(budget.StartDate) {
		return fmt.Errorf("%w: %v is after %v", ErrInvalidDateRange, budget.StartDate, budget.EndDate)
	}
	if budget.RangeMode == model.RangeRecurring && !budget.Period.Valid() {
		return fmt.Errorf("%w: recurring budgets require a valid period", ErrInvalidBudget)
	}
	return nil
}
