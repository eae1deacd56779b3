package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkalis/bursar/internal/common"
	"github.com/mkalis/bursar/internal/model"
)

const recurringColumns = `
	id, description, amount, COALESCE(category, ''), COALESCE(note, ''),
	day_of_month, account_id, recurring_group_id, start_date, end_date,
	is_active, last_executed_date, created_at, updated_at`

func scanRecurringExpense(row interface{ Scan(...any) error }) (*model.RecurringExpense, error) {
	var expense model.RecurringExpense
	var endDate, lastExecuted sql.NullTime
	err := row.Scan(&expense.ID, &expense.Description, &expense.Amount,
		&expense.Category, &expense.Note, &expense.DayOfMonth, &expense.AccountID,
		&expense.RecurringGroupID, &expense.StartDate, &endDate, &expense.IsActive,
		&lastExecuted, &expense.CreatedAt, &expense.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if endDate.Valid {
		expense.EndDate = &endDate.Time
	}
	if lastExecuted.Valid {
		expense.LastExecutedDate = &lastExecuted.Time
	}
	return &expense, nil
}

// CreateRecurringExpense inserts a new schedule and sets its generated id.
func (s *SQLiteStorage) CreateRecurringExpense(ctx context.Context, expense *model.RecurringExpense) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecurringExpense(expense); err != nil {
		return err
	}
	return s.createRecurringExpenseTx(ctx, s.db, expense)
}

func (s *SQLiteStorage) createRecurringExpenseTx(ctx context.Context, q queryable, expense *model.RecurringExpense) error {
	var endDate any
	if expense.EndDate != nil {
		endDate = *expense.EndDate
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO recurring_expenses (
			description, amount, category, note, day_of_month, account_id,
			recurring_group_id, start_date, end_date, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		expense.Description, expense.Amount, nullable(expense.Category),
		nullable(expense.Note), expense.DayOfMonth, expense.AccountID,
		expense.RecurringGroupID, expense.StartDate, endDate, expense.IsActive)
	if err != nil {
		return fmt.Errorf("failed to insert recurring expense: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get recurring expense id: %w", err)
	}
	expense.ID = id

	slog.Debug("created recurring expense",
		"id", id, "group_id", expense.RecurringGroupID, "day_of_month", expense.DayOfMonth)
	return nil
}

// GetRecurringExpense returns a schedule by id.
func (s *SQLiteStorage) GetRecurringExpense(ctx context.Context, id int64) (*model.RecurringExpense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getRecurringExpenseTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getRecurringExpenseTx(ctx context.Context, q queryable, id int64) (*model.RecurringExpense, error) {
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+recurringColumns+` FROM recurring_expenses WHERE id = ?`, id)

	expense, err := scanRecurringExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recurring expense %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan recurring expense: %w", err)
	}

	return expense, nil
}

// GetActiveRecurringExpenses returns every active schedule, the scheduler's
// candidate set.
func (s *SQLiteStorage) GetActiveRecurringExpenses(ctx context.Context) ([]model.RecurringExpense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getActiveRecurringExpensesTx(ctx, s.db)
}

func (s *SQLiteStorage) getActiveRecurringExpensesTx(ctx context.Context, q queryable) ([]model.RecurringExpense, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+recurringColumns+` FROM recurring_expenses WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active recurring expenses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRecurringExpenses(rows)
}

// GetRecurringExpensesByUser returns every schedule on the user's accounts.
func (s *SQLiteStorage) GetRecurringExpensesByUser(ctx context.Context, userID int64) ([]model.RecurringExpense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getRecurringExpensesByUserTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) getRecurringExpensesByUserTx(ctx context.Context, q queryable, userID int64) ([]model.RecurringExpense, error) {
	if err := validateID(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+recurringColumnsPrefixed+`
		FROM recurring_expenses r
		JOIN accounts a ON a.id = r.account_id
		WHERE a.user_id = ?
		ORDER BY r.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring expenses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRecurringExpenses(rows)
}

const recurringColumnsPrefixed = `
	r.id, r.description, r.amount, COALESCE(r.category, ''), COALESCE(r.note, ''),
	r.day_of_month, r.account_id, r.recurring_group_id, r.start_date, r.end_date,
	r.is_active, r.last_executed_date, r.created_at, r.updated_at`

func collectRecurringExpenses(rows *sql.Rows) ([]model.RecurringExpense, error) {
	var expenses []model.RecurringExpense
	for rows.Next() {
		expense, err := scanRecurringExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring expense: %w", err)
		}
		expenses = append(expenses, *expense)
	}
	return expenses, rows.Err()
}

// UpdateRecurringExpense writes every mutable field of a schedule, including
// end_date, is_active, and last_executed_date.
func (s *SQLiteStorage) UpdateRecurringExpense(ctx context.Context, expense *model.RecurringExpense) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecurringExpense(expense); err != nil {
		return err
	}
	return s.updateRecurringExpenseTx(ctx, s.db, expense)
}

func (s *SQLiteStorage) updateRecurringExpenseTx(ctx context.Context, q queryable, expense *model.RecurringExpense) error {
	var endDate, lastExecuted any
	if expense.EndDate != nil {
		endDate = *expense.EndDate
	}
	if expense.LastExecutedDate != nil {
		lastExecuted = *expense.LastExecutedDate
	}

	result, err := q.ExecContext(ctx, `
		UPDATE recurring_expenses
		SET description = ?, amount = ?, category = ?, note = ?, day_of_month = ?,
		    end_date = ?, is_active = ?, last_executed_date = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		expense.Description, expense.Amount, nullable(expense.Category),
		nullable(expense.Note), expense.DayOfMonth, endDate, expense.IsActive,
		lastExecuted, expense.ID)
	if err != nil {
		return fmt.Errorf("failed to update recurring expense: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("recurring expense %d: %w", expense.ID, common.ErrNotFound)
	}

	return nil
}

// DeleteRecurringExpense removes a schedule. Its generated transactions are
// left to the caller, who decides per delete mode what happens to them.
func (s *SQLiteStorage) DeleteRecurringExpense(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteRecurringExpenseTx(ctx, s.db, id)
}

func (s *SQLiteStorage) deleteRecurringExpenseTx(ctx context.Context, q queryable, id int64) error {
	if err := validateID(id, "id"); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `DELETE FROM recurring_expenses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recurring expense: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("recurring expense %d: %w", id, common.ErrNotFound)
	}

	return nil
}
