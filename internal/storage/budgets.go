package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkalis/bursar/internal/common"
	"github.com/mkalis/bursar/internal/model"
)

const budgetColumns = `
	id, name, amount, COALESCE(daily_limit, 0), daily_limit_mode, range_mode,
	COALESCE(period, ''), start_date, end_date, spent, over_budget_days,
	within_budget_days, last_stats_update, user_id, parent_budget_id,
	is_latest_period, created_at, updated_at`

func scanBudget(row interface{ Scan(...any) error }) (*model.Budget, error) {
	var budget model.Budget
	var dailyLimitMode, rangeMode, period string
	var lastStats sql.NullTime
	var parentID sql.NullInt64
	err := row.Scan(&budget.ID, &budget.Name, &budget.Amount, &budget.DailyLimit,
		&dailyLimitMode, &rangeMode, &period, &budget.StartDate, &budget.EndDate,
		&budget.Spent, &budget.OverBudgetDays, &budget.WithinBudgetDays,
		&lastStats, &budget.UserID, &parentID, &budget.IsLatestPeriod,
		&budget.CreatedAt, &budget.UpdatedAt)
	if err != nil {
		return nil, err
	}
	budget.DailyLimitMode = model.DailyLimitMode(dailyLimitMode)
	budget.RangeMode = model.RangeMode(rangeMode)
	budget.Period = model.BudgetPeriod(period)
	if lastStats.Valid {
		budget.LastStatsUpdate = &lastStats.Time
	}
	if parentID.Valid {
		budget.ParentBudgetID = &parentID.Int64
	}
	return &budget, nil
}

// CreateBudget inserts a budget together with its account and category
// links, and sets its generated id.
func (s *SQLiteStorage) CreateBudget(ctx context.Context, budget *model.Budget) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBudget(budget); err != nil {
		return err
	}
	return s.createBudgetTx(ctx, s.db, budget)
}

func (s *SQLiteStorage) createBudgetTx(ctx context.Context, q queryable, budget *model.Budget) error {
	var parentID any
	if budget.ParentBudgetID != nil {
		parentID = *budget.ParentBudgetID
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO budgets (
			name, amount, daily_limit, daily_limit_mode, range_mode, period,
			start_date, end_date, spent, user_id, parent_budget_id, is_latest_period
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		budget.Name, budget.Amount, nullableFloat(budget.DailyLimit),
		string(budget.DailyLimitMode), string(budget.RangeMode),
		nullable(string(budget.Period)), budget.StartDate, budget.EndDate,
		budget.Spent, budget.UserID, parentID, budget.IsLatestPeriod)
	if err != nil {
		return fmt.Errorf("failed to insert budget: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get budget id: %w", err)
	}
	budget.ID = id

	if err := s.replaceBudgetLinksTx(ctx, q, budget); err != nil {
		return err
	}

	slog.Debug("created budget", "id", id, "name", budget.Name, "range_mode", budget.RangeMode)
	return nil
}

// replaceBudgetLinksTx rewrites the junction rows to match the budget's
// linked account and category sets, deduplicated.
func (s *SQLiteStorage) replaceBudgetLinksTx(ctx context.Context, q queryable, budget *model.Budget) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM budget_accounts WHERE budget_id = ?`, budget.ID); err != nil {
		return fmt.Errorf("failed to clear budget accounts: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`DELETE FROM budget_categories WHERE budget_id = ?`, budget.ID); err != nil {
		return fmt.Errorf("failed to clear budget categories: %w", err)
	}

	seenAccounts := make(map[int64]bool, len(budget.AccountIDs))
	for _, accountID := range budget.AccountIDs {
		if seenAccounts[accountID] {
			continue
		}
		seenAccounts[accountID] = true
		if _, err := q.ExecContext(ctx,
			`INSERT INTO budget_accounts (budget_id, account_id) VALUES (?, ?)`,
			budget.ID, accountID); err != nil {
			return fmt.Errorf("failed to link account %d: %w", accountID, err)
		}
	}

	seenCategories := make(map[string]bool, len(budget.Categories))
	for _, category := range budget.Categories {
		if seenCategories[category] {
			continue
		}
		seenCategories[category] = true
		if _, err := q.ExecContext(ctx,
			`INSERT INTO budget_categories (budget_id, category_name) VALUES (?, ?)`,
			budget.ID, category); err != nil {
			return fmt.Errorf("failed to link category %q: %w", category, err)
		}
	}

	return nil
}

func (s *SQLiteStorage) loadBudgetLinksTx(ctx context.Context, q queryable, budget *model.Budget) error {
	rows, err := q.QueryContext(ctx,
		`SELECT account_id FROM budget_accounts WHERE budget_id = ? ORDER BY account_id`,
		budget.ID)
	if err != nil {
		return fmt.Errorf("failed to query budget accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var accountID int64
		if err := rows.Scan(&accountID); err != nil {
			return fmt.Errorf("failed to scan budget account: %w", err)
		}
		budget.AccountIDs = append(budget.AccountIDs, accountID)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	catRows, err := q.QueryContext(ctx,
		`SELECT category_name FROM budget_categories WHERE budget_id = ? ORDER BY category_name`,
		budget.ID)
	if err != nil {
		return fmt.Errorf("failed to query budget categories: %w", err)
	}
	defer func() { _ = catRows.Close() }()

	for catRows.Next() {
		var category string
		if err := catRows.Scan(&category); err != nil {
			return fmt.Errorf("failed to scan budget category: %w", err)
		}
		budget.Categories = append(budget.Categories, category)
	}
	return catRows.Err()
}

// GetBudget returns a budget with its linked accounts and categories.
func (s *SQLiteStorage) GetBudget(ctx context.Context, id int64) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getBudgetTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getBudgetTx(ctx context.Context, q queryable, id int64) (*model.Budget, error) {
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)

	budget, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("budget %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan budget: %w", err)
	}

	if err := s.loadBudgetLinksTx(ctx, q, budget); err != nil {
		return nil, err
	}

	return budget, nil
}

func (s *SQLiteStorage) queryBudgetsTx(ctx context.Context, q queryable, query string, args ...any) ([]model.Budget, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var budgets []model.Budget
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, *budget)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range budgets {
		if err := s.loadBudgetLinksTx(ctx, q, &budgets[i]); err != nil {
			return nil, err
		}
	}

	return budgets, nil
}

// GetBudgetsByUser returns every budget owned by a user.
func (s *SQLiteStorage) GetBudgetsByUser(ctx context.Context, userID int64) ([]model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getBudgetsByUserTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) getBudgetsByUserTx(ctx context.Context, q queryable, userID int64) ([]model.Budget, error) {
	if err := validateID(userID, "userID"); err != nil {
		return nil, err
	}
	return s.queryBudgetsTx(ctx, q,
		`SELECT `+budgetColumns+` FROM budgets WHERE user_id = ? ORDER BY id`, userID)
}

// GetActiveBudgets returns budgets whose window has not ended as of asOf.
// The nightly stats job iterates this set.
func (s *SQLiteStorage) GetActiveBudgets(ctx context.Context, asOf time.Time) ([]model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getActiveBudgetsTx(ctx, s.db, asOf)
}

func (s *SQLiteStorage) getActiveBudgetsTx(ctx context.Context, q queryable, asOf time.Time) ([]model.Budget, error) {
	return s.queryBudgetsTx(ctx, q,
		`SELECT `+budgetColumns+` FROM budgets WHERE end_date >= ? ORDER BY id`, asOf)
}

// GetRecurringBudgetsDue returns recurring budgets still marked as the
// latest period whose window has ended, the rollover candidates.
func (s *SQLiteStorage) GetRecurringBudgetsDue(ctx context.Context, asOf time.Time) ([]model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getRecurringBudgetsDueTx(ctx, s.db, asOf)
}

func (s *SQLiteStorage) getRecurringBudgetsDueTx(ctx context.Context, q queryable, asOf time.Time) ([]model.Budget, error) {
	return s.queryBudgetsTx(ctx, q, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE range_mode = 'recurring' AND is_latest_period = 1 AND end_date <= ?
		ORDER BY id`, asOf)
}

// FindChildBudget returns the period created from parentBudgetID, or a
// NotFound error when the chain has no next entry.
func (s *SQLiteStorage) FindChildBudget(ctx context.Context, parentBudgetID int64) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findChildBudgetTx(ctx, s.db, parentBudgetID)
}

func (s *SQLiteStorage) findChildBudgetTx(ctx context.Context, q queryable, parentBudgetID int64) (*model.Budget, error) {
	if err := validateID(parentBudgetID, "parentBudgetID"); err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE parent_budget_id = ? LIMIT 1`,
		parentBudgetID)

	budget, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("child of budget %d: %w", parentBudgetID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan budget: %w", err)
	}

	if err := s.loadBudgetLinksTx(ctx, q, budget); err != nil {
		return nil, err
	}

	return budget, nil
}

// FindBudgetByPeriodRange looks up a budget by name, owner, period, and
// exact date window. Rollover uses it to tolerate re-imported data where the
// parent link was lost.
func (s *SQLiteStorage) FindBudgetByPeriodRange(ctx context.Context, name string, userID int64, period model.BudgetPeriod, start, end time.Time) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findBudgetByPeriodRangeTx(ctx, s.db, name, userID, period, start, end)
}

func (s *SQLiteStorage) findBudgetByPeriodRangeTx(ctx context.Context, q queryable, name string, userID int64, period model.BudgetPeriod, start, end time.Time) (*model.Budget, error) {
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	if err := validateID(userID, "userID"); err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE name = ? AND user_id = ? AND period = ? AND start_date = ? AND end_date = ?
		LIMIT 1`,
		name, userID, string(period), start, end)

	budget, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("budget %q for period %v..%v: %w", name, start, end, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan budget: %w", err)
	}

	if err := s.loadBudgetLinksTx(ctx, q, budget); err != nil {
		return nil, err
	}

	return budget, nil
}

// UpdateBudget writes every mutable field and rewrites the link sets.
func (s *SQLiteStorage) UpdateBudget(ctx context.Context, budget *model.Budget) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBudget(budget); err != nil {
		return err
	}
	return s.updateBudgetTx(ctx, s.db, budget)
}

func (s *SQLiteStorage) updateBudgetTx(ctx context.Context, q queryable, budget *model.Budget) error {
	result, err := q.ExecContext(ctx, `
		UPDATE budgets
		SET name = ?, amount = ?, daily_limit = ?, daily_limit_mode = ?,
		    range_mode = ?, period = ?, start_date = ?, end_date = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		budget.Name, budget.Amount, nullableFloat(budget.DailyLimit),
		string(budget.DailyLimitMode), string(budget.RangeMode),
		nullable(string(budget.Period)), budget.StartDate, budget.EndDate,
		budget.ID)
	if err != nil {
		return fmt.Errorf("failed to update budget: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("budget %d: %w", budget.ID, common.ErrNotFound)
	}

	return s.replaceBudgetLinksTx(ctx, q, budget)
}

// SetBudgetLatestPeriod flips the is_latest_period flag on one budget.
func (s *SQLiteStorage) SetBudgetLatestPeriod(ctx context.Context, id int64, latest bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.setBudgetLatestPeriodTx(ctx, s.db, id, latest)
}

func (s *SQLiteStorage) setBudgetLatestPeriodTx(ctx context.Context, q queryable, id int64, latest bool) error {
	if err := validateID(id, "id"); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `
		UPDATE budgets
		SET is_latest_period = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, latest, id)
	if err != nil {
		return fmt.Errorf("failed to set latest period flag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("budget %d: %w", id, common.ErrNotFound)
	}

	return nil
}

// SetBudgetSpent caches a freshly computed spend total on the budget row.
func (s *SQLiteStorage) SetBudgetSpent(ctx context.Context, id int64, spent float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.setBudgetSpentTx(ctx, s.db, id, spent)
}

func (s *SQLiteStorage) setBudgetSpentTx(ctx context.Context, q queryable, id int64, spent float64) error {
	if err := validateID(id, "id"); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `
		UPDATE budgets
		SET spent = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, spent, id)
	if err != nil {
		return fmt.Errorf("failed to set budget spent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("budget %d: %w", id, common.ErrNotFound)
	}

	return nil
}

// SetBudgetDayStats stores the per-day over/within tallies from the nightly
// stats job.
func (s *SQLiteStorage) SetBudgetDayStats(ctx context.Context, id int64, overDays, withinDays int, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.setBudgetDayStatsTx(ctx, s.db, id, overDays, withinDays, at)
}

func (s *SQLiteStorage) setBudgetDayStatsTx(ctx context.Context, q queryable, id int64, overDays, withinDays int, at time.Time) error {
	if err := validateID(id, "id"); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `
		UPDATE budgets
		SET over_budget_days = ?, within_budget_days = ?, last_stats_update = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, overDays, withinDays, at, id)
	if err != nil {
		return fmt.Errorf("failed to set budget day stats: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("budget %d: %w", id, common.ErrNotFound)
	}

	return nil
}

// DeleteBudget removes a budget; junction rows cascade.
func (s *SQLiteStorage) DeleteBudget(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteBudgetTx(ctx, s.db, id)
}

func (s *SQLiteStorage) deleteBudgetTx(ctx context.Context, q queryable, id int64) error {
	if err := validateID(id, "id"); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("budget %d: %w", id, common.ErrNotFound)
	}

	return nil
}
