package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mkalis/bursar/internal/common"
	"github.com/mkalis/bursar/internal/model"
	"github.com/mkalis/bursar/internal/service"
)

const transactionColumns = `
	id, description, amount, transaction_type, COALESCE(category, ''),
	COALESCE(note, ''), transaction_date, account_id, exclude_from_budget,
	COALESCE(installment_group_id, ''), COALESCE(installment_number, 0),
	COALESCE(total_installments, 0), COALESCE(total_amount, 0),
	COALESCE(remaining_amount, 0), COALESCE(annual_interest_rate, 0),
	COALESCE(transfer_pair_id, ''), COALESCE(recurring_group_id, ''),
	is_from_recurring, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*model.Transaction, error) {
	var txn model.Transaction
	var txnType string
	err := row.Scan(&txn.ID, &txn.Description, &txn.Amount, &txnType, &txn.Category,
		&txn.Note, &txn.Date, &txn.AccountID, &txn.ExcludeFromBudget,
		&txn.InstallmentGroupID, &txn.InstallmentNumber, &txn.TotalInstallments,
		&txn.TotalAmount, &txn.RemainingAmount, &txn.AnnualInterestRate,
		&txn.TransferPairID, &txn.RecurringGroupID, &txn.IsFromRecurring,
		&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	txn.Type = model.TransactionType(txnType)
	return &txn, nil
}

// nullable converts an empty string to a SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableInt converts zero to a SQL NULL.
func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// nullableFloat converts zero to a SQL NULL.
func nullableFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

// CreateTransaction inserts a ledger row and sets its generated id.
// It does not touch the account balance; that is the ledger engine's job,
// done in the same database transaction.
func (s *SQLiteStorage) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}
	return s.createTransactionTx(ctx, s.db, txn)
}

func (s *SQLiteStorage) createTransactionTx(ctx context.Context, q queryable, txn *model.Transaction) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO transactions (
			description, amount, transaction_type, category, note,
			transaction_date, account_id, exclude_from_budget,
			installment_group_id, installment_number, total_installments,
			total_amount, remaining_amount, annual_interest_rate,
			transfer_pair_id, recurring_group_id, is_from_recurring
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.Description, txn.Amount, string(txn.Type), nullable(txn.Category),
		nullable(txn.Note), txn.Date, txn.AccountID, txn.ExcludeFromBudget,
		nullable(txn.InstallmentGroupID), nullableInt(txn.InstallmentNumber),
		nullableInt(txn.TotalInstallments), nullableFloat(txn.TotalAmount),
		nullableFloat(txn.RemainingAmount), nullableFloat(txn.AnnualInterestRate),
		nullable(txn.TransferPairID), nullable(txn.RecurringGroupID),
		txn.IsFromRecurring)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transaction id: %w", err)
	}
	txn.ID = id

	slog.Debug("created transaction", "id", id, "type", txn.Type, "amount", txn.Amount)
	return nil
}

// GetTransaction returns a transaction by id.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTransactionTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getTransactionTx(ctx context.Context, q queryable, id int64) (*model.Transaction, error) {
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)

	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	return txn, nil
}

// GetTransactions returns transactions matching the filter, newest first.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTransactionsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) getTransactionsTx(ctx context.Context, q queryable, filter service.TransactionFilter) ([]model.Transaction, error) {
	var conditions []string
	var args []any

	if filter.StartDate != nil {
		conditions = append(conditions, "transaction_date >= ?")
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		conditions = append(conditions, "transaction_date <= ?")
		args = append(args, *filter.EndDate)
	}
	if len(filter.AccountIDs) > 0 {
		placeholders := strings.Repeat("?,", len(filter.AccountIDs))
		conditions = append(conditions, "account_id IN ("+placeholders[:len(placeholders)-1]+")")
		for _, id := range filter.AccountIDs {
			args = append(args, id)
		}
	}
	if len(filter.Types) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Types))
		conditions = append(conditions, "transaction_type IN ("+placeholders[:len(placeholders)-1]+")")
		for _, t := range filter.Types {
			args = append(args, string(t))
		}
	}
	if filter.RecurringGroupID != "" {
		conditions = append(conditions, "recurring_group_id = ?")
		args = append(args, filter.RecurringGroupID)
	}
	if !filter.IncludeExcluded {
		conditions = append(conditions, "exclude_from_budget = 0")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY transaction_date DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *txn)
	}

	return transactions, rows.Err()
}

// GetTransactionsByTransferPair returns both sides of a transfer pair.
func (s *SQLiteStorage) GetTransactionsByTransferPair(ctx context.Context, pairID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(pairID, "pairID"); err != nil {
		return nil, err
	}
	return s.getTransactionsByGroupTx(ctx, s.db, "transfer_pair_id", pairID)
}

// GetTransactionsByInstallmentGroup returns all rows of an installment group,
// ordered by installment number.
func (s *SQLiteStorage) GetTransactionsByInstallmentGroup(ctx context.Context, groupID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(groupID, "groupID"); err != nil {
		return nil, err
	}
	return s.getTransactionsByGroupTx(ctx, s.db, "installment_group_id", groupID)
}

// GetTransactionsByRecurringGroup returns all transactions generated from one
// recurring schedule.
func (s *SQLiteStorage) GetTransactionsByRecurringGroup(ctx context.Context, groupID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(groupID, "groupID"); err != nil {
		return nil, err
	}
	return s.getTransactionsByGroupTx(ctx, s.db, "recurring_group_id", groupID)
}

func (s *SQLiteStorage) getTransactionsByGroupTx(ctx context.Context, q queryable, column, groupID string) ([]model.Transaction, error) {
	// column is one of three fixed names supplied by the wrappers above,
	// never caller input.
	order := "transaction_date ASC, id ASC"
	if column == "installment_group_id" {
		order = "installment_number ASC"
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE `+column+` = ? ORDER BY `+order,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *txn)
	}

	return transactions, rows.Err()
}

// UpdateTransaction writes every mutable field of a transaction row.
func (s *SQLiteStorage) UpdateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}
	return s.updateTransactionTx(ctx, s.db, txn)
}

func (s *SQLiteStorage) updateTransactionTx(ctx context.Context, q queryable, txn *model.Transaction) error {
	result, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET description = ?, amount = ?, transaction_type = ?, category = ?,
		    note = ?, transaction_date = ?, account_id = ?, exclude_from_budget = ?,
		    remaining_amount = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		txn.Description, txn.Amount, string(txn.Type), nullable(txn.Category),
		nullable(txn.Note), txn.Date, txn.AccountID, txn.ExcludeFromBudget,
		nullableFloat(txn.RemainingAmount), txn.ID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %d: %w", txn.ID, common.ErrNotFound)
	}

	return nil
}

// DeleteTransaction removes a single ledger row.
func (s *SQLiteStorage) DeleteTransaction(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteTransactionTx(ctx, s.db, id)
}

func (s *SQLiteStorage) deleteTransactionTx(ctx context.Context, q queryable, id int64) error {
	if err := validateID(id, "id"); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %d: %w", id, common.ErrNotFound)
	}

	return nil
}

// SumSpent totals debit and installment amounts inside the filter's window
// and scope, skipping rows flagged exclude_from_budget.
func (s *SQLiteStorage) SumSpent(ctx context.Context, filter service.SpendFilter) (float64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.sumSpentTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) sumSpentTx(ctx context.Context, q queryable, filter service.SpendFilter) (float64, error) {
	if len(filter.AccountIDs) == 0 {
		return 0, nil
	}
	if filter.End.Before(filter.Start) {
		return 0, fmt.Errorf("%w: %v is after %v", ErrInvalidDateRange, filter.Start, filter.End)
	}

	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE transaction_type IN ('debit', 'installment')
		  AND exclude_from_budget = 0
		  AND transaction_date >= ?
		  AND transaction_date <= ?`
	args := []any{filter.Start, filter.End}

	placeholders := strings.Repeat("?,", len(filter.AccountIDs))
	query += " AND account_id IN (" + placeholders[:len(placeholders)-1] + ")"
	for _, id := range filter.AccountIDs {
		args = append(args, id)
	}

	if len(filter.Categories) > 0 {
		placeholders = strings.Repeat("?,", len(filter.Categories))
		query += " AND category IN (" + placeholders[:len(placeholders)-1] + ")"
		for _, c := range filter.Categories {
			args = append(args, c)
		}
	}

	var total float64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum spend: %w", err)
	}

	return total, nil
}

// SumBalanceEffects returns the signed sum of all transactions on an account,
// the value its balance must equal under the ledger invariant.
func (s *SQLiteStorage) SumBalanceEffects(ctx context.Context, accountID int64) (float64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.sumBalanceEffectsTx(ctx, s.db, accountID)
}

func (s *SQLiteStorage) sumBalanceEffectsTx(ctx context.Context, q queryable, accountID int64) (float64, error) {
	if err := validateID(accountID, "accountID"); err != nil {
		return 0, err
	}

	var total float64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(
			CASE WHEN transaction_type IN ('credit', 'transfer_in')
			     THEN amount ELSE -amount END), 0)
		FROM transactions
		WHERE account_id = ?`, accountID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum balance effects: %w", err)
	}

	return total, nil
}

// GetTransactionDescriptions returns the distinct non-empty descriptions of a
// user's transactions, for autocomplete upstream.
func (s *SQLiteStorage) GetTransactionDescriptions(ctx context.Context, userID int64) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTransactionDescriptionsTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) getTransactionDescriptionsTx(ctx context.Context, q queryable, userID int64) ([]string, error) {
	if err := validateID(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT t.description
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.user_id = ? AND t.description != ''
		ORDER BY t.description`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query descriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var descriptions []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan description: %w", err)
		}
		descriptions = append(descriptions, d)
	}

	return descriptions, rows.Err()
}
