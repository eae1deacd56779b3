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

// CreateAccount inserts a new account and sets its generated id.
func (s *SQLiteStorage) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccount(account); err != nil {
		return err
	}
	return s.createAccountTx(ctx, s.db, account)
}

func (s *SQLiteStorage) createAccountTx(ctx context.Context, q queryable, account *model.Account) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO accounts (name, account_type, balance, currency, description, user_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		account.Name, string(account.Type), account.Balance, account.Currency,
		account.Description, account.UserID)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get account id: %w", err)
	}
	account.ID = id

	slog.Debug("created account", "id", id, "name", account.Name)
	return nil
}

// GetAccount returns an account by id.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getAccountTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getAccountTx(ctx context.Context, q queryable, id int64) (*model.Account, error) {
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx, `
		SELECT id, name, account_type, balance, currency, COALESCE(description, ''),
		       user_id, created_at, updated_at
		FROM accounts
		WHERE id = ?`, id)

	var account model.Account
	var accountType string
	err := row.Scan(&account.ID, &account.Name, &accountType, &account.Balance,
		&account.Currency, &account.Description, &account.UserID,
		&account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	account.Type = model.AccountType(accountType)

	return &account, nil
}

// GetAccountsByUser returns every account owned by a user, ordered by name.
func (s *SQLiteStorage) GetAccountsByUser(ctx context.Context, userID int64) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getAccountsByUserTx(ctx, s.db, userID)
}

func (s *SQLiteStorage) getAccountsByUserTx(ctx context.Context, q queryable, userID int64) ([]model.Account, error) {
	if err := validateID(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, name, account_type, balance, currency, COALESCE(description, ''),
		       user_id, created_at, updated_at
		FROM accounts
		WHERE user_id = ?
		ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		var account model.Account
		var accountType string
		if err := rows.Scan(&account.ID, &account.Name, &accountType, &account.Balance,
			&account.Currency, &account.Description, &account.UserID,
			&account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		account.Type = model.AccountType(accountType)
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// GetAllAccounts returns every account in the database, ordered by user
// then name. Used by the balance audit.
func (s *SQLiteStorage) GetAllAccounts(ctx context.Context) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getAllAccountsTx(ctx, s.db)
}

func (s *SQLiteStorage) getAllAccountsTx(ctx context.Context, q queryable) ([]model.Account, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, account_type, balance, currency, COALESCE(description, ''),
		       user_id, created_at, updated_at
		FROM accounts
		ORDER BY user_id, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		var account model.Account
		var accountType string
		if err := rows.Scan(&account.ID, &account.Name, &accountType, &account.Balance,
			&account.Currency, &account.Description, &account.UserID,
			&account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		account.Type = model.AccountType(accountType)
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// UpdateAccount persists name, type, currency, and description changes.
// Balance is deliberately not written here; it only moves through
// ApplyBalanceDelta or SetAccountBalance.
func (s *SQLiteStorage) UpdateAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccount(account); err != nil {
		return err
	}
	return s.updateAccountTx(ctx, s.db, account)
}

func (s *SQLiteStorage) updateAccountTx(ctx context.Context, q queryable, account *model.Account) error {
	result, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET name = ?, account_type = ?, currency = ?, description = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		account.Name, string(account.Type), account.Currency, account.Description,
		account.ID)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %d: %w", account.ID, common.ErrNotFound)
	}

	return nil
}

// ApplyBalanceDelta adds a signed delta to an account's running balance.
func (s *SQLiteStorage) ApplyBalanceDelta(ctx context.Context, accountID int64, delta float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.applyBalanceDeltaTx(ctx, s.db, accountID, delta)
}

func (s *SQLiteStorage) applyBalanceDeltaTx(ctx context.Context, q queryable, accountID int64, delta float64) error {
	if err := validateID(accountID, "accountID"); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, delta, accountID)
	if err != nil {
		return fmt.Errorf("failed to apply balance delta: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %d: %w", accountID, common.ErrNotFound)
	}

	slog.Debug("applied balance delta", "account_id", accountID, "delta", delta)
	return nil
}

// SetAccountBalance overwrites an account's balance. Reserved for creation,
// import, and balance repair; ledger operations go through ApplyBalanceDelta.
func (s *SQLiteStorage) SetAccountBalance(ctx context.Context, accountID int64, balance float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.setAccountBalanceTx(ctx, s.db, accountID, balance)
}

func (s *SQLiteStorage) setAccountBalanceTx(ctx context.Context, q queryable, accountID int64, balance float64) error {
	if err := validateID(accountID, "accountID"); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET balance = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, balance, accountID)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %d: %w", accountID, common.ErrNotFound)
	}

	return nil
}

// DeleteAccount removes an account; its transactions cascade.
func (s *SQLiteStorage) DeleteAccount(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteAccountTx(ctx, s.db, id)
}

func (s *SQLiteStorage) deleteAccountTx(ctx context.Context, q queryable, id int64) error {
	if err := validateID(id, "id"); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %d: %w", id, common.ErrNotFound)
	}

	return nil
}
