package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mkalis/bursar/internal/model"
	"github.com/mkalis/bursar/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Validate input
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't benefit from multiple connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// queryable is an interface satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Account methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccount(account); err != nil {
		return err
	}
	return t.storage.createAccountTx(ctx, t.tx, account)
}

func (t *sqliteTransaction) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getAccountTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetAccountsByUser(ctx context.Context, userID int64) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getAccountsByUserTx(ctx, t.tx, userID)
}

func (t *sqliteTransaction) GetAllAccounts(ctx context.Context) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getAllAccountsTx(ctx, t.tx)
}

func (t *sqliteTransaction) UpdateAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccount(account); err != nil {
		return err
	}
	return t.storage.updateAccountTx(ctx, t.tx, account)
}

func (t *sqliteTransaction) ApplyBalanceDelta(ctx context.Context, accountID int64, delta float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.applyBalanceDeltaTx(ctx, t.tx, accountID, delta)
}

func (t *sqliteTransaction) SetAccountBalance(ctx context.Context, accountID int64, balance float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.setAccountBalanceTx(ctx, t.tx, accountID, balance)
}

func (t *sqliteTransaction) DeleteAccount(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.deleteAccountTx(ctx, t.tx, id)
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}
	return t.storage.createTransactionTx(ctx, t.tx, txn)
}

func (t *sqliteTransaction) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getTransactionTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getTransactionsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) GetTransactionsByTransferPair(ctx context.Context, pairID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(pairID, "pairID"); err != nil {
		return nil, err
	}
	return t.storage.getTransactionsByGroupTx(ctx, t.tx, "transfer_pair_id", pairID)
}

func (t *sqliteTransaction) GetTransactionsByInstallmentGroup(ctx context.Context, groupID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(groupID, "groupID"); err != nil {
		return nil, err
	}
	return t.storage.getTransactionsByGroupTx(ctx, t.tx, "installment_group_id", groupID)
}

func (t *sqliteTransaction) GetTransactionsByRecurringGroup(ctx context.Context, groupID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(groupID, "groupID"); err != nil {
		return nil, err
	}
	return t.storage.getTransactionsByGroupTx(ctx, t.tx, "recurring_group_id", groupID)
}

func (t *sqliteTransaction) UpdateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}
	return t.storage.updateTransactionTx(ctx, t.tx, txn)
}

func (t *sqliteTransaction) DeleteTransaction(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.deleteTransactionTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) SumSpent(ctx context.Context, filter service.SpendFilter) (float64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.sumSpentTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) SumBalanceEffects(ctx context.Context, accountID int64) (float64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.sumBalanceEffectsTx(ctx, t.tx, accountID)
}

func (t *sqliteTransaction) GetTransactionDescriptions(ctx context.Context, userID int64) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getTransactionDescriptionsTx(ctx, t.tx, userID)
}

// Recurring expense methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) CreateRecurringExpense(ctx context.Context, expense *model.RecurringExpense) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecurringExpense(expense); err != nil {
		return err
	}
	return t.storage.createRecurringExpenseTx(ctx, t.tx, expense)
}

func (t *sqliteTransaction) GetRecurringExpense(ctx context.Context, id int64) (*model.RecurringExpense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getRecurringExpenseTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetActiveRecurringExpenses(ctx context.Context) ([]model.RecurringExpense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getActiveRecurringExpensesTx(ctx, t.tx)
}

func (t *sqliteTransaction) GetRecurringExpensesByUser(ctx context.Context, userID int64) ([]model.RecurringExpense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getRecurringExpensesByUserTx(ctx, t.tx, userID)
}

func (t *sqliteTransaction) UpdateRecurringExpense(ctx context.Context, expense *model.RecurringExpense) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecurringExpense(expense); err != nil {
		return err
	}
	return t.storage.updateRecurringExpenseTx(ctx, t.tx, expense)
}

func (t *sqliteTransaction) DeleteRecurringExpense(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.deleteRecurringExpenseTx(ctx, t.tx, id)
}

// Budget methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) CreateBudget(ctx context.Context, budget *model.Budget) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBudget(budget); err != nil {
		return err
	}
	return t.storage.createBudgetTx(ctx, t.tx, budget)
}

func (t *sqliteTransaction) GetBudget(ctx context.Context, id int64) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getBudgetTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetBudgetsByUser(ctx context.Context, userID int64) ([]model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getBudgetsByUserTx(ctx, t.tx, userID)
}

func (t *sqliteTransaction) GetActiveBudgets(ctx context.Context, asOf time.Time) ([]model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getActiveBudgetsTx(ctx, t.tx, asOf)
}

func (t *sqliteTransaction) GetRecurringBudgetsDue(ctx context.Context, asOf time.Time) ([]model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getRecurringBudgetsDueTx(ctx, t.tx, asOf)
}

func (t *sqliteTransaction) FindChildBudget(ctx context.Context, parentBudgetID int64) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.findChildBudgetTx(ctx, t.tx, parentBudgetID)
}

func (t *sqliteTransaction) FindBudgetByPeriodRange(ctx context.Context, name string, userID int64, period model.BudgetPeriod, start, end time.Time) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.findBudgetByPeriodRangeTx(ctx, t.tx, name, userID, period, start, end)
}

func (t *sqliteTransaction) UpdateBudget(ctx context.Context, budget *model.Budget) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBudget(budget); err != nil {
		return err
	}
	return t.storage.updateBudgetTx(ctx, t.tx, budget)
}

func (t *sqliteTransaction) SetBudgetLatestPeriod(ctx context.Context, id int64, latest bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.setBudgetLatestPeriodTx(ctx, t.tx, id, latest)
}

func (t *sqliteTransaction) SetBudgetSpent(ctx context.Context, id int64, spent float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.setBudgetSpentTx(ctx, t.tx, id, spent)
}

func (t *sqliteTransaction) SetBudgetDayStats(ctx context.Context, id int64, overDays, withinDays int, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.setBudgetDayStatsTx(ctx, t.tx, id, overDays, withinDays, at)
}

func (t *sqliteTransaction) DeleteBudget(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.deleteBudgetTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
