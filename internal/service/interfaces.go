// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/mkalis/bursar/internal/model"
)

// TransactionFilter defines filtering options for transaction queries.
type TransactionFilter struct {
	StartDate        *time.Time
	EndDate          *time.Time
	AccountIDs       []int64
	Types            []model.TransactionType
	RecurringGroupID string
	IncludeExcluded  bool
	Limit            int
	Offset           int
}

// SpendFilter scopes a spend aggregation: debit and installment transactions
// not excluded from budgets, inside [Start, End], on the given accounts, and
// optionally restricted to a category set (empty = all categories).
type SpendFilter struct {
	Start      time.Time
	End        time.Time
	AccountIDs []int64
	Categories []string
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Account operations
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountsByUser(ctx context.Context, userID int64) ([]model.Account, error)
	GetAllAccounts(ctx context.Context) ([]model.Account, error)
	UpdateAccount(ctx context.Context, account *model.Account) error
	ApplyBalanceDelta(ctx context.Context, accountID int64, delta float64) error
	SetAccountBalance(ctx context.Context, accountID int64, balance float64) error
	DeleteAccount(ctx context.Context, id int64) error

	// Transaction operations
	CreateTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	GetTransactionsByTransferPair(ctx context.Context, pairID string) ([]model.Transaction, error)
	GetTransactionsByInstallmentGroup(ctx context.Context, groupID string) ([]model.Transaction, error)
	GetTransactionsByRecurringGroup(ctx context.Context, groupID string) ([]model.Transaction, error)
	UpdateTransaction(ctx context.Context, txn *model.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	SumSpent(ctx context.Context, filter SpendFilter) (float64, error)
	SumBalanceEffects(ctx context.Context, accountID int64) (float64, error)
	GetTransactionDescriptions(ctx context.Context, userID int64) ([]string, error)

	// Recurring expense operations
	CreateRecurringExpense(ctx context.Context, expense *model.RecurringExpense) error
	GetRecurringExpense(ctx context.Context, id int64) (*model.RecurringExpense, error)
	GetActiveRecurringExpenses(ctx context.Context) ([]model.RecurringExpense, error)
	GetRecurringExpensesByUser(ctx context.Context, userID int64) ([]model.RecurringExpense, error)
	UpdateRecurringExpense(ctx context.Context, expense *model.RecurringExpense) error
	DeleteRecurringExpense(ctx context.Context, id int64) error

	// Budget operations
	CreateBudget(ctx context.Context, budget *model.Budget) error
	GetBudget(ctx context.Context, id int64) (*model.Budget, error)
	GetBudgetsByUser(ctx context.Context, userID int64) ([]model.Budget, error)
	GetActiveBudgets(ctx context.Context, asOf time.Time) ([]model.Budget, error)
	GetRecurringBudgetsDue(ctx context.Context, asOf time.Time) ([]model.Budget, error)
	FindChildBudget(ctx context.Context, parentBudgetID int64) (*model.Budget, error)
	FindBudgetByPeriodRange(ctx context.Context, name string, userID int64, period model.BudgetPeriod, start, end time.Time) (*model.Budget, error)
	UpdateBudget(ctx context.Context, budget *model.Budget) error
	SetBudgetLatestPeriod(ctx context.Context, id int64, latest bool) error
	SetBudgetSpent(ctx context.Context, id int64, spent float64) error
	SetBudgetDayStats(ctx context.Context, id int64, overDays, withinDays int, at time.Time) error
	DeleteBudget(ctx context.Context, id int64) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}
