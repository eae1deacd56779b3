package budget

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkalis/bursar/internal/model"
	"github.com/mkalis/bursar/internal/storage"
)

func createTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func createTestAccount(t *testing.T, store *storage.SQLiteStorage, name string, userID int64) *model.Account {
	t.Helper()

	account := &model.Account{
		Name:     name,
		Type:     model.AccountBank,
		Currency: "USD",
		UserID:   userID,
		Balance:  0,
	}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

func addSpend(t *testing.T, store *storage.SQLiteStorage, accountID int64, amount float64, category string, date time.Time) *model.Transaction {
	t.Helper()

	txn := &model.Transaction{
		Description: "test spend",
		Amount:      amount,
		Type:        model.TypeDebit,
		Category:    category,
		Date:        date,
		AccountID:   accountID,
	}
	require.NoError(t, store.CreateTransaction(context.Background(), txn))
	return txn
}

func monthlyBudget(userID int64, amount float64) *model.Budget {
	start, end := PeriodRange(model.PeriodMonthly, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	return &model.Budget{
		Name:           "Groceries",
		Amount:         amount,
		DailyLimitMode: model.DailyLimitAuto,
		RangeMode:      model.RangeRecurring,
		Period:         model.PeriodMonthly,
		StartDate:      start,
		EndDate:        end,
		UserID:         userID,
		IsLatestPeriod: true,
	}
}

func TestComputeSpentGlobalBudget(t *testing.T) {
	store := createTestStorage(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	a := createTestAccount(t, store, "Checking", 1)
	b := createTestAccount(t, store, "Savings", 1)
	other := createTestAccount(t, store, "Other user", 2)

	mar := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	addSpend(t, store, a.ID, 500, "food", mar)
	addSpend(t, store, b.ID, 350, "travel", mar)
	addSpend(t, store, other.ID, 999, "food", mar)

	// Credits and excluded rows never count.
	credit := &model.Transaction{
		Description: "salary", Amount: 2000, Type: model.TypeCredit,
		Date: mar, AccountID: a.ID,
	}
	require.NoError(t, store.CreateTransaction(ctx, credit))
	excluded := &model.Transaction{
		Description: "reimbursed", Amount: 100, Type: model.TypeDebit,
		Date: mar, AccountID: a.ID, ExcludeFromBudget: true,
	}
	require.NoError(t, store.CreateTransaction(ctx, excluded))

	// Outside the window.
	addSpend(t, store, a.ID, 77, "food", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))

	budget := monthlyBudget(1, 1000)
	require.NoError(t, store.CreateBudget(ctx, budget))

	spent, err := agg.ComputeSpent(ctx, budget)
	require.NoError(t, err)
	assert.InDelta(t, 850, spent, 0.001)
}

func TestComputeSpentScopedBudget(t *testing.T) {
	store := createTestStorage(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	a := createTestAccount(t, store, "Checking", 1)
	b := createTestAccount(t, store, "Savings", 1)

	mar := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	addSpend(t, store, a.ID, 200, "food", mar)
	addSpend(t, store, a.ID, 60, "travel", mar)
	addSpend(t, store, b.ID, 500, "food", mar)

	budget := monthlyBudget(1, 300)
	budget.AccountIDs = []int64{a.ID}
	budget.Categories = []string{"food"}
	require.NoError(t, store.CreateBudget(ctx, budget))

	// Only account A's food spend counts.
	spent, err := agg.ComputeSpent(ctx, budget)
	require.NoError(t, err)
	assert.InDelta(t, 200, spent, 0.001)
}

func TestComputeSpentFromTransactions(t *testing.T) {
	budget := monthlyBudget(1, 1000)
	budget.Categories = []string{"food"}

	inWindow := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	txns := []model.Transaction{
		{Amount: 100, Type: model.TypeDebit, Category: "food", Date: inWindow, AccountID: 1},
		{Amount: 40, Type: model.TypeInstallment, Category: "food", Date: inWindow, AccountID: 1},
		{Amount: 30, Type: model.TypeDebit, Category: "travel", Date: inWindow, AccountID: 1},
		{Amount: 25, Type: model.TypeDebit, Category: "food", Date: inWindow, AccountID: 1, ExcludeFromBudget: true},
		{Amount: 10, Type: model.TypeCredit, Category: "food", Date: inWindow, AccountID: 1},
		{Amount: 99, Type: model.TypeDebit, Category: "food", Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), AccountID: 1},
	}

	assert.InDelta(t, 140, ComputeSpentFromTransactions(budget, txns), 0.001)
}

func TestBuildReport(t *testing.T) {
	store := createTestStorage(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	account := createTestAccount(t, store, "Checking", 1)
	addSpend(t, store, account.ID, 300, "food", time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))
	addSpend(t, store, account.ID, 150, "food", time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC))

	budget := monthlyBudget(1, 1000)
	require.NoError(t, store.CreateBudget(ctx, budget))

	// Day 10 of a 31-day window, 450 spent.
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	report, err := agg.BuildReport(ctx, budget, now)
	require.NoError(t, err)

	assert.InDelta(t, 1000, report.Stats.TotalBudget, 0.001)
	assert.InDelta(t, 450, report.Stats.TotalSpent, 0.001)
	assert.InDelta(t, 550, report.Stats.Remaining, 0.001)
	assert.InDelta(t, 45, report.Stats.DailyAverage, 0.001)
	assert.InDelta(t, 1395, report.Stats.ProjectedSpending, 0.001)
	assert.Equal(t, StatusOnTrack, report.Stats.Status)
	assert.Len(t, report.Transactions, 2)
}

func TestReportStatusThresholds(t *testing.T) {
	store := createTestStorage(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	account := createTestAccount(t, store, "Checking", 1)
	addSpend(t, store, account.ID, 850, "food", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))

	budget := monthlyBudget(1, 1000)
	require.NoError(t, store.CreateBudget(ctx, budget))

	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	report, err := agg.BuildReport(ctx, budget, now)
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, report.Stats.Status)

	addSpend(t, store, account.ID, 200, "food", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	report, err = agg.BuildReport(ctx, budget, now)
	require.NoError(t, err)
	assert.Equal(t, StatusOverBudget, report.Stats.Status)
}

func TestComputeDayStats(t *testing.T) {
	store := createTestStorage(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	account := createTestAccount(t, store, "Checking", 1)

	// Auto limit: 310 over 31 days = 10/day.
	budget := monthlyBudget(1, 310)
	require.NoError(t, store.CreateBudget(ctx, budget))

	addSpend(t, store, account.ID, 25, "food", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	addSpend(t, store, account.ID, 5, "food", time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC))
	addSpend(t, store, account.ID, 6, "food", time.Date(2024, 3, 2, 20, 0, 0, 0, time.UTC))
	// Day 3 has no spend. Day 4 is today and must not count.
	addSpend(t, store, account.ID, 500, "food", time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))

	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	stats, err := agg.ComputeDayStats(ctx, budget, now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.OverBudgetDays)
	assert.Equal(t, 1, stats.WithinBudgetDays)
}

func TestComputeDayStatsManualLimit(t *testing.T) {
	store := createTestStorage(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	account := createTestAccount(t, store, "Checking", 1)

	budget := monthlyBudget(1, 310)
	budget.DailyLimitMode = model.DailyLimitManual
	budget.DailyLimit = 30
	require.NoError(t, store.CreateBudget(ctx, budget))

	addSpend(t, store, account.ID, 25, "food", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	addSpend(t, store, account.ID, 35, "food", time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC))

	now := time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC)
	stats, err := agg.ComputeDayStats(ctx, budget, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OverBudgetDays)
	assert.Equal(t, 1, stats.WithinBudgetDays)
}

func TestComputeDayStatsBeforeAnyFullDay(t *testing.T) {
	store := createTestStorage(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	budget := monthlyBudget(1, 310)
	require.NoError(t, store.CreateBudget(ctx, budget))

	// First day of the window: nothing has fully elapsed.
	stats, err := agg.ComputeDayStats(ctx, budget, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, stats.OverBudgetDays)
	assert.Zero(t, stats.WithinBudgetDays)
}

func TestUpdateAllActiveBudgetsStats(t *testing.T) {
	store := createTestStorage(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	account := createTestAccount(t, store, "Checking", 1)
	addSpend(t, store, account.ID, 120, "food", time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC))

	budget := monthlyBudget(1, 310)
	require.NoError(t, store.CreateBudget(ctx, budget))

	// A budget whose window already closed is not refreshed.
	stale := monthlyBudget(1, 100)
	stale.Name = "Old"
	stale.StartDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stale.EndDate = time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC)
	stale.IsLatestPeriod = false
	require.NoError(t, store.CreateBudget(ctx, stale))

	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	updated, err := agg.UpdateAllActiveBudgetsStats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	refreshed, err := store.GetBudget(ctx, budget.ID)
	require.NoError(t, err)
	assert.InDelta(t, 120, refreshed.Spent, 0.001)
	assert.Equal(t, 1, refreshed.OverBudgetDays)
	assert.Equal(t, 2, refreshed.WithinBudgetDays)
	require.NotNil(t, refreshed.LastStatsUpdate)
}

func TestCreateBudgetValidation(t *testing.T) {
	store := createTestStorage(t)
	manager := NewManager(store)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input CreateInput
	}{
		{
			name: "recurring without period",
			input: CreateInput{
				Name: "A", Amount: 100, UserID: 1,
				DailyLimitMode: model.DailyLimitAuto,
				RangeMode:      model.RangeRecurring,
			},
		},
		{
			name: "custom without dates",
			input: CreateInput{
				Name: "B", Amount: 100, UserID: 1,
				DailyLimitMode: model.DailyLimitAuto,
				RangeMode:      model.RangeCustom,
			},
		},
		{
			name: "manual limit without value",
			input: CreateInput{
				Name: "C", Amount: 100, UserID: 1,
				DailyLimitMode: model.DailyLimitManual,
				RangeMode:      model.RangeRecurring,
				Period:         model.PeriodMonthly,
			},
		},
		{
			name: "non-positive amount",
			input: CreateInput{
				Name: "D", Amount: 0, UserID: 1,
				DailyLimitMode: model.DailyLimitAuto,
				RangeMode:      model.RangeRecurring,
				Period:         model.PeriodMonthly,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.Create(ctx, tt.input, now)
			assert.Error(t, err)
		})
	}
}

func TestCreateRecurringBudgetGetsCurrentPeriod(t *testing.T) {
	store := createTestStorage(t)
	manager := NewManager(store)
	ctx := context.Background()

	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	budget, err := manager.Create(ctx, CreateInput{
		Name: "Groceries", Amount: 500, UserID: 1,
		DailyLimitMode: model.DailyLimitAuto,
		RangeMode:      model.RangeRecurring,
		Period:         model.PeriodMonthly,
	}, now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), budget.StartDate.UTC())
	assert.Equal(t, time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC), budget.EndDate.UTC())
	assert.True(t, budget.IsLatestPeriod)
}
