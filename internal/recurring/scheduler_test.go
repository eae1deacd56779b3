package recurring

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

func createTestAccount(t *testing.T, store *storage.SQLiteStorage, balance float64) *model.Account {
	t.Helper()

	account := &model.Account{
		Name:     "Checking",
		Type:     model.AccountBank,
		Currency: "USD",
		UserID:   1,
		Balance:  balance,
	}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

func accountBalance(t *testing.T, store *storage.SQLiteStorage, id int64) float64 {
	t.Helper()

	account, err := store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}

func TestTargetDateForMonth(t *testing.T) {
	tests := []struct {
		name  string
		today time.Time
		day   int
		want  time.Time
	}{
		{
			name:  "plain day",
			today: time.Date(2024, 3, 20, 15, 30, 0, 0, time.UTC),
			day:   15,
			want:  time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "day 31 clamps to April 30",
			today: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
			day:   31,
			want:  time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "day 30 clamps to leap February 29",
			today: time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
			day:   30,
			want:  time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "day 30 clamps to common February 28",
			today: time.Date(2023, 2, 5, 0, 0, 0, 0, time.UTC),
			day:   30,
			want:  time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TargetDateForMonth(tt.today, tt.day))
		})
	}
}

func TestNextStartDate(t *testing.T) {
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

	// Day still ahead this month.
	assert.Equal(t, time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC), NextStartDate(now, 25))
	// Today counts as not passed.
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), NextStartDate(now, 20))
	// Day already passed rolls to next month.
	assert.Equal(t, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), NextStartDate(now, 10))
	// Rolling into a short month clamps.
	assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
		NextStartDate(time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC), 31))
}

func TestProcessDueExpensesFiresOnce(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()

	account := createTestAccount(t, store, 1000)

	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	expense, err := scheduler.Create(ctx, CreateInput{
		Description: "Rent",
		Category:    "housing",
		AccountID:   account.ID,
		Amount:      500,
		DayOfMonth:  15,
	}, created)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), expense.StartDate)

	// Before the target day nothing fires.
	count, err := scheduler.ProcessDueExpenses(ctx, time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.InDelta(t, 1000, accountBalance(t, store, account.ID), 0.001)

	// On the target day one debit is booked.
	now := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	count, err = scheduler.ProcessDueExpenses(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.InDelta(t, 500, accountBalance(t, store, account.ID), 0.001)

	rows, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.TypeDebit, rows[0].Type)
	assert.True(t, rows[0].IsFromRecurring)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), rows[0].Date.UTC())

	// A second run in the same month is a no-op.
	count, err = scheduler.ProcessDueExpenses(ctx, now.Add(26*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.InDelta(t, 500, accountBalance(t, store, account.ID), 0.001)

	// Next month fires again.
	count, err = scheduler.ProcessDueExpenses(ctx, time.Date(2024, 4, 15, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.InDelta(t, 0, accountBalance(t, store, account.ID), 0.001)
}

func TestProcessDueExpensesClampsShortMonths(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()

	account := createTestAccount(t, store, 100)

	expense, err := scheduler.Create(ctx, CreateInput{
		Description: "Subscription",
		AccountID:   account.ID,
		Amount:      10,
		DayOfMonth:  31,
	}, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// April has 30 days; day 31 fires on the 30th.
	count, err := scheduler.ProcessDueExpenses(ctx, time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rows, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), rows[0].Date.UTC())
}

func TestProcessDueExpensesRespectsEndDate(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()

	account := createTestAccount(t, store, 100)

	end := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)
	_, err := scheduler.Create(ctx, CreateInput{
		Description: "Gym",
		AccountID:   account.ID,
		Amount:      25,
		DayOfMonth:  10,
		EndDate:     &end,
	}, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	count, err := scheduler.ProcessDueExpenses(ctx, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Past the end date the schedule is skipped even though it is active.
	count, err = scheduler.ProcessDueExpenses(ctx, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.InDelta(t, 75, accountBalance(t, store, account.ID), 0.001)
}

func TestCreateValidation(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	account := createTestAccount(t, store, 0)

	_, err := scheduler.Create(ctx, CreateInput{
		Description: "Bad day", AccountID: account.ID, Amount: 10, DayOfMonth: 32,
	}, now)
	assert.Error(t, err)

	_, err = scheduler.Create(ctx, CreateInput{
		Description: "Bad amount", AccountID: account.ID, Amount: 0, DayOfMonth: 5,
	}, now)
	assert.Error(t, err)

	past := now.AddDate(0, -1, 0)
	_, err = scheduler.Create(ctx, CreateInput{
		Description: "Past end", AccountID: account.ID, Amount: 10, DayOfMonth: 5,
		EndDate: &past,
	}, now)
	assert.Error(t, err)
}

func TestUpdateSchedule(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()

	account := createTestAccount(t, store, 0)
	expense, err := scheduler.Create(ctx, CreateInput{
		Description: "Streaming",
		AccountID:   account.ID,
		Amount:      12,
		DayOfMonth:  5,
	}, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	newAmount := 15.0
	inactive := false
	updated, err := scheduler.Update(ctx, expense.ID, UpdateCommand{
		Amount:   &newAmount,
		IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.InDelta(t, 15, updated.Amount, 0.001)
	assert.False(t, updated.IsActive)

	// Inactive schedules never fire.
	count, err := scheduler.ProcessDueExpenses(ctx, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeleteSingle(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()

	account := createTestAccount(t, store, 300)
	expense, err := scheduler.Create(ctx, CreateInput{
		Description: "Utilities",
		AccountID:   account.ID,
		Amount:      50,
		DayOfMonth:  10,
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	for _, month := range []time.Month{time.January, time.February, time.March} {
		_, err := scheduler.ProcessDueExpenses(ctx, time.Date(2024, month, 10, 9, 0, 0, 0, time.UTC))
		require.NoError(t, err)
	}
	require.InDelta(t, 150, accountBalance(t, store, account.ID), 0.001)

	rows, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, scheduler.Delete(ctx, expense.ID, DeleteSingle, rows[1].ID, now))

	remaining, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
	assert.InDelta(t, 200, accountBalance(t, store, account.ID), 0.001)

	// Schedule itself survives.
	_, err = store.GetRecurringExpense(ctx, expense.ID)
	assert.NoError(t, err)
}

func TestDeleteFuture(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()

	account := createTestAccount(t, store, 300)
	expense, err := scheduler.Create(ctx, CreateInput{
		Description: "Utilities",
		AccountID:   account.ID,
		Amount:      50,
		DayOfMonth:  10,
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	for _, month := range []time.Month{time.January, time.February, time.March} {
		_, err := scheduler.ProcessDueExpenses(ctx, time.Date(2024, month, 10, 9, 0, 0, 0, time.UTC))
		require.NoError(t, err)
	}

	rows, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Anchor on the February transaction: February and March go, January stays.
	var anchor *model.Transaction
	for i := range rows {
		if rows[i].Date.UTC().Month() == time.February {
			anchor = &rows[i]
		}
	}
	require.NotNil(t, anchor)

	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, scheduler.Delete(ctx, expense.ID, DeleteFuture, anchor.ID, now))

	remaining, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, time.January, remaining[0].Date.UTC().Month())
	assert.InDelta(t, 250, accountBalance(t, store, account.ID), 0.001)

	// Schedule is ended at the anchor date and deactivated.
	after, err := store.GetRecurringExpense(ctx, expense.ID)
	require.NoError(t, err)
	assert.False(t, after.IsActive)
	require.NotNil(t, after.EndDate)
	assert.Equal(t, anchor.Date.UTC(), after.EndDate.UTC())

	count, err := scheduler.ProcessDueExpenses(ctx, time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeleteSingleFutureDatedRow(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()

	account := createTestAccount(t, store, 100)
	expense, err := scheduler.Create(ctx, CreateInput{
		Description: "Utilities",
		AccountID:   account.ID,
		Amount:      10,
		DayOfMonth:  10,
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = scheduler.ProcessDueExpenses(ctx, time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.InDelta(t, 90, accountBalance(t, store, account.ID), 0.001)

	// A group row dated ahead of now has not been booked against the balance.
	future := &model.Transaction{
		Description:      "Utilities",
		Amount:           10,
		Type:             model.TypeDebit,
		Date:             time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		AccountID:        account.ID,
		RecurringGroupID: expense.RecurringGroupID,
		IsFromRecurring:  true,
	}
	require.NoError(t, store.CreateTransaction(ctx, future))

	now := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, scheduler.Delete(ctx, expense.ID, DeleteSingle, future.ID, now))

	// The row is gone and no reversal was applied.
	remaining, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
	assert.InDelta(t, 90, accountBalance(t, store, account.ID), 0.001)
}

func TestDeleteFutureMixedElapsedAndFutureRows(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()

	account := createTestAccount(t, store, 300)
	expense, err := scheduler.Create(ctx, CreateInput{
		Description: "Utilities",
		AccountID:   account.ID,
		Amount:      50,
		DayOfMonth:  10,
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	for _, month := range []time.Month{time.January, time.February} {
		_, err := scheduler.ProcessDueExpenses(ctx, time.Date(2024, month, 10, 9, 0, 0, 0, time.UTC))
		require.NoError(t, err)
	}
	require.InDelta(t, 200, accountBalance(t, store, account.ID), 0.001)

	// Two rows dated ahead of now, never booked against the balance.
	for _, month := range []time.Month{time.March, time.April} {
		row := &model.Transaction{
			Description:      "Utilities",
			Amount:           50,
			Type:             model.TypeDebit,
			Date:             time.Date(2024, month, 10, 0, 0, 0, 0, time.UTC),
			AccountID:        account.ID,
			RecurringGroupID: expense.RecurringGroupID,
			IsFromRecurring:  true,
		}
		require.NoError(t, store.CreateTransaction(ctx, row))
	}

	rows, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	var anchor *model.Transaction
	for i := range rows {
		if rows[i].Date.UTC().Month() == time.February {
			anchor = &rows[i]
		}
	}
	require.NotNil(t, anchor)

	// February is reversed; March and April are deleted without touching
	// the balance; January stays.
	now := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, scheduler.Delete(ctx, expense.ID, DeleteFuture, anchor.ID, now))

	remaining, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, time.January, remaining[0].Date.UTC().Month())
	assert.InDelta(t, 250, accountBalance(t, store, account.ID), 0.001)
}

func TestDeleteFutureAnchorHasNoLaterRows(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()

	account := createTestAccount(t, store, 300)
	expense, err := scheduler.Create(ctx, CreateInput{
		Description: "Utilities",
		AccountID:   account.ID,
		Amount:      50,
		DayOfMonth:  10,
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	for _, month := range []time.Month{time.January, time.February} {
		_, err := scheduler.ProcessDueExpenses(ctx, time.Date(2024, month, 10, 9, 0, 0, 0, time.UTC))
		require.NoError(t, err)
	}

	rows, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var anchor *model.Transaction
	for i := range rows {
		if rows[i].Date.UTC().Month() == time.February {
			anchor = &rows[i]
		}
	}
	require.NotNil(t, anchor)

	// Anchoring on the latest row removes just that row.
	now := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, scheduler.Delete(ctx, expense.ID, DeleteFuture, anchor.ID, now))

	remaining, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, time.January, remaining[0].Date.UTC().Month())
	assert.InDelta(t, 250, accountBalance(t, store, account.ID), 0.001)

	after, err := store.GetRecurringExpense(ctx, expense.ID)
	require.NoError(t, err)
	assert.False(t, after.IsActive)
	require.NotNil(t, after.EndDate)
	assert.Equal(t, anchor.Date.UTC(), after.EndDate.UTC())
}

func TestDeleteAll(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()

	account := createTestAccount(t, store, 300)
	expense, err := scheduler.Create(ctx, CreateInput{
		Description: "Utilities",
		AccountID:   account.ID,
		Amount:      50,
		DayOfMonth:  10,
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	for _, month := range []time.Month{time.January, time.February} {
		_, err := scheduler.ProcessDueExpenses(ctx, time.Date(2024, month, 10, 9, 0, 0, 0, time.UTC))
		require.NoError(t, err)
	}
	require.InDelta(t, 200, accountBalance(t, store, account.ID), 0.001)

	now := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, scheduler.Delete(ctx, expense.ID, DeleteAll, 0, now))

	remaining, err := store.GetTransactionsByRecurringGroup(ctx, expense.RecurringGroupID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.InDelta(t, 300, accountBalance(t, store, account.ID), 0.001)

	_, err = store.GetRecurringExpense(ctx, expense.ID)
	assert.Error(t, err)
}

func TestDeleteRejectsForeignTransaction(t *testing.T) {
	store := createTestStorage(t)
	scheduler := NewScheduler(store)
	ctx := context.Background()

	account := createTestAccount(t, store, 100)
	expense, err := scheduler.Create(ctx, CreateInput{
		Description: "A", AccountID: account.ID, Amount: 10, DayOfMonth: 5,
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// A transaction outside the schedule's group is rejected.
	stray := &model.Transaction{
		Description: "Manual",
		Amount:      20,
		Type:        model.TypeDebit,
		Date:        time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		AccountID:   account.ID,
	}
	require.NoError(t, store.CreateTransaction(ctx, stray))

	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	err = scheduler.Delete(ctx, expense.ID, DeleteSingle, stray.ID, now)
	assert.Error(t, err)
}
