package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransactionTypeValid(t *testing.T) {
	for _, typ := range []TransactionType{
		TypeCredit, TypeDebit, TypeInstallment, TypeTransferOut, TypeTransferIn,
	} {
		assert.True(t, typ.Valid(), string(typ))
	}
	assert.False(t, TransactionType("refund").Valid())
	assert.False(t, TransactionType("").Valid())
}

func TestSignedAmount(t *testing.T) {
	tests := []struct {
		typ  TransactionType
		want float64
	}{
		{TypeCredit, 100},
		{TypeTransferIn, 100},
		{TypeDebit, -100},
		{TypeInstallment, -100},
		{TypeTransferOut, -100},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, tt.typ.SignedAmount(100), 0.001, string(tt.typ))
	}
}

func TestBalanceEffect(t *testing.T) {
	txn := &Transaction{Type: TypeDebit, Amount: 42.5}
	assert.InDelta(t, -42.5, txn.BalanceEffect(), 0.001)

	txn.Type = TypeCredit
	assert.InDelta(t, 42.5, txn.BalanceEffect(), 0.001)
}

func TestRecurringExpenseEnded(t *testing.T) {
	expense := &RecurringExpense{}
	today := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.False(t, expense.Ended(today))

	end := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	expense.EndDate = &end
	// The end date itself still counts as not ended.
	assert.False(t, expense.Ended(today))
	assert.True(t, expense.Ended(today.AddDate(0, 0, 1)))
}

func TestBudgetCategoryScope(t *testing.T) {
	budget := &Budget{}
	assert.True(t, budget.Global())
	assert.True(t, budget.AppliesToCategory("anything"))

	budget.Categories = []string{"food", "travel"}
	assert.False(t, budget.Global())
	assert.True(t, budget.AppliesToCategory("food"))
	assert.False(t, budget.AppliesToCategory("rent"))
}
