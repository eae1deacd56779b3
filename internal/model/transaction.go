package model

import "time"

// TransactionType distinguishes how a transaction moves money on its account.
type TransactionType string

// Supported transaction types.
const (
	TypeCredit      TransactionType = "credit"
	TypeDebit       TransactionType = "debit"
	TypeInstallment TransactionType = "installment"
	TypeTransferOut TransactionType = "transfer_out"
	TypeTransferIn  TransactionType = "transfer_in"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeCredit, TypeDebit, TypeInstallment, TypeTransferOut, TypeTransferIn:
		return true
	}
	return false
}

// SignedAmount returns the balance effect of amount under this type.
// Credits and incoming transfers add to the balance; everything else
// subtracts from it.
func (t TransactionType) SignedAmount(amount float64) float64 {
	switch t {
	case TypeCredit, TypeTransferIn:
		return amount
	default:
		return -amount
	}
}

// Transaction represents a single ledger entry. Amount is always a positive
// magnitude; the type determines its sign on the account balance.
type Transaction struct {
	Date               time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Description        string
	Category           string
	Note               string
	Type               TransactionType
	InstallmentGroupID string
	TransferPairID     string
	RecurringGroupID   string
	ID                 int64
	AccountID          int64
	Amount             float64
	InstallmentNumber  int
	TotalInstallments  int
	TotalAmount        float64
	RemainingAmount    float64
	AnnualInterestRate float64
	ExcludeFromBudget  bool
	IsFromRecurring    bool
}

// BalanceEffect is the signed contribution of this transaction to its
// account's balance.
func (t *Transaction) BalanceEffect() float64 {
	return t.Type.SignedAmount(t.Amount)
}
