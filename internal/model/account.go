package model

import "time"

// AccountType categorizes an account for display and reporting.
type AccountType string

// Supported account types.
const (
	AccountCash        AccountType = "cash"
	AccountBank        AccountType = "bank"
	AccountCreditCard  AccountType = "credit_card"
	AccountStoredValue AccountType = "stored_value"
	AccountSecurities  AccountType = "securities"
	AccountOther       AccountType = "other"
)

// Account holds a running balance derived from its transaction log.
// Balance is only ever mutated through ledger balance deltas; it is set
// directly only at creation or import time.
type Account struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Name        string
	Type        AccountType
	Currency    string
	Description string
	ID          int64
	UserID      int64
	Balance     float64
}
