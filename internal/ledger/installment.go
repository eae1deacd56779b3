package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mkalis/bursar/internal/common"
	"github.com/mkalis/bursar/internal/model"
)

// Interest rates below this threshold are treated as zero-interest.
const minInterestRate = 1.0

// InstallmentSplitter turns one purchase into a group of scheduled
// installment postings. The account is debited once, up front, for the full
// committed debt; the schedule itself is informational.
type InstallmentSplitter struct {
	engine *Engine
}

// NewInstallmentSplitter creates a splitter on top of a ledger engine.
func NewInstallmentSplitter(engine *Engine) *InstallmentSplitter {
	return &InstallmentSplitter{engine: engine}
}

// InstallmentPlan is the computed split of a purchase before persistence.
type InstallmentPlan struct {
	Dates             []time.Time
	Amounts           []float64
	Remaining         []float64
	TotalWithInterest float64
	Interest          float64
}

// PurchaseInput describes an installment purchase to split.
type PurchaseInput struct {
	Date               time.Time
	Description        string
	Category           string
	Note               string
	AccountID          int64
	Principal          float64
	Count              int
	BillingDay         int
	AnnualInterestRate float64
}

func (in *PurchaseInput) validate() error {
	if in.Principal <= 0 {
		return common.NewValidationError("principal", "must be positive")
	}
	if in.Count < 1 {
		return common.NewValidationError("count", "must be at least 1")
	}
	if in.BillingDay < 1 || in.BillingDay > 31 {
		return common.NewValidationError("billing_day", "must be between 1 and 31")
	}
	if in.AnnualInterestRate < 0 {
		return common.NewValidationError("annual_interest_rate", "must not be negative")
	}
	if in.AccountID <= 0 {
		return common.NewValidationError("account_id", "is required")
	}
	if in.Date.IsZero() {
		return common.NewValidationError("date", "is required")
	}
	return nil
}

// SplitInstallments computes the amount and billing date of every
// installment for a purchase.
//
// Zero-interest (rate under 1%): the principal is split into equal
// floor(P/n) parts and the first installment absorbs the whole rounding
// remainder, so the amounts sum to the principal exactly.
//
// Interest-bearing: the standard amortization payment
// M = P·m·(1+m)^n / ((1+m)^n − 1) with monthly rate m = rate/1200 is
// floored per installment, the total is floor(M·n), and the last
// installment absorbs the rounding so the amounts sum to that total.
func SplitInstallments(principal float64, count, billingDay int, annualRate float64, purchaseDate time.Time) (*InstallmentPlan, error) {
	if principal <= 0 {
		return nil, common.NewValidationError("principal", "must be positive")
	}
	if count < 1 {
		return nil, common.NewValidationError("count", "must be at least 1")
	}
	if billingDay < 1 || billingDay > 31 {
		return nil, common.NewValidationError("billing_day", "must be between 1 and 31")
	}
	// Amounts are floored to whole units, so every installment needs at
	// least one unit of principal behind it.
	if principal < float64(count) {
		return nil, common.NewValidationError("count", "must not exceed the principal")
	}

	plan := &InstallmentPlan{
		Amounts:   make([]float64, count),
		Remaining: make([]float64, count),
		Dates:     billingDates(purchaseDate, billingDay, count),
	}

	if annualRate < minInterestRate {
		base := math.Floor(principal / float64(count))
		remainder := principal - base*float64(count)
		plan.Amounts[0] = base + remainder
		for i := 1; i < count; i++ {
			plan.Amounts[i] = base
		}
		plan.TotalWithInterest = principal
		plan.Interest = 0
	} else {
		monthly := annualRate / 1200
		factor := math.Pow(1+monthly, float64(count))
		payment := principal * monthly * factor / (factor - 1)
		base := math.Floor(payment)
		total := math.Floor(payment * float64(count))
		for i := 0; i < count-1; i++ {
			plan.Amounts[i] = base
		}
		plan.Amounts[count-1] = total - base*float64(count-1)
		plan.TotalWithInterest = total
		plan.Interest = total - principal
	}

	outstanding := plan.TotalWithInterest
	for i, amount := range plan.Amounts {
		outstanding -= amount
		plan.Remaining[i] = outstanding
	}

	return plan, nil
}

// billingDates returns count monthly billing dates. The first falls in the
// month after the purchase, on billingDay clamped to the month's length;
// each subsequent date advances one calendar month with the same clamp.
// Time of day is inherited from the purchase timestamp.
func billingDates(purchase time.Time, billingDay, count int) []time.Time {
	dates := make([]time.Time, count)
	hour, minute, sec := purchase.Clock()

	for i := 0; i < count; i++ {
		anchor := time.Date(purchase.Year(), purchase.Month(), 1, 0, 0, 0, 0, purchase.Location())
		anchor = anchor.AddDate(0, i+1, 0)
		day := billingDay
		if last := daysInMonth(anchor.Year(), anchor.Month()); day > last {
			day = last
		}
		dates[i] = time.Date(anchor.Year(), anchor.Month(), day,
			hour, minute, sec, purchase.Nanosecond(), purchase.Location())
	}

	return dates
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// CreatePurchase books an installment purchase: one row per installment,
// all sharing a group id, plus a single up-front debit of the full
// interest-inclusive total against the account balance.
func (s *InstallmentSplitter) CreatePurchase(ctx context.Context, input PurchaseInput) ([]model.Transaction, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	plan, err := SplitInstallments(input.Principal, input.Count, input.BillingDay,
		input.AnnualInterestRate, input.Date)
	if err != nil {
		return nil, err
	}

	groupID := uuid.New().String()
	rate := input.AnnualInterestRate
	if rate < minInterestRate {
		rate = 0
	}

	tx, err := s.engine.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.GetAccount(ctx, input.AccountID); err != nil {
		return nil, err
	}

	rows := make([]model.Transaction, 0, input.Count)
	for i := 0; i < input.Count; i++ {
		txn := &model.Transaction{
			Description:        fmt.Sprintf("%s (%d/%d)", input.Description, i+1, input.Count),
			Amount:             plan.Amounts[i],
			Type:               model.TypeInstallment,
			Category:           input.Category,
			Note:               input.Note,
			Date:               plan.Dates[i],
			AccountID:          input.AccountID,
			InstallmentGroupID: groupID,
			InstallmentNumber:  i + 1,
			TotalInstallments:  input.Count,
			TotalAmount:        input.Principal,
			RemainingAmount:    plan.Remaining[i],
			AnnualInterestRate: rate,
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return nil, err
		}
		rows = append(rows, *txn)
	}

	// The whole committed debt is booked immediately, once, not
	// installment by installment.
	if err := tx.ApplyBalanceDelta(ctx, input.AccountID, -plan.TotalWithInterest); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit installment purchase: %w", err)
	}

	slog.Debug("created installment purchase",
		"group_id", groupID, "count", input.Count,
		"principal", input.Principal, "total", plan.TotalWithInterest)
	return rows, nil
}

// DeleteGroup removes every row of an installment group and reverses the
// single up-front debit exactly once.
func (s *InstallmentSplitter) DeleteGroup(ctx context.Context, groupID string) error {
	tx, err := s.engine.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.GetTransactionsByInstallmentGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("installment group %s: %w", groupID, common.ErrNotFound)
	}

	var total float64
	for i := range rows {
		total += rows[i].Amount
		if err := tx.DeleteTransaction(ctx, rows[i].ID); err != nil {
			return err
		}
	}

	if err := tx.ApplyBalanceDelta(ctx, rows[0].AccountID, total); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit installment delete: %w", err)
	}

	slog.Debug("deleted installment group", "group_id", groupID, "rows", len(rows))
	return nil
}
