// Package ledger owns account balance consistency. Every operation that
// writes a transaction row also applies its signed balance delta inside the
// same database transaction; a failure rolls both back together.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkalis/bursar/internal/common"
	"github.com/mkalis/bursar/internal/model"
	"github.com/mkalis/bursar/internal/service"
)

// Engine applies ledger operations against the store.
type Engine struct {
	store service.Storage
}

// NewEngine creates a ledger engine backed by the given store.
func NewEngine(store service.Storage) *Engine {
	return &Engine{store: store}
}

// CreateTransactionInput carries every field a new ledger entry can have.
// Group tags are set by the installment, transfer, and recurring callers;
// plain creates leave them empty.
type CreateTransactionInput struct {
	Date               time.Time
	Description        string
	Category           string
	Note               string
	Type               model.TransactionType
	InstallmentGroupID string
	TransferPairID     string
	RecurringGroupID   string
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

func (in *CreateTransactionInput) toModel() *model.Transaction {
	return &model.Transaction{
		Description:        in.Description,
		Amount:             in.Amount,
		Type:               in.Type,
		Category:           in.Category,
		Note:               in.Note,
		Date:               in.Date,
		AccountID:          in.AccountID,
		ExcludeFromBudget:  in.ExcludeFromBudget,
		InstallmentGroupID: in.InstallmentGroupID,
		InstallmentNumber:  in.InstallmentNumber,
		TotalInstallments:  in.TotalInstallments,
		TotalAmount:        in.TotalAmount,
		RemainingAmount:    in.RemainingAmount,
		AnnualInterestRate: in.AnnualInterestRate,
		TransferPairID:     in.TransferPairID,
		RecurringGroupID:   in.RecurringGroupID,
		IsFromRecurring:    in.IsFromRecurring,
	}
}

func (in *CreateTransactionInput) validate() error {
	if !in.Type.Valid() {
		return common.NewValidationError("type", fmt.Sprintf("unknown transaction type %q", in.Type))
	}
	if in.Amount <= 0 {
		return common.NewValidationError("amount", "must be positive")
	}
	if in.AccountID <= 0 {
		return common.NewValidationError("account_id", "is required")
	}
	if in.Date.IsZero() {
		return common.NewValidationError("date", "is required")
	}
	return nil
}

// CreateTransaction persists a new ledger entry and applies its balance
// delta in one atomic unit.
func (e *Engine) CreateTransaction(ctx context.Context, input CreateTransactionInput) (*model.Transaction, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	txn, err := e.CreateTransactionInTx(ctx, tx, input)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction create: %w", err)
	}

	return txn, nil
}

// CreateTransactionInTx persists a ledger entry and its balance delta inside
// an already open database transaction. Callers composing several ledger
// writes (transfers, recurring fires) use this to keep one commit point.
func (e *Engine) CreateTransactionInTx(ctx context.Context, tx service.Transaction, input CreateTransactionInput) (*model.Transaction, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	// Existence check doubles as the ownership guard upstream relies on.
	if _, err := tx.GetAccount(ctx, input.AccountID); err != nil {
		return nil, err
	}

	txn := input.toModel()
	if err := tx.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	if err := tx.ApplyBalanceDelta(ctx, txn.AccountID, txn.BalanceEffect()); err != nil {
		return nil, err
	}

	return txn, nil
}

// UpdateTransactionCommand enumerates every mutable field of a transaction.
// Nil pointers leave the field untouched, so reversal always sees the full
// old state before anything changes.
type UpdateTransactionCommand struct {
	Description       *string
	Amount            *float64
	Type              *model.TransactionType
	Category          *string
	Note              *string
	Date              *time.Time
	AccountID         *int64
	ExcludeFromBudget *bool
}

func (c *UpdateTransactionCommand) syncsPair() bool {
	return c.Amount != nil || c.Date != nil || c.Description != nil || c.Note != nil
}

// UpdateTransaction applies a typed change set: the old (type, amount) delta
// is reversed on the old account, the new delta applied on the new account,
// atomically. When the transaction is half of a transfer pair, amount, date,
// description, and note changes are mirrored onto the paired row and its
// balance is reversed and reapplied the same way. Installment rows accept
// only descriptive edits; their amounts sum to the group's recorded total
// and the group was debited up front as one unit, so amount, type, and
// account changes must go through the installment splitter.
func (e *Engine) UpdateTransaction(ctx context.Context, id int64, cmd UpdateTransactionCommand) (*model.Transaction, error) {
	if cmd.Amount != nil && *cmd.Amount <= 0 {
		return nil, common.NewValidationError("amount", "must be positive")
	}
	if cmd.Type != nil && !cmd.Type.Valid() {
		return nil, common.NewValidationError("type", fmt.Sprintf("unknown transaction type %q", *cmd.Type))
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	txn, err := tx.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	if txn.TransferPairID != "" && (cmd.Type != nil || cmd.AccountID != nil) {
		return nil, common.NewValidationError("type", "cannot retype or move one side of a transfer pair")
	}
	if txn.InstallmentGroupID != "" && (cmd.Amount != nil || cmd.Type != nil || cmd.AccountID != nil) {
		return nil, common.NewValidationError("amount",
			"cannot change the amount, type, or account of an installment; delete the group and rebook it")
	}

	// Capture the balance-relevant old state before assigning anything.
	oldEffect := txn.BalanceEffect()
	oldAccountID := txn.AccountID

	applyUpdate(txn, cmd)

	if _, err := tx.GetAccount(ctx, txn.AccountID); err != nil {
		return nil, err
	}

	// Reverse old, apply new, in that order.
	if err := tx.ApplyBalanceDelta(ctx, oldAccountID, -oldEffect); err != nil {
		return nil, err
	}
	if err := tx.ApplyBalanceDelta(ctx, txn.AccountID, txn.BalanceEffect()); err != nil {
		return nil, err
	}
	if err := tx.UpdateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	if txn.TransferPairID != "" && cmd.syncsPair() {
		if err := e.syncTransferPair(ctx, tx, txn, cmd); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction update: %w", err)
	}

	return txn, nil
}

func applyUpdate(txn *model.Transaction, cmd UpdateTransactionCommand) {
	if cmd.Description != nil {
		txn.Description = *cmd.Description
	}
	if cmd.Amount != nil {
		txn.Amount = *cmd.Amount
	}
	if cmd.Type != nil {
		txn.Type = *cmd.Type
	}
	if cmd.Category != nil {
		txn.Category = *cmd.Category
	}
	if cmd.Note != nil {
		txn.Note = *cmd.Note
	}
	if cmd.Date != nil {
		txn.Date = *cmd.Date
	}
	if cmd.AccountID != nil {
		txn.AccountID = *cmd.AccountID
	}
	if cmd.ExcludeFromBudget != nil {
		txn.ExcludeFromBudget = *cmd.ExcludeFromBudget
	}
}

// syncTransferPair mirrors the synced fields onto the other half of a
// transfer pair and rebooks its balance delta on its own account.
func (e *Engine) syncTransferPair(ctx context.Context, tx service.Transaction, txn *model.Transaction, cmd UpdateTransactionCommand) error {
	pair, err := tx.GetTransactionsByTransferPair(ctx, txn.TransferPairID)
	if err != nil {
		return err
	}

	for i := range pair {
		other := &pair[i]
		if other.ID == txn.ID {
			continue
		}

		oldEffect := other.BalanceEffect()

		if cmd.Amount != nil {
			other.Amount = *cmd.Amount
		}
		if cmd.Date != nil {
			other.Date = *cmd.Date
		}
		if cmd.Description != nil {
			other.Description = *cmd.Description
		}
		if cmd.Note != nil {
			other.Note = *cmd.Note
		}

		if err := tx.ApplyBalanceDelta(ctx, other.AccountID, -oldEffect); err != nil {
			return err
		}
		if err := tx.ApplyBalanceDelta(ctx, other.AccountID, other.BalanceEffect()); err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, other); err != nil {
			return err
		}
	}

	return nil
}

// DeleteTransaction reverses a transaction's balance effect and removes the
// row. When the transaction is half of a transfer pair, the paired row is
// reversed and removed as well.
func (e *Engine) DeleteTransaction(ctx context.Context, id int64) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	txn, err := tx.GetTransaction(ctx, id)
	if err != nil {
		return err
	}

	victims := []model.Transaction{*txn}
	if txn.TransferPairID != "" {
		pair, err := tx.GetTransactionsByTransferPair(ctx, txn.TransferPairID)
		if err != nil {
			return err
		}
		for _, other := range pair {
			if other.ID != txn.ID {
				victims = append(victims, other)
			}
		}
	}

	for i := range victims {
		v := &victims[i]
		if err := tx.ApplyBalanceDelta(ctx, v.AccountID, -v.BalanceEffect()); err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, v.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction delete: %w", err)
	}

	slog.Debug("deleted transaction", "id", id, "rows", len(victims))
	return nil
}
