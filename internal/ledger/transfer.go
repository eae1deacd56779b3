package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkalis/bursar/internal/common"
	"github.com/mkalis/bursar/internal/model"
)

// TransferCoordinator creates linked transaction pairs across two accounts.
// Edits and deletes of either side go through the engine's pair sync.
type TransferCoordinator struct {
	engine *Engine
}

// NewTransferCoordinator creates a coordinator on top of a ledger engine.
func NewTransferCoordinator(engine *Engine) *TransferCoordinator {
	return &TransferCoordinator{engine: engine}
}

// CreateTransfer books one inter-account movement as a transfer_out on the
// source and a transfer_in on the destination, sharing one pair id. Both
// rows are excluded from budgets. No insufficient-funds check is made;
// overdraft is permitted.
func (c *TransferCoordinator) CreateTransfer(ctx context.Context, fromAccountID, toAccountID int64, amount float64, date time.Time, description string) (*model.Transaction, *model.Transaction, error) {
	if fromAccountID == toAccountID {
		return nil, nil, common.NewValidationError("to_account_id", "transfer accounts must differ")
	}
	if amount <= 0 {
		return nil, nil, common.NewValidationError("amount", "must be positive")
	}
	if date.IsZero() {
		return nil, nil, common.NewValidationError("date", "is required")
	}

	pairID := uuid.New().String()

	tx, err := c.engine.store.BeginTx(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out, err := c.engine.CreateTransactionInTx(ctx, tx, CreateTransactionInput{
		Description:       description,
		Amount:            amount,
		Type:              model.TypeTransferOut,
		Date:              date,
		AccountID:         fromAccountID,
		ExcludeFromBudget: true,
		TransferPairID:    pairID,
	})
	if err != nil {
		return nil, nil, err
	}

	in, err := c.engine.CreateTransactionInTx(ctx, tx, CreateTransactionInput{
		Description:       description,
		Amount:            amount,
		Type:              model.TypeTransferIn,
		Date:              date,
		AccountID:         toAccountID,
		ExcludeFromBudget: true,
		TransferPairID:    pairID,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transfer: %w", err)
	}

	slog.Debug("created transfer",
		"pair_id", pairID, "from", fromAccountID, "to", toAccountID, "amount", amount)
	return out, in, nil
}
