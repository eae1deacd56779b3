package budget

import (
	"context"
	"time"

	"github.com/mkalis/bursar/internal/common"
	"github.com/mkalis/bursar/internal/model"
	"github.com/mkalis/bursar/internal/service"
)

// Manager owns budget lifecycle: creation with mode validation, updates,
// and deletion.
type Manager struct {
	store service.Storage
}

// NewManager creates a budget manager backed by the given store.
func NewManager(store service.Storage) *Manager {
	return &Manager{store: store}
}

// CreateInput describes a new budget.
type CreateInput struct {
	Name           string
	Amount         float64
	DailyLimit     float64
	DailyLimitMode model.DailyLimitMode
	RangeMode      model.RangeMode
	Period         model.BudgetPeriod
	StartDate      time.Time
	EndDate        time.Time
	UserID         int64
	AccountIDs     []int64
	Categories     []string
}

func validateModes(in *CreateInput) error {
	if in.Name == "" {
		return common.NewValidationError("name", "is required")
	}
	if in.Amount <= 0 {
		return common.NewValidationError("amount", "must be positive")
	}

	switch in.DailyLimitMode {
	case model.DailyLimitAuto:
	case model.DailyLimitManual:
		if in.DailyLimit <= 0 {
			return common.NewValidationError("daily_limit", "must be positive in manual mode")
		}
	default:
		return common.NewValidationError("daily_limit_mode", "must be auto or manual")
	}

	switch in.RangeMode {
	case model.RangeRecurring:
		if !in.Period.Valid() {
			return common.NewValidationError("period", "recurring budgets require monthly, quarterly, or yearly")
		}
	case model.RangeCustom:
		if in.StartDate.IsZero() || in.EndDate.IsZero() {
			return common.NewValidationError("start_date", "custom budgets require explicit start and end dates")
		}
		if !in.EndDate.After(in.StartDate) {
			return common.NewValidationError("end_date", "must be after the start date")
		}
	default:
		return common.NewValidationError("range_mode", "must be custom or recurring")
	}

	return nil
}

// Create validates mode combinations and persists a budget. Recurring
// budgets get the calendar period containing now as their first window and
// become the head of their chain.
func (m *Manager) Create(ctx context.Context, input CreateInput, now time.Time) (*model.Budget, error) {
	if err := validateModes(&input); err != nil {
		return nil, err
	}

	for _, id := range input.AccountIDs {
		if _, err := m.store.GetAccount(ctx, id); err != nil {
			return nil, err
		}
	}

	budget := &model.Budget{
		Name:           input.Name,
		Amount:         input.Amount,
		DailyLimit:     input.DailyLimit,
		DailyLimitMode: input.DailyLimitMode,
		RangeMode:      input.RangeMode,
		Period:         input.Period,
		StartDate:      input.StartDate,
		EndDate:        input.EndDate,
		UserID:         input.UserID,
		AccountIDs:     input.AccountIDs,
		Categories:     input.Categories,
	}

	if budget.RangeMode == model.RangeRecurring {
		budget.StartDate, budget.EndDate = PeriodRange(budget.Period, now)
		budget.IsLatestPeriod = true
	}

	if err := m.store.CreateBudget(ctx, budget); err != nil {
		return nil, err
	}
	return budget, nil
}

// UpdateCommand enumerates the mutable fields of a budget. Nil pointers
// leave the field untouched. Window and chain fields are not editable here;
// recurring windows advance only through rollover.
type UpdateCommand struct {
	Name           *string
	Amount         *float64
	DailyLimit     *float64
	DailyLimitMode *model.DailyLimitMode
	AccountIDs     *[]int64
	Categories     *[]string
}

// Update applies a typed change set to a budget.
func (m *Manager) Update(ctx context.Context, id int64, cmd UpdateCommand) (*model.Budget, error) {
	if cmd.Amount != nil && *cmd.Amount <= 0 {
		return nil, common.NewValidationError("amount", "must be positive")
	}

	budget, err := m.store.GetBudget(ctx, id)
	if err != nil {
		return nil, err
	}

	if cmd.Name != nil {
		budget.Name = *cmd.Name
	}
	if cmd.Amount != nil {
		budget.Amount = *cmd.Amount
	}
	if cmd.DailyLimit != nil {
		budget.DailyLimit = *cmd.DailyLimit
	}
	if cmd.DailyLimitMode != nil {
		budget.DailyLimitMode = *cmd.DailyLimitMode
	}
	if cmd.AccountIDs != nil {
		for _, accountID := range *cmd.AccountIDs {
			if _, err := m.store.GetAccount(ctx, accountID); err != nil {
				return nil, err
			}
		}
		budget.AccountIDs = *cmd.AccountIDs
	}
	if cmd.Categories != nil {
		budget.Categories = *cmd.Categories
	}

	if budget.DailyLimitMode == model.DailyLimitManual && budget.DailyLimit <= 0 {
		return nil, common.NewValidationError("daily_limit", "must be positive in manual mode")
	}

	if err := m.store.UpdateBudget(ctx, budget); err != nil {
		return nil, err
	}
	return budget, nil
}

// Delete removes a budget. Junction rows go with it; transactions are
// untouched, a budget never owns ledger entries.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	return m.store.DeleteBudget(ctx, id)
}
