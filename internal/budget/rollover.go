package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkalis/bursar/internal/common"
	"github.com/mkalis/bursar/internal/model"
)

// CreateNextPeriodBudgets rolls every due recurring budget forward one
// period and returns how many new periods were created. A budget is due when
// it heads its chain and its window has closed. The new period starts with
// zero spend, points back at its source through parent_budget_id, and takes
// over the latest-period flag. A failure on one budget is logged and never
// aborts the rest.
func (a *Aggregator) CreateNextPeriodBudgets(ctx context.Context, now time.Time) (int, error) {
	due, err := a.store.GetRecurringBudgetsDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load due recurring budgets: %w", err)
	}

	created := 0
	for i := range due {
		source := &due[i]

		if err := a.rollForward(ctx, source); err != nil {
			if common.IsConflict(err) {
				// The next period already exists; only the flag handoff
				// was missing.
				if ferr := a.store.SetBudgetLatestPeriod(ctx, source.ID, false); ferr != nil {
					common.LogError(ferr, "failed to clear latest-period flag", common.Fields{
						"budget_id": source.ID,
					})
				}
				continue
			}
			common.LogError(err, "failed to roll budget forward", common.Fields{
				"budget_id": source.ID,
			})
			continue
		}
		created++
	}

	slog.Info("budget rollover complete", "created", created, "due", len(due))
	return created, nil
}

// rollForward creates the next period for one source budget. It returns a
// ConflictError when the next period already exists by either duplicate
// check: a child pointing back at the source, or a budget with the same
// name, owner, period, and window.
func (a *Aggregator) rollForward(ctx context.Context, source *model.Budget) error {
	nextStart, nextEnd := NextPeriodRange(source.Period, source.EndDate)

	if _, err := a.store.FindChildBudget(ctx, source.ID); err == nil {
		return common.NewConflictError("budget", "next period already chained")
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	if _, err := a.store.FindBudgetByPeriodRange(ctx, source.Name, source.UserID,
		source.Period, nextStart, nextEnd); err == nil {
		return common.NewConflictError("budget", "next period already exists")
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	next := &model.Budget{
		Name:           source.Name,
		Amount:         source.Amount,
		DailyLimit:     source.DailyLimit,
		DailyLimitMode: source.DailyLimitMode,
		RangeMode:      model.RangeRecurring,
		Period:         source.Period,
		StartDate:      nextStart,
		EndDate:        nextEnd,
		UserID:         source.UserID,
		AccountIDs:     dedupInt64(source.AccountIDs),
		Categories:     dedupStrings(source.Categories),
		ParentBudgetID: &source.ID,
		IsLatestPeriod: true,
	}
	if err := tx.CreateBudget(ctx, next); err != nil {
		return err
	}
	if err := tx.SetBudgetLatestPeriod(ctx, source.ID, false); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit budget rollover: %w", err)
	}

	slog.Debug("rolled budget forward",
		"source_id", source.ID, "next_id", next.ID,
		"window", fmt.Sprintf("%s..%s", nextStart.Format("2006-01-02"), nextEnd.Format("2006-01-02")))
	return nil
}

func dedupInt64(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func dedupStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
