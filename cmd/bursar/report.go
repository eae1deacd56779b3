package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkalis/bursar/internal/budget"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [budget-id]",
		Short: "Print a budget report",
		Long: `Builds the spending report for one budget: totals, daily average,
projected end-of-period spending, status, and the transactions behind the
numbers.`,
		Args: cobra.ExactArgs(1),
		RunE: runReport,
	}

	cmd.Flags().Bool("json", false, "Emit the report as JSON")

	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	var budgetID int64
	if _, err := fmt.Sscanf(args[0], "%d", &budgetID); err != nil || budgetID <= 0 {
		return fmt.Errorf("invalid budget id %q", args[0])
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	b, err := store.GetBudget(ctx, budgetID)
	if err != nil {
		return err
	}

	now := time.Now()
	aggregator := budget.NewAggregator(store)
	report, err := aggregator.BuildReport(ctx, b, now)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("Budget: %s (%s to %s)\n", b.Name,
		b.StartDate.Format("2006-01-02"), b.EndDate.Format("2006-01-02"))
	fmt.Printf("  Amount:     %10.2f\n", report.Stats.TotalBudget)
	fmt.Printf("  Spent:      %10.2f\n", report.Stats.TotalSpent)
	fmt.Printf("  Remaining:  %10.2f\n", report.Stats.Remaining)
	fmt.Printf("  Daily avg:  %10.2f\n", report.Stats.DailyAverage)
	fmt.Printf("  Projected:  %10.2f\n", report.Stats.ProjectedSpending)
	fmt.Printf("  Status:     %s\n", report.Stats.Status)
	fmt.Printf("  Daily limit today: %.2f\n",
		budget.DynamicDailyLimit(b.Amount, report.Stats.TotalSpent, b.EndDate, now))

	if len(report.Transactions) > 0 {
		fmt.Printf("\n%-12s %-30s %10s  %s\n", "DATE", "DESCRIPTION", "AMOUNT", "CATEGORY")
		for i := range report.Transactions {
			txn := &report.Transactions[i]
			fmt.Printf("%-12s %-30s %10.2f  %s\n",
				txn.Date.Format("2006-01-02"), txn.Description, txn.Amount, txn.Category)
		}
	}

	return nil
}
