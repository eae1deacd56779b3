package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mkalis/bursar/internal/model"
)

// driftTolerance absorbs float accumulation noise when comparing a stored
// balance against the recomputed signed sum.
const driftTolerance = 0.005

func recalcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Audit account balances against their transaction logs",
		Long: `Recomputes every account's balance from the signed sum of its
transactions and reports any drift. With --fix the stored balance is
repaired to match the recomputed value.`,
		RunE: runRecalc,
	}

	cmd.Flags().Bool("fix", false, "Repair drifted balances instead of only reporting them")
	cmd.Flags().Int64("user", 0, "Restrict the audit to one user's accounts")

	return cmd
}

func runRecalc(cmd *cobra.Command, _ []string) error {
	fix, _ := cmd.Flags().GetBool("fix")
	userID, _ := cmd.Flags().GetInt64("user")

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	var accounts []model.Account
	if userID > 0 {
		accounts, err = store.GetAccountsByUser(ctx, userID)
	} else {
		accounts, err = store.GetAllAccounts(ctx)
	}
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		slog.Info("no accounts to audit")
		return nil
	}

	bar := progressbar.NewOptions(len(accounts),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Auditing account balances..."),
	)

	drifted := 0
	for i := range accounts {
		account := &accounts[i]

		expected, err := store.SumBalanceEffects(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("failed to recompute account %d: %w", account.ID, err)
		}

		if math.Abs(account.Balance-expected) > driftTolerance {
			drifted++
			slog.Warn("balance drift detected",
				"account_id", account.ID,
				"name", account.Name,
				"stored", account.Balance,
				"expected", expected)

			if fix {
				if err := store.SetAccountBalance(ctx, account.ID, expected); err != nil {
					return fmt.Errorf("failed to repair account %d: %w", account.ID, err)
				}
				slog.Info("balance repaired", "account_id", account.ID, "balance", expected)
			}
		}

		_ = bar.Add(1)
	}
	fmt.Fprintln(os.Stderr)

	if drifted == 0 {
		slog.Info("all balances consistent", "accounts", len(accounts))
	} else if fix {
		slog.Info("audit complete", "accounts", len(accounts), "repaired", drifted)
	} else {
		slog.Warn("audit complete, run with --fix to repair",
			"accounts", len(accounts), "drifted", drifted)
	}

	return nil
}
