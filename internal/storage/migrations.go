package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					account_type TEXT NOT NULL,
					balance REAL NOT NULL DEFAULT 0,
					currency TEXT NOT NULL DEFAULT 'USD',
					description TEXT,
					user_id INTEGER NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_accounts_user ON accounts(user_id)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					description TEXT NOT NULL,
					amount REAL NOT NULL,
					transaction_type TEXT NOT NULL,
					category TEXT,
					note TEXT,
					transaction_date DATETIME NOT NULL,
					account_id INTEGER NOT NULL,
					exclude_from_budget INTEGER NOT NULL DEFAULT 0,
					installment_group_id TEXT,
					installment_number INTEGER,
					total_installments INTEGER,
					total_amount REAL,
					remaining_amount REAL,
					annual_interest_rate REAL,
					transfer_pair_id TEXT,
					recurring_group_id TEXT,
					is_from_recurring INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(transaction_date)`,
				`CREATE INDEX idx_transactions_account ON transactions(account_id)`,

				`CREATE TABLE IF NOT EXISTS recurring_expenses (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					description TEXT NOT NULL,
					amount REAL NOT NULL,
					category TEXT,
					note TEXT,
					day_of_month INTEGER NOT NULL,
					account_id INTEGER NOT NULL,
					recurring_group_id TEXT NOT NULL UNIQUE,
					start_date DATETIME NOT NULL,
					end_date DATETIME,
					is_active INTEGER NOT NULL DEFAULT 1,
					last_executed_date DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
				)`,

				`CREATE TABLE IF NOT EXISTS budgets (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					amount REAL NOT NULL,
					daily_limit REAL,
					daily_limit_mode TEXT NOT NULL DEFAULT 'auto',
					range_mode TEXT NOT NULL DEFAULT 'custom',
					period TEXT,
					start_date DATETIME NOT NULL,
					end_date DATETIME NOT NULL,
					spent REAL NOT NULL DEFAULT 0,
					user_id INTEGER NOT NULL,
					parent_budget_id INTEGER,
					is_latest_period INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (parent_budget_id) REFERENCES budgets(id)
				)`,
				`CREATE INDEX idx_budgets_user ON budgets(user_id)`,

				`CREATE TABLE IF NOT EXISTS budget_accounts (
					budget_id INTEGER NOT NULL,
					account_id INTEGER NOT NULL,
					PRIMARY KEY (budget_id, account_id),
					FOREIGN KEY (budget_id) REFERENCES budgets(id) ON DELETE CASCADE,
					FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
				)`,

				`CREATE TABLE IF NOT EXISTS budget_categories (
					budget_id INTEGER NOT NULL,
					category_name TEXT NOT NULL,
					PRIMARY KEY (budget_id, category_name),
					FOREIGN KEY (budget_id) REFERENCES budgets(id) ON DELETE CASCADE
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add group id indexes for pair and group lookups",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE INDEX IF NOT EXISTS idx_transactions_transfer_pair ON transactions(transfer_pair_id)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_installment_group ON transactions(installment_group_id)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_recurring_group ON transactions(recurring_group_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Add per-day budget statistics columns",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`ALTER TABLE budgets ADD COLUMN over_budget_days INTEGER NOT NULL DEFAULT 0`,
				`ALTER TABLE budgets ADD COLUMN within_budget_days INTEGER NOT NULL DEFAULT 0`,
				`ALTER TABLE budgets ADD COLUMN last_stats_update DATETIME`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}

			slog.Info("Added budget day statistics columns")
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
