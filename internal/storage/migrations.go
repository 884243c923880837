package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
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
		Description: "Categories and closure table",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					parent_id INTEGER REFERENCES categories(id),
					commitment_level INTEGER,
					frequency TEXT,
					is_essential INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_categories_parent ON categories(parent_id)`,

				// Closure rows are managed exclusively by the hierarchy
				// operations; no CASCADE so partial deletes can't bypass them.
				`CREATE TABLE IF NOT EXISTS category_closure (
					ancestor_id INTEGER NOT NULL REFERENCES categories(id),
					descendant_id INTEGER NOT NULL REFERENCES categories(id),
					depth INTEGER NOT NULL,
					PRIMARY KEY (ancestor_id, descendant_id)
				)`,
				`CREATE INDEX idx_closure_descendant ON category_closure(descendant_id)`,
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
		Description: "Transactions and category assignments",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					date DATETIME NOT NULL,
					description TEXT NOT NULL,
					amount TEXT NOT NULL,
					currency TEXT NOT NULL DEFAULT 'GBP',
					external_id TEXT,
					account_name TEXT,
					notes TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
				`CREATE UNIQUE INDEX idx_transactions_external ON transactions(external_id) WHERE external_id IS NOT NULL`,

				`CREATE TABLE IF NOT EXISTS transaction_categories (
					transaction_id INTEGER PRIMARY KEY REFERENCES transactions(id),
					category_id INTEGER NOT NULL REFERENCES categories(id),
					assigned_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_txn_categories_category ON transaction_categories(category_id)`,
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
		Version:     3,
		Description: "Classification rules and evidence audit trail",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS classification_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					expression TEXT NOT NULL,
					category_id INTEGER NOT NULL REFERENCES categories(id),
					priority INTEGER NOT NULL DEFAULT 0,
					requires_disambiguation INTEGER NOT NULL DEFAULT 0,
					is_active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_rules_active_priority ON classification_rules(is_active, priority)`,

				// Append-only: rows are inserted and read, never updated or
				// deleted. The field set is a durable audit contract.
				`CREATE TABLE IF NOT EXISTS category_evidence (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id INTEGER NOT NULL REFERENCES transactions(id),
					item_description TEXT NOT NULL,
					item_price TEXT NOT NULL,
					item_currency TEXT NOT NULL DEFAULT 'GBP',
					item_quantity INTEGER NOT NULL DEFAULT 1,
					category_id INTEGER NOT NULL REFERENCES categories(id),
					evidence_type TEXT NOT NULL,
					evidence_summary TEXT,
					confidence_score TEXT,
					model_used TEXT,
					raw_extraction TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_evidence_transaction ON category_evidence(transaction_id)`,
				`CREATE INDEX idx_evidence_category ON category_evidence(category_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate runs all pending migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		slog.Info("applying migration",
			"version", migration.Version,
			"description", migration.Description)

		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if err := migration.Up(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, err)
			}
			_, err := tx.Exec(
				`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
				migration.Version, migration.Description)
			return err
		})
		if err != nil {
			return err
		}
	}

	return nil
}
