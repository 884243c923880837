package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/calloway/sortinghat/internal/common"
	"github.com/calloway/sortinghat/internal/model"
	"github.com/calloway/sortinghat/internal/service"
)

// SaveTransactions inserts transactions and returns them with assigned ids.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	saved := make([]model.Transaction, 0, len(transactions))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, txn := range transactions {
			var externalID, accountName, notes any
			if txn.ExternalID != "" {
				externalID = txn.ExternalID
			}
			if txn.AccountName != "" {
				accountName = txn.AccountName
			}
			if txn.Notes != "" {
				notes = txn.Notes
			}

			res, err := tx.ExecContext(ctx, `
				INSERT INTO transactions (date, description, amount, currency, external_id, account_name, notes)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				txn.Date, txn.Description, txn.Amount.String(), txn.Currency,
				externalID, accountName, notes)
			if err != nil {
				return fmt.Errorf("failed to insert transaction: %w", err)
			}

			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get transaction id: %w", err)
			}
			txn.ID = id
			saved = append(saved, txn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("saved transactions", "count", len(saved))
	return saved, nil
}

// GetTransactionByID returns a transaction by id.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id int64) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	txn, err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT id, date, description, amount, currency, external_id, account_name, notes, created_at
		FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", common.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	return txn, nil
}

// GetTransactions returns transactions matching the filter, oldest first.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var conditions []string
	var args []any

	if filter.StartDate != nil {
		conditions = append(conditions, "t.date >= ?")
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		conditions = append(conditions, "t.date <= ?")
		args = append(args, *filter.EndDate)
	}
	if filter.Unclassified {
		conditions = append(conditions, "tc.transaction_id IS NULL")
	}

	query := `
		SELECT t.id, t.date, t.description, t.amount, t.currency, t.external_id, t.account_name, t.notes, t.created_at
		FROM transactions t
		LEFT JOIN transaction_categories tc ON t.id = tc.transaction_id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY t.date ASC, t.id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// TransactionExistsByExternalID reports whether a transaction with the given
// external id is already stored. Used for import dedupe.
func (s *SQLiteStorage) TransactionExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return false, err
	}

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM transactions WHERE external_id = ?`, externalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check external id: %w", err)
	}
	return true, nil
}

// AssignCategory records the category assignment for a transaction.
// Re-assignment overwrites the previous assignment (last write wins); the
// evidence trail preserves history.
func (s *SQLiteStorage) AssignCategory(ctx context.Context, transactionID, categoryID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_categories (transaction_id, category_id)
		VALUES (?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			category_id = excluded.category_id,
			assigned_at = CURRENT_TIMESTAMP`,
		transactionID, categoryID)
	if err != nil {
		return fmt.Errorf("failed to assign category: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to confirm assignment: %w", err)
	}
	return nil
}

// GetAssignedCategory returns the assigned category id for a transaction,
// or nil when unassigned.
func (s *SQLiteStorage) GetAssignedCategory(ctx context.Context, transactionID int64) (*int64, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var categoryID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT category_id FROM transaction_categories WHERE transaction_id = ?`,
		transactionID).Scan(&categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment: %w", err)
	}
	return &categoryID, nil
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var rawAmount string
	var externalID, accountName, notes sql.NullString

	if err := row.Scan(&txn.ID, &txn.Date, &txn.Description, &rawAmount,
		&txn.Currency, &externalID, &accountName, &notes, &txn.CreatedAt); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", rawAmount, err)
	}
	txn.Amount = amount
	txn.ExternalID = externalID.String
	txn.AccountName = accountName.String
	txn.Notes = notes.String
	return &txn, nil
}
