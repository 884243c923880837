package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/calloway/sortinghat/internal/model"
)

// SaveEvidence appends a classification evidence record. Evidence rows are
// never mutated or deleted; a later classification for the same transaction
// supersedes earlier rows by appending.
func (s *SQLiteStorage) SaveEvidence(ctx context.Context, evidence *model.CategoryEvidence) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(evidence.ItemDescription, "item description"); err != nil {
		return err
	}
	if evidence.Type == "" {
		return fmt.Errorf("evidence type cannot be empty")
	}

	quantity := evidence.ItemQuantity
	if quantity == 0 {
		quantity = 1
	}
	currency := evidence.ItemCurrency
	if currency == "" {
		currency = "GBP"
	}

	var summary, modelUsed, raw any
	if evidence.Summary != "" {
		summary = evidence.Summary
	}
	if evidence.ModelUsed != "" {
		modelUsed = evidence.ModelUsed
	}
	if evidence.RawExtraction != "" {
		raw = evidence.RawExtraction
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO category_evidence
			(transaction_id, item_description, item_price, item_currency, item_quantity,
			 category_id, evidence_type, evidence_summary, confidence_score, model_used, raw_extraction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evidence.TransactionID, evidence.ItemDescription, evidence.ItemPrice.String(),
		currency, quantity, evidence.CategoryID, string(evidence.Type),
		summary, evidence.Confidence.String(), modelUsed, raw)
	if err != nil {
		return fmt.Errorf("failed to insert evidence: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get evidence id: %w", err)
	}
	evidence.ID = id
	evidence.ItemQuantity = quantity
	evidence.ItemCurrency = currency

	slog.Debug("saved evidence",
		"id", evidence.ID,
		"transaction_id", evidence.TransactionID,
		"category_id", evidence.CategoryID,
		"type", evidence.Type)
	return nil
}

// GetEvidenceForTransaction returns all evidence rows for a transaction,
// oldest first.
func (s *SQLiteStorage) GetEvidenceForTransaction(ctx context.Context, transactionID int64) ([]model.CategoryEvidence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, item_description, item_price, item_currency, item_quantity,
		       category_id, evidence_type, evidence_summary, confidence_score, model_used, raw_extraction, created_at
		FROM category_evidence
		WHERE transaction_id = ?
		ORDER BY id ASC`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	var records []model.CategoryEvidence
	for rows.Next() {
		var ev model.CategoryEvidence
		var rawPrice string
		var evType string
		var summary, confidence, modelUsed, raw nullableString

		if err := rows.Scan(&ev.ID, &ev.TransactionID, &ev.ItemDescription,
			&rawPrice, &ev.ItemCurrency, &ev.ItemQuantity, &ev.CategoryID,
			&evType, &summary, &confidence, &modelUsed, &raw, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}

		price, err := decimal.NewFromString(rawPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt price %q: %w", rawPrice, err)
		}
		ev.ItemPrice = price
		ev.Type = model.EvidenceType(evType)
		ev.Summary = summary.value
		ev.ModelUsed = modelUsed.value
		ev.RawExtraction = raw.value
		if confidence.value != "" {
			score, err := decimal.NewFromString(confidence.value)
			if err != nil {
				return nil, fmt.Errorf("corrupt confidence %q: %w", confidence.value, err)
			}
			ev.Confidence = score
		}
		records = append(records, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evidence: %w", err)
	}
	return records, nil
}

// nullableString scans NULL as the empty string.
type nullableString struct {
	value string
}

func (n *nullableString) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.value = ""
	case string:
		n.value = v
	case []byte:
		n.value = string(v)
	default:
		return fmt.Errorf("cannot scan %T into string", src)
	}
	return nil
}
