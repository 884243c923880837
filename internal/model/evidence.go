package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EvidenceType records the provenance of a classification decision.
type EvidenceType string

// Evidence provenance constants.
const (
	EvidenceRule       EvidenceType = "rule"
	EvidenceAIInferred EvidenceType = "ai_inferred"
	EvidenceManual     EvidenceType = "manual"
)

// CategoryEvidence is an append-only audit record linking a transaction (or
// one line item within it) to an assigned category. Rows are never mutated
// or deleted, only superseded by newer rows for the same transaction.
type CategoryEvidence struct {
	CreatedAt       time.Time
	ItemDescription string
	ItemCurrency    string
	Summary         string
	ModelUsed       string
	RawExtraction   string
	Type            EvidenceType
	ItemPrice       decimal.Decimal
	Confidence      decimal.Decimal
	ID              int64
	TransactionID   int64
	CategoryID      int64
	ItemQuantity    int
}
