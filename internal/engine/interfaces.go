package engine

import (
	"context"

	"github.com/calloway/sortinghat/internal/model"
	"github.com/calloway/sortinghat/internal/rules"
)

// RuleClassifier is the deterministic first pass. Satisfied by rules.Engine.
type RuleClassifier interface {
	Classify(ctx context.Context, txn model.Transaction) (*rules.Match, error)
}

// Ledger records classification outcomes: the category assignment owned by
// the caller and the append-only evidence trail. Satisfied by storage.
type Ledger interface {
	AssignCategory(ctx context.Context, transactionID, categoryID int64) error
	GetAssignedCategory(ctx context.Context, transactionID int64) (*int64, error)
	SaveEvidence(ctx context.Context, evidence *model.CategoryEvidence) error
}
