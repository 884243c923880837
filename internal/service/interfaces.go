// Package service defines the boundary interfaces between the classification
// core and its collaborators.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/calloway/sortinghat/internal/model"
)

// TransactionFilter defines filtering options for transaction queries.
type TransactionFilter struct {
	StartDate    *time.Time
	EndDate      *time.Time
	Unclassified bool
	Limit        int
	Offset       int
}

// CategoryCreateOptions carries the optional attributes of a new category.
type CategoryCreateOptions struct {
	CommitmentLevel *int
	Frequency       model.CategoryFrequency
	IsEssential     bool
}

// Storage defines the contract for the persistence collaborator. Hierarchy
// mutations execute atomically; a failed validation leaves state untouched.
type Storage interface {
	// Category hierarchy operations
	CreateCategory(ctx context.Context, name string, parentID *int64, opts CategoryCreateOptions) (*model.Category, error)
	MoveCategory(ctx context.Context, categoryID int64, newParentID *int64) (*model.Category, error)
	DeleteCategory(ctx context.Context, categoryID int64, cascade bool) error
	GetCategoryByID(ctx context.Context, id int64) (*model.Category, error)
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetAncestors(ctx context.Context, categoryID int64) ([]model.Category, error)
	GetDescendants(ctx context.Context, categoryID int64) ([]model.Category, error)
	GetClosureEdges(ctx context.Context, categoryID int64) ([]model.ClosureEdge, error)
	SubtreeAmountSum(ctx context.Context, categoryID int64) (decimal.Decimal, error)

	// Transaction operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) ([]model.Transaction, error)
	GetTransactionByID(ctx context.Context, id int64) (*model.Transaction, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	TransactionExistsByExternalID(ctx context.Context, externalID string) (bool, error)

	// Category assignment (owned by the caller, invoked by the orchestrator)
	AssignCategory(ctx context.Context, transactionID, categoryID int64) error
	GetAssignedCategory(ctx context.Context, transactionID int64) (*int64, error)

	// Rule operations
	CreateRule(ctx context.Context, rule *model.ClassificationRule) error
	UpdateRule(ctx context.Context, rule *model.ClassificationRule) error
	SetRuleActive(ctx context.Context, ruleID int64, active bool) error
	GetRuleByID(ctx context.Context, id int64) (*model.ClassificationRule, error)
	GetActiveRulesByPriority(ctx context.Context) ([]model.ClassificationRule, error)

	// Evidence operations (append-only)
	SaveEvidence(ctx context.Context, evidence *model.CategoryEvidence) error
	GetEvidenceForTransaction(ctx context.Context, transactionID int64) ([]model.CategoryEvidence, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// DisambiguationResult is the outcome of one AI disambiguation call.
type DisambiguationResult struct {
	CategoryID *int64
	ErrMessage string
	ModelUsed  string
	Evidence   []model.CategoryEvidence
	Confidence decimal.Decimal
	Success    bool
}

// Disambiguator is the AI collaborator consulted for ambiguous or unmatched
// transactions. It may be absent, in which case the orchestrator degrades to
// rule-only behavior. Implementations are expected to be slow and
// network-bound; callers decide whether to invoke them synchronously.
type Disambiguator interface {
	Disambiguate(ctx context.Context, txn model.Transaction) (*DisambiguationResult, error)
}
