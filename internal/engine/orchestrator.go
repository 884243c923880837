// Package engine implements the classification orchestrator: a per-transaction
// state machine sequencing rule matching, evidence recording, and AI-assisted
// disambiguation with graceful degradation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/calloway/sortinghat/internal/model"
	"github.com/calloway/sortinghat/internal/rules"
	"github.com/calloway/sortinghat/internal/service"
)

// Method is the terminal state of the classification state machine for one
// transaction. Call sites switch over it exhaustively.
type Method int

// Classification methods.
const (
	MethodUnclassified Method = iota
	MethodExisting
	MethodRule
	MethodRuleWithDisambiguation
	MethodAI
	MethodPending
)

// String returns the method's wire name.
func (m Method) String() string {
	switch m {
	case MethodExisting:
		return "existing"
	case MethodRule:
		return "rule"
	case MethodRuleWithDisambiguation:
		return "rule_with_disambiguation"
	case MethodAI:
		return "ai"
	case MethodPending:
		return "pending"
	case MethodUnclassified:
		return "unclassified"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// Confidence levels for degraded outcomes. A direct rule match is fully
// trusted; a disambiguation-flagged rule applied without AI confirmation is
// not, and one applied after an AI failure even less so.
var (
	confidenceRule       = decimal.NewFromInt(1)
	confidenceNoAI       = decimal.RequireFromString("0.7")
	confidenceAIFallback = decimal.RequireFromString("0.5")
)

// Result is the outcome of classifying one transaction.
type Result struct {
	RuleName            string
	Reason              string
	CategoryID          *int64
	Confidence          decimal.Decimal
	TransactionID       int64
	Method              Method
	Classified          bool
	NeedsDisambiguation bool
}

// Options controls a classification run.
type Options struct {
	// Force re-enters the state machine for already-assigned transactions.
	Force bool
	// Deferred leaves disambiguation-needing transactions Pending with a
	// provisional category and hands the AI call to the background worker,
	// so the synchronous path never blocks on the network.
	Deferred bool
}

// Config holds orchestrator configuration.
type Config struct {
	// QueueSize bounds the deferred disambiguation queue.
	QueueSize int
	// BatchConcurrency bounds concurrent classification in ClassifyBatch.
	BatchConcurrency int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:        128,
		BatchConcurrency: 4,
	}
}

// Orchestrator composes the rule engine, the evidence ledger, and an optional
// AI disambiguation collaborator. AI failures degrade the outcome; they are
// never propagated as hard errors.
type Orchestrator struct {
	rules    RuleClassifier
	ai       service.Disambiguator
	ledger   Ledger
	deferred chan deferredJob
	config   Config
}

// New creates an orchestrator. The disambiguator may be nil, in which case
// the orchestrator degrades to rule-only behavior.
func New(ruleClassifier RuleClassifier, ai service.Disambiguator, ledger Ledger, config Config) *Orchestrator {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.BatchConcurrency <= 0 {
		config.BatchConcurrency = DefaultConfig().BatchConcurrency
	}
	return &Orchestrator{
		rules:    ruleClassifier,
		ai:       ai,
		ledger:   ledger,
		deferred: make(chan deferredJob, config.QueueSize),
		config:   config,
	}
}

// Classify runs the state machine for one transaction.
func (o *Orchestrator) Classify(ctx context.Context, txn model.Transaction, opts Options) (Result, error) {
	// Idempotency: reclassifying an assigned transaction requires force.
	if !opts.Force {
		assigned, err := o.ledger.GetAssignedCategory(ctx, txn.ID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to check existing assignment: %w", err)
		}
		if assigned != nil {
			return Result{
				TransactionID: txn.ID,
				Classified:    true,
				CategoryID:    assigned,
				Method:        MethodExisting,
			}, nil
		}
	}

	match, err := o.rules.Classify(ctx, txn)
	if err != nil {
		return Result{}, fmt.Errorf("rule classification failed: %w", err)
	}

	if match != nil && !match.RequiresDisambiguation {
		if err := o.recordRuleOutcome(ctx, txn, match, confidenceRule, ""); err != nil {
			return Result{}, err
		}
		return Result{
			TransactionID: txn.ID,
			Classified:    true,
			CategoryID:    &match.CategoryID,
			Method:        MethodRule,
			RuleName:      match.Rule.Name,
			Confidence:    confidenceRule,
		}, nil
	}

	// Either a rule flagged for disambiguation matched, or no rule matched.
	if o.ai != nil && opts.Deferred {
		return o.enqueue(ctx, txn, match)
	}
	if o.ai != nil {
		return o.classifyWithDisambiguation(ctx, txn, match)
	}

	// No AI collaborator configured.
	if match != nil {
		if err := o.recordRuleOutcome(ctx, txn, match, confidenceNoAI,
			"disambiguation flagged but no AI collaborator configured"); err != nil {
			return Result{}, err
		}
		return Result{
			TransactionID:       txn.ID,
			Classified:          true,
			CategoryID:          &match.CategoryID,
			Method:              MethodRuleWithDisambiguation,
			RuleName:            match.Rule.Name,
			Confidence:          confidenceNoAI,
			NeedsDisambiguation: true,
		}, nil
	}

	return Result{
		TransactionID: txn.ID,
		Method:        MethodUnclassified,
		Reason:        "no matching rules and no AI collaborator configured",
	}, nil
}

// classifyWithDisambiguation calls the AI collaborator synchronously. The
// rule match, when present, is the fallback for AI failure.
func (o *Orchestrator) classifyWithDisambiguation(ctx context.Context, txn model.Transaction, match *rules.Match) (Result, error) {
	res, err := o.ai.Disambiguate(ctx, txn)
	if err != nil {
		slog.Warn("AI disambiguation failed",
			"transaction_id", txn.ID,
			"error", err)
		res = &service.DisambiguationResult{ErrMessage: err.Error()}
	}

	switch {
	case res.CategoryID != nil:
		// Full or partial success: a category came back, possibly at low
		// confidence. Either way the AI's answer wins.
		if err := o.recordAIOutcome(ctx, txn, res); err != nil {
			return Result{}, err
		}
		return Result{
			TransactionID: txn.ID,
			Classified:    true,
			CategoryID:    res.CategoryID,
			Method:        MethodAI,
			Confidence:    res.Confidence,
			Reason:        res.ErrMessage,
		}, nil

	case match != nil:
		// AI produced nothing usable; fall back to the rule's category at
		// reduced confidence.
		if err := o.recordRuleOutcome(ctx, txn, match, confidenceAIFallback,
			"AI disambiguation failed: "+res.ErrMessage); err != nil {
			return Result{}, err
		}
		return Result{
			TransactionID:       txn.ID,
			Classified:          true,
			CategoryID:          &match.CategoryID,
			Method:              MethodRuleWithDisambiguation,
			RuleName:            match.Rule.Name,
			Confidence:          confidenceAIFallback,
			Reason:              res.ErrMessage,
			NeedsDisambiguation: true,
		}, nil

	default:
		return Result{
			TransactionID: txn.ID,
			Method:        MethodUnclassified,
			Reason:        res.ErrMessage,
		}, nil
	}
}

// recordRuleOutcome assigns the rule's category and appends the single
// rule-provenance evidence row for this transition.
func (o *Orchestrator) recordRuleOutcome(ctx context.Context, txn model.Transaction, match *rules.Match, confidence decimal.Decimal, note string) error {
	if err := o.ledger.AssignCategory(ctx, txn.ID, match.CategoryID); err != nil {
		return fmt.Errorf("failed to assign category: %w", err)
	}

	summary := fmt.Sprintf("Matched rule %q: %s", match.Rule.Name, match.Rule.Expression)
	if note != "" {
		summary += " (" + note + ")"
	}

	evidence := &model.CategoryEvidence{
		TransactionID:   txn.ID,
		ItemDescription: itemDescription(txn),
		ItemPrice:       txn.Amount,
		ItemCurrency:    txn.Currency,
		ItemQuantity:    1,
		CategoryID:      match.CategoryID,
		Type:            model.EvidenceRule,
		Summary:         summary,
		Confidence:      confidence,
	}
	if err := o.ledger.SaveEvidence(ctx, evidence); err != nil {
		return fmt.Errorf("failed to save evidence: %w", err)
	}
	return nil
}

// recordAIOutcome assigns the AI's category and appends the single
// AI-provenance evidence row. A late result for a transaction that was
// Pending supersedes the provisional assignment: last write wins on the
// assignment, and the older evidence rows remain as history.
func (o *Orchestrator) recordAIOutcome(ctx context.Context, txn model.Transaction, res *service.DisambiguationResult) error {
	if err := o.ledger.AssignCategory(ctx, txn.ID, *res.CategoryID); err != nil {
		return fmt.Errorf("failed to assign category: %w", err)
	}

	summary := "AI disambiguation"
	if res.ErrMessage != "" {
		summary += " (partial: " + res.ErrMessage + ")"
	}

	evidence := &model.CategoryEvidence{
		TransactionID:   txn.ID,
		ItemDescription: itemDescription(txn),
		ItemPrice:       txn.Amount,
		ItemCurrency:    txn.Currency,
		ItemQuantity:    1,
		CategoryID:      *res.CategoryID,
		Type:            model.EvidenceAIInferred,
		Summary:         summary,
		Confidence:      res.Confidence,
		ModelUsed:       res.ModelUsed,
	}
	if err := o.ledger.SaveEvidence(ctx, evidence); err != nil {
		return fmt.Errorf("failed to save evidence: %w", err)
	}
	return nil
}

func itemDescription(txn model.Transaction) string {
	if txn.Description != "" {
		return txn.Description
	}
	return "Transaction"
}

// ClassifyBatch applies the state machine independently to each transaction,
// with bounded concurrency and no ordering guarantee across transactions.
// One transaction's failure never aborts the batch; it is reported as an
// Unclassified result carrying the failure reason.
func (o *Orchestrator) ClassifyBatch(ctx context.Context, txns []model.Transaction, opts Options) (map[int64]Result, error) {
	results := make(map[int64]Result, len(txns))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.BatchConcurrency)

	for _, txn := range txns {
		txn := txn
		g.Go(func() error {
			result, err := o.Classify(gctx, txn, opts)
			if err != nil {
				slog.Error("classification failed",
					"transaction_id", txn.ID,
					"error", err)
				result = Result{
					TransactionID: txn.ID,
					Method:        MethodUnclassified,
					Reason:        err.Error(),
				}
			}
			mu.Lock()
			results[txn.ID] = result
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BatchStats summarizes a batch run by terminal state.
type BatchStats struct {
	Total        int
	Classified   int
	Unclassified int
	Pending      int
	ByRule       int
	ByAI         int
	Existing     int
}

// Summarize aggregates batch results by method.
func Summarize(results map[int64]Result) BatchStats {
	stats := BatchStats{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Classified:
			stats.Classified++
		case r.Method == MethodPending:
			stats.Pending++
		default:
			stats.Unclassified++
		}

		switch r.Method {
		case MethodRule, MethodRuleWithDisambiguation:
			stats.ByRule++
		case MethodAI:
			stats.ByAI++
		case MethodExisting:
			stats.Existing++
		case MethodPending, MethodUnclassified:
		}
	}
	return stats
}
