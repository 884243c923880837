// Package validate scores candidate classification patterns against the full
// transaction set before they are promoted into the active rule set.
package validate

import (
	"context"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/calloway/sortinghat/internal/common"
	"github.com/calloway/sortinghat/internal/model"
	"github.com/calloway/sortinghat/internal/rules"
)

// Result reports how a candidate pattern performed: precision against all
// matches, coverage against the target cluster, and bounded samples of each
// bucket. Precision and coverage are rounded to four decimal places.
type Result struct {
	Pattern              string
	RegexError           string
	SampleTruePositives  []string
	SampleFalsePositives []string
	Precision            decimal.Decimal
	Coverage             decimal.Decimal
	TotalMatches         int
	TruePositives        int
	FalsePositives       int
	IsValidRegex         bool
}

// ConflictingRule pairs an existing rule with the number of transactions it
// shares with a candidate pattern.
type ConflictingRule struct {
	Rule         model.ClassificationRule
	OverlapCount int
}

// ConflictResult lists every active rule whose matches overlap a candidate's.
// Used to warn an operator before a new rule silently steals matches from an
// existing one.
type ConflictResult struct {
	ConflictingRules []ConflictingRule
	HasConflicts     bool
}

// Engine validates candidate patterns. The rule source may be nil, in which
// case conflict detection reports no conflicts.
type Engine struct {
	ruleSource rules.RuleSource
	maxSamples int
}

// NewEngine creates a validation engine.
func NewEngine(ruleSource rules.RuleSource, maxSamples int) *Engine {
	if maxSamples <= 0 {
		maxSamples = 5
	}
	return &Engine{ruleSource: ruleSource, maxSamples: maxSamples}
}

// ValidatePattern checks a candidate regex for syntax errors only.
func (e *Engine) ValidatePattern(pattern string) error {
	if _, err := regexp.Compile(pattern); err != nil {
		return common.NewInvalidPatternError(pattern, err.Error())
	}
	return nil
}

// TestRule scores a candidate pattern against every transaction with a
// non-empty description. Matches inside targetIDs are true positives, the
// rest false positives. An invalid regex yields a Result carrying the parser
// error, not a Go error.
func (e *Engine) TestRule(pattern string, transactions []model.Transaction, targetIDs map[int64]struct{}) Result {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return Result{
			Pattern:    pattern,
			Precision:  decimal.Zero,
			Coverage:   decimal.Zero,
			RegexError: err.Error(),
		}
	}

	var truePositives, falsePositives []model.Transaction
	for _, txn := range transactions {
		if txn.Description == "" {
			continue
		}
		if !compiled.MatchString(txn.Description) {
			continue
		}
		if _, ok := targetIDs[txn.ID]; ok {
			truePositives = append(truePositives, txn)
		} else {
			falsePositives = append(falsePositives, txn)
		}
	}

	tp := len(truePositives)
	fp := len(falsePositives)
	total := tp + fp
	targetSize := len(targetIDs)

	precision := decimal.Zero
	if total > 0 {
		precision = decimal.NewFromInt(int64(tp)).
			Div(decimal.NewFromInt(int64(total))).Round(4)
	}
	coverage := decimal.Zero
	if targetSize > 0 {
		coverage = decimal.NewFromInt(int64(tp)).
			Div(decimal.NewFromInt(int64(targetSize))).Round(4)
	}

	return Result{
		Pattern:              pattern,
		TotalMatches:         total,
		TruePositives:        tp,
		FalsePositives:       fp,
		Precision:            precision,
		Coverage:             coverage,
		SampleTruePositives:  e.sampleDescriptions(truePositives),
		SampleFalsePositives: e.sampleDescriptions(falsePositives),
		IsValidRegex:         true,
	}
}

func (e *Engine) sampleDescriptions(txns []model.Transaction) []string {
	var samples []string
	for _, txn := range txns {
		if txn.Description == "" {
			continue
		}
		samples = append(samples, txn.Description)
		if len(samples) >= e.maxSamples {
			break
		}
	}
	return samples
}

// FindConflicts reports every active rule whose embedded pattern matches at
// least one transaction the candidate pattern also matches, with the overlap
// count. Rules without an extractable pattern are skipped.
func (e *Engine) FindConflicts(ctx context.Context, pattern string, transactions []model.Transaction) (ConflictResult, error) {
	if e.ruleSource == nil {
		return ConflictResult{}, nil
	}

	candidate, err := regexp.Compile(pattern)
	if err != nil {
		return ConflictResult{}, nil
	}

	candidateMatches := make(map[int64]struct{})
	for _, txn := range transactions {
		if txn.Description != "" && candidate.MatchString(txn.Description) {
			candidateMatches[txn.ID] = struct{}{}
		}
	}
	if len(candidateMatches) == 0 {
		return ConflictResult{}, nil
	}

	existing, err := e.ruleSource.GetActiveRulesByPriority(ctx)
	if err != nil {
		return ConflictResult{}, fmt.Errorf("failed to load active rules: %w", err)
	}

	var conflicts []ConflictingRule
	for _, rule := range existing {
		rulePattern := rules.ExtractPattern(rule.Expression)
		if rulePattern == "" {
			continue
		}
		ruleRegex, err := regexp.Compile(rulePattern)
		if err != nil {
			continue
		}

		overlap := 0
		for _, txn := range transactions {
			if _, ok := candidateMatches[txn.ID]; !ok {
				continue
			}
			if txn.Description != "" && ruleRegex.MatchString(txn.Description) {
				overlap++
			}
		}
		if overlap > 0 {
			conflicts = append(conflicts, ConflictingRule{Rule: rule, OverlapCount: overlap})
		}
	}

	return ConflictResult{
		ConflictingRules: conflicts,
		HasConflicts:     len(conflicts) > 0,
	}, nil
}
