// Package rules implements the deterministic classification rule engine.
// Rules are boolean expressions evaluated against a flattened transaction
// view, in ascending priority order; the first match wins.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/calloway/sortinghat/internal/common"
	"github.com/calloway/sortinghat/internal/model"
)

// RuleSource provides the persisted rule set. Satisfied by storage.
type RuleSource interface {
	GetActiveRulesByPriority(ctx context.Context) ([]model.ClassificationRule, error)
}

// Match is the result of a successful rule match.
type Match struct {
	Rule                   model.ClassificationRule
	CategoryID             int64
	RequiresDisambiguation bool
}

// Evaluation reports whether a single rule matched a transaction. Returned
// by MatchingRules for diagnostics.
type Evaluation struct {
	Rule    model.ClassificationRule
	Matched bool
}

type compiledRule struct {
	program *vm.Program
	rule    model.ClassificationRule
}

// Engine holds an explicitly-loaded snapshot of compiled active rules.
// The snapshot never invalidates itself: callers must Reload after any rule
// mutation. Reads never block on a reload in progress.
type Engine struct {
	source   RuleSource
	compiled []compiledRule
	version  int64
	mu       sync.RWMutex
	loaded   bool
}

// NewEngine creates a rule engine backed by the given source. Rules are
// loaded lazily on first use; call Reload to pick up later mutations.
func NewEngine(source RuleSource) *Engine {
	return &Engine{source: source}
}

// envSchema declares the flattened transaction fields available to rule
// expressions. Zero values act as type carriers for compilation.
func envSchema() map[string]any {
	return map[string]any{
		"description":      "",
		"amount":           0.0,
		"currency":         "",
		"account_name":     "",
		"external_id":      "",
		"notes":            "",
		"transaction_date": "",
	}
}

// Flatten converts a transaction into the field view rule expressions
// evaluate against. The amount is exposed as a float; the date as an ISO
// string.
func Flatten(txn model.Transaction) map[string]any {
	amount, _ := txn.Amount.Float64()
	currency := txn.Currency
	if currency == "" {
		currency = "GBP"
	}
	date := ""
	if !txn.Date.IsZero() {
		date = txn.Date.Format("2006-01-02")
	}
	return map[string]any{
		"description":      txn.Description,
		"amount":           amount,
		"currency":         currency,
		"account_name":     txn.AccountName,
		"external_id":      txn.ExternalID,
		"notes":            txn.Notes,
		"transaction_date": date,
	}
}

func compileExpression(expression string) (*vm.Program, error) {
	return expr.Compile(expression, expr.Env(envSchema()), expr.AsBool())
}

// Reload re-fetches the active rule set and recompiles it, replacing the
// snapshot. A rule whose expression fails to compile is logged and excluded;
// one malformed rule never blocks the others. Returns the number of
// successfully compiled rules.
func (e *Engine) Reload(ctx context.Context) (int, error) {
	dbRules, err := e.source.GetActiveRulesByPriority(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load rules: %w", err)
	}

	compiled := make([]compiledRule, 0, len(dbRules))
	for _, rule := range dbRules {
		program, err := compileExpression(rule.Expression)
		if err != nil {
			slog.Warn("failed to compile rule, skipping",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err)
			continue
		}
		compiled = append(compiled, compiledRule{program: program, rule: rule})
	}

	e.mu.Lock()
	e.compiled = compiled
	e.version++
	e.loaded = true
	version := e.version
	e.mu.Unlock()

	slog.Info("reloaded rules",
		"total", len(dbRules),
		"compiled", len(compiled),
		"snapshot_version", version)
	return len(compiled), nil
}

// Version returns the current snapshot version. Bumped on every Reload.
func (e *Engine) Version() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

func (e *Engine) snapshot(ctx context.Context) ([]compiledRule, error) {
	e.mu.RLock()
	if e.loaded {
		compiled := e.compiled
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	if _, err := e.Reload(ctx); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.compiled, nil
}

// Classify evaluates the snapshot against a transaction in priority order and
// returns the first match, or nil when no rule matches. A rule whose
// evaluation errors is skipped.
func (e *Engine) Classify(ctx context.Context, txn model.Transaction) (*Match, error) {
	compiled, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	env := Flatten(txn)
	for _, c := range compiled {
		matched, err := runProgram(c.program, env)
		if err != nil {
			slog.Debug("rule evaluation error, skipping",
				"rule_id", c.rule.ID, "error", err)
			continue
		}
		if matched {
			return &Match{
				Rule:                   c.rule,
				CategoryID:             c.rule.CategoryID,
				RequiresDisambiguation: c.rule.RequiresDisambiguation,
			}, nil
		}
	}
	return nil, nil //nolint:nilnil // no match is a valid result
}

// ClassifyBatch classifies each transaction independently against the same
// snapshot. The map holds nil for transactions no rule matched.
func (e *Engine) ClassifyBatch(ctx context.Context, txns []model.Transaction) (map[int64]*Match, error) {
	results := make(map[int64]*Match, len(txns))
	for _, txn := range txns {
		match, err := e.Classify(ctx, txn)
		if err != nil {
			return nil, err
		}
		results[txn.ID] = match
	}
	return results, nil
}

// MatchingRules evaluates every rule in the snapshot against a transaction
// and reports each outcome. Unlike Classify it does not stop at the first
// match; evaluation errors count as non-matches.
func (e *Engine) MatchingRules(ctx context.Context, txn model.Transaction) ([]Evaluation, error) {
	compiled, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	env := Flatten(txn)
	evaluations := make([]Evaluation, 0, len(compiled))
	for _, c := range compiled {
		matched, err := runProgram(c.program, env)
		if err != nil {
			matched = false
		}
		evaluations = append(evaluations, Evaluation{Rule: c.rule, Matched: matched})
	}
	return evaluations, nil
}

// TestExpression checks an expression for syntax and type errors outside the
// stored rule set. When a sample field view is given, the compiled expression
// is also evaluated against it and the match result returned.
func (e *Engine) TestExpression(expression string, sample map[string]any) (bool, error) {
	program, err := compileExpression(expression)
	if err != nil {
		return false, common.NewInvalidPatternError(expression, err.Error())
	}
	if sample == nil {
		return true, nil
	}

	env := envSchema()
	for k, v := range sample {
		env[k] = v
	}
	matched, err := runProgram(program, env)
	if err != nil {
		return false, common.NewInvalidPatternError(expression, fmt.Sprintf("evaluation error: %v", err))
	}
	return matched, nil
}

func runProgram(program *vm.Program, env map[string]any) (bool, error) {
	output, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	matched, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to a boolean")
	}
	return matched, nil
}

var embeddedPattern = regexp.MustCompile(`matches\s+"((?:[^"\\]|\\.)+)"`)

// ExtractPattern pulls the regex literal out of a rule expression of the form
// `description matches "(?i)tesco"`. Returns the empty string when the
// expression carries no matches clause.
func ExtractPattern(expression string) string {
	m := embeddedPattern.FindStringSubmatch(expression)
	if m == nil {
		return ""
	}
	return m[1]
}
