package rules

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calloway/sortinghat/internal/common"
	"github.com/calloway/sortinghat/internal/model"
)

// fakeSource serves an in-memory rule set the tests can mutate.
type fakeSource struct {
	rules []model.ClassificationRule
}

func (f *fakeSource) GetActiveRulesByPriority(_ context.Context) ([]model.ClassificationRule, error) {
	return f.rules, nil
}

func txnWithDescription(description string) model.Transaction {
	return model.Transaction{
		ID:          1,
		Date:        time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Description: description,
		Amount:      decimal.RequireFromString("-12.50"),
		Currency:    "GBP",
	}
}

func TestClassify_FirstMatchByPriority(t *testing.T) {
	source := &fakeSource{rules: []model.ClassificationRule{
		{ID: 1, Name: "broad", Expression: `description matches "(?i)tesco"`, CategoryID: 10, Priority: 20},
		{ID: 2, Name: "specific", Expression: `description matches "(?i)tesco petrol"`, CategoryID: 20, Priority: 5},
	}}
	// Source order is the evaluation order; the storage layer already sorts
	// by priority. Mirror that here.
	source.rules[0], source.rules[1] = source.rules[1], source.rules[0]

	engine := NewEngine(source)
	match, err := engine.Classify(context.Background(), txnWithDescription("TESCO PETROL 4482"))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, int64(20), match.CategoryID)
	assert.Equal(t, "specific", match.Rule.Name)
}

func TestClassify_NoMatch(t *testing.T) {
	source := &fakeSource{rules: []model.ClassificationRule{
		{ID: 1, Name: "tesco", Expression: `description matches "(?i)tesco"`, CategoryID: 10},
	}}

	engine := NewEngine(source)
	match, err := engine.Classify(context.Background(), txnWithDescription("SAINSBURYS LOCAL"))
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestClassify_CarriesDisambiguationFlag(t *testing.T) {
	source := &fakeSource{rules: []model.ClassificationRule{
		{ID: 1, Name: "amazon", Expression: `description matches "(?i)amazon"`,
			CategoryID: 10, RequiresDisambiguation: true},
	}}

	engine := NewEngine(source)
	match, err := engine.Classify(context.Background(), txnWithDescription("AMAZON MARKETPLACE"))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.True(t, match.RequiresDisambiguation)
}

func TestReload_SkipsMalformedRules(t *testing.T) {
	source := &fakeSource{rules: []model.ClassificationRule{
		{ID: 1, Name: "broken", Expression: `description matches (`, CategoryID: 10, Priority: 1},
		{ID: 2, Name: "works", Expression: `description matches "(?i)tesco"`, CategoryID: 20, Priority: 2},
	}}

	engine := NewEngine(source)
	compiled, err := engine.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, compiled)

	// The malformed rule never blocks the others.
	match, err := engine.Classify(context.Background(), txnWithDescription("TESCO STORES 1234"))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "works", match.Rule.Name)
}

func TestSnapshot_StaleUntilReload(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{rules: []model.ClassificationRule{
		{ID: 1, Name: "tesco", Expression: `description matches "(?i)tesco"`, CategoryID: 10},
	}}

	engine := NewEngine(source)
	match, err := engine.Classify(ctx, txnWithDescription("TESCO STORES 1234"))
	require.NoError(t, err)
	require.NotNil(t, match)
	firstVersion := engine.Version()

	// Mutating the source does not invalidate the snapshot.
	source.rules = nil
	match, err = engine.Classify(ctx, txnWithDescription("TESCO STORES 1234"))
	require.NoError(t, err)
	assert.NotNil(t, match)
	assert.Equal(t, firstVersion, engine.Version())

	// An explicit reload picks up the mutation and bumps the version.
	_, err = engine.Reload(ctx)
	require.NoError(t, err)
	assert.Greater(t, engine.Version(), firstVersion)

	match, err = engine.Classify(ctx, txnWithDescription("TESCO STORES 1234"))
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestClassifyBatch(t *testing.T) {
	source := &fakeSource{rules: []model.ClassificationRule{
		{ID: 1, Name: "tesco", Expression: `description matches "(?i)tesco"`, CategoryID: 10},
	}}

	engine := NewEngine(source)
	txns := []model.Transaction{
		txnWithDescription("TESCO STORES 1234"),
		txnWithDescription("SAINSBURYS LOCAL"),
	}
	txns[1].ID = 2

	results, err := engine.ClassifyBatch(context.Background(), txns)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotNil(t, results[1])
	assert.Nil(t, results[2])
}

func TestMatchingRules_ReportsEveryRule(t *testing.T) {
	source := &fakeSource{rules: []model.ClassificationRule{
		{ID: 1, Name: "tesco", Expression: `description matches "(?i)tesco"`, CategoryID: 10},
		{ID: 2, Name: "large", Expression: `amount < -100.0`, CategoryID: 20},
	}}

	engine := NewEngine(source)
	evaluations, err := engine.MatchingRules(context.Background(), txnWithDescription("TESCO STORES 1234"))
	require.NoError(t, err)
	require.Len(t, evaluations, 2)
	assert.True(t, evaluations[0].Matched)
	assert.False(t, evaluations[1].Matched)
}

func TestTestExpression(t *testing.T) {
	engine := NewEngine(&fakeSource{})

	t.Run("syntax check only", func(t *testing.T) {
		ok, err := engine.TestExpression(`description matches "(?i)tesco"`, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := engine.TestExpression(`description matches (`, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrInvalidPattern)
	})

	t.Run("evaluated against sample", func(t *testing.T) {
		matched, err := engine.TestExpression(`description matches "(?i)tesco" && amount < 0.0`,
			map[string]any{"description": "TESCO STORES", "amount": -5.0})
		require.NoError(t, err)
		assert.True(t, matched)

		matched, err = engine.TestExpression(`description matches "(?i)tesco"`,
			map[string]any{"description": "SAINSBURYS"})
		require.NoError(t, err)
		assert.False(t, matched)
	})
}

func TestFlatten(t *testing.T) {
	txn := model.Transaction{
		ID:          7,
		Date:        time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		Description: "TESCO STORES 1234",
		Amount:      decimal.RequireFromString("-12.50"),
		AccountName: "current",
		ExternalID:  "FITID-001",
		Notes:       "weekly shop",
	}

	env := Flatten(txn)
	assert.Equal(t, "TESCO STORES 1234", env["description"])
	assert.Equal(t, -12.5, env["amount"])
	assert.Equal(t, "GBP", env["currency"], "empty currency defaults")
	assert.Equal(t, "current", env["account_name"])
	assert.Equal(t, "FITID-001", env["external_id"])
	assert.Equal(t, "weekly shop", env["notes"])
	assert.Equal(t, "2024-03-15", env["transaction_date"])
}

func TestExtractPattern(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		want       string
	}{
		{"simple", `description matches "(?i)tesco"`, "(?i)tesco"},
		{"compound", `description matches "(?i)tesco" && amount < 0.0`, "(?i)tesco"},
		{"escaped quote", `description matches "say \"hi\""`, `say \"hi\"`},
		{"no matches clause", `amount > 100.0`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPattern(tt.expression))
		})
	}
}
