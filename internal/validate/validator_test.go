package validate

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calloway/sortinghat/internal/common"
	"github.com/calloway/sortinghat/internal/model"
)

type fakeRuleSource struct {
	rules []model.ClassificationRule
}

func (f *fakeRuleSource) GetActiveRulesByPriority(_ context.Context) ([]model.ClassificationRule, error) {
	return f.rules, nil
}

func validationCorpus() []model.Transaction {
	return []model.Transaction{
		{ID: 1, Description: "TESCO STORES 1234"},
		{ID: 2, Description: "TESCO PETROL 4482"},
		{ID: 3, Description: "TESCO BANK TRANSFER"},
		{ID: 4, Description: "SAINSBURYS LOCAL"},
		{ID: 5, Description: ""},
	}
}

func TestValidatePattern(t *testing.T) {
	engine := NewEngine(nil, 5)

	require.NoError(t, engine.ValidatePattern(`(?i)tesco`))

	err := engine.ValidatePattern(`(?i)tesco(`)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidPattern)
}

func TestTestRule_PrecisionAndCoverage(t *testing.T) {
	engine := NewEngine(nil, 5)

	// Target cluster is the two grocery/petrol transactions; the bank
	// transfer is a false positive for the broad pattern.
	targetIDs := map[int64]struct{}{1: {}, 2: {}}

	result := engine.TestRule(`(?i)tesco`, validationCorpus(), targetIDs)
	require.True(t, result.IsValidRegex)
	assert.Equal(t, 3, result.TotalMatches)
	assert.Equal(t, 2, result.TruePositives)
	assert.Equal(t, 1, result.FalsePositives)
	assert.True(t, result.Precision.Equal(decimal.RequireFromString("0.6667")), "got %s", result.Precision)
	assert.True(t, result.Coverage.Equal(decimal.RequireFromString("1")), "got %s", result.Coverage)
	assert.ElementsMatch(t, []string{"TESCO STORES 1234", "TESCO PETROL 4482"}, result.SampleTruePositives)
	assert.Equal(t, []string{"TESCO BANK TRANSFER"}, result.SampleFalsePositives)
}

func TestTestRule_NoMatches(t *testing.T) {
	engine := NewEngine(nil, 5)

	result := engine.TestRule(`(?i)waitrose`, validationCorpus(), map[int64]struct{}{1: {}})
	assert.Zero(t, result.TotalMatches)
	assert.True(t, result.Precision.IsZero())
	assert.True(t, result.Coverage.IsZero())
}

func TestTestRule_EmptyTargetSet(t *testing.T) {
	engine := NewEngine(nil, 5)

	result := engine.TestRule(`(?i)tesco`, validationCorpus(), nil)
	assert.Equal(t, 3, result.FalsePositives)
	assert.True(t, result.Coverage.IsZero())
}

func TestTestRule_InvalidRegexIsResultNotError(t *testing.T) {
	engine := NewEngine(nil, 5)

	result := engine.TestRule(`(?i)tesco(`, validationCorpus(), map[int64]struct{}{1: {}})
	assert.False(t, result.IsValidRegex)
	assert.NotEmpty(t, result.RegexError)
	assert.True(t, result.Precision.IsZero())
	assert.True(t, result.Coverage.IsZero())
}

func TestTestRule_SamplesBounded(t *testing.T) {
	engine := NewEngine(nil, 2)

	transactions := []model.Transaction{
		{ID: 1, Description: "TESCO A"},
		{ID: 2, Description: "TESCO B"},
		{ID: 3, Description: "TESCO C"},
	}
	targetIDs := map[int64]struct{}{1: {}, 2: {}, 3: {}}

	result := engine.TestRule(`(?i)tesco`, transactions, targetIDs)
	assert.Equal(t, 3, result.TruePositives)
	assert.Len(t, result.SampleTruePositives, 2)
}

func TestFindConflicts(t *testing.T) {
	source := &fakeRuleSource{rules: []model.ClassificationRule{
		{ID: 1, Name: "Tesco groceries", Expression: `description matches "(?i)tesco"`, CategoryID: 10},
		{ID: 2, Name: "Sainsburys", Expression: `description matches "(?i)sainsburys"`, CategoryID: 20},
		{ID: 3, Name: "amount only", Expression: `amount < -100.0`, CategoryID: 30},
	}}
	engine := NewEngine(source, 5)

	// A petrol-specific candidate overlaps the broad Tesco rule but not the
	// Sainsburys one; the pattern-less rule is skipped.
	result, err := engine.FindConflicts(context.Background(), `(?i)tesco petrol`, validationCorpus())
	require.NoError(t, err)
	require.True(t, result.HasConflicts)
	require.Len(t, result.ConflictingRules, 1)
	assert.Equal(t, "Tesco groceries", result.ConflictingRules[0].Rule.Name)
	assert.Equal(t, 1, result.ConflictingRules[0].OverlapCount)
}

func TestFindConflicts_NoRuleSource(t *testing.T) {
	engine := NewEngine(nil, 5)

	result, err := engine.FindConflicts(context.Background(), `(?i)tesco`, validationCorpus())
	require.NoError(t, err)
	assert.False(t, result.HasConflicts)
}

func TestFindConflicts_NoCandidateMatches(t *testing.T) {
	source := &fakeRuleSource{rules: []model.ClassificationRule{
		{ID: 1, Name: "Tesco", Expression: `description matches "(?i)tesco"`, CategoryID: 10},
	}}
	engine := NewEngine(source, 5)

	result, err := engine.FindConflicts(context.Background(), `(?i)waitrose`, validationCorpus())
	require.NoError(t, err)
	assert.False(t, result.HasConflicts)
}
