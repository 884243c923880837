package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calloway/sortinghat/internal/common"
	"github.com/calloway/sortinghat/internal/model"
)

func TestCreateRule_AndGet(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	cat := mustCreateCategory(t, store, "Groceries", nil)

	rule := &model.ClassificationRule{
		Name:       "Tesco groceries",
		Expression: `description matches "(?i)tesco"`,
		CategoryID: cat.ID,
		Priority:   10,
		IsActive:   true,
	}
	require.NoError(t, store.CreateRule(ctx, rule))
	require.NotZero(t, rule.ID)

	got, err := store.GetRuleByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tesco groceries", got.Name)
	assert.Equal(t, cat.ID, got.CategoryID)
	assert.Equal(t, 10, got.Priority)
	assert.True(t, got.IsActive)
	assert.False(t, got.RequiresDisambiguation)
}

func TestCreateRule_EmptyFields(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	err := store.CreateRule(ctx, &model.ClassificationRule{Expression: "true"})
	assert.Error(t, err)

	err = store.CreateRule(ctx, &model.ClassificationRule{Name: "no expression"})
	assert.Error(t, err)
}

func TestGetActiveRulesByPriority_Ordering(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	cat := mustCreateCategory(t, store, "Groceries", nil)

	// Inserted out of priority order, with a shared priority to exercise the
	// id tiebreak and an inactive rule that must not appear.
	for _, r := range []*model.ClassificationRule{
		{Name: "third", Expression: "true", CategoryID: cat.ID, Priority: 50, IsActive: true},
		{Name: "first", Expression: "true", CategoryID: cat.ID, Priority: 10, IsActive: true},
		{Name: "second", Expression: "true", CategoryID: cat.ID, Priority: 10, IsActive: true},
		{Name: "hidden", Expression: "true", CategoryID: cat.ID, Priority: 1, IsActive: false},
	} {
		require.NoError(t, store.CreateRule(ctx, r))
	}

	active, err := store.GetActiveRulesByPriority(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "first", active[0].Name)
	assert.Equal(t, "second", active[1].Name)
	assert.Equal(t, "third", active[2].Name)
}

func TestUpdateRule(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	cat := mustCreateCategory(t, store, "Groceries", nil)

	rule := &model.ClassificationRule{
		Name:       "Tesco",
		Expression: `description matches "(?i)tesco"`,
		CategoryID: cat.ID,
		Priority:   10,
		IsActive:   true,
	}
	require.NoError(t, store.CreateRule(ctx, rule))

	rule.Priority = 5
	rule.RequiresDisambiguation = true
	require.NoError(t, store.UpdateRule(ctx, rule))

	got, err := store.GetRuleByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Priority)
	assert.True(t, got.RequiresDisambiguation)
}

func TestUpdateRule_NotFound(t *testing.T) {
	store := createTestStorage(t)

	err := store.UpdateRule(context.Background(), &model.ClassificationRule{
		ID: 77, Name: "ghost", Expression: "true",
	})
	assert.ErrorIs(t, err, common.ErrRuleNotFound)
}

func TestSetRuleActive(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	cat := mustCreateCategory(t, store, "Groceries", nil)

	rule := &model.ClassificationRule{
		Name: "Tesco", Expression: "true", CategoryID: cat.ID, IsActive: true,
	}
	require.NoError(t, store.CreateRule(ctx, rule))

	require.NoError(t, store.SetRuleActive(ctx, rule.ID, false))

	active, err := store.GetActiveRulesByPriority(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, store.SetRuleActive(ctx, 999, true), common.ErrRuleNotFound)
}
