// Package testutil provides shared helpers for database-backed tests: an
// in-memory store with migrations applied, plus seed helpers for category
// trees, transactions, and rules.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/calloway/sortinghat/internal/model"
	"github.com/calloway/sortinghat/internal/service"
	"github.com/calloway/sortinghat/internal/storage"
)

// TestDB wraps a migrated in-memory store with seed helpers.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a migrated in-memory database. Cleanup is registered
// automatically.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// MustCreateCategory creates a category or fails the test.
func (db *TestDB) MustCreateCategory(ctx context.Context, name string, parentID *int64) *model.Category {
	db.t.Helper()
	cat, err := db.Storage.CreateCategory(ctx, name, parentID, service.CategoryCreateOptions{})
	if err != nil {
		db.t.Fatalf("failed to create category %q: %v", name, err)
	}
	return cat
}

// MustCreateTree creates a parent category with the given children and
// returns all created categories keyed by name.
func (db *TestDB) MustCreateTree(ctx context.Context, parent string, children ...string) map[string]*model.Category {
	db.t.Helper()
	cats := make(map[string]*model.Category, len(children)+1)
	root := db.MustCreateCategory(ctx, parent, nil)
	cats[parent] = root
	for _, child := range children {
		cats[child] = db.MustCreateCategory(ctx, child, &root.ID)
	}
	return cats
}

// MustSaveTransaction persists one transaction with sensible defaults and
// returns it with its assigned id.
func (db *TestDB) MustSaveTransaction(ctx context.Context, description, amount string) model.Transaction {
	db.t.Helper()
	saved, err := db.Storage.SaveTransactions(ctx, []model.Transaction{{
		Date:        time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "GBP",
		AccountName: "test-account",
	}})
	if err != nil {
		db.t.Fatalf("failed to save transaction %q: %v", description, err)
	}
	return saved[0]
}

// MustCreateRule persists a rule or fails the test.
func (db *TestDB) MustCreateRule(ctx context.Context, rule *model.ClassificationRule) *model.ClassificationRule {
	db.t.Helper()
	if err := db.Storage.CreateRule(ctx, rule); err != nil {
		db.t.Fatalf("failed to create rule %q: %v", rule.Name, err)
	}
	return rule
}
