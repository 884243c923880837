package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/calloway/sortinghat/internal/common"
	"github.com/calloway/sortinghat/internal/model"
	"github.com/calloway/sortinghat/internal/service"
)

// CreateCategory inserts a category and populates its closure rows: a self
// edge at depth 0 plus one re-targeted copy of every edge terminating at the
// parent, at depth+1. Cost is O(depth of parent).
func (s *SQLiteStorage) CreateCategory(ctx context.Context, name string, parentID *int64, opts service.CategoryCreateOptions) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	var created *model.Category
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if parentID != nil {
			exists, err := categoryExistsTx(ctx, tx, *parentID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: id %d", common.ErrParentNotFound, *parentID)
			}
		}

		var frequency any
		if opts.Frequency != "" {
			frequency = string(opts.Frequency)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO categories (name, parent_id, commitment_level, frequency, is_essential)
			VALUES (?, ?, ?, ?, ?)`,
			name, parentID, opts.CommitmentLevel, frequency, opts.IsEssential)
		if err != nil {
			return fmt.Errorf("failed to insert category: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get category id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO category_closure (ancestor_id, descendant_id, depth)
			VALUES (?, ?, 0)`, id, id); err != nil {
			return fmt.Errorf("failed to insert self edge: %w", err)
		}

		if parentID != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO category_closure (ancestor_id, descendant_id, depth)
				SELECT ancestor_id, ?, depth + 1
				FROM category_closure
				WHERE descendant_id = ?`, id, *parentID); err != nil {
				return fmt.Errorf("failed to copy ancestor edges: %w", err)
			}
		}

		created, err = getCategoryTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("created category", "id", created.ID, "name", created.Name, "parent_id", parentID)
	return created, nil
}

// MoveCategory re-parents a category, recomputing closure rows for its whole
// subtree. The operation is atomic: a validation failure leaves the closure
// relation untouched.
func (s *SQLiteStorage) MoveCategory(ctx context.Context, categoryID int64, newParentID *int64) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var moved *model.Category
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := categoryExistsTx(ctx, tx, categoryID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: id %d", common.ErrCategoryNotFound, categoryID)
		}

		if newParentID != nil {
			exists, err := categoryExistsTx(ctx, tx, *newParentID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: id %d", common.ErrParentNotFound, *newParentID)
			}
		}

		// Subtree members with their depth relative to the moved root,
		// captured before any edges are deleted.
		relativeDepths := make(map[int64]int)
		var memberIDs []int64
		rows, err := tx.QueryContext(ctx, `
			SELECT descendant_id, depth
			FROM category_closure
			WHERE ancestor_id = ?`, categoryID)
		if err != nil {
			return fmt.Errorf("failed to query subtree: %w", err)
		}
		for rows.Next() {
			var id int64
			var depth int
			if err := rows.Scan(&id, &depth); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan subtree row: %w", err)
			}
			relativeDepths[id] = depth
			memberIDs = append(memberIDs, id)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("error iterating subtree: %w", err)
		}

		// Drop every edge that crosses the subtree boundary from above:
		// descendant inside, ancestor outside.
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(memberIDs)), ",")
		args := make([]any, 0, 2*len(memberIDs))
		for _, id := range memberIDs {
			args = append(args, id)
		}
		for _, id := range memberIDs {
			args = append(args, id)
		}
		deleteQuery := fmt.Sprintf(`
			DELETE FROM category_closure
			WHERE descendant_id IN (%s)
			  AND ancestor_id NOT IN (%s)`, placeholders, placeholders)
		if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
			return fmt.Errorf("failed to delete boundary edges: %w", err)
		}

		if newParentID != nil {
			type ancestorEdge struct {
				id    int64
				depth int
			}
			var newAncestors []ancestorEdge
			rows, err := tx.QueryContext(ctx, `
				SELECT ancestor_id, depth
				FROM category_closure
				WHERE descendant_id = ?`, *newParentID)
			if err != nil {
				return fmt.Errorf("failed to query new ancestors: %w", err)
			}
			for rows.Next() {
				var edge ancestorEdge
				if err := rows.Scan(&edge.id, &edge.depth); err != nil {
					rows.Close()
					return fmt.Errorf("failed to scan ancestor row: %w", err)
				}
				newAncestors = append(newAncestors, edge)
			}
			if err := rows.Close(); err != nil {
				return fmt.Errorf("error iterating ancestors: %w", err)
			}

			for _, memberID := range memberIDs {
				relDepth := relativeDepths[memberID]
				for _, ancestor := range newAncestors {
					if _, err := tx.ExecContext(ctx, `
						INSERT INTO category_closure (ancestor_id, descendant_id, depth)
						VALUES (?, ?, ?)`,
						ancestor.id, memberID, ancestor.depth+1+relDepth); err != nil {
						return fmt.Errorf("failed to insert closure edge: %w", err)
					}
				}
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE categories SET parent_id = ? WHERE id = ?`,
			newParentID, categoryID); err != nil {
			return fmt.Errorf("failed to update parent pointer: %w", err)
		}

		moved, err = getCategoryTx(ctx, tx, categoryID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("moved category", "id", categoryID, "new_parent_id", newParentID)
	return moved, nil
}

// DeleteCategory removes a category and its closure rows. Without cascade it
// fails when direct children exist, leaving state unmodified. With cascade,
// proper descendants are removed deepest-first so closure references break
// before their rows go.
func (s *SQLiteStorage) DeleteCategory(ctx context.Context, categoryID int64, cascade bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := categoryExistsTx(ctx, tx, categoryID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: id %d", common.ErrCategoryNotFound, categoryID)
		}

		var childCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM categories WHERE parent_id = ?`,
			categoryID).Scan(&childCount); err != nil {
			return fmt.Errorf("failed to count children: %w", err)
		}

		if childCount > 0 && !cascade {
			return fmt.Errorf("%w: id %d has %d children", common.ErrCategoryHasChildren, categoryID, childCount)
		}

		if cascade {
			var descendantIDs []int64
			rows, err := tx.QueryContext(ctx, `
				SELECT descendant_id
				FROM category_closure
				WHERE ancestor_id = ? AND descendant_id != ?
				ORDER BY depth DESC`, categoryID, categoryID)
			if err != nil {
				return fmt.Errorf("failed to query descendants: %w", err)
			}
			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return fmt.Errorf("failed to scan descendant: %w", err)
				}
				descendantIDs = append(descendantIDs, id)
			}
			if err := rows.Close(); err != nil {
				return fmt.Errorf("error iterating descendants: %w", err)
			}

			for _, id := range descendantIDs {
				if err := deleteCategoryRowTx(ctx, tx, id); err != nil {
					return err
				}
			}
		}

		return deleteCategoryRowTx(ctx, tx, categoryID)
	})
}

// deleteCategoryRowTx removes a single category's closure rows then the
// category itself.
func deleteCategoryRowTx(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM category_closure
		WHERE ancestor_id = ? OR descendant_id = ?`, id, id); err != nil {
		return fmt.Errorf("failed to delete closure rows for %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM categories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete category %d: %w", id, err)
	}
	return nil
}

// GetAncestors returns the ancestor chain of a category including itself,
// ordered root-first, self-last.
func (s *SQLiteStorage) GetAncestors(ctx context.Context, categoryID int64) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := s.requireCategory(ctx, categoryID); err != nil {
		return nil, err
	}

	query := `
		SELECT c.id, c.name, c.parent_id, c.commitment_level, c.frequency, c.is_essential, c.created_at
		FROM categories c
		JOIN category_closure cc ON c.id = cc.ancestor_id
		WHERE cc.descendant_id = ?
		ORDER BY cc.depth DESC`

	return s.queryCategories(ctx, query, categoryID)
}

// GetDescendants returns the subtree of a category including itself, ordered
// self-first, deepest-last.
func (s *SQLiteStorage) GetDescendants(ctx context.Context, categoryID int64) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := s.requireCategory(ctx, categoryID); err != nil {
		return nil, err
	}

	query := `
		SELECT c.id, c.name, c.parent_id, c.commitment_level, c.frequency, c.is_essential, c.created_at
		FROM categories c
		JOIN category_closure cc ON c.id = cc.descendant_id
		WHERE cc.ancestor_id = ?
		ORDER BY cc.depth ASC`

	return s.queryCategories(ctx, query, categoryID)
}

// GetClosureEdges returns the ancestor edges terminating at a category,
// ordered by depth ascending (self edge first).
func (s *SQLiteStorage) GetClosureEdges(ctx context.Context, categoryID int64) ([]model.ClosureEdge, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ancestor_id, descendant_id, depth
		FROM category_closure
		WHERE descendant_id = ?
		ORDER BY depth ASC`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query closure edges: %w", err)
	}
	defer rows.Close()

	var edges []model.ClosureEdge
	for rows.Next() {
		var edge model.ClosureEdge
		if err := rows.Scan(&edge.AncestorID, &edge.DescendantID, &edge.Depth); err != nil {
			return nil, fmt.Errorf("failed to scan closure edge: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating closure edges: %w", err)
	}
	return edges, nil
}

// SubtreeAmountSum sums the signed amounts of every transaction assigned to
// the category or any of its descendants, joining through the closure
// relation. Returns zero when no transactions exist.
func (s *SQLiteStorage) SubtreeAmountSum(ctx context.Context, categoryID int64) (decimal.Decimal, error) {
	if err := validateContext(ctx); err != nil {
		return decimal.Zero, err
	}
	if err := s.requireCategory(ctx, categoryID); err != nil {
		return decimal.Zero, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.amount
		FROM transactions t
		JOIN transaction_categories tc ON t.id = tc.transaction_id
		JOIN category_closure cc ON tc.category_id = cc.descendant_id
		WHERE cc.ancestor_id = ?`, categoryID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query subtree amounts: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", raw, err)
		}
		sum = sum.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating amounts: %w", err)
	}
	return sum, nil
}

// GetCategoryByID returns a category by id.
func (s *SQLiteStorage) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	cat, err := scanCategory(s.db.QueryRowContext(ctx, `
		SELECT id, name, parent_id, commitment_level, frequency, is_essential, created_at
		FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", common.ErrCategoryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}
	return cat, nil
}

// GetCategories returns all categories ordered by name.
func (s *SQLiteStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, name, parent_id, commitment_level, frequency, is_essential, created_at
		FROM categories
		ORDER BY name`

	return s.queryCategories(ctx, query)
}

func (s *SQLiteStorage) requireCategory(ctx context.Context, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM categories WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", common.ErrCategoryNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to check category: %w", err)
	}
	return nil
}

func categoryExistsTx(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM categories WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check category: %w", err)
	}
	return true, nil
}

func getCategoryTx(ctx context.Context, tx *sql.Tx, id int64) (*model.Category, error) {
	cat, err := scanCategory(tx.QueryRowContext(ctx, `
		SELECT id, name, parent_id, commitment_level, frequency, is_essential, created_at
		FROM categories WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to read category %d: %w", id, err)
	}
	return cat, nil
}

func (s *SQLiteStorage) queryCategories(ctx context.Context, query string, args ...any) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, *cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (*model.Category, error) {
	var cat model.Category
	var parentID sql.NullInt64
	var commitment sql.NullInt64
	var frequency sql.NullString

	if err := row.Scan(&cat.ID, &cat.Name, &parentID, &commitment, &frequency,
		&cat.IsEssential, &cat.CreatedAt); err != nil {
		return nil, err
	}

	if parentID.Valid {
		cat.ParentID = &parentID.Int64
	}
	if commitment.Valid {
		level := int(commitment.Int64)
		cat.CommitmentLevel = &level
	}
	if frequency.Valid {
		cat.Frequency = model.CategoryFrequency(frequency.String)
	}
	return &cat, nil
}
