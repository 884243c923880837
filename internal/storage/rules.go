package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/calloway/sortinghat/internal/common"
	"github.com/calloway/sortinghat/internal/model"
)

// CreateRule inserts a classification rule and sets its id and timestamps.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.ClassificationRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(rule.Name, "rule name"); err != nil {
		return err
	}
	if err := validateString(rule.Expression, "rule expression"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO classification_rules (name, expression, category_id, priority, requires_disambiguation, is_active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rule.Name, rule.Expression, rule.CategoryID, rule.Priority,
		rule.RequiresDisambiguation, rule.IsActive)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get rule id: %w", err)
	}
	rule.ID = id

	slog.Info("created rule", "id", rule.ID, "name", rule.Name, "priority", rule.Priority)
	return nil
}

// UpdateRule updates an existing rule's definition.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, rule *model.ClassificationRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE classification_rules
		SET name = ?, expression = ?, category_id = ?, priority = ?,
		    requires_disambiguation = ?, is_active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		rule.Name, rule.Expression, rule.CategoryID, rule.Priority,
		rule.RequiresDisambiguation, rule.IsActive, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", common.ErrRuleNotFound, rule.ID)
	}
	return nil
}

// SetRuleActive toggles a rule's active flag. Rules referenced by evidence
// are deactivated rather than deleted.
func (s *SQLiteStorage) SetRuleActive(ctx context.Context, ruleID int64, active bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE classification_rules
		SET is_active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, active, ruleID)
	if err != nil {
		return fmt.Errorf("failed to set rule active: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", common.ErrRuleNotFound, ruleID)
	}
	return nil
}

// GetRuleByID returns a rule by id.
func (s *SQLiteStorage) GetRuleByID(ctx context.Context, id int64) (*model.ClassificationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rule, err := scanRule(s.db.QueryRowContext(ctx, `
		SELECT id, name, expression, category_id, priority, requires_disambiguation, is_active, created_at, updated_at
		FROM classification_rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", common.ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	return rule, nil
}

// GetActiveRulesByPriority returns active rules sorted ascending by priority
// (lower value = higher precedence), id as tiebreak for a total order.
func (s *SQLiteStorage) GetActiveRulesByPriority(ctx context.Context) ([]model.ClassificationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, expression, category_id, priority, requires_disambiguation, is_active, created_at, updated_at
		FROM classification_rules
		WHERE is_active = 1
		ORDER BY priority ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []model.ClassificationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

func scanRule(row rowScanner) (*model.ClassificationRule, error) {
	var rule model.ClassificationRule
	if err := row.Scan(&rule.ID, &rule.Name, &rule.Expression, &rule.CategoryID,
		&rule.Priority, &rule.RequiresDisambiguation, &rule.IsActive,
		&rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}
	return &rule, nil
}
