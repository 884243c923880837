// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Hierarchy errors.
	ErrCategoryNotFound    = errors.New("category not found")
	ErrParentNotFound      = errors.New("parent category not found")
	ErrCategoryHasChildren = errors.New("category has children")

	// Rule errors.
	ErrRuleNotFound   = errors.New("rule not found")
	ErrInvalidPattern = errors.New("invalid pattern")

	// Transaction errors.
	ErrTransactionNotFound = errors.New("transaction not found")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
)

// InvalidPatternError wraps the underlying parser message for a candidate
// expression or regex that failed to compile.
type InvalidPatternError struct {
	Pattern string
	Detail  string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Detail)
}

func (e *InvalidPatternError) Unwrap() error {
	return ErrInvalidPattern
}

// NewInvalidPatternError creates an InvalidPatternError carrying the parser detail.
func NewInvalidPatternError(pattern, detail string) error {
	return &InvalidPatternError{Pattern: pattern, Detail: detail}
}
