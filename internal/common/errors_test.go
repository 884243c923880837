package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidPatternError(t *testing.T) {
	err := NewInvalidPatternError("(?i)tesco(", "missing closing )")

	assert.ErrorIs(t, err, ErrInvalidPattern)
	assert.Contains(t, err.Error(), "(?i)tesco(")
	assert.Contains(t, err.Error(), "missing closing )")

	var patternErr *InvalidPatternError
	assert.True(t, errors.As(err, &patternErr))
	assert.Equal(t, "(?i)tesco(", patternErr.Pattern)
}
