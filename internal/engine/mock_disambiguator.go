package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/calloway/sortinghat/internal/model"
	"github.com/calloway/sortinghat/internal/service"
)

// MockDisambiguator is a test implementation of the Disambiguator interface.
// Responses are programmed per description substring; unmatched transactions
// get the configured default.
type MockDisambiguator struct {
	Err       error
	Default   *service.DisambiguationResult
	responses map[string]*service.DisambiguationResult
	calls     []model.Transaction
	mu        sync.Mutex
}

// NewMockDisambiguator creates a mock with no programmed responses.
func NewMockDisambiguator() *MockDisambiguator {
	return &MockDisambiguator{
		responses: make(map[string]*service.DisambiguationResult),
	}
}

// Respond programs a successful response for any transaction whose
// description contains the given substring (case-insensitive).
func (m *MockDisambiguator) Respond(substring string, categoryID int64, confidence string) *MockDisambiguator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[strings.ToUpper(substring)] = &service.DisambiguationResult{
		Success:    true,
		CategoryID: &categoryID,
		Confidence: decimal.RequireFromString(confidence),
		ModelUsed:  "mock-model",
	}
	return m
}

// Disambiguate returns the programmed response for the transaction, the
// configured default, or an empty failure result.
func (m *MockDisambiguator) Disambiguate(_ context.Context, txn model.Transaction) (*service.DisambiguationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, txn)

	if m.Err != nil {
		return nil, m.Err
	}

	desc := strings.ToUpper(txn.Description)
	for substring, res := range m.responses {
		if strings.Contains(desc, substring) {
			return res, nil
		}
	}
	if m.Default != nil {
		return m.Default, nil
	}
	return &service.DisambiguationResult{ErrMessage: "no category could be determined"}, nil
}

// CallCount returns the number of times Disambiguate was called.
func (m *MockDisambiguator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of the recorded transactions for verification.
func (m *MockDisambiguator) Calls() []model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]model.Transaction, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Reset clears all recorded calls.
func (m *MockDisambiguator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
