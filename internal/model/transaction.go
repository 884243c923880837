package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a single financial transaction from any source.
// Immutable once stored, except for its category assignment which lives in
// a separate assignment table.
type Transaction struct {
	Date        time.Time
	CreatedAt   time.Time
	Description string
	Currency    string
	ExternalID  string
	AccountName string
	Notes       string
	Amount      decimal.Decimal
	ID          int64
}
