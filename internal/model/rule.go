package model

import "time"

// ClassificationRule is a stored boolean expression that assigns a category
// to any transaction it matches. Rules are evaluated ascending by priority;
// the first match wins. Rules referenced by evidence are deactivated, never
// deleted.
type ClassificationRule struct {
	CreatedAt              time.Time
	UpdatedAt              time.Time
	Name                   string
	Expression             string
	ID                     int64
	CategoryID             int64
	Priority               int
	RequiresDisambiguation bool
	IsActive               bool
}
