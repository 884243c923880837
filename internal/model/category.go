// Package model defines the core domain models used throughout the application.
package model

import "time"

// CategoryFrequency tags how often spending in a category recurs.
type CategoryFrequency string

// Category frequency constants.
const (
	FrequencyWeekly    CategoryFrequency = "weekly"
	FrequencyMonthly   CategoryFrequency = "monthly"
	FrequencyQuarterly CategoryFrequency = "quarterly"
	FrequencyAnnual    CategoryFrequency = "annual"
	FrequencyAdHoc     CategoryFrequency = "ad_hoc"
)

// Category represents a node in the hierarchical category taxonomy.
// Parent pointers define the tree shape; ancestor/descendant queries always
// go through the closure table, never through pointer traversal.
type Category struct {
	CreatedAt       time.Time
	Name            string
	Frequency       CategoryFrequency
	ParentID        *int64
	CommitmentLevel *int
	ID              int64
	IsEssential     bool
}

// ClosureEdge is a materialized (ancestor, descendant, depth) triple.
// Every category has exactly one self edge with depth 0, and exactly one
// edge per proper ancestor with depth equal to the path length.
type ClosureEdge struct {
	AncestorID   int64
	DescendantID int64
	Depth        int
}
