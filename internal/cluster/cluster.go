// Package cluster groups unclassified transactions by normalized description
// and mines frequent sub-phrases, feeding the rule discovery pipeline.
package cluster

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/calloway/sortinghat/internal/model"
)

// UnclusteredKey is the sentinel cluster key for descriptions that normalize
// to nothing.
const UnclusteredKey = "UNCLUSTERED"

// removableSuffixes are tokens dropped during normalization: legal-entity
// suffixes and payment/channel boilerplate that carry no merchant signal.
var removableSuffixes = map[string]struct{}{
	"STORES": {}, "STORE": {}, "LTD": {}, "LIMITED": {}, "S.A.": {},
	"INC": {}, "ORDER": {}, "PAYMENT": {}, "EXPRESS": {}, "ONLINE": {},
	"DIRECT": {}, "DEBIT": {}, "CARD": {}, "UK": {}, "GB": {},
	"PLC": {}, "CO": {}, "LLC": {}, "COM": {}, "ORG": {}, "NET": {},
}

var removalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d+`),    // store ids, reference numbers
	regexp.MustCompile(`[*#@.]`), // separator punctuation
}

// Cluster is an ephemeral group of transactions sharing a cluster key.
type Cluster struct {
	Key                string
	Hash               string
	Transactions       []model.Transaction
	SampleDescriptions []string
}

// Size returns the number of transactions in the cluster.
func (c *Cluster) Size() int {
	return len(c.Transactions)
}

// Statistics summarizes how much of a transaction backlog clustering explains.
type Statistics struct {
	TotalTransactions     int
	TotalClusters         int
	ClusteredTransactions int
	CoveragePercentage    float64
	LargestClusterSize    int
	SmallestClusterSize   int
	AverageClusterSize    float64
}

// Config holds clustering parameters.
type Config struct {
	// BoilerplatePhrases are stripped from descriptions before tokenizing,
	// case-insensitively. Useful for bank-specific prefixes.
	BoilerplatePhrases []string
	MinClusterSize     int
	MaxSamples         int
}

// DefaultConfig returns the default clustering configuration.
func DefaultConfig() Config {
	return Config{
		MinClusterSize: 2,
		MaxSamples:     5,
	}
}

// Engine clusters transactions by the first significant token of their
// normalized description. Deterministic single-pass grouping, not pairwise
// similarity.
type Engine struct {
	boilerplate    []string
	minClusterSize int
	maxSamples     int
}

// NewEngine creates a clustering engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = 2
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 5
	}
	boilerplate := make([]string, len(cfg.BoilerplatePhrases))
	for i, phrase := range cfg.BoilerplatePhrases {
		boilerplate[i] = strings.ToUpper(phrase)
	}
	return &Engine{
		boilerplate:    boilerplate,
		minClusterSize: cfg.MinClusterSize,
		maxSamples:     cfg.MaxSamples,
	}
}

// Normalize prepares a description for clustering: uppercase, strip digits
// and separator punctuation, strip configured boilerplate phrases, collapse
// whitespace, then drop removable-suffix tokens.
func (e *Engine) Normalize(description string) string {
	normalized := strings.ToUpper(description)

	for _, phrase := range e.boilerplate {
		normalized = strings.ReplaceAll(normalized, phrase, " ")
	}

	for _, pattern := range removalPatterns {
		normalized = pattern.ReplaceAllString(normalized, " ")
	}

	words := strings.Fields(normalized)
	filtered := words[:0]
	for _, w := range words {
		if _, skip := removableSuffixes[w]; !skip {
			filtered = append(filtered, w)
		}
	}
	return strings.Join(filtered, " ")
}

// ClusterKey extracts the deterministic key for a description: the first
// remaining token after normalization, or the unclustered sentinel.
func (e *Engine) ClusterKey(description string) string {
	normalized := e.Normalize(description)
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return UnclusteredKey
	}
	return words[0]
}

// KeyHash computes the stable external identifier for a cluster key.
func KeyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum)
}

// Cluster groups transactions by cluster key, discards groups under the
// minimum size, and returns the rest sorted by descending size. Each cluster
// carries up to the configured number of unique sample descriptions.
func (e *Engine) Cluster(transactions []model.Transaction) []Cluster {
	groups := make(map[string][]model.Transaction)
	var order []string

	for _, txn := range transactions {
		if txn.Description == "" {
			continue
		}
		key := e.ClusterKey(txn.Description)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], txn)
	}

	clusters := make([]Cluster, 0, len(groups))
	for _, key := range order {
		members := groups[key]
		if len(members) < e.minClusterSize {
			continue
		}

		seen := make(map[string]struct{})
		var samples []string
		for _, txn := range members {
			if _, dup := seen[txn.Description]; dup {
				continue
			}
			seen[txn.Description] = struct{}{}
			samples = append(samples, txn.Description)
			if len(samples) >= e.maxSamples {
				break
			}
		}

		clusters = append(clusters, Cluster{
			Key:                key,
			Hash:               KeyHash(key),
			Transactions:       members,
			SampleDescriptions: samples,
		})
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Size() > clusters[j].Size()
	})
	return clusters
}

// Unclustered returns the transactions that landed in no cluster.
func (e *Engine) Unclustered(transactions []model.Transaction, clusters []Cluster) []model.Transaction {
	clustered := make(map[int64]struct{})
	for _, c := range clusters {
		for _, txn := range c.Transactions {
			clustered[txn.ID] = struct{}{}
		}
	}

	var remainder []model.Transaction
	for _, txn := range transactions {
		if _, ok := clustered[txn.ID]; !ok {
			remainder = append(remainder, txn)
		}
	}
	return remainder
}

// ComputeStatistics reports coverage and size metrics for a clustering run.
// totalTransactions counts the whole backlog, clustered or not.
func ComputeStatistics(clusters []Cluster, totalTransactions int) Statistics {
	if len(clusters) == 0 {
		return Statistics{TotalTransactions: totalTransactions}
	}

	clustered := 0
	largest := clusters[0].Size()
	smallest := clusters[0].Size()
	for _, c := range clusters {
		size := c.Size()
		clustered += size
		if size > largest {
			largest = size
		}
		if size < smallest {
			smallest = size
		}
	}

	coverage := 0.0
	if totalTransactions > 0 {
		coverage = float64(clustered) / float64(totalTransactions) * 100
	}

	return Statistics{
		TotalTransactions:     totalTransactions,
		TotalClusters:         len(clusters),
		ClusteredTransactions: clustered,
		CoveragePercentage:    coverage,
		LargestClusterSize:    largest,
		SmallestClusterSize:   smallest,
		AverageClusterSize:    float64(clustered) / float64(len(clusters)),
	}
}
