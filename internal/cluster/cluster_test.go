package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calloway/sortinghat/internal/model"
)

func txns(descriptions ...string) []model.Transaction {
	out := make([]model.Transaction, len(descriptions))
	for i, d := range descriptions {
		out[i] = model.Transaction{ID: int64(i + 1), Description: d}
	}
	return out
}

func TestClusterKey_MerchantVariants(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	// Digits, store-number noise, and legal-entity suffixes all collapse to
	// the same merchant token.
	tests := []struct {
		description string
		want        string
	}{
		{"TESCO STORES 1234", "TESCO"},
		{"TESCO STORE 99", "TESCO"},
		{"TESCO LTD", "TESCO"},
		{"tesco stores 5678", "TESCO"},
		{"SAINSBURYS LOCAL #42", "SAINSBURYS"},
		{"AMAZON.COM*ORDER 12345", "AMAZON"},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.ClusterKey(tt.description))
		})
	}
}

func TestClusterKey_UnclusteredSentinel(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	// Pure boilerplate normalizes to nothing.
	assert.Equal(t, UnclusteredKey, engine.ClusterKey("1234 5678"))
	assert.Equal(t, UnclusteredKey, engine.ClusterKey("DIRECT DEBIT PAYMENT"))
	assert.Equal(t, UnclusteredKey, engine.ClusterKey(""))
}

func TestNormalize_BoilerplatePhrases(t *testing.T) {
	engine := NewEngine(Config{
		BoilerplatePhrases: []string{"CARD PAYMENT TO"},
	})

	assert.Equal(t, "TESCO", engine.Normalize("Card Payment To TESCO STORES 1234"))
}

func TestCluster_GroupsVariantsTogether(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	clusters := engine.Cluster(txns(
		"TESCO STORES 1234",
		"TESCO STORE 99",
		"TESCO LTD",
		"SAINSBURYS LOCAL",
		"SAINSBURYS LOCAL",
		"ONE OFF MERCHANT",
	))

	require.Len(t, clusters, 2)

	// Sorted by descending size.
	assert.Equal(t, "TESCO", clusters[0].Key)
	assert.Equal(t, 3, clusters[0].Size())
	assert.Equal(t, "SAINSBURYS", clusters[1].Key)
	assert.Equal(t, 2, clusters[1].Size())

	// Hash is stable for a given key.
	assert.Equal(t, KeyHash("TESCO"), clusters[0].Hash)
	assert.Len(t, clusters[0].Hash, 64)
}

func TestCluster_MinSizeAndSamples(t *testing.T) {
	engine := NewEngine(Config{MinClusterSize: 3, MaxSamples: 2})

	clusters := engine.Cluster(txns(
		"TESCO STORES 1234",
		"TESCO STORES 1234",
		"TESCO STORE 99",
		"SAINSBURYS LOCAL",
		"SAINSBURYS LOCAL",
	))

	require.Len(t, clusters, 1)
	assert.Equal(t, "TESCO", clusters[0].Key)

	// Samples are unique and bounded.
	assert.Equal(t, []string{"TESCO STORES 1234", "TESCO STORE 99"}, clusters[0].SampleDescriptions)
}

func TestUnclustered(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	all := txns(
		"TESCO STORES 1234",
		"TESCO STORE 99",
		"ONE OFF MERCHANT",
	)
	clusters := engine.Cluster(all)
	require.Len(t, clusters, 1)

	remainder := engine.Unclustered(all, clusters)
	require.Len(t, remainder, 1)
	assert.Equal(t, "ONE OFF MERCHANT", remainder[0].Description)
}

func TestComputeStatistics(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	clusters := engine.Cluster(txns(
		"TESCO STORES 1234",
		"TESCO STORE 99",
		"TESCO LTD",
		"SAINSBURYS LOCAL",
		"SAINSBURYS LOCAL",
	))

	stats := ComputeStatistics(clusters, 10)
	assert.Equal(t, 10, stats.TotalTransactions)
	assert.Equal(t, 2, stats.TotalClusters)
	assert.Equal(t, 5, stats.ClusteredTransactions)
	assert.InDelta(t, 50.0, stats.CoveragePercentage, 0.001)
	assert.Equal(t, 3, stats.LargestClusterSize)
	assert.Equal(t, 2, stats.SmallestClusterSize)
	assert.InDelta(t, 2.5, stats.AverageClusterSize, 0.001)
}

func TestComputeStatistics_Empty(t *testing.T) {
	stats := ComputeStatistics(nil, 5)
	assert.Equal(t, 5, stats.TotalTransactions)
	assert.Zero(t, stats.TotalClusters)
	assert.Zero(t, stats.CoveragePercentage)
}
