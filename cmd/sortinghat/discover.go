package main

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/calloway/sortinghat/internal/cluster"
	"github.com/calloway/sortinghat/internal/service"
	"github.com/calloway/sortinghat/internal/validate"
)

func discoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover rule candidates from unclassified transactions",
		Long: `Group unclassified transactions into merchant clusters, mine
high-frequency boilerplate phrases, and score a proposed pattern for each
cluster against the full transaction set.`,
		RunE: runDiscover,
	}

	cmd.Flags().Int("min-cluster-size", 2, "Minimum transactions per reported cluster")
	cmd.Flags().Float64("threshold", 0.10, "Minimum frequency for boilerplate phrase mining")
	cmd.Flags().Int("top", 10, "Number of clusters to report")

	return cmd
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	minClusterSize, _ := cmd.Flags().GetInt("min-cluster-size")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	top, _ := cmd.Flags().GetInt("top")

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	unclassified, err := store.GetTransactions(ctx, service.TransactionFilter{Unclassified: true})
	if err != nil {
		return fmt.Errorf("failed to load unclassified transactions: %w", err)
	}
	if len(unclassified) == 0 {
		fmt.Println("No unclassified transactions.")
		return nil
	}

	all, err := store.GetTransactions(ctx, service.TransactionFilter{})
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}

	clusterCfg := cluster.DefaultConfig()
	clusterCfg.MinClusterSize = minClusterSize
	clusters := cluster.NewEngine(clusterCfg).Cluster(unclassified)

	stats := cluster.ComputeStatistics(clusters, len(unclassified))
	fmt.Printf("Found %d clusters covering %d of %d unclassified transactions\n\n",
		stats.TotalClusters, stats.ClusteredTransactions, stats.TotalTransactions)

	validator := validate.NewEngine(store, clusterCfg.MaxSamples)

	for i, c := range clusters {
		if i >= top {
			break
		}

		pattern := "(?i)" + regexp.QuoteMeta(c.Key)
		targetIDs := make(map[int64]struct{}, len(c.Transactions))
		for _, txn := range c.Transactions {
			targetIDs[txn.ID] = struct{}{}
		}

		result := validator.TestRule(pattern, all, targetIDs)
		fmt.Printf("%s (%d transactions)\n", c.Key, c.Size())
		fmt.Printf("  proposed: description matches %q\n", pattern)
		fmt.Printf("  precision %s, coverage %s (%d matches, %d outside cluster)\n",
			result.Precision, result.Coverage, result.TotalMatches, result.FalsePositives)
		for _, sample := range c.SampleDescriptions {
			fmt.Printf("    %s\n", sample)
		}

		conflicts, conflictErr := validator.FindConflicts(ctx, pattern, all)
		if conflictErr != nil {
			return conflictErr
		}
		for _, conflict := range conflicts.ConflictingRules {
			fmt.Printf("  conflicts with rule %q (%d shared matches)\n",
				conflict.Rule.Name, conflict.OverlapCount)
		}
		fmt.Println()
	}

	analyzer, err := cluster.NewAnalyzer(cluster.AnalyzerConfig{
		Threshold:       threshold,
		MinPhraseWords:  2,
		MaxPhraseWords:  6,
		MinPhraseLength: 10,
		MaxSamples:      clusterCfg.MaxSamples,
	})
	if err != nil {
		return err
	}

	patterns := analyzer.Analyze(unclassified)
	if len(patterns) > 0 {
		fmt.Println("High-frequency phrases (likely bank boilerplate):")
		for _, p := range patterns {
			fmt.Printf("  %q in %d transactions (%.0f%%)\n",
				p.Phrase, p.TransactionCount, p.Frequency*100)
		}
	}

	return nil
}
