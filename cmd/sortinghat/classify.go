package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/calloway/sortinghat/internal/engine"
	"github.com/calloway/sortinghat/internal/rules"
	"github.com/calloway/sortinghat/internal/service"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify unassigned transactions against the active rule set",
		Long: `Run every stored transaction without a category through the rule
engine. Rules flagged for disambiguation are applied at reduced confidence
when no AI collaborator is configured.`,
		RunE: runClassify,
	}

	cmd.Flags().Bool("force", false, "Reclassify transactions that already have a category")
	cmd.Flags().String("from", "", "Only classify transactions on or after this date (YYYY-MM-DD)")
	cmd.Flags().Int("concurrency", 4, "Concurrent classification workers")

	return cmd
}

func runClassify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	force, _ := cmd.Flags().GetBool("force")
	from, _ := cmd.Flags().GetString("from")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	filter := service.TransactionFilter{Unclassified: !force}
	if from != "" {
		startDate, parseErr := time.Parse("2006-01-02", from)
		if parseErr != nil {
			return fmt.Errorf("invalid --from date %q: %w", from, parseErr)
		}
		filter.StartDate = &startDate
	}

	txns, err := store.GetTransactions(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}
	if len(txns) == 0 {
		fmt.Println("Nothing to classify.")
		return nil
	}

	ruleEngine := rules.NewEngine(store)
	loaded, err := ruleEngine.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("Loaded classification rules", "count", loaded)

	cfg := engine.DefaultConfig()
	cfg.BatchConcurrency = concurrency
	orchestrator := engine.New(ruleEngine, nil, store, cfg)

	bar := progressbar.NewOptions(len(txns),
		progressbar.OptionSetDescription("Classifying"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	results := make(map[int64]engine.Result, len(txns))
	for _, txn := range txns {
		result, classifyErr := orchestrator.Classify(ctx, txn, engine.Options{Force: force})
		if classifyErr != nil {
			slog.Error("classification failed", "transaction_id", txn.ID, "error", classifyErr)
			result = engine.Result{TransactionID: txn.ID, Reason: classifyErr.Error()}
		}
		results[txn.ID] = result
		_ = bar.Add(1)
	}

	stats := engine.Summarize(results)
	fmt.Printf("\nClassified %d of %d transactions (%d by rule, %d already assigned, %d unclassified)\n",
		stats.Classified, stats.Total, stats.ByRule, stats.Existing, stats.Unclassified)

	return nil
}
