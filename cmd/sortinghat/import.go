package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/calloway/sortinghat/internal/model"
	"github.com/calloway/sortinghat/internal/ofx"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import transactions from OFX/QFX files",
		Long: `Import bank transactions from OFX or QFX exports. Transactions
already stored, identified by their bank-assigned id, are skipped.

Examples:
  sortinghat import ~/Downloads/statement_jan_2024.ofx
  sortinghat import ~/Downloads/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var allFiles []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				allFiles = append(allFiles, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
		} else {
			allFiles = append(allFiles, matches...)
		}
	}
	if len(allFiles) == 0 {
		return fmt.Errorf("no files found to import")
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	parser := ofx.NewParser()
	seen := make(map[string]bool)
	var toImport []model.Transaction
	var skipped int

	for _, filePath := range allFiles {
		f, err := os.Open(filePath)
		if err != nil {
			slog.Error("Failed to open file", "file", filePath, "error", err)
			continue
		}

		transactions, err := parser.ParseFile(ctx, f)
		_ = f.Close()
		if err != nil {
			slog.Error("Failed to parse OFX file", "file", filePath, "error", err)
			continue
		}

		for _, txn := range transactions {
			if txn.ExternalID != "" {
				if seen[txn.ExternalID] {
					skipped++
					continue
				}
				seen[txn.ExternalID] = true

				exists, existsErr := store.TransactionExistsByExternalID(ctx, txn.ExternalID)
				if existsErr != nil {
					return fmt.Errorf("failed to check for duplicate: %w", existsErr)
				}
				if exists {
					skipped++
					continue
				}
			}
			toImport = append(toImport, txn)
		}

		slog.Info("Processed file",
			"file", filepath.Base(filePath),
			"transactions", len(transactions))
	}

	if dryRun {
		fmt.Printf("Dry run: would import %d transactions (%d duplicates skipped)\n",
			len(toImport), skipped)
		return nil
	}

	if len(toImport) > 0 {
		if _, err := store.SaveTransactions(ctx, toImport); err != nil {
			return fmt.Errorf("failed to save transactions: %w", err)
		}
	}

	fmt.Printf("Imported %d transactions (%d duplicates skipped)\n", len(toImport), skipped)
	return nil
}
