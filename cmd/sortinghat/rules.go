package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/calloway/sortinghat/internal/model"
	"github.com/calloway/sortinghat/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage classification rules",
	}

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesTestCmd())
	cmd.AddCommand(rulesEnableCmd())
	cmd.AddCommand(rulesDisableCmd())

	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active rules in evaluation order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			active, err := store.GetActiveRulesByPriority(ctx)
			if err != nil {
				return fmt.Errorf("failed to load rules: %w", err)
			}
			if len(active) == 0 {
				fmt.Println("No active rules.")
				return nil
			}

			for _, rule := range active {
				flag := ""
				if rule.RequiresDisambiguation {
					flag = " [disambiguate]"
				}
				fmt.Printf("%4d  p%-4d %s%s\n      %s\n",
					rule.ID, rule.Priority, rule.Name, flag, rule.Expression)
			}
			return nil
		},
	}
}

func rulesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name> <expression>",
		Short: "Add a classification rule",
		Long: `Add a rule mapping matching transactions to a category. Expressions
evaluate against the transaction fields, for example:

  sortinghat rules add "Tesco groceries" 'description matches "(?i)tesco"' --category 3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			categoryID, _ := cmd.Flags().GetInt64("category")
			priority, _ := cmd.Flags().GetInt("priority")
			disambiguate, _ := cmd.Flags().GetBool("disambiguate")

			if categoryID <= 0 {
				return fmt.Errorf("--category is required")
			}

			// Reject unparseable expressions before they reach the store.
			if _, err := rules.NewEngine(nil).TestExpression(args[1], nil); err != nil {
				return fmt.Errorf("invalid expression: %w", err)
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			if _, err := store.GetCategoryByID(ctx, categoryID); err != nil {
				return err
			}

			rule := &model.ClassificationRule{
				Name:                   args[0],
				Expression:             args[1],
				CategoryID:             categoryID,
				Priority:               priority,
				RequiresDisambiguation: disambiguate,
				IsActive:               true,
			}
			if err := store.CreateRule(ctx, rule); err != nil {
				return fmt.Errorf("failed to create rule: %w", err)
			}

			fmt.Printf("Created rule %q (id %d)\n", rule.Name, rule.ID)
			return nil
		},
	}

	cmd.Flags().Int64("category", 0, "Target category id (required)")
	cmd.Flags().Int("priority", 100, "Evaluation priority, lower runs first")
	cmd.Flags().Bool("disambiguate", false, "Flag matches for AI disambiguation")

	return cmd
}

func rulesTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <expression>",
		Short: "Evaluate an expression against a sample transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			amount, _ := cmd.Flags().GetFloat64("amount")
			currency, _ := cmd.Flags().GetString("currency")

			sample := map[string]any{
				"description": description,
				"amount":      amount,
				"currency":    currency,
			}

			matched, err := rules.NewEngine(nil).TestExpression(args[0], sample)
			if err != nil {
				return fmt.Errorf("expression failed: %w", err)
			}

			if matched {
				fmt.Println("MATCH")
			} else {
				fmt.Println("no match")
			}
			return nil
		},
	}

	cmd.Flags().String("description", "", "Sample transaction description")
	cmd.Flags().Float64("amount", 0, "Sample transaction amount")
	cmd.Flags().String("currency", "GBP", "Sample transaction currency")

	return cmd
}

func rulesEnableCmd() *cobra.Command {
	return ruleActivationCmd("enable", true)
}

func rulesDisableCmd() *cobra.Command {
	return ruleActivationCmd("disable", false)
}

func ruleActivationCmd(verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: verb + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid rule id %q: %w", args[0], err)
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			if err := store.SetRuleActive(ctx, id, active); err != nil {
				return fmt.Errorf("failed to %s rule: %w", verb, err)
			}

			fmt.Printf("Rule %d %sd\n", id, verb)
			return nil
		},
	}
}
