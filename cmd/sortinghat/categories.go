package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/calloway/sortinghat/internal/model"
	"github.com/calloway/sortinghat/internal/service"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage the category hierarchy",
	}

	cmd.AddCommand(categoriesListCmd())
	cmd.AddCommand(categoriesCreateCmd())
	cmd.AddCommand(categoriesMoveCmd())
	cmd.AddCommand(categoriesDeleteCmd())
	cmd.AddCommand(categoriesSumCmd())

	return cmd
}

func categoriesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the category tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			cats, err := store.GetCategories(ctx)
			if err != nil {
				return fmt.Errorf("failed to load categories: %w", err)
			}
			if len(cats) == 0 {
				fmt.Println("No categories defined.")
				return nil
			}

			printCategoryTree(cats)
			return nil
		},
	}
}

// printCategoryTree renders the hierarchy depth-first with indentation.
func printCategoryTree(cats []model.Category) {
	children := make(map[int64][]model.Category)
	var roots []model.Category
	for _, cat := range cats {
		if cat.ParentID == nil {
			roots = append(roots, cat)
		} else {
			children[*cat.ParentID] = append(children[*cat.ParentID], cat)
		}
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i].Name < roots[j].Name })

	var walk func(cat model.Category, depth int)
	walk = func(cat model.Category, depth int) {
		for i := 0; i < depth; i++ {
			fmt.Print("  ")
		}
		fmt.Printf("%s (id %d)\n", cat.Name, cat.ID)

		kids := children[cat.ID]
		sort.Slice(kids, func(i, j int) bool { return kids[i].Name < kids[j].Name })
		for _, kid := range kids {
			walk(kid, depth+1)
		}
	}
	for _, root := range roots {
		walk(root, 0)
	}
}

func categoriesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			parent, _ := cmd.Flags().GetInt64("parent")
			essential, _ := cmd.Flags().GetBool("essential")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			var parentID *int64
			if parent > 0 {
				parentID = &parent
			}

			cat, err := store.CreateCategory(ctx, args[0], parentID, service.CategoryCreateOptions{
				IsEssential: essential,
			})
			if err != nil {
				return fmt.Errorf("failed to create category: %w", err)
			}

			fmt.Printf("Created category %q (id %d)\n", cat.Name, cat.ID)
			return nil
		},
	}

	cmd.Flags().Int64("parent", 0, "Parent category id (omit for a root category)")
	cmd.Flags().Bool("essential", false, "Mark the category as essential spending")

	return cmd
}

func categoriesMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <new-parent-id|root>",
		Short: "Move a category and its subtree under a new parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid category id %q: %w", args[0], err)
			}

			var newParentID *int64
			if args[1] != "root" {
				parent, parseErr := strconv.ParseInt(args[1], 10, 64)
				if parseErr != nil {
					return fmt.Errorf("invalid parent id %q: %w", args[1], parseErr)
				}
				newParentID = &parent
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			cat, err := store.MoveCategory(ctx, id, newParentID)
			if err != nil {
				return fmt.Errorf("failed to move category: %w", err)
			}

			fmt.Printf("Moved category %q\n", cat.Name)
			return nil
		},
	}
}

func categoriesDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cascade, _ := cmd.Flags().GetBool("cascade")

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid category id %q: %w", args[0], err)
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			if err := store.DeleteCategory(ctx, id, cascade); err != nil {
				return fmt.Errorf("failed to delete category: %w", err)
			}

			fmt.Printf("Deleted category %d\n", id)
			return nil
		},
	}

	cmd.Flags().Bool("cascade", false, "Also delete all descendant categories")

	return cmd
}

func categoriesSumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sum <id>",
		Short: "Sum transaction amounts across a category subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid category id %q: %w", args[0], err)
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			cat, err := store.GetCategoryByID(ctx, id)
			if err != nil {
				return err
			}

			total, err := store.SubtreeAmountSum(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to sum subtree: %w", err)
			}

			fmt.Printf("%s subtree total: %s\n", cat.Name, total)
			return nil
		},
	}
}

func closeStorage(store service.Storage) {
	if err := store.Close(); err != nil {
		slog.Warn("failed to close storage", "error", err)
	}
}
