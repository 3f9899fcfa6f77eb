package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"police_call_analytics/internal/categories"
)

var categoriesCmd = &cobra.Command{
	Use:     "categories",
	Aliases: []string{"cats"},
	Short:   "List or edit the incident taxonomy",
}

var categoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every category and its description",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openCategories()
		if err != nil {
			return err
		}
		snap := store.Snapshot()
		for _, name := range snap.Names {
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", name, snap.Descriptions[name])
		}
		return nil
	},
}

var categoriesSetCmd = &cobra.Command{
	Use:   "set <name> <description>",
	Short: "Add a category or replace its description",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCategories()
		if err != nil {
			return err
		}
		if err := store.Update(args[0], strings.Join(args[1:], " ")); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", strings.TrimSpace(args[0]))
		return nil
	},
}

var categoriesRemoveCmd = &cobra.Command{
	Use:     "rm <name>",
	Aliases: []string{"remove"},
	Short:   "Remove a category (Other is protected)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCategories()
		if err != nil {
			return err
		}
		removed, err := store.Remove(args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("category %q not removed: unknown or protected", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", strings.TrimSpace(args[0]))
		return nil
	},
}

func init() {
	categoriesCmd.AddCommand(categoriesListCmd)
	categoriesCmd.AddCommand(categoriesSetCmd)
	categoriesCmd.AddCommand(categoriesRemoveCmd)
}

// openCategories opens only the taxonomy file. A running server picks the
// change up through its file watch.
func openCategories() (*categories.Store, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return categories.Open(cfg.CategoriesPath, logger)
}
