package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/models"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		limit int
		mode  string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the vault",
		Long: `Search the vault. The query is all remaining arguments joined by spaces,
so multi-word queries work with or without quotes.

Examples:
  kioku search weekly planning
  kioku search --mode semantic "notes about rust lifetimes"
  kioku search --mode keyword -o json borrow checker`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := buildSearchQuery(args)
			if query == "" {
				return errors.New("query cannot be empty")
			}
			eng, err := a.openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			if limit <= 0 {
				limit = a.cfg.Search.DefaultLimit
			}
			if mode == "" {
				mode = a.cfg.Search.Mode
			}
			resp, err := eng.Search(cmd.Context(), &models.SearchQuery{Query: query, Limit: min(limit, a.cfg.Search.MaxLimit), Mode: mode})
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, a.format)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of results (default from config)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "hybrid, semantic, or keyword (default from config)")
	return cmd
}

func newRelatedCmd(a *app) *cobra.Command {
	var (
		limit int
		boost bool
	)
	cmd := &cobra.Command{
		Use:   "related <path>",
		Short: "List notes similar to a note",
		Long: `List notes whose gist is closest to the given note's gist.
With --boost, notes sharing its type and area rank higher.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			if limit <= 0 {
				limit = a.cfg.Search.DefaultLimit
			}
			results, err := eng.Related(cmd.Context(), args[0], limit, boost)
			if err != nil {
				return err
			}
			return cli.WriteRelated(cmd.OutOrStdout(), args[0], results, a.format)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of results (default from config)")
	cmd.Flags().BoolVar(&boost, "boost", false, "blend in type and area similarity")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index counts, embedder, freshness, and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			st, err := eng.Status(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, a.format)
		},
	}
}
