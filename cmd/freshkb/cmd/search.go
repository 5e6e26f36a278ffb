package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/freshkb/freshkb/internal/search"
)

type searchOptions struct {
	limit    int
	format   string // "text", "json"
	sources  []string
	noRerank bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long: `Search registered sources with hybrid retrieval.

BM25 keyword results and semantic embedding results are merged with
weighted Reciprocal Rank Fusion. Sources are re-fetched and indexed
before the query runs.

Examples:
  freshkb search "connection pooling"
  freshkb search "rate limits" --limit 5 --source api-docs
  freshkb search "deploy steps" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVarP(&opts.sources, "source", "s", nil, "Restrict to source IDs (repeatable)")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Skip the reranker even when configured")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.bootstrap(ctx); err != nil {
		return err
	}

	var filters map[string][]string
	if len(opts.sources) > 0 {
		filters = map[string][]string{"source_id": opts.sources}
	}

	results, err := a.engine.Search(ctx, query, search.SearchOptions{
		Limit:         opts.limit,
		Filters:       filters,
		DisableRerank: opts.noRerank,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. [%s] %.4f\n", i+1, r.SourceID, r.Score)
		fmt.Fprintf(out, "   %s\n", snippet(r.Text, 200))
	}
	return nil
}

// snippet trims text to at most n runes on a single line.
func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "…"
}
