package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	var force bool
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "refresh [source-id]",
		Short: "Re-ingest sources whose content changed",
		Long: `Fetch source content, compare hashes, and re-ingest on change.

With a source ID, refreshes that source; unchanged content is a
successful no-op. Without arguments, every enabled source is checked
and the changed ones are refreshed.

Examples:
  freshkb refresh api-docs
  freshkb refresh api-docs --force   # re-ingest even if unchanged
  freshkb refresh                    # refresh all changed sources
  freshkb refresh --check            # report changes without ingesting`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID := ""
			if len(args) > 0 {
				sourceID = args[0]
			}
			return runRefresh(cmd.Context(), cmd, sourceID, force, checkOnly)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-ingest even when the content hash is unchanged")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report which sources changed")

	return cmd
}

func runRefresh(ctx context.Context, cmd *cobra.Command, sourceID string, force, checkOnly bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()

	if checkOnly {
		reports, err := a.coord.CheckForChanges(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tCHANGED\tERROR")
		for _, r := range reports {
			fmt.Fprintf(w, "%s\t%t\t%s\n", r.SourceID, r.Changed, r.Error)
		}
		return w.Flush()
	}

	// The rebuild that follows a refresh covers every known source, so
	// load the rest of the registry into the builder first.
	if err := a.bootstrap(ctx); err != nil {
		return err
	}

	if sourceID != "" {
		result, err := a.coord.Refresh(ctx, sourceID, force)
		if err != nil {
			return err
		}
		if !result.Refreshed {
			fmt.Fprintf(out, "%s unchanged (hash %s).\n", result.SourceID, shortHash(result.ContentHash))
			return nil
		}
		fmt.Fprintf(out, "Refreshed %s to v%d in %s.\n",
			result.SourceID, result.Version.VersionNumber, result.Duration.Round(time.Millisecond))
		return nil
	}

	summary, err := a.coord.RefreshAllChanged(ctx)
	if err != nil {
		return err
	}
	for _, r := range summary.Results {
		fmt.Fprintf(out, "Refreshed %s to v%d.\n", r.SourceID, r.Version.VersionNumber)
	}
	fmt.Fprintf(out, "Checked %d sources: %d refreshed, %d failed.\n",
		summary.Checked, summary.Refreshed, summary.Failed)
	return nil
}

func newRollbackCmd() *cobra.Command {
	var target int

	cmd := &cobra.Command{
		Use:   "rollback <source-id>",
		Short: "Roll a source back to an earlier version",
		Long: `Point a source at an earlier retained version.

Without --to, rolls back to the version before the current one. The
version counter keeps advancing, so a later refresh never reuses a
rolled-back version number.

Examples:
  freshkb rollback api-docs
  freshkb rollback api-docs --to 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.bootstrap(ctx); err != nil {
				return err
			}

			result, err := a.coord.Rollback(ctx, args[0], target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled %s back from v%d to v%d.\n",
				result.SourceID, result.FromVersion, result.ToVersion)
			if !result.Reingested {
				fmt.Fprintln(cmd.OutOrStdout(), "Live content could not be re-ingested; the index is unchanged.")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&target, "to", 0, "Target version (0 = previous version)")
	return cmd
}

func newFreshnessCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "freshness",
		Short: "Check how stale each source is",
		Long: `Evaluate every enabled source against its TTL.

Stale sources are probed for reachability first; an unreachable
source is reported fresh and its error count is incremented rather
than triggering a refresh against a dead endpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.monitor.CheckAll(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No enabled sources.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tAGE\tTTL\tSTALE\tNEEDS REFRESH")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%.1fd\t%dd\t%t\t%t\n", r.SourceID, r.AgeDays, r.TTLDays, r.IsStale, r.NeedsRefresh)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
