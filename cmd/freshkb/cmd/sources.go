package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/freshkb/freshkb/internal/config"
	"github.com/freshkb/freshkb/internal/registry"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage registered knowledge sources",
		Long: `Manage the source registry.

Commands:
  list      Show all registered sources
  add       Register a new source
  remove    Unregister a source and its version history
  show      Show one source's metadata
  versions  Show a source's version history
  enable    Enable a source
  disable   Disable a source (excluded from search and refresh)`,
	}

	cmd.AddCommand(newSourcesListCmd())
	cmd.AddCommand(newSourcesAddCmd())
	cmd.AddCommand(newSourcesRemoveCmd())
	cmd.AddCommand(newSourcesShowCmd())
	cmd.AddCommand(newSourcesVersionsCmd())
	cmd.AddCommand(newSourcesEnableCmd(true))
	cmd.AddCommand(newSourcesEnableCmd(false))

	return cmd
}

// withRegistry opens just the registry, which is all the source
// subcommands need; the full pipeline stays cold.
func withRegistry(fn func(ctx context.Context, cfg *config.Config, reg *registry.Registry) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := openRegistryFromConfig(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()
		return fn(cmd.Context(), cfg, reg)
	}
}

func newSourcesListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(func(ctx context.Context, _ *config.Config, reg *registry.Registry) error {
				sources, err := reg.List(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(sources)
				}
				if len(sources) == 0 {
					fmt.Fprintln(out, "No sources registered.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tVERSION\tTTL\tENABLED\tAUTO\tLOCATION")
				for _, s := range sources {
					fmt.Fprintf(w, "%s\t%s\tv%d\t%dd\t%t\t%t\t%s\n",
						s.SourceID, s.SourceType, s.CurrentVersion, s.TTLDays, s.Enabled, s.AutoRefresh, s.Location)
				}
				return w.Flush()
			})(cmd, args)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newSourcesAddCmd() *cobra.Command {
	var srcType string
	var ttlDays int
	var priority int
	var tags []string
	var noAutoRefresh bool

	cmd := &cobra.Command{
		Use:   "add <source-id> <location>",
		Short: "Register a new source",
		Long: `Register a source for indexing and freshness tracking.

The TTL defaults by source type (url: 7d, file/directory: 14d,
api: 90d) and can be overridden per source. Content is ingested on
the next refresh, not at registration.

Examples:
  freshkb sources add api-docs https://example.com/docs --type url
  freshkb sources add runbook ./ops/runbook.md --type file --ttl 30
  freshkb sources add wiki ./wiki --type directory --tag internal`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(func(ctx context.Context, cfg *config.Config, reg *registry.Registry) error {
				ttl := ttlDays
				if ttl == 0 {
					ttl = cfg.TTLDaysFor(srcType)
				}
				src := &registry.SourceMetadata{
					SourceID:    args[0],
					SourceType:  registry.SourceType(srcType),
					Location:    args[1],
					TTLDays:     ttl,
					Enabled:     true,
					AutoRefresh: !noAutoRefresh,
					Priority:    priority,
					Tags:        tags,
				}
				if err := reg.Register(ctx, src); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s, TTL %dd). Run 'freshkb refresh %s' to ingest.\n",
					src.SourceID, src.SourceType, src.TTLDays, src.SourceID)
				return nil
			})(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&srcType, "type", "t", "url", "Source type: url, file, directory, api")
	cmd.Flags().IntVar(&ttlDays, "ttl", 0, "Freshness TTL in days (0 = default for type)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Refresh priority (higher first)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tags (repeatable)")
	cmd.Flags().BoolVar(&noAutoRefresh, "no-auto-refresh", false, "Do not refresh automatically when stale")

	return cmd
}

func newSourcesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <source-id>",
		Short: "Unregister a source",
		Long:  `Unregister a source. Its version history is removed with it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(func(ctx context.Context, _ *config.Config, reg *registry.Registry) error {
				if err := reg.Unregister(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", args[0])
				return nil
			})(cmd, args)
		},
	}
}

func newSourcesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <source-id>",
		Short: "Show a source's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(func(ctx context.Context, _ *config.Config, reg *registry.Registry) error {
				src, err := reg.Get(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(src)
			})(cmd, args)
		},
	}
}

func newSourcesVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions <source-id>",
		Short: "Show a source's version history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(func(ctx context.Context, _ *config.Config, reg *registry.Registry) error {
				src, err := reg.Get(ctx, args[0])
				if err != nil {
					return err
				}
				versions, err := reg.Versions(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(versions) == 0 {
					fmt.Fprintln(out, "No versions recorded.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tHASH\tSIZE\tINGESTED\tSUMMARY")
				for _, v := range versions {
					marker := ""
					if v.VersionNumber == src.CurrentVersion {
						marker = " *"
					}
					fmt.Fprintf(w, "v%d%s\t%s\t%d\t%s\t%s\n",
						v.VersionNumber, marker, shortHash(v.ContentHash), v.SizeBytes,
						v.Timestamp.Format(time.RFC3339), v.ChangeSummary)
				}
				return w.Flush()
			})(cmd, args)
		},
	}
}

func newSourcesEnableCmd(enable bool) *cobra.Command {
	use, short := "enable", "Enable a source"
	if !enable {
		use, short = "disable", "Disable a source"
	}
	return &cobra.Command{
		Use:   use + " <source-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(func(ctx context.Context, _ *config.Config, reg *registry.Registry) error {
				if err := reg.SetEnabled(ctx, args[0], enable); err != nil {
					return err
				}
				state := "Enabled"
				if !enable {
					state = "Disabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s.\n", state, args[0])
				return nil
			})(cmd, args)
		},
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
