// Package cmd implements the command-line interface.
package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"greedybear/core"
	"greedybear/feeds"
	"greedybear/storage"
)

// NewFeedsCmd builds the feeds command group
func NewFeedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Work with IOC feeds",
	}
	cmd.AddCommand(newFeedsExportCmd())
	cmd.AddCommand(newFeedsHoneypotsCmd())
	return cmd
}

func newFeedsExportCmd() *cobra.Command {
	var (
		configFile string
		dbPath     string
		feedType   string
		attackType string
		prioritize string
		format     string
		feedSize   int
		maxAge     int
		output     string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a feed to stdout or a file",
		Long:  "Runs the same query the feed API serves and writes the result locally.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sqlite, err := openStorage(configFile, dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = sqlite.Close() }()

			iocs := storage.NewSQLiteIOCStorage(sqlite)
			honeypots := storage.NewSQLiteHoneypotStorage(sqlite)

			q := url.Values{}
			q.Set("feed_type", feedType)
			q.Set("attack_type", attackType)
			q.Set("format", format)
			q.Set("feed_size", fmt.Sprintf("%d", feedSize))
			if maxAge > 0 {
				q.Set("max_age", fmt.Sprintf("%d", maxAge))
			}
			if verbose {
				q.Set("verbose", "true")
			}
			req := feeds.NewRequest(q)
			req.ApplyPreset(prioritize)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			active, err := honeypots.ActiveHoneypots(ctx)
			if err != nil {
				return fmt.Errorf("failed to load honeypots: %w", err)
			}
			validTypes := make([]string, 0, len(active))
			for _, hp := range active {
				validTypes = append(validTypes, core.CanonicalFeedType(hp.Name))
			}

			spec, verr := req.Resolve(validTypes)
			if verr != nil {
				return fmt.Errorf("invalid feed parameters: %s", verr.Error())
			}

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			s.Suffix = " querying feed..."
			s.Start()
			results, err := iocs.FeedIOCs(ctx, spec)
			s.Stop()
			if err != nil {
				return fmt.Errorf("feed query failed: %w", err)
			}

			out := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer func() { _ = f.Close() }()
				out = f
			}

			if err := feeds.WriteFeedTo(out, results, spec, "", 0); err != nil {
				return fmt.Errorf("failed to write feed: %w", err)
			}

			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(os.Stderr, "%s exported %d IOCs (%s)\n", green("✓"), len(results), spec.Format)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	cmd.Flags().StringVar(&feedType, "feed-type", "all", "feed type filter")
	cmd.Flags().StringVar(&attackType, "attack-type", "all", "attack type filter (all, scanner, payload_request)")
	cmd.Flags().StringVar(&prioritize, "prioritize", "recent", "prioritization preset")
	cmd.Flags().StringVar(&format, "format", "json", "output format (json, txt, csv)")
	cmd.Flags().IntVar(&feedSize, "feed-size", 5000, "maximum number of IOCs")
	cmd.Flags().IntVar(&maxAge, "max-age", 0, "override max age in days")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "include verbose fields")
	return cmd
}

func newFeedsHoneypotsCmd() *cobra.Command {
	var (
		configFile string
		dbPath     string
	)

	cmd := &cobra.Command{
		Use:   "honeypots [name]",
		Short: "List registered honeypots, or show one by name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sqlite, err := openStorage(configFile, dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = sqlite.Close() }()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			store := storage.NewSQLiteHoneypotStorage(sqlite)

			var honeypots []core.Honeypot
			if len(args) == 1 {
				hp, err := store.GetHoneypotByName(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to get honeypot: %w", err)
				}
				honeypots = []core.Honeypot{*hp}
			} else {
				if honeypots, err = store.ListHoneypots(ctx); err != nil {
					return fmt.Errorf("failed to list honeypots: %w", err)
				}
			}

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			for _, hp := range honeypots {
				state := green("active")
				if !hp.Active {
					state = red("inactive")
				}
				fmt.Printf("%-20s feed_type=%-12s %s\n", hp.Name, core.CanonicalFeedType(hp.Name), state)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	return cmd
}

func openStorage(configFile, dbPath string) (*storage.SQLite, error) {
	logger := zap.NewNop().Sugar()
	if dbPath != "" {
		return storage.NewSQLite(dbPath, 30*time.Second, logger)
	}
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	return storage.NewSQLite(cfg.Storage.SQLitePath, cfg.Storage.QueryTimeout, logger)
}
