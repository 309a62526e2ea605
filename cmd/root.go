package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"greedybear/bootstrap"
	"greedybear/config"
)

// Version is set at build time
var Version = "dev"

// NewRootCmd builds the greedybear command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "greedybear",
		Short:   "Honeypot-intelligence feed aggregator",
		Version: Version,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(NewFeedsCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the feed API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.NewApp(configFile)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			return app.Run()
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	return cmd
}

func loadConfig(configFile string) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
