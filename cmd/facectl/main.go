// Command facectl runs maintenance tasks against the facegroups database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/your-org/facegroups/internal/config"
	"github.com/your-org/facegroups/internal/observability"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "facectl",
	Short: "Maintenance CLI for the facegroups service",
	Long: `facectl runs the long-running and operator-only tasks of the facegroups
service: schema migrations, full cluster rebuilds and per-owner incremental
clustering.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(err)
	}
	return v
}

func mustGetString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(err)
	}
	return v
}
