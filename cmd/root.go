package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/config"
)

var cfg *config.Config

// version is stamped by the release build via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "justdata",
	Short: "Community lending analytics engine",
	Long:  "Runs mortgage, small-business, and branch analyses against the lending warehouse, enriches them with census context and AI narratives, and serves the results over HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
