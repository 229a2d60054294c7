// Package cli holds the docsearch commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	"github.com/pankaj28843/docs-mcp-server/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docsearch",
	Short: "Multi-tenant documentation index and BM25 search engine",
	Long: `docsearch keeps one full-text index per documentation source (tenant),
resyncs it on a schedule, on demand or when files change, and answers ranked
queries against the last published snapshot.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (defaults are used when empty)")
}

// loadConfig reads the config and sets up the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
