package cmd

import (
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"onebridge/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "onebridge",
	Short: "Bridge a OneBot v11 gateway to an AI chat backend",
	Long: "onebridge accepts reverse WebSocket connections from a OneBot v11 gateway, " +
		"runs chat messages through plugins and per-group policy, and answers with an AI backend.",
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $ONEBRIDGE_CONFIG or ./config.{json,yaml,yml,toml})")
}

func loadConfig() (*config.Config, error) {
	if path := strings.TrimSpace(configPath); path != "" {
		return config.LoadFromPath(path)
	}
	return config.LoadConfig()
}
