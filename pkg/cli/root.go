// Package cli implements the switchboard command surface.
package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/verastack/switchboard/pkg/logger"
)

var (
	envFile   string
	logLevel  string
	logFormat string

	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:           "switchboard",
	Short:         "Streaming Direct Line chat client",
	Long:          "Switchboard connects a local application to a Direct Line conversation over a streaming WebSocket transport.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.Init(logLevel, logFormat)

		// Load .env file if it exists
		if _, err := os.Stat(envFile); err == nil {
			logger.Info("Loading environment", "file", envFile)
			if err := godotenv.Load(envFile); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to .env file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tokenCheckCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
