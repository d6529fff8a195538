// Package commands implements the notifyctl CLI.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"notify-realtime/internal/config"
	"notify-realtime/internal/logging"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var Version = "0.1.0"

// Global flags
var (
	envFile  string
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "notifyctl",
	Short: "Inspect and drive the realtime notification stack",
	Long: `notifyctl talks to the realtime broker the way an application client does.

Run 'notifyctl listen' to follow a user's private channel, 'notifyctl send'
to push a notification through Kafka, or 'notifyctl token' to mint a test JWT.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		color.NoColor = color.NoColor || noColor
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the process environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error), overrides LOG_LEVEL")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(sendCmd)
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprintf("error: %v", err))
	}
	return err
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, logging.New(cfg.Log, os.Stderr), nil
}
