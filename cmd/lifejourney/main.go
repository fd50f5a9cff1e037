package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lifejourney/internal/config"
	logx "lifejourney/pkg/logx"

	// Owner and sweep timezones must resolve on hosts without zoneinfo.
	_ "time/tzdata"
)

var (
	// Global flags
	cfgPath string
	envFile string
	verbose bool

	logger logx.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lifejourney",
	Short: "Recurring tasks and events with an overdue sweep and reminders",
	Long: `lifejourney keeps recurring tasks and calendar events on schedule.

Every item carries a recurrence pattern and a next occurrence. A nightly
sweep advances overdue items past today, and a morning job sends "due today"
reminders over SMS or Telegram.

Run "lifejourney serve" for the long-running service; the other commands
operate on the configured store directly.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		level := "WARN"
		if verbose {
			level = "DEBUG"
		}
		logger = logx.NewConsole(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "Path to the YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	itemCmd.AddCommand(itemAddCmd, itemListCmd, itemCompleteCmd, itemDeleteCmd)
	ownerCmd.AddCommand(ownerSetCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(moderateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(ownerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig parses the config file with environment overrides applied.
func loadConfig() (*config.Config, error) {
	path := strings.TrimSpace(cfgPath)
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	return config.NewManager(path).Parse()
}
