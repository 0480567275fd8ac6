package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mutter0815/BulkMailer/pkg/config"
	"github.com/Mutter0815/BulkMailer/pkg/logx"
)

var (
	// Global flags
	configFile string
	verbose    bool

	cfg config.ClientConfig
)

var rootCmd = &cobra.Command{
	Use:   "bulkctl",
	Short: "Compose, submit and track bulk email campaigns",
	Long: `bulkctl submits a personalized email campaign to the campaign API and
follows its delivery progress until the backend reports a final status.

Connection settings come from .env, CONFIG_FILE (yaml, "client" section) and
BULKMAILER_URL / BULKMAILER_TOKEN.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		if configFile != "" {
			if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
				return err
			}
		}
		c, err := config.LoadClient()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = c

		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		return logx.Configure(logx.Options{
			Level:       level,
			Encoding:    "console",
			OutputPaths: []string{"stderr"},
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logx.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "yaml config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log tracker activity to stderr")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(previewCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
