package main

import (
	"os"

	"PerpFunding/internal/observability"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const version = "v0.4.0"

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:     "perpfunding",
		Short:   "Perpetual futures funding engine",
		Version: version,
		Long: `perpfunding ingests oracle accounts, funding cranks and settlement
requests from NATS, applies them to a deterministic funding core and
serves funding history over HTTP.

Configuration comes from PERP_* environment variables (a .env file in the
working directory is loaded first) and a YAML markets file.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			zerolog.SetGlobalLevel(observability.ParseLogLevel(logLevel))
		}
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error (caps PERP_LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(marketsCmd())

	if err := rootCmd.Execute(); err != nil {
		logger := observability.NewLogger("perpfunding")
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
