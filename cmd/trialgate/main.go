package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "trialgate"
	version = "v0.4.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Clinical trial registry surveillance and risk scoring",
		Version: version,
		Long: `trialgate ingests public clinical trial registry records, tracks protocol
changes over time, resolves sponsors to canonical companies, links readout
documents to drug assets, and scores trials for failure risk ahead of their
catalyst windows.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/trialgate.yaml", "path to YAML config")
	rootCmd.PersistentFlags().Bool("json-logs", false, "emit JSON logs instead of console format")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if jsonLogs, _ := cmd.Flags().GetBool("json-logs"); jsonLogs {
			log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		}
	}

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(docsCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(windowCmd())
	rootCmd.AddCommand(monitorCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
