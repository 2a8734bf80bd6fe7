/*
main.go - Application entry point

PURPOSE:
  Command-line entry point of the gold ledger. The root command loads the
  configuration and logger; subcommands open the configured store and run
  against the engine.

COMMANDS:
  serve      HTTP API with graceful shutdown and the periodic audit
  migrate    Apply SQLite migrations / create Mongo indexes
  audit      Run the invariant audit once, exit 1 on drift
  vault      Print stock by location
  price      Record or show spot prices
  seed       Reset the store and load a demo scenario

ENVIRONMENT:
  See config/config.go. A .env file in the working directory is loaded
  first; variables already set take precedence.

EXAMPLES:
  # Run the API on SQLite
  DB_TYPE=sqlite SQLITE_PATH=./data/gold.db ./server serve

  # Run against an in-memory ledger with a demo scenario
  DB_TYPE=memory ./server serve --scenario trading-day

  # Record today's fix
  ./server price record --per-oz 2350.40 --source kitco

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment keys
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goldtrader/gold-ledger/config"
	"github.com/goldtrader/gold-ledger/logger"
)

var version = "1.0.0"

var (
	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Gold ledger - counterparties, advances, trades and vault stock",
	Long: `Gold ledger keeps counterparty balances, cash advances, buy/sell
transactions and physical inventory consistent with each other.

Storage is selected with DB_TYPE (sqlite, mongo or memory).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")

		var err error
		if cfg, err = config.Load(envFile); err != nil {
			return err
		}
		if logCloser, err = logger.Setup(cfg.GetLoggerConfig()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to a .env file")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log := logger.WithComponent("cmd")
		if cfg == nil {
			// The logger was never configured.
			log = zerolog.New(os.Stderr).With().Timestamp().Logger()
		}
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
