package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/goldtrader/gold-ledger/api"
	"github.com/goldtrader/gold-ledger/config"
	"github.com/goldtrader/gold-ledger/ledger"
	"github.com/goldtrader/gold-ledger/logger"
	"github.com/goldtrader/gold-ledger/store/mongo"
	"github.com/goldtrader/gold-ledger/store/sqlite"
)

// errAuditDrift makes `audit` exit non-zero when the ledger is inconsistent.
var errAuditDrift = errors.New("audit found drift")

// =============================================================================
// MIGRATE
// =============================================================================

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	Long: `Apply pending SQLite migrations, or create the MongoDB indexes.
The in-memory store has no schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.WithComponent("migrate")
		b, closeStore, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		switch s := b.(type) {
		case *sqlite.Store:
			version, err := s.Migrate()
			if err != nil {
				return err
			}
			log.Info().Uint("version", version).Msg("sqlite schema up to date")
		case *mongo.Store:
			if err := s.EnsureIndexes(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("mongo indexes ensured")
		default:
			log.Info().Str("db_type", cfg.DBType).Msg("nothing to migrate")
		}
		return nil
	},
}

// =============================================================================
// AUDIT
// =============================================================================

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check stored balances against their sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, closeStore, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		report := api.NewAuditScheduler(engine, 0, logger.WithComponent("audit")).RunOnce(cmd.Context())
		if report == nil {
			return errors.New("audit failed")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Checked %d counterparties, %d advances, %d transactions, %d batches\n",
			report.Counterparties, report.Advances, report.Transactions, report.Batches)
		if report.OK() {
			fmt.Fprintln(out, "OK")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHECK\tENTITY\tMESSAGE")
		for _, i := range report.Issues {
			fmt.Fprintf(w, "%s\t%s\t%s\n", i.Check, i.EntityID, i.Message)
		}
		w.Flush()
		return errAuditDrift
	},
}

// =============================================================================
// VAULT
// =============================================================================

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Print in-stock weight and cost by location",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, closeStore, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		summary, err := engine.VaultSummary(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "LOCATION\tBATCHES\tWEIGHT (g)\tCOST\t")
		for _, loc := range ledger.Locations {
			t, ok := summary.ByLocation[loc]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t\n", loc, t.BatchCount, t.TotalWeight.StringFixed(3), t.TotalCost.StringFixed(2))
		}
		fmt.Fprintf(w, "TOTAL\t%d\t%s\t%s\t\n", summary.Total.BatchCount,
			summary.Total.TotalWeight.StringFixed(3), summary.Total.TotalCost.StringFixed(2))
		return w.Flush()
	},
}

// =============================================================================
// PRICE
// =============================================================================

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Record or show spot prices",
}

var priceRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a spot price observation",
	Example: `  server price record --per-oz 2350.40
  server price record --per-oz 81.2 --commodity oil --source import --at 2025-03-01T09:00:00Z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		perOzStr, _ := cmd.Flags().GetString("per-oz")
		commodity, _ := cmd.Flags().GetString("commodity")
		source, _ := cmd.Flags().GetString("source")
		currency, _ := cmd.Flags().GetString("currency")
		atStr, _ := cmd.Flags().GetString("at")

		perOz, err := decimal.NewFromString(perOzStr)
		if err != nil {
			return fmt.Errorf("invalid --per-oz: %w", err)
		}
		var at time.Time
		if atStr != "" {
			if at, err = time.Parse(time.RFC3339, atStr); err != nil {
				return fmt.Errorf("invalid --at, use RFC3339: %w", err)
			}
		}

		engine, _, closeStore, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		p, err := engine.RecordPrice(cmd.Context(), ledger.RecordPriceRequest{
			Commodity:  ledger.Commodity(strings.ToLower(commodity)),
			PricePerOz: perOz,
			Currency:   currency,
			Source:     ledger.PriceSource(source),
			Timestamp:  at.UTC(),
		})
		if err != nil {
			return err
		}
		printPrice(cmd, p)
		return nil
	},
}

var priceLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the latest spot price",
	RunE: func(cmd *cobra.Command, args []string) error {
		commodity, _ := cmd.Flags().GetString("commodity")

		engine, _, closeStore, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		p, err := engine.LatestPrice(cmd.Context(), ledger.Commodity(strings.ToLower(commodity)))
		if err != nil {
			return err
		}
		printPrice(cmd, p)
		return nil
	},
}

func printPrice(cmd *cobra.Command, p *ledger.PriceObservation) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s/oz (%s/g) from %s at %s\n",
		p.Commodity, p.Currency, p.PricePerOz.StringFixed(2), p.PricePerGram.StringFixed(2),
		p.Source, p.Timestamp.Format(time.RFC3339))
}

// =============================================================================
// SEED
// =============================================================================

var seedCmd = &cobra.Command{
	Use:   "seed <scenario-id>",
	Short: "Reset the store and load a demo scenario",
	Long: `Reset the store and load a demo scenario. Available scenarios:
  advance-lifecycle, vault-movements, trading-day, open-advances`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DBType == config.DBMemory {
			return errors.New("seeding the in-memory store has no lasting effect; use serve --scenario")
		}
		engine, store, closeStore, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		handler := api.NewHandler(engine, store, logger.WithComponent("seed"))
		return handler.LoadScenarioByID(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, auditCmd, vaultCmd, priceCmd, seedCmd)
	priceCmd.AddCommand(priceRecordCmd, priceLatestCmd)

	priceRecordCmd.Flags().String("per-oz", "", "Price per troy ounce (required)")
	priceRecordCmd.Flags().String("commodity", string(ledger.CommodityGold), "gold, oil or gas")
	priceRecordCmd.Flags().String("source", string(ledger.SourceManual), "manual, metals_api, goldapi, kitco or import")
	priceRecordCmd.Flags().String("currency", "USD", "Quote currency")
	priceRecordCmd.Flags().String("at", "", "Observation time (RFC3339, default now)")
	priceRecordCmd.MarkFlagRequired("per-oz")

	priceLatestCmd.Flags().String("commodity", string(ledger.CommodityGold), "gold, oil or gas")
}
