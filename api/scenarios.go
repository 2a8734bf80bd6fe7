/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Seeds the ledger with realistic trading-desk data for demos and manual
  testing. Every scenario starts from an empty store and goes through the
  engine, so the seeded data satisfies the same invariants as live data.

SCENARIOS:
  advance-lifecycle   One miner, one advance settled by two deliveries
  vault-movements     Opening stock moved between safe, refinery and transit
  trading-day         Several counterparties, buys, a sale and a price series
  open-advances       Advances in every state across two suppliers

SEE ALSO:
  - handlers.go: Handler struct
  - server.go: /api/scenarios routes
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goldtrader/gold-ledger/ledger"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "advance-lifecycle",
		Name:        "Advance Lifecycle",
		Description: "A miner takes a 1,000 USD advance and settles it with two 24K deliveries",
	},
	{
		ID:          "vault-movements",
		Name:        "Vault Movements",
		Description: "Opening stock of 500 g is sent to the refinery and a second batch goes in transit",
	},
	{
		ID:          "trading-day",
		Name:        "Trading Day",
		Description: "Three suppliers deliver, a refinery buys back and the spot price moves through the day",
	},
	{
		ID:          "open-advances",
		Name:        "Open Advances",
		Description: "Two suppliers holding pending, partial and settled advances",
	},
}

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		if err == errUnknownScenario {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	h.log.Warn().Msg("database reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

var errUnknownScenario = fmt.Errorf("unknown scenario")

// LoadScenarioByID resets the store and seeds one scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	loaders := map[string]func(context.Context) error{
		"advance-lifecycle": h.loadAdvanceLifecycleScenario,
		"vault-movements":   h.loadVaultMovementsScenario,
		"trading-day":       h.loadTradingDayScenario,
		"open-advances":     h.loadOpenAdvancesScenario,
	}
	load, ok := loaders[id]
	if !ok {
		return errUnknownScenario
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		return err
	}
	h.currentScenario = id
	h.log.Info().Str("scenario", id).Msg("scenario loaded")
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadAdvanceLifecycleScenario(ctx context.Context) error {
	miner, err := h.Engine.RegisterCounterparty(ctx,
		ledger.Identity{Name: "Kwabena Asante", Phone: "+233244100200", Location: "Obuasi"},
		ledger.Classification{Type: ledger.CounterpartyMiner, TrustLevel: ledger.TrustRegular})
	if err != nil {
		return err
	}
	if _, err := h.recordSpot(ctx, "2350", time.Time{}); err != nil {
		return err
	}

	adv, err := h.Engine.IssueAdvance(ctx, ledger.IssueRequest{
		CounterpartyID: miner.ID,
		Amount:         d("1000"),
		Currency:       "USD",
		Purpose:        "Pit equipment",
	})
	if err != nil {
		return err
	}

	// 10 g of 24K at 5% off spot covers about 717 USD of the advance.
	if _, err := h.Engine.RecordBuy(ctx, ledger.TradeRequest{
		CounterpartyID:     miner.ID,
		Purity:             "24K",
		WeightGrams:        d("10"),
		SpotPricePerOz:     d("2350"),
		DiscountPercentage: d("5"),
		AdvanceID:          adv.ID,
	}); err != nil {
		return err
	}

	// The second delivery clears what is left.
	_, err = h.Engine.RecordBuy(ctx, ledger.TradeRequest{
		CounterpartyID:     miner.ID,
		Purity:             "24K",
		WeightGrams:        d("5"),
		SpotPricePerOz:     d("2350"),
		DiscountPercentage: d("5"),
		AdvanceID:          adv.ID,
	})
	return err
}

func (h *Handler) loadVaultMovementsScenario(ctx context.Context) error {
	opening, err := h.Engine.CreateBatch(ctx, ledger.CreateBatchRequest{
		GoldType:         "bar",
		Purity:           "24K",
		PurityPercentage: d("0.999"),
		WeightGrams:      d("500"),
		AvgCostPerGram:   d("68"),
		Location:         ledger.LocationInSafe,
	})
	if err != nil {
		return err
	}
	if _, err := h.Engine.MoveBatch(ctx, opening.ID, ledger.LocationAtRefinery, "vault-officer", "Assay and recast"); err != nil {
		return err
	}

	dust, err := h.Engine.CreateBatch(ctx, ledger.CreateBatchRequest{
		GoldType:         "dust",
		Purity:           "22K",
		PurityPercentage: d("0.916"),
		WeightGrams:      d("220.5"),
		AvgCostPerGram:   d("61.25"),
		Location:         ledger.LocationInSafe,
	})
	if err != nil {
		return err
	}
	if _, err := h.Engine.MoveBatch(ctx, dust.ID, ledger.LocationInTransit, "courier", "Airport run"); err != nil {
		return err
	}

	_, err = h.Engine.CreateBatch(ctx, ledger.CreateBatchRequest{
		GoldType:         "nugget",
		Purity:           "21K",
		PurityPercentage: d("0.875"),
		WeightGrams:      d("75"),
		AvgCostPerGram:   d("58.4"),
		Location:         ledger.LocationInSafe,
	})
	return err
}

func (h *Handler) loadTradingDayScenario(ctx context.Context) error {
	start := time.Now().UTC().Truncate(time.Hour).Add(-8 * time.Hour)
	for i, spot := range []string{"2331.40", "2338.10", "2344.75", "2350.00"} {
		if _, err := h.recordSpot(ctx, spot, start.Add(time.Duration(i)*2*time.Hour)); err != nil {
			return err
		}
	}

	suppliers := []struct {
		identity ledger.Identity
		purity   string
		weight   string
		discount string
		method   ledger.PaymentMethod
	}{
		{ledger.Identity{Name: "Ama Serwaa", Location: "Tarkwa", MobileMoney: &ledger.MobileMoney{Provider: "MTN", Number: "0244123456", Name: "Ama Serwaa"}}, "22K", "42.6", "4", ledger.PayMomo},
		{ledger.Identity{Name: "Yaw Boateng", Location: "Prestea"}, "24K", "18", "3.5", ledger.PayCash},
		{ledger.Identity{Name: "Tarkwa Small-Scale Co-op", Location: "Tarkwa", BankDetails: &ledger.BankDetails{BankName: "GCB", AccountName: "TSSC", AccountNumber: "1021300045"}}, "22K", "130.25", "5", ledger.PayBankTransfer},
	}
	for _, s := range suppliers {
		cp, err := h.Engine.RegisterCounterparty(ctx, s.identity,
			ledger.Classification{Type: ledger.CounterpartyMiner, TrustLevel: ledger.TrustRegular})
		if err != nil {
			return err
		}
		if _, err := h.Engine.RecordBuy(ctx, ledger.TradeRequest{
			CounterpartyID:     cp.ID,
			GoldType:           "dust",
			Purity:             s.purity,
			WeightGrams:        d(s.weight),
			SpotPricePerOz:     d("2350"),
			DiscountPercentage: d(s.discount),
			PaymentMethod:      s.method,
		}); err != nil {
			return err
		}
	}

	refinery, err := h.Engine.RegisterCounterparty(ctx,
		ledger.Identity{Name: "Accra Gold Refinery", Location: "Accra"},
		ledger.Classification{Type: ledger.CounterpartyRefinery, TrustLevel: ledger.TrustVIP})
	if err != nil {
		return err
	}
	_, err = h.Engine.RecordSell(ctx, ledger.TradeRequest{
		CounterpartyID:     refinery.ID,
		GoldType:           "dust",
		Purity:             "22K",
		WeightGrams:        d("100"),
		SpotPricePerOz:     d("2350"),
		DiscountPercentage: d("1.5"),
		PaymentMethod:      ledger.PayBankTransfer,
	})
	return err
}

func (h *Handler) loadOpenAdvancesScenario(ctx context.Context) error {
	if _, err := h.recordSpot(ctx, "2350", time.Time{}); err != nil {
		return err
	}

	kofi, err := h.Engine.RegisterCounterparty(ctx,
		ledger.Identity{Name: "Kofi Mensah", Location: "Dunkwa"},
		ledger.Classification{Type: ledger.CounterpartyMiner, TrustLevel: ledger.TrustVIP})
	if err != nil {
		return err
	}
	esi, err := h.Engine.RegisterCounterparty(ctx,
		ledger.Identity{Name: "Esi Owusu", Location: "Bibiani"},
		ledger.Classification{Type: ledger.CounterpartyTrader, TrustLevel: ledger.TrustNew})
	if err != nil {
		return err
	}

	// Pending: nothing delivered yet.
	if _, err := h.Engine.IssueAdvance(ctx, ledger.IssueRequest{CounterpartyID: kofi.ID, Amount: d("2500"), Purpose: "Fuel and labour"}); err != nil {
		return err
	}

	// Partial: settled outside a buy, e.g. a delivery weighed at the site.
	partial, err := h.Engine.IssueAdvance(ctx, ledger.IssueRequest{CounterpartyID: esi.ID, Amount: d("1500"), PaymentMethod: ledger.PayMomo})
	if err != nil {
		return err
	}
	if _, err := h.Engine.SettleAdvance(ctx, ledger.SettleRequest{
		AdvanceID:   partial.ID,
		GoldValue:   d("600"),
		WeightGrams: d("8.4"),
		Notes:       "Site delivery",
	}); err != nil {
		return err
	}

	// Settled: one buy worth more than the advance.
	settled, err := h.Engine.IssueAdvance(ctx, ledger.IssueRequest{CounterpartyID: kofi.ID, Amount: d("800")})
	if err != nil {
		return err
	}
	_, err = h.Engine.RecordBuy(ctx, ledger.TradeRequest{
		CounterpartyID: kofi.ID,
		Purity:         "22K",
		WeightGrams:    d("25"),
		SpotPricePerOz: d("2350"),
		AdvanceID:      settled.ID,
	})
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) recordSpot(ctx context.Context, perOz string, at time.Time) (*ledger.PriceObservation, error) {
	return h.Engine.RecordPrice(ctx, ledger.RecordPriceRequest{
		Commodity:  ledger.CommodityGold,
		PricePerOz: d(perOz),
		Currency:   "USD",
		Source:     ledger.SourceManual,
		Timestamp:  at,
	})
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }
