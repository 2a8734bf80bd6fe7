/*
handlers_test.go - HTTP tests for the API handlers

Tests run the full router over an engine backed by the memory store:
- Counterparty CRUD and error mapping
- Advance issue and settlement through buys
- Receipt lookup, inventory moves, price lookups
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldtrader/gold-ledger/ledger"
	"github.com/goldtrader/gold-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, ledger.Options{MergeBatches: true, RetryAttempts: 3}, zerolog.Nop())
	h := NewHandler(engine, mem, zerolog.Nop())
	return &testServer{t: t, handler: h, router: NewRouter(h, []string{"*"})}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// call performs a request, checks the status and decodes the response.
func (s *testServer) call(method, path string, body any, wantStatus int, out any) {
	s.t.Helper()
	rec := s.do(method, path, body)
	require.Equal(s.t, wantStatus, rec.Code, "body: %s", rec.Body.String())
	if out != nil {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
}

func (s *testServer) createCounterparty(name string) CounterpartyDTO {
	var cp CounterpartyDTO
	s.call(http.MethodPost, "/api/counterparties", CounterpartyRequest{Name: name, Type: "miner"}, http.StatusCreated, &cp)
	return cp
}

// =============================================================================
// COUNTERPARTIES
// =============================================================================

func TestCounterparty_CreateGetUpdate(t *testing.T) {
	s := newTestServer(t)

	cp := s.createCounterparty("Kwame Nkrumah")
	assert.NotEmpty(t, cp.ID)
	assert.Equal(t, "miner", cp.Type)
	assert.Equal(t, "new", cp.TrustLevel)
	assert.True(t, cp.IsActive)
	assert.Zero(t, cp.OutstandingBalance)

	var got CounterpartyDTO
	s.call(http.MethodGet, "/api/counterparties/"+cp.ID, nil, http.StatusOK, &got)
	assert.Equal(t, "Kwame Nkrumah", got.Name)

	var updated CounterpartyDTO
	s.call(http.MethodPut, "/api/counterparties/"+cp.ID, CounterpartyRequest{
		Name:        "Kwame N.",
		Type:        "trader",
		TrustLevel:  "vip",
		MobileMoney: &MobileMoneyDTO{Provider: "MTN", Number: "0244000000", Name: "Kwame"},
	}, http.StatusOK, &updated)
	assert.Equal(t, "trader", updated.Type)
	assert.Equal(t, "vip", updated.TrustLevel)
	require.NotNil(t, updated.MobileMoney)
	assert.Equal(t, "MTN", updated.MobileMoney.Provider)

	var deactivated CounterpartyDTO
	s.call(http.MethodPost, "/api/counterparties/"+cp.ID+"/deactivate", nil, http.StatusOK, &deactivated)
	assert.False(t, deactivated.IsActive)

	var active []CounterpartyDTO
	s.call(http.MethodGet, "/api/counterparties?active=true", nil, http.StatusOK, &active)
	assert.Empty(t, active)
}

func TestCounterparty_ErrorMapping(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantKind   string
	}{
		{"missing name", http.MethodPost, "/api/counterparties", CounterpartyRequest{Name: "  "}, http.StatusBadRequest, "validation"},
		{"bad type", http.MethodPost, "/api/counterparties", CounterpartyRequest{Name: "A", Type: "smuggler"}, http.StatusBadRequest, "validation"},
		{"unknown id", http.MethodGet, "/api/counterparties/nope", nil, http.StatusNotFound, "not_found"},
		{"unknown balance", http.MethodGet, "/api/counterparties/nope/balance", nil, http.StatusNotFound, "not_found"},
		{"malformed json", http.MethodPost, "/api/counterparties", "{", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.wantKind, resp.Kind)
		})
	}
}

// =============================================================================
// ADVANCES
// =============================================================================

func TestAdvance_SettledByBuys(t *testing.T) {
	// GIVEN: A 1000 USD advance
	// WHEN: Two 24K deliveries at 5% discount are recorded against it
	// THEN: It goes pending -> partial -> settled and the balance returns to zero
	s := newTestServer(t)
	cp := s.createCounterparty("Ama")

	var adv AdvanceDTO
	s.call(http.MethodPost, "/api/advances", map[string]any{
		"counterparty_id": cp.ID,
		"amount":          1000,
		"currency":        "usd",
	}, http.StatusCreated, &adv)
	assert.Equal(t, "pending", adv.Status)
	assert.Equal(t, "USD", adv.Currency)
	assert.Equal(t, 1000.0, adv.RemainingBalance)

	var balance BalanceSummaryDTO
	s.call(http.MethodGet, "/api/counterparties/"+cp.ID+"/balance", nil, http.StatusOK, &balance)
	assert.Equal(t, 1000.0, balance.OutstandingBalance)

	var buy TransactionDTO
	s.call(http.MethodPost, "/api/transactions/buy", map[string]any{
		"counterparty_id":     cp.ID,
		"purity":              "24K",
		"weight_grams":        "10",
		"spot_price_per_oz":   "2350",
		"discount_percentage": 5,
		"advance_id":          adv.ID,
	}, http.StatusCreated, &buy)
	assert.Equal(t, "advance_deduction", buy.PaymentMethod)
	assert.InDelta(t, 75.55, buy.SpotPricePerGram, 0.01)
	assert.InDelta(t, 71.78, buy.BuyingPricePerGram, 0.01)
	assert.InDelta(t, 717.05, buy.TotalAmount, 0.01)
	assert.Equal(t, buy.TotalAmount, buy.AdvanceDeducted)
	assert.True(t, strings.HasPrefix(buy.ReceiptNumber, "BUY-"))

	s.call(http.MethodGet, "/api/advances/"+adv.ID, nil, http.StatusOK, &adv)
	assert.Equal(t, "partial", adv.Status)
	assert.InDelta(t, 282.95, adv.RemainingBalance, 0.01)

	var open []AdvanceDTO
	s.call(http.MethodGet, "/api/counterparties/"+cp.ID+"/advances/outstanding", nil, http.StatusOK, &open)
	require.Len(t, open, 1)

	s.call(http.MethodPost, "/api/transactions/buy", map[string]any{
		"counterparty_id":     cp.ID,
		"purity":              "24K",
		"weight_grams":        "5",
		"spot_price_per_oz":   "2350",
		"discount_percentage": 5,
		"advance_id":          adv.ID,
	}, http.StatusCreated, &buy)

	s.call(http.MethodGet, "/api/advances/"+adv.ID, nil, http.StatusOK, &adv)
	assert.Equal(t, "settled", adv.Status)
	assert.Zero(t, adv.RemainingBalance)
	assert.NotNil(t, adv.SettledDate)
	require.Len(t, adv.SettlementHistory, 2)
	assert.InDelta(t, 1000.0, adv.SettlementHistory[0].Amount+adv.SettlementHistory[1].Amount, 0.01)

	s.call(http.MethodGet, "/api/counterparties/"+cp.ID+"/balance", nil, http.StatusOK, &balance)
	assert.Zero(t, balance.OutstandingBalance)
	assert.Equal(t, int64(2), balance.TotalTransactions)

	// Settling a settled advance is rejected.
	rec := s.do(http.MethodPost, "/api/advances/"+adv.ID+"/settle", SettleAdvanceRequest{GoldValue: d("50")})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var report AuditReportDTO
	s.call(http.MethodGet, "/api/audit", nil, http.StatusOK, &report)
	assert.True(t, report.OK, "issues: %v", report.Issues)
}

func TestAdvance_ManualSettlementKeepsExcess(t *testing.T) {
	s := newTestServer(t)
	cp := s.createCounterparty("Esi")

	var adv AdvanceDTO
	s.call(http.MethodPost, "/api/advances", IssueAdvanceRequest{CounterpartyID: cp.ID, Amount: d("300")}, http.StatusCreated, &adv)

	s.call(http.MethodPost, "/api/advances/"+adv.ID+"/settle", SettleAdvanceRequest{GoldValue: d("450"), WeightGrams: d("6")}, http.StatusOK, &adv)
	assert.Equal(t, "settled", adv.Status)
	require.Len(t, adv.SettlementHistory, 1)
	assert.Equal(t, 300.0, adv.SettlementHistory[0].Amount)
	assert.Equal(t, 450.0, adv.SettlementHistory[0].GoldValue)
	assert.Equal(t, 150.0, adv.SettlementHistory[0].Excess)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestTransactions_SellAndReceiptLookup(t *testing.T) {
	s := newTestServer(t)
	cp := s.createCounterparty("Refinery")

	var sell TransactionDTO
	s.call(http.MethodPost, "/api/transactions/sell", map[string]any{
		"counterparty_id":   cp.ID,
		"purity_percentage": "0.999",
		"weight_grams":      5,
		"spot_price_per_oz": 2350,
		"receipt_number":    "SELL-DESK-1",
	}, http.StatusCreated, &sell)
	assert.Equal(t, "sell", sell.Type)
	assert.Equal(t, sell.SpotPricePerGram, sell.BuyingPricePerGram)
	assert.InDelta(t, 377.39, sell.TotalAmount, 0.01)
	assert.Equal(t, "completed", sell.PaymentStatus)

	var byReceipt TransactionDTO
	s.call(http.MethodGet, "/api/transactions/receipt/SELL-DESK-1", nil, http.StatusOK, &byReceipt)
	assert.Equal(t, sell.ID, byReceipt.ID)

	// Receipt numbers are unique.
	rec := s.do(http.MethodPost, "/api/transactions/sell", map[string]any{
		"counterparty_id":   cp.ID,
		"purity":            "24K",
		"weight_grams":      1,
		"spot_price_per_oz": 2350,
		"receipt_number":    "SELL-DESK-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var list []TransactionDTO
	s.call(http.MethodGet, "/api/transactions?type=sell&limit=10", nil, http.StatusOK, &list)
	require.Len(t, list, 1)

	rec = s.do(http.MethodGet, "/api/transactions?type=swap", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactions_BuyRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	cp := s.createCounterparty("Yaw")

	rec := s.do(http.MethodPost, "/api/transactions/buy", map[string]any{
		"counterparty_id":   cp.ID,
		"purity":            "Custom",
		"weight_grams":      10,
		"spot_price_per_oz": 2350,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "purity_percentage", resp.Field)

	var balance BalanceSummaryDTO
	s.call(http.MethodGet, "/api/counterparties/"+cp.ID+"/balance", nil, http.StatusOK, &balance)
	assert.Zero(t, balance.TotalTransactions, "a rejected buy leaves no trace")
}

func TestTransactions_ExplicitPurityOverridesLabel(t *testing.T) {
	s := newTestServer(t)
	cp := s.createCounterparty("Yaw")

	rec := s.do(http.MethodPost, "/api/transactions/buy", map[string]any{
		"counterparty_id":   cp.ID,
		"purity":            "24K",
		"purity_percentage": 0,
		"weight_grams":      10,
		"spot_price_per_oz": 2350,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "purity_percentage", resp.Field)

	var tx TransactionDTO
	s.call(http.MethodPost, "/api/transactions/buy", map[string]any{
		"counterparty_id":   cp.ID,
		"purity":            "24K",
		"purity_percentage": "1",
		"weight_grams":      10,
		"spot_price_per_oz": 2350,
	}, http.StatusCreated, &tx)
	assert.Equal(t, 1.0, tx.PurityPercentage)

	rec = s.do(http.MethodPost, "/api/inventory/batches", map[string]any{
		"purity":            "24K",
		"purity_percentage": 0,
		"weight_grams":      5,
		"avg_cost_per_gram": 70,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// INVENTORY
// =============================================================================

func TestInventory_CreateAndMove(t *testing.T) {
	s := newTestServer(t)

	var batch BatchDTO
	s.call(http.MethodPost, "/api/inventory/batches", map[string]any{
		"gold_type":         "bar",
		"purity":            "24K",
		"weight_grams":      500,
		"avg_cost_per_gram": 68,
		"location":          "in_safe",
	}, http.StatusCreated, &batch)
	assert.Equal(t, 34000.0, batch.TotalCost)
	assert.True(t, strings.HasPrefix(batch.ID, "BATCH-"))

	s.call(http.MethodPost, "/api/inventory/batches/"+batch.ID+"/move",
		MoveBatchRequest{ToLocation: "at_refinery", MovedBy: "ops"}, http.StatusOK, &batch)
	assert.Equal(t, "at_refinery", batch.Location)
	require.Len(t, batch.MovementHistory, 1)
	assert.Equal(t, "in_safe", batch.MovementHistory[0].FromLocation)
	assert.Equal(t, "at_refinery", batch.MovementHistory[0].ToLocation)

	rec := s.do(http.MethodPost, "/api/inventory/batches/"+batch.ID+"/move", MoveBatchRequest{ToLocation: "at_refinery"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var summary VaultSummaryDTO
	s.call(http.MethodGet, "/api/inventory/summary", nil, http.StatusOK, &summary)
	require.Len(t, summary.ByLocation, 1)
	assert.Equal(t, "at_refinery", summary.ByLocation[0].Location)
	assert.Equal(t, 500.0, summary.Total.TotalWeight)

	var atRefinery []BatchDTO
	s.call(http.MethodGet, "/api/inventory/batches?location=at_refinery&in_stock=true", nil, http.StatusOK, &atRefinery)
	assert.Len(t, atRefinery, 1)
}

// =============================================================================
// PRICES / DASHBOARD
// =============================================================================

func TestPrices_LatestAndAt(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/prices/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.call(http.MethodPost, "/api/prices", map[string]any{"price_per_oz": 2300, "timestamp": "2025-03-01T09:00:00Z"}, http.StatusCreated, nil)
	s.call(http.MethodPost, "/api/prices", map[string]any{"price_per_oz": 2350, "timestamp": "2025-03-02T09:00:00Z"}, http.StatusCreated, nil)

	var latest PriceDTO
	s.call(http.MethodGet, "/api/prices/latest?commodity=gold", nil, http.StatusOK, &latest)
	assert.Equal(t, 2350.0, latest.PricePerOz)
	assert.Equal(t, "manual", latest.Source)

	var at PriceDTO
	s.call(http.MethodGet, "/api/prices/at?at=2025-03-01T12:00:00Z", nil, http.StatusOK, &at)
	assert.Equal(t, 2300.0, at.PricePerOz)

	var history []PriceDTO
	s.call(http.MethodGet, "/api/prices/history?from=2025-03-01&to=2025-03-03", nil, http.StatusOK, &history)
	require.Len(t, history, 2)
	assert.Equal(t, 2300.0, history[0].PricePerOz)

	rec = s.do(http.MethodGet, "/api/prices/at", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboard_AfterScenario(t *testing.T) {
	s := newTestServer(t)
	s.call(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "trading-day"}, http.StatusOK, nil)

	var dash DashboardDTO
	s.call(http.MethodGet, "/api/dashboard", nil, http.StatusOK, &dash)
	assert.Equal(t, 3, dash.Bought.Count)
	assert.Equal(t, 1, dash.Sold.Count)
	assert.Equal(t, 4, dash.ActiveCounterparties)
	require.NotNil(t, dash.LatestGoldPrice)
	assert.Equal(t, 2350.0, dash.LatestGoldPrice.PricePerOz)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
