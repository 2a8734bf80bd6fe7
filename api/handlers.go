/*
handlers.go - HTTP API handlers for the gold ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response and
  JSON serialization and delegates every rule to ledger.Engine.

ENDPOINTS:
  Counterparties:
    GET    /api/counterparties                         List (?type=&active=&q=)
    POST   /api/counterparties                         Register
    GET    /api/counterparties/{id}                    Get
    PUT    /api/counterparties/{id}                    Update identity/classification
    POST   /api/counterparties/{id}/deactivate         Soft delete
    GET    /api/counterparties/{id}/balance            Balance summary
    GET    /api/counterparties/{id}/transactions       Transaction history
    GET    /api/counterparties/{id}/advances           All advances
    GET    /api/counterparties/{id}/advances/outstanding  Open advances

  Advances:
    GET    /api/advances                    List (?counterparty_id=)
    POST   /api/advances                    Issue
    GET    /api/advances/{id}               Get
    POST   /api/advances/{id}/settle        Settle with a delivery

  Transactions:
    GET    /api/transactions                List (?counterparty_id=&type=&from=&to=&limit=)
    POST   /api/transactions/buy            Record a purchase
    POST   /api/transactions/sell           Record a sale
    GET    /api/transactions/{id}           Get
    GET    /api/transactions/receipt/{number}  Lookup by receipt

  Inventory:
    GET    /api/inventory/batches           List (?location=&gold_type=&in_stock=)
    POST   /api/inventory/batches           Create a batch directly
    GET    /api/inventory/batches/{id}      Get
    POST   /api/inventory/batches/{id}/move Move to another location
    GET    /api/inventory/summary           Vault summary by location

  Prices:
    POST   /api/prices                      Record an observation
    GET    /api/prices/latest               ?commodity=
    GET    /api/prices/at                   ?commodity=&at=
    GET    /api/prices/history              ?commodity=&from=&to=

  Other:
    GET    /api/dashboard
    GET    /api/audit

ERROR HANDLING:
  Ledger error kinds map to HTTP status:
  - validation           400
  - not_found            404
  - invalid_state        409
  - concurrency_conflict 409 (the engine already retried)
  - anything else        500

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/goldtrader/gold-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes every entity from a store. All three store backends
// implement it; scenarios use it to start from an empty ledger.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Store  Resetter
	log    zerolog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over an engine and the store behind it.
func NewHandler(engine *ledger.Engine, store Resetter, log zerolog.Logger) *Handler {
	return &Handler{
		Engine: engine,
		Store:  store,
		log:    log,
	}
}

// =============================================================================
// COUNTERPARTY HANDLERS
// =============================================================================

// ListCounterparties returns counterparties ordered by name.
func (h *Handler) ListCounterparties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.CounterpartyFilter{
		Type:     ledger.CounterpartyType(q.Get("type")),
		NameLike: q.Get("q"),
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid active flag", err)
			return
		}
		filter.ActiveOnly = active
	}

	cps, err := h.Engine.ListCounterparties(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	dtos := make([]CounterpartyDTO, 0, len(cps))
	for i := range cps {
		dtos = append(dtos, toCounterpartyDTO(&cps[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCounterparty registers a new counterparty with zero totals.
func (h *Handler) CreateCounterparty(w http.ResponseWriter, r *http.Request) {
	var req CounterpartyRequest
	if !decode(w, r, &req) {
		return
	}

	cp, err := h.Engine.RegisterCounterparty(r.Context(), req.identity(), req.classification())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCounterpartyDTO(cp))
}

func (h *Handler) GetCounterparty(w http.ResponseWriter, r *http.Request) {
	cp, err := h.Engine.GetCounterparty(r.Context(), counterpartyID(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCounterpartyDTO(cp))
}

// UpdateCounterparty replaces identity and classification. Derived totals
// cannot be set through the API.
func (h *Handler) UpdateCounterparty(w http.ResponseWriter, r *http.Request) {
	var req CounterpartyRequest
	if !decode(w, r, &req) {
		return
	}

	cp, err := h.Engine.UpdateCounterparty(r.Context(), counterpartyID(r), req.identity(), req.classification())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCounterpartyDTO(cp))
}

func (h *Handler) DeactivateCounterparty(w http.ResponseWriter, r *http.Request) {
	cp, err := h.Engine.DeactivateCounterparty(r.Context(), counterpartyID(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCounterpartyDTO(cp))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.BalanceSummary(r.Context(), counterpartyID(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceSummaryDTO(s))
}

// GetCounterpartyTransactions returns the counterparty's history, newest first.
func (h *Handler) GetCounterpartyTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := counterpartyID(r)
	if _, err := h.Engine.GetCounterparty(ctx, id); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	filter, err := transactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	filter.CounterpartyID = id

	txs, err := h.Engine.ListTransactions(ctx, filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) GetCounterpartyAdvances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := counterpartyID(r)
	if _, err := h.Engine.GetCounterparty(ctx, id); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	as, err := h.Engine.ListAdvances(ctx, id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTOs(as))
}

// GetOutstandingAdvances returns open advances oldest first, the order in
// which a desk would normally settle them.
func (h *Handler) GetOutstandingAdvances(w http.ResponseWriter, r *http.Request) {
	as, err := h.Engine.ListOutstandingAdvances(r.Context(), counterpartyID(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTOs(as))
}

func counterpartyID(r *http.Request) ledger.CounterpartyID {
	return ledger.CounterpartyID(chi.URLParam(r, "id"))
}

// =============================================================================
// ADVANCE HANDLERS
// =============================================================================

func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	as, err := h.Engine.ListAdvances(r.Context(), ledger.CounterpartyID(r.URL.Query().Get("counterparty_id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTOs(as))
}

// IssueAdvance pays cash ahead of delivery and raises the counterparty's
// outstanding balance by the same amount.
func (h *Handler) IssueAdvance(w http.ResponseWriter, r *http.Request) {
	var req IssueAdvanceRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.Engine.IssueAdvance(r.Context(), ledger.IssueRequest{
		CounterpartyID:         ledger.CounterpartyID(req.CounterpartyID),
		Amount:                 req.Amount,
		Currency:               req.Currency,
		Purpose:                req.Purpose,
		PaymentMethod:          ledger.PaymentMethod(req.PaymentMethod),
		ExpectedSettlementDate: req.ExpectedSettlementDate,
		CreatedBy:              req.CreatedBy,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdvanceDTO(a))
}

func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.GetAdvance(r.Context(), ledger.AdvanceID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(a))
}

func (h *Handler) SettleAdvance(w http.ResponseWriter, r *http.Request) {
	var req SettleAdvanceRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.Engine.SettleAdvance(r.Context(), ledger.SettleRequest{
		AdvanceID:     ledger.AdvanceID(chi.URLParam(r, "id")),
		TransactionID: ledger.TransactionID(req.TransactionID),
		GoldValue:     req.GoldValue,
		WeightGrams:   req.WeightGrams,
		Notes:         req.Notes,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(a))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := transactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	filter.CounterpartyID = ledger.CounterpartyID(r.URL.Query().Get("counterparty_id"))

	txs, err := h.Engine.ListTransactions(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// RecordBuy records a purchase. With advance_id set the purchase value is
// applied against that advance first.
func (h *Handler) RecordBuy(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decode(w, r, &req) {
		return
	}

	tx, err := h.Engine.RecordBuy(r.Context(), req.toLedger())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

func (h *Handler) RecordSell(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decode(w, r, &req) {
		return
	}

	tx, err := h.Engine.RecordSell(r.Context(), req.toLedger())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Engine.GetTransaction(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func (h *Handler) GetTransactionByReceipt(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Engine.GetTransactionByReceipt(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func transactionFilter(r *http.Request) (ledger.TransactionFilter, error) {
	q := r.URL.Query()
	filter := ledger.TransactionFilter{Type: ledger.TransactionType(q.Get("type"))}
	if filter.Type != "" && !filter.Type.Valid() {
		return filter, errors.New("type must be buy or sell")
	}
	var err error
	if filter.From, err = optionalTime(q.Get("from")); err != nil {
		return filter, err
	}
	if filter.To, err = optionalTime(q.Get("to")); err != nil {
		return filter, err
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			return filter, errors.New("limit must be a non-negative integer")
		}
	}
	return filter, nil
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.BatchFilter{
		Location: ledger.Location(q.Get("location")),
		GoldType: q.Get("gold_type"),
	}
	if v := q.Get("in_stock"); v != "" {
		inStock, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid in_stock flag", err)
			return
		}
		filter.InStockOnly = inStock
	}

	bs, err := h.Engine.ListBatches(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dtos := make([]BatchDTO, 0, len(bs))
	for i := range bs {
		dtos = append(dtos, toBatchDTO(&bs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBatch books stock that did not come from a recorded purchase, such
// as an opening balance.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if !decode(w, r, &req) {
		return
	}

	var purity decimal.Decimal
	if req.PurityPercentage != nil {
		purity = *req.PurityPercentage
	} else if p, ok := ledger.PurityForLabel(req.Purity); ok {
		purity = p
	}
	b, err := h.Engine.CreateBatch(r.Context(), ledger.CreateBatchRequest{
		ID:               ledger.BatchID(req.ID),
		GoldType:         req.GoldType,
		Purity:           req.Purity,
		PurityPercentage: purity,
		WeightGrams:      req.WeightGrams,
		AvgCostPerGram:   req.AvgCostPerGram,
		Location:         ledger.Location(req.Location),
		SupplierID:       ledger.CounterpartyID(req.SupplierID),
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(b))
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.GetBatch(r.Context(), ledger.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

func (h *Handler) MoveBatch(w http.ResponseWriter, r *http.Request) {
	var req MoveBatchRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.Engine.MoveBatch(r.Context(), ledger.BatchID(chi.URLParam(r, "id")),
		ledger.Location(req.ToLocation), req.MovedBy, req.Notes)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

func (h *Handler) GetVaultSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.VaultSummary(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVaultSummaryDTO(s))
}

// =============================================================================
// PRICE HANDLERS
// =============================================================================

func (h *Handler) RecordPrice(w http.ResponseWriter, r *http.Request) {
	var req RecordPriceRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.Engine.RecordPrice(r.Context(), req.toLedger())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPriceDTO(p))
}

func (h *Handler) GetLatestPrice(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.LatestPrice(r.Context(), commodity(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceDTO(p))
}

// GetPriceAt returns the observation in force at ?at=.
func (h *Handler) GetPriceAt(w http.ResponseWriter, r *http.Request) {
	at, err := optionalTime(r.URL.Query().Get("at"))
	if err != nil || at == nil {
		writeError(w, http.StatusBadRequest, "Query parameter 'at' is required (RFC3339 or YYYY-MM-DD)", err)
		return
	}

	p, err := h.Engine.PriceAt(r.Context(), commodity(r), *at)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceDTO(p))
}

// GetPriceHistory defaults to the last 30 days.
func (h *Handler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if t, err := optionalTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	} else if t != nil {
		from = *t
	}
	if t, err := optionalTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return
	} else if t != nil {
		to = *t
	}

	ps, err := h.Engine.PriceHistory(r.Context(), commodity(r), from, to)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dtos := make([]PriceDTO, 0, len(ps))
	for i := range ps {
		dtos = append(dtos, toPriceDTO(&ps[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func commodity(r *http.Request) ledger.Commodity {
	if c := r.URL.Query().Get("commodity"); c != "" {
		return ledger.Commodity(strings.ToLower(c))
	}
	return ledger.CommodityGold
}

// =============================================================================
// DASHBOARD / AUDIT HANDLERS
// =============================================================================

func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Engine.Dashboard(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(d))
}

// RunAudit re-derives every stored balance and reports drift. It never
// modifies data.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.Audit(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps a ledger error kind to its HTTP status. Internal
// errors are logged and their details are not sent to the client.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	resp := ErrorResponse{Kind: string(kind)}

	var le *ledger.Error
	if errors.As(err, &le) {
		resp.Error = le.Message
		resp.Field = le.Field
	}

	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		resp.Error = "Internal error"
		resp.Field = ""
	} else {
		if resp.Error == "" {
			resp.Error = err.Error()
		}
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func statusFor(kind ledger.ErrorKind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindInvalidState, ledger.KindConcurrencyConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body, writing a 400 and returning false on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// optionalTime parses RFC3339 or a bare date. Empty input yields nil.
func optionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
