/*
recorder.go - Buy and sell recording

BUY FLOW (RecordBuy):
  1. validate weight > 0 and purity in (0, 1]
  2. spot per gram = spot per oz / 31.1035
  3. price per gram = spot per gram × (1 - discount/100)
  4. total = weight × price per gram × purity
  5. assign a unique receipt number when none was supplied
  6. with an advance: settle min(total, remaining) against it and record the
     applied amount as AdvanceDeducted; the method becomes advance_deduction
  7. fold the transaction into the counterparty totals
  8. create or augment an inventory batch at cost price × purity
  9. persist the transaction

SELL FLOW (RecordSell):
  Same valuation with the discount applied as a premium (1 + discount/100),
  counterparty totals only. Stock depletion happens only when DepleteOnSell
  is enabled.

The Recorder does not open transactions itself. Engine runs each call inside
TxStore.WithTx so a failure at step 8 leaves steps 5-7 unapplied.
*/
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// receiptAttempts bounds the search for a free generated receipt number.
const receiptAttempts = 50

const defaultGoldType = "raw"

type RecorderOptions struct {
	// MergeBatches augments an existing in-stock batch of the same gold type,
	// purity and location instead of opening a new one.
	MergeBatches bool

	// DepleteOnSell removes sold weight from inventory FIFO.
	DepleteOnSell bool
}

type Recorder struct {
	store          Store
	counterparties *CounterpartyLedger
	advances       *AdvanceLedger
	inventory      *Inventory
	opts           RecorderOptions
	now            Clock
}

func NewRecorder(store Store, counterparties *CounterpartyLedger, advances *AdvanceLedger, inventory *Inventory, opts RecorderOptions, clock Clock) *Recorder {
	if clock == nil {
		clock = SystemClock
	}
	return &Recorder{
		store:          store,
		counterparties: counterparties,
		advances:       advances,
		inventory:      inventory,
		opts:           opts,
		now:            clock,
	}
}

// TradeRequest is the input to RecordBuy and RecordSell.
type TradeRequest struct {
	CounterpartyID CounterpartyID

	GoldType string
	Purity   string
	// PurityPercentage overrides the label. Nil resolves it from Purity;
	// an explicit value is validated as given.
	PurityPercentage *decimal.Decimal
	SpecificGravity  *decimal.Decimal
	WeightGrams      decimal.Decimal

	SpotPricePerOz     decimal.Decimal
	DiscountPercentage decimal.Decimal
	Currency           string

	PaymentMethod PaymentMethod
	// AmountPaid is cash paid on top of any advance deduction. Nil means the
	// counter payment covered the whole amount, unless an advance is used.
	AmountPaid *decimal.Decimal
	AdvanceID  AdvanceID

	Location      Location
	ReceiptNumber string
	Notes         string
	CreatedBy     string
}

func (r *Recorder) RecordBuy(ctx context.Context, req TradeRequest) (*Transaction, error) {
	const op = "transaction.buy"

	tx, cp, err := r.prepare(ctx, op, TxBuy, req)
	if err != nil {
		return nil, err
	}

	if req.AdvanceID != "" {
		adv, err := r.advances.Get(ctx, req.AdvanceID)
		if err != nil {
			return nil, err
		}
		if adv.CounterpartyID != cp.ID {
			return nil, validationError(op, "advance_id", "advance %s belongs to another counterparty", adv.ID)
		}
		if adv.Status == AdvanceSettled {
			return nil, invalidStateError(op, "advance %s is already settled", adv.ID)
		}
		settled, err := r.advances.SettleWithDelivery(ctx, SettleRequest{
			AdvanceID:     adv.ID,
			TransactionID: tx.ID,
			GoldValue:     decimal.Min(tx.TotalAmount, adv.RemainingBalance),
			WeightGrams:   tx.WeightGrams,
			Notes:         req.Notes,
		})
		if err != nil {
			return nil, err
		}
		tx.AdvanceID = adv.ID
		tx.AdvanceDeducted = settled.SettlementHistory[len(settled.SettlementHistory)-1].Amount
		tx.PaymentMethod = PayAdvanceDeduction
	}
	applyPayment(tx, req.AmountPaid)

	if _, err := r.counterparties.RecordTransactionEffect(ctx, cp.ID, *tx); err != nil {
		return nil, err
	}

	batch, err := r.stock(ctx, tx)
	if err != nil {
		return nil, err
	}
	tx.BatchID = batch.ID

	if err := r.store.InsertTransaction(ctx, *tx); err != nil {
		return nil, wrapStoreError(op, err)
	}
	return tx, nil
}

func (r *Recorder) RecordSell(ctx context.Context, req TradeRequest) (*Transaction, error) {
	const op = "transaction.sell"

	if req.AdvanceID != "" {
		return nil, validationError(op, "advance_id", "sales cannot settle advances")
	}
	if req.PaymentMethod == PayAdvanceDeduction {
		return nil, validationError(op, "payment_method", "sales cannot use advance deduction")
	}

	tx, cp, err := r.prepare(ctx, op, TxSell, req)
	if err != nil {
		return nil, err
	}
	applyPayment(tx, req.AmountPaid)

	if r.opts.DepleteOnSell {
		draws, err := r.inventory.Deplete(ctx, tx.GoldType, tx.PurityPercentage, tx.Location, tx.WeightGrams)
		if err != nil {
			return nil, err
		}
		tx.Draws = draws
	}

	if _, err := r.counterparties.RecordTransactionEffect(ctx, cp.ID, *tx); err != nil {
		return nil, err
	}
	if err := r.store.InsertTransaction(ctx, *tx); err != nil {
		return nil, wrapStoreError(op, err)
	}
	return tx, nil
}

// prepare validates the request, prices it and reserves a receipt number.
func (r *Recorder) prepare(ctx context.Context, op string, kind TransactionType, req TradeRequest) (*Transaction, *Counterparty, error) {
	details, err := normalizeDetails(op, req)
	if err != nil {
		return nil, nil, err
	}
	if !req.SpotPricePerOz.IsPositive() {
		return nil, nil, validationError(op, "spot_price_per_oz", "must be positive")
	}
	if kind == TxBuy && req.DiscountPercentage.GreaterThanOrEqual(hundred) {
		return nil, nil, validationError(op, "discount_percentage", "must be below 100 for a buy")
	}
	if kind == TxSell && req.DiscountPercentage.LessThanOrEqual(hundred.Neg()) {
		return nil, nil, validationError(op, "discount_percentage", "must be above -100 for a sell")
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = PayCash
	}
	if !req.PaymentMethod.Valid() {
		return nil, nil, validationError(op, "payment_method", "unknown method %q", req.PaymentMethod)
	}
	if req.PaymentMethod == PayAdvanceDeduction && req.AdvanceID == "" {
		return nil, nil, validationError(op, "advance_id", "required for advance deduction")
	}
	if req.AmountPaid != nil && req.AmountPaid.IsNegative() {
		return nil, nil, validationError(op, "amount_paid", "must not be negative")
	}
	if req.Location == "" {
		req.Location = LocationInSafe
	}
	if !req.Location.Valid() {
		return nil, nil, validationError(op, "location", "unknown location %q", req.Location)
	}

	cp, err := r.counterparties.Get(ctx, req.CounterpartyID)
	if err != nil {
		return nil, nil, err
	}

	now := r.now()
	receipt, err := r.receipt(ctx, op, kind, req.ReceiptNumber, now)
	if err != nil {
		return nil, nil, err
	}

	q := QuoteFor(kind, details.WeightGrams, details.PurityPercentage, req.SpotPricePerOz, req.DiscountPercentage)
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	tx := &Transaction{
		ID:                 TransactionID(newID()),
		Type:               kind,
		CounterpartyID:     cp.ID,
		CounterpartyName:   cp.Name,
		PhysicalDetails:    details,
		SpotPricePerOz:     q.SpotPricePerOz,
		SpotPricePerGram:   q.SpotPricePerGram,
		DiscountPercentage: q.DiscountPercentage,
		BuyingPricePerGram: q.PricePerGram,
		TotalAmount:        q.TotalAmount,
		Currency:           currency,
		PaymentMethod:      req.PaymentMethod,
		AmountPaid:         decimal.Zero,
		AdvanceDeducted:    decimal.Zero,
		Location:           req.Location,
		ReceiptNumber:      receipt,
		Notes:              req.Notes,
		CreatedBy:          req.CreatedBy,
		CreatedAt:          now,
	}
	return tx, cp, nil
}

func normalizeDetails(op string, req TradeRequest) (PhysicalDetails, error) {
	d := PhysicalDetails{
		GoldType:        strings.TrimSpace(req.GoldType),
		Purity:          strings.TrimSpace(req.Purity),
		SpecificGravity: req.SpecificGravity,
		WeightGrams:     req.WeightGrams,
	}
	if !d.WeightGrams.IsPositive() {
		return d, validationError(op, "weight_grams", "must be positive")
	}
	if d.GoldType == "" {
		d.GoldType = defaultGoldType
	}
	if req.PurityPercentage != nil {
		d.PurityPercentage = *req.PurityPercentage
	} else {
		p, ok := PurityForLabel(d.Purity)
		if !ok {
			return d, validationError(op, "purity_percentage", "required for purity %q", d.Purity)
		}
		d.PurityPercentage = p
	}
	if d.Purity == "" {
		d.Purity = "Custom"
	}
	if err := validatePurity(op, d.PurityPercentage); err != nil {
		return d, err
	}
	if d.SpecificGravity != nil && !d.SpecificGravity.IsPositive() {
		return d, validationError(op, "specific_gravity", "must be positive")
	}
	return d, nil
}

// receipt returns the supplied number when free, or generates one. Generated
// numbers are timestamp based; a collision moves the timestamp forward by a
// millisecond so the format stays intact.
func (r *Recorder) receipt(ctx context.Context, op string, kind TransactionType, supplied string, now time.Time) (string, error) {
	if supplied = strings.TrimSpace(supplied); supplied != "" {
		existing, err := r.store.GetTransactionByReceipt(ctx, supplied)
		if err != nil {
			return "", wrapStoreError(op, err)
		}
		if existing != nil {
			return "", validationError(op, "receipt_number", "%s is already used", supplied)
		}
		return supplied, nil
	}

	at := now
	for i := 0; i < receiptAttempts; i++ {
		candidate := ReceiptNumber(kind, at)
		existing, err := r.store.GetTransactionByReceipt(ctx, candidate)
		if err != nil {
			return "", wrapStoreError(op, err)
		}
		if existing == nil {
			return candidate, nil
		}
		at = at.Add(time.Millisecond)
	}
	return "", wrapStoreError(op, errors.New("no free receipt number"))
}

// applyPayment derives AmountPaid (including any advance deduction) and
// PaymentStatus.
func applyPayment(tx *Transaction, cash *decimal.Decimal) {
	paid := tx.AdvanceDeducted
	switch {
	case cash != nil:
		paid = paid.Add(*cash)
	case tx.AdvanceDeducted.IsZero():
		paid = tx.TotalAmount
	}
	tx.AmountPaid = paid

	switch {
	case paid.GreaterThanOrEqual(tx.TotalAmount):
		tx.PaymentStatus = PaymentCompleted
	case paid.IsPositive():
		tx.PaymentStatus = PaymentPartial
	default:
		tx.PaymentStatus = PaymentPending
	}
}

// stock puts purchased weight into inventory.
func (r *Recorder) stock(ctx context.Context, tx *Transaction) (*Batch, error) {
	cost := FineCostPerGram(tx.BuyingPricePerGram, tx.PurityPercentage)

	if r.opts.MergeBatches {
		open, err := r.inventory.FindOpenBatch(ctx, tx.GoldType, tx.PurityPercentage, tx.Location)
		if err != nil {
			return nil, err
		}
		if open != nil {
			return r.inventory.Augment(ctx, open.ID, tx.WeightGrams, cost)
		}
	}

	return r.inventory.CreateBatch(ctx, CreateBatchRequest{
		GoldType:            tx.GoldType,
		Purity:              tx.Purity,
		PurityPercentage:    tx.PurityPercentage,
		WeightGrams:         tx.WeightGrams,
		AvgCostPerGram:      cost,
		Location:            tx.Location,
		SourceTransactionID: tx.ID,
		SupplierID:          tx.CounterpartyID,
	})
}

func (r *Recorder) Get(ctx context.Context, id TransactionID) (*Transaction, error) {
	const op = "transaction.get"
	tx, err := r.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	if tx == nil {
		return nil, notFoundError(op, "transaction", id)
	}
	return tx, nil
}

func (r *Recorder) GetByReceipt(ctx context.Context, receipt string) (*Transaction, error) {
	const op = "transaction.get_by_receipt"
	tx, err := r.store.GetTransactionByReceipt(ctx, receipt)
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	if tx == nil {
		return nil, notFoundError(op, "receipt", receipt)
	}
	return tx, nil
}

func (r *Recorder) List(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	txs, err := r.store.ListTransactions(ctx, filter)
	return txs, wrapStoreError("transaction.list", err)
}
