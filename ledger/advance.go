/*
advance.go - Cash advance lifecycle

STATE MACHINE:
  pending --(partial settlement)--> partial --(settle to zero)--> settled
  pending --(settlement covering everything)--> settled

  settled is terminal. Status is never set by callers: it is recomputed from
  RemainingBalance vs Amount on every write (DeriveAdvanceStatus).

INVARIANTS:
  1. RemainingBalance + Σ SettlementHistory[].Amount == Amount
  2. RemainingBalance never increases and never goes below zero
  3. SettledDate is set exactly once, on the transition into settled

OVER-SETTLEMENT:
  A goldValue larger than the remaining balance is accepted but only the
  remaining balance is applied. The excess is kept on the settlement record
  (GoldValue - Amount) and is not credited anywhere.
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AdvanceLedger struct {
	store          Store
	counterparties *CounterpartyLedger
	now            Clock
}

func NewAdvanceLedger(store Store, counterparties *CounterpartyLedger, clock Clock) *AdvanceLedger {
	if clock == nil {
		clock = SystemClock
	}
	return &AdvanceLedger{store: store, counterparties: counterparties, now: clock}
}

type IssueRequest struct {
	CounterpartyID         CounterpartyID
	Amount                 decimal.Decimal
	Currency               string
	Purpose                string
	PaymentMethod          PaymentMethod
	ExpectedSettlementDate *time.Time
	CreatedBy              string
}

// Issue creates a pending advance and raises the counterparty's balance.
func (l *AdvanceLedger) Issue(ctx context.Context, req IssueRequest) (*Advance, error) {
	const op = "advance.issue"

	if !req.Amount.IsPositive() {
		return nil, validationError(op, "amount", "must be positive")
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = PayCash
	}
	if !req.PaymentMethod.Valid() || req.PaymentMethod == PayAdvanceDeduction {
		return nil, validationError(op, "payment_method", "unsupported method %q", req.PaymentMethod)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	cp, err := l.counterparties.Get(ctx, req.CounterpartyID)
	if err != nil {
		return nil, err
	}

	a := Advance{
		ID:                     AdvanceID(newID()),
		CounterpartyID:         cp.ID,
		CounterpartyName:       cp.Name,
		Amount:                 req.Amount,
		Currency:               currency,
		Purpose:                req.Purpose,
		PaymentMethod:          req.PaymentMethod,
		RemainingBalance:       req.Amount,
		Status:                 AdvancePending,
		GivenDate:              l.now(),
		ExpectedSettlementDate: req.ExpectedSettlementDate,
		CreatedBy:              req.CreatedBy,
		Version:                1,
	}
	if err := l.store.InsertAdvance(ctx, a); err != nil {
		return nil, wrapStoreError(op, err)
	}
	if _, err := l.counterparties.RecordAdvanceIssued(ctx, cp.ID, req.Amount); err != nil {
		return nil, err
	}
	return &a, nil
}

type SettleRequest struct {
	AdvanceID     AdvanceID
	TransactionID TransactionID
	GoldValue     decimal.Decimal
	WeightGrams   decimal.Decimal
	Notes         string
}

// SettleWithDelivery applies delivered gold against an advance.
func (l *AdvanceLedger) SettleWithDelivery(ctx context.Context, req SettleRequest) (*Advance, error) {
	const op = "advance.settle"

	if !req.GoldValue.IsPositive() {
		return nil, validationError(op, "gold_value", "must be positive")
	}
	if req.WeightGrams.IsNegative() {
		return nil, validationError(op, "weight_grams", "must not be negative")
	}

	a, err := l.load(ctx, op, req.AdvanceID)
	if err != nil {
		return nil, err
	}
	if a.Status == AdvanceSettled || !a.RemainingBalance.IsPositive() {
		return nil, invalidStateError(op, "advance %s is already settled", a.ID)
	}

	applied := decimal.Min(req.GoldValue, a.RemainingBalance)
	now := l.now()

	a.RemainingBalance = decimal.Max(decimal.Zero, a.RemainingBalance.Sub(req.GoldValue))
	a.SettlementHistory = append(a.SettlementHistory, Settlement{
		TransactionID: req.TransactionID,
		Amount:        applied,
		GoldValue:     req.GoldValue,
		WeightGrams:   req.WeightGrams,
		Date:          now,
		Notes:         req.Notes,
	})
	a.Status = DeriveAdvanceStatus(a.Amount, a.RemainingBalance)
	if a.Status == AdvanceSettled && a.SettledDate == nil {
		a.SettledDate = &now
	}

	if err := l.store.UpdateAdvance(ctx, *a); err != nil {
		return nil, wrapStoreError(op, err)
	}
	a.Version++

	if _, err := l.counterparties.RecordAdvanceSettled(ctx, a.CounterpartyID, applied); err != nil {
		return nil, err
	}
	return a, nil
}

func (l *AdvanceLedger) Get(ctx context.Context, id AdvanceID) (*Advance, error) {
	return l.load(ctx, "advance.get", id)
}

func (l *AdvanceLedger) load(ctx context.Context, op string, id AdvanceID) (*Advance, error) {
	a, err := l.store.GetAdvance(ctx, id)
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	if a == nil {
		return nil, notFoundError(op, "advance", id)
	}
	return a, nil
}

// ListOutstanding returns open advances, oldest first. The engine does not
// enforce a settlement order; callers pick which advance to settle.
func (l *AdvanceLedger) ListOutstanding(ctx context.Context, id CounterpartyID) ([]Advance, error) {
	const op = "advance.list_outstanding"
	if _, err := l.counterparties.Get(ctx, id); err != nil {
		return nil, err
	}
	as, err := l.store.ListAdvances(ctx, AdvanceFilter{CounterpartyID: id, OutstandingOnly: true})
	return as, wrapStoreError(op, err)
}

// List returns advances for one counterparty, or all when id is empty.
func (l *AdvanceLedger) List(ctx context.Context, id CounterpartyID) ([]Advance, error) {
	as, err := l.store.ListAdvances(ctx, AdvanceFilter{CounterpartyID: id})
	return as, wrapStoreError("advance.list", err)
}
