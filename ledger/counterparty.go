/*
counterparty.go - Running totals and outstanding balance per counterparty

PURPOSE:
  CounterpartyLedger is the only sanctioned mutation path for a counterparty's
  derived fields. Transaction recording bumps the trade totals; advance issue
  and settlement move OutstandingBalance. Users can edit identity and
  classification, never the totals.

SIGN CONVENTION:
  OutstandingBalance > 0  counterparty owes the business goods (open advance)
  OutstandingBalance < 0  business owes the counterparty
  Ordinary paid buys and sells do not move the balance.

SEE ALSO:
  - advance.go: calls RecordAdvanceIssued / RecordAdvanceSettled
  - recorder.go: calls RecordTransactionEffect
*/
package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

type CounterpartyLedger struct {
	store Store
	now   Clock
}

func NewCounterpartyLedger(store Store, clock Clock) *CounterpartyLedger {
	if clock == nil {
		clock = SystemClock
	}
	return &CounterpartyLedger{store: store, now: clock}
}

// Register creates a counterparty with zero totals and zero balance.
func (l *CounterpartyLedger) Register(ctx context.Context, identity Identity, class Classification) (*Counterparty, error) {
	const op = "counterparty.register"

	identity.Name = strings.TrimSpace(identity.Name)
	if identity.Name == "" {
		return nil, validationError(op, "name", "is required")
	}
	class, err := normalizeClassification(op, class)
	if err != nil {
		return nil, err
	}

	now := l.now()
	c := Counterparty{
		ID:                 CounterpartyID(newID()),
		Identity:           identity,
		Classification:     class,
		IsActive:           true,
		TotalWeightGrams:   decimal.Zero,
		TotalAmountTraded:  decimal.Zero,
		OutstandingBalance: decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}
	if err := l.store.InsertCounterparty(ctx, c); err != nil {
		return nil, wrapStoreError(op, err)
	}
	return &c, nil
}

func normalizeClassification(op string, class Classification) (Classification, error) {
	if class.Type == "" {
		class.Type = CounterpartyOther
	}
	if class.TrustLevel == "" {
		class.TrustLevel = TrustNew
	}
	if !class.Type.Valid() {
		return class, validationError(op, "type", "unknown counterparty type %q", class.Type)
	}
	if !class.TrustLevel.Valid() {
		return class, validationError(op, "trust_level", "unknown trust level %q", class.TrustLevel)
	}
	return class, nil
}

// Get loads a counterparty or fails with NotFound.
func (l *CounterpartyLedger) Get(ctx context.Context, id CounterpartyID) (*Counterparty, error) {
	return l.load(ctx, "counterparty.get", id)
}

func (l *CounterpartyLedger) load(ctx context.Context, op string, id CounterpartyID) (*Counterparty, error) {
	c, err := l.store.GetCounterparty(ctx, id)
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	if c == nil {
		return nil, notFoundError(op, "counterparty", id)
	}
	return c, nil
}

func (l *CounterpartyLedger) List(ctx context.Context, filter CounterpartyFilter) ([]Counterparty, error) {
	cs, err := l.store.ListCounterparties(ctx, filter)
	return cs, wrapStoreError("counterparty.list", err)
}

// UpdateProfile replaces identity and classification. Totals are untouched.
func (l *CounterpartyLedger) UpdateProfile(ctx context.Context, id CounterpartyID, identity Identity, class Classification) (*Counterparty, error) {
	const op = "counterparty.update"

	identity.Name = strings.TrimSpace(identity.Name)
	if identity.Name == "" {
		return nil, validationError(op, "name", "is required")
	}
	class, err := normalizeClassification(op, class)
	if err != nil {
		return nil, err
	}

	return l.mutate(ctx, op, id, func(c *Counterparty) error {
		c.Identity = identity
		c.Classification = class
		return nil
	})
}

// Deactivate is the soft delete. Counterparties are never removed.
func (l *CounterpartyLedger) Deactivate(ctx context.Context, id CounterpartyID) (*Counterparty, error) {
	return l.mutate(ctx, "counterparty.deactivate", id, func(c *Counterparty) error {
		c.IsActive = false
		return nil
	})
}

// RecordTransactionEffect folds one new transaction into the running totals.
// Callers invoke it exactly once per transaction; it does not deduplicate.
func (l *CounterpartyLedger) RecordTransactionEffect(ctx context.Context, id CounterpartyID, tx Transaction) (*Counterparty, error) {
	const op = "counterparty.record_transaction"

	if tx.WeightGrams.IsNegative() {
		return nil, validationError(op, "weight_grams", "must not be negative")
	}
	if tx.TotalAmount.IsNegative() {
		return nil, validationError(op, "total_amount", "must not be negative")
	}

	return l.mutate(ctx, op, id, func(c *Counterparty) error {
		c.TotalTransactions++
		c.TotalWeightGrams = c.TotalWeightGrams.Add(tx.WeightGrams)
		c.TotalAmountTraded = c.TotalAmountTraded.Add(tx.TotalAmount)
		at := tx.CreatedAt
		c.LastTransactionDate = &at
		return nil
	})
}

// RecordAdvanceIssued raises the balance: the counterparty now owes goods.
func (l *CounterpartyLedger) RecordAdvanceIssued(ctx context.Context, id CounterpartyID, amount decimal.Decimal) (*Counterparty, error) {
	const op = "counterparty.record_advance_issued"

	if !amount.IsPositive() {
		return nil, validationError(op, "amount", "must be positive")
	}
	return l.mutate(ctx, op, id, func(c *Counterparty) error {
		c.OutstandingBalance = c.OutstandingBalance.Add(amount)
		return nil
	})
}

// RecordAdvanceSettled lowers the balance by the applied settlement. A
// balance that started at or above zero is floored at zero.
func (l *CounterpartyLedger) RecordAdvanceSettled(ctx context.Context, id CounterpartyID, amount decimal.Decimal) (*Counterparty, error) {
	const op = "counterparty.record_advance_settled"

	if amount.IsNegative() {
		return nil, validationError(op, "amount", "must not be negative")
	}
	return l.mutate(ctx, op, id, func(c *Counterparty) error {
		next := c.OutstandingBalance.Sub(amount)
		if !c.OutstandingBalance.IsNegative() && next.IsNegative() {
			next = decimal.Zero
		}
		c.OutstandingBalance = next
		return nil
	})
}

// BalanceSummary is read-only.
func (l *CounterpartyLedger) BalanceSummary(ctx context.Context, id CounterpartyID) (*BalanceSummary, error) {
	c, err := l.load(ctx, "counterparty.balance", id)
	if err != nil {
		return nil, err
	}
	return &BalanceSummary{
		CounterpartyID:      c.ID,
		Name:                c.Name,
		TotalTransactions:   c.TotalTransactions,
		TotalWeightGrams:    c.TotalWeightGrams,
		TotalAmountTraded:   c.TotalAmountTraded,
		OutstandingBalance:  c.OutstandingBalance,
		LastTransactionDate: c.LastTransactionDate,
	}, nil
}

// mutate is read → apply → compare-and-swap write.
func (l *CounterpartyLedger) mutate(ctx context.Context, op string, id CounterpartyID, apply func(*Counterparty) error) (*Counterparty, error) {
	c, err := l.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := apply(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = l.now()
	if err := l.store.UpdateCounterparty(ctx, *c); err != nil {
		return nil, wrapStoreError(op, err)
	}
	c.Version++
	return c, nil
}
