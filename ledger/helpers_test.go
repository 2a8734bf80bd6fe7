package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/goldtrader/gold-ledger/ledger"
	"github.com/goldtrader/gold-ledger/ledger/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

// stepClock advances one millisecond per reading so every entity gets a
// distinct, ordered timestamp.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock { return &stepClock{now: t0} }

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// fixedClock always returns the same instant.
func fixedClock(at time.Time) ledger.Clock {
	return func() time.Time { return at }
}

type testEnv struct {
	engine *ledger.Engine
	store  *store.Memory
	ctx    context.Context
}

func newEnv(t *testing.T, opts ...func(*ledger.Options)) *testEnv {
	t.Helper()
	o := ledger.Options{MergeBatches: true, RetryAttempts: 3, Clock: newStepClock().Now}
	for _, fn := range opts {
		fn(&o)
	}
	mem := store.NewMemory()
	return &testEnv{
		engine: ledger.NewEngine(mem, o, zerolog.Nop()),
		store:  mem,
		ctx:    context.Background(),
	}
}

func (e *testEnv) counterparty(t *testing.T, name string) *ledger.Counterparty {
	t.Helper()
	cp, err := e.engine.RegisterCounterparty(e.ctx,
		ledger.Identity{Name: name},
		ledger.Classification{Type: ledger.CounterpartyMiner})
	require.NoError(t, err)
	return cp
}

func (e *testEnv) advance(t *testing.T, cp ledger.CounterpartyID, amount string) *ledger.Advance {
	t.Helper()
	a, err := e.engine.IssueAdvance(e.ctx, ledger.IssueRequest{CounterpartyID: cp, Amount: dec(amount)})
	require.NoError(t, err)
	return a
}

func (e *testEnv) reloadCounterparty(t *testing.T, id ledger.CounterpartyID) *ledger.Counterparty {
	t.Helper()
	cp, err := e.engine.GetCounterparty(e.ctx, id)
	require.NoError(t, err)
	return cp
}

func (e *testEnv) reloadAdvance(t *testing.T, id ledger.AdvanceID) *ledger.Advance {
	t.Helper()
	a, err := e.engine.GetAdvance(e.ctx, id)
	require.NoError(t, err)
	return a
}

// buy24K records a purchase of 24K gold at 2350/oz with a 5% discount.
func buy24K(cp ledger.CounterpartyID, grams string, advance ledger.AdvanceID) ledger.TradeRequest {
	return ledger.TradeRequest{
		CounterpartyID:     cp,
		Purity:             "24K",
		WeightGrams:        dec(grams),
		SpotPricePerOz:     dec("2350"),
		DiscountPercentage: dec("5"),
		AdvanceID:          advance,
	}
}

func (e *testEnv) requireAuditOK(t *testing.T) {
	t.Helper()
	report, err := e.engine.Audit(e.ctx)
	require.NoError(t, err)
	require.True(t, report.OK(), "audit issues: %v", report.Issues)
}
