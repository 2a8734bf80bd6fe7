package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldtrader/gold-ledger/ledger"
	"github.com/goldtrader/gold-ledger/ledger/store"
)

// =============================================================================
// FAULT INJECTION
// =============================================================================

// faultyStore wraps the memory store and injects failures inside WithTx.
type faultyStore struct {
	*store.Memory
	failInsertTx bool
	conflicts    int
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.Memory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&faultyView{Store: s, parent: f})
	})
}

type faultyView struct {
	ledger.Store
	parent *faultyStore
}

func (v *faultyView) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	if v.parent.failInsertTx {
		return errors.New("disk full")
	}
	return v.Store.InsertTransaction(ctx, tx)
}

func (v *faultyView) UpdateCounterparty(ctx context.Context, c ledger.Counterparty) error {
	if v.parent.conflicts > 0 {
		v.parent.conflicts--
		return ledger.ErrConcurrencyConflict
	}
	return v.Store.UpdateCounterparty(ctx, c)
}

func newFaultyEnv(attempts int) (*testEnv, *faultyStore) {
	fs := &faultyStore{Memory: store.NewMemory()}
	env := &testEnv{
		engine: ledger.NewEngine(fs, ledger.Options{MergeBatches: true, RetryAttempts: attempts, Clock: newStepClock().Now}, zerolog.Nop()),
		store:  fs.Memory,
		ctx:    context.Background(),
	}
	return env, fs
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestRecordBuy_Validation(t *testing.T) {
	env := newEnv(t)
	cp := env.counterparty(t, "Kojo")

	valid := func() ledger.TradeRequest { return buy24K(cp.ID, "10", "") }

	tests := []struct {
		name   string
		modify func(*ledger.TradeRequest)
		field  string
		kind   ledger.ErrorKind
	}{
		{"zero weight", func(r *ledger.TradeRequest) { r.WeightGrams = dec("0") }, "weight_grams", ledger.KindValidation},
		{"negative weight", func(r *ledger.TradeRequest) { r.WeightGrams = dec("-1") }, "weight_grams", ledger.KindValidation},
		{"custom purity without percentage", func(r *ledger.TradeRequest) { r.Purity = "Custom" }, "purity_percentage", ledger.KindValidation},
		{"purity above one", func(r *ledger.TradeRequest) { r.PurityPercentage = decPtr("1.2") }, "purity_percentage", ledger.KindValidation},
		{"explicit zero purity beside a label", func(r *ledger.TradeRequest) { r.PurityPercentage = decPtr("0") }, "purity_percentage", ledger.KindValidation},
		{"negative purity", func(r *ledger.TradeRequest) { r.PurityPercentage = decPtr("-0.5") }, "purity_percentage", ledger.KindValidation},
		{"zero spot", func(r *ledger.TradeRequest) { r.SpotPricePerOz = dec("0") }, "spot_price_per_oz", ledger.KindValidation},
		{"discount of 100", func(r *ledger.TradeRequest) { r.DiscountPercentage = dec("100") }, "discount_percentage", ledger.KindValidation},
		{"unknown payment method", func(r *ledger.TradeRequest) { r.PaymentMethod = "barter" }, "payment_method", ledger.KindValidation},
		{"advance deduction without advance", func(r *ledger.TradeRequest) { r.PaymentMethod = ledger.PayAdvanceDeduction }, "advance_id", ledger.KindValidation},
		{"negative amount paid", func(r *ledger.TradeRequest) { r.AmountPaid = decPtr("-5") }, "amount_paid", ledger.KindValidation},
		{"unknown location", func(r *ledger.TradeRequest) { r.Location = "under_bed" }, "location", ledger.KindValidation},
		{"non-positive specific gravity", func(r *ledger.TradeRequest) { r.SpecificGravity = decPtr("0") }, "specific_gravity", ledger.KindValidation},
		{"unknown counterparty", func(r *ledger.TradeRequest) { r.CounterpartyID = "ghost" }, "", ledger.KindNotFound},
		{"unknown advance", func(r *ledger.TradeRequest) { r.AdvanceID = "ghost" }, "", ledger.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.modify(&req)

			_, err := env.engine.RecordBuy(env.ctx, req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ledger.KindOf(err))

			var le *ledger.Error
			require.True(t, errors.As(err, &le))
			assert.Equal(t, tt.field, le.Field)
		})
	}

	// Nothing was applied by any of the rejected requests.
	after := env.reloadCounterparty(t, cp.ID)
	assert.Zero(t, after.TotalTransactions)
	batches, err := env.engine.ListBatches(env.ctx, ledger.BatchFilter{})
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestRecordTrade_PurityBoundaries(t *testing.T) {
	// GIVEN: A 24K label on every request
	// WHEN: An explicit purity at the edges of (0, 1] is supplied
	// THEN: The explicit value wins over the label and is priced as given
	env := newEnv(t)
	cp := env.counterparty(t, "Kojo")

	tests := []struct {
		name   string
		purity string
	}{
		{"pure", "1.0"},
		{"near zero", "0.0001"},
		{"below the label", "0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := buy24K(cp.ID, "10", "")
			req.PurityPercentage = decPtr(tt.purity)

			bought, err := env.engine.RecordBuy(env.ctx, req)
			require.NoError(t, err)
			assert.True(t, bought.PurityPercentage.Equal(dec(tt.purity)))
			assert.Equal(t, "24K", bought.Purity)

			sold, err := env.engine.RecordSell(env.ctx, req)
			require.NoError(t, err)
			assert.True(t, sold.PurityPercentage.Equal(dec(tt.purity)))
			assert.True(t, sold.TotalAmount.IsPositive())
		})
	}

	req := buy24K(cp.ID, "10", "")
	req.PurityPercentage = decPtr("0")
	_, err := env.engine.RecordSell(env.ctx, req)
	assert.True(t, errors.Is(err, ledger.ErrValidation))
	env.requireAuditOK(t)
}

func TestRecordBuy_AdvanceOfAnotherCounterparty(t *testing.T) {
	env := newEnv(t)
	owner := env.counterparty(t, "Owner")
	other := env.counterparty(t, "Other")
	adv := env.advance(t, owner.ID, "500")

	_, err := env.engine.RecordBuy(env.ctx, buy24K(other.ID, "1", adv.ID))
	assert.True(t, errors.Is(err, ledger.ErrValidation))
	assert.True(t, env.reloadAdvance(t, adv.ID).RemainingBalance.Equal(dec("500")))
}

func TestRecordSell_RejectsAdvance(t *testing.T) {
	env := newEnv(t)
	cp := env.counterparty(t, "Buyer")
	adv := env.advance(t, cp.ID, "500")

	req := buy24K(cp.ID, "1", adv.ID)
	_, err := env.engine.RecordSell(env.ctx, req)
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	req.AdvanceID = ""
	req.PaymentMethod = ledger.PayAdvanceDeduction
	_, err = env.engine.RecordSell(env.ctx, req)
	assert.True(t, errors.Is(err, ledger.ErrValidation))
}

// =============================================================================
// RECEIPTS
// =============================================================================

func TestRecordBuy_ReceiptCollisionMovesForward(t *testing.T) {
	// GIVEN: A clock that never advances
	// WHEN: Two buys are recorded in the same millisecond
	// THEN: The second receipt is the next millisecond's number
	fs := store.NewMemory()
	engine := ledger.NewEngine(fs, ledger.Options{MergeBatches: true, Clock: fixedClock(t0)}, zerolog.Nop())
	ctx := context.Background()
	cp, err := engine.RegisterCounterparty(ctx, ledger.Identity{Name: "Same ms"}, ledger.Classification{})
	require.NoError(t, err)

	first, err := engine.RecordBuy(ctx, buy24K(cp.ID, "1", ""))
	require.NoError(t, err)
	second, err := engine.RecordBuy(ctx, buy24K(cp.ID, "1", ""))
	require.NoError(t, err)

	assert.Equal(t, ledger.ReceiptNumber(ledger.TxBuy, t0), first.ReceiptNumber)
	assert.Equal(t, ledger.ReceiptNumber(ledger.TxBuy, t0.Add(time.Millisecond)), second.ReceiptNumber)

	sell, err := engine.RecordSell(ctx, buy24K(cp.ID, "1", ""))
	require.NoError(t, err)
	assert.Equal(t, ledger.ReceiptNumber(ledger.TxSell, t0), sell.ReceiptNumber, "prefixes keep buy and sell apart")
}

func TestRecordBuy_SuppliedReceiptMustBeUnique(t *testing.T) {
	env := newEnv(t)
	cp := env.counterparty(t, "Kojo")

	req := buy24K(cp.ID, "1", "")
	req.ReceiptNumber = "R-0001"
	_, err := env.engine.RecordBuy(env.ctx, req)
	require.NoError(t, err)

	_, err = env.engine.RecordBuy(env.ctx, req)
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	tx, err := env.engine.GetTransactionByReceipt(env.ctx, "R-0001")
	require.NoError(t, err)
	assert.Equal(t, "R-0001", tx.ReceiptNumber)
}

// =============================================================================
// PAYMENT
// =============================================================================

func TestRecordBuy_PaymentStatus(t *testing.T) {
	env := newEnv(t)
	cp := env.counterparty(t, "Kojo")

	tests := []struct {
		name       string
		amountPaid *string
		wantStatus ledger.PaymentStatus
	}{
		{"paid in full by default", nil, ledger.PaymentCompleted},
		{"part paid", strPtr("100"), ledger.PaymentPartial},
		{"nothing paid", strPtr("0"), ledger.PaymentPending},
		{"overpaid", strPtr("100000"), ledger.PaymentCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := buy24K(cp.ID, "10", "")
			if tt.amountPaid != nil {
				req.AmountPaid = decPtr(*tt.amountPaid)
			}
			tx, err := env.engine.RecordBuy(env.ctx, req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, tx.PaymentStatus)
			if tt.amountPaid == nil {
				assert.True(t, tx.AmountPaid.Equal(tx.TotalAmount))
			} else {
				assert.True(t, tx.AmountPaid.Equal(dec(*tt.amountPaid)))
			}
		})
	}
}

func TestRecordBuy_AdvancePlusCash(t *testing.T) {
	// GIVEN: A 100 USD advance
	// WHEN: A ~717 USD purchase is recorded with 200 paid in cash
	// THEN: AmountPaid counts both and the payment is still partial
	env := newEnv(t)
	cp := env.counterparty(t, "Kojo")
	adv := env.advance(t, cp.ID, "100")

	req := buy24K(cp.ID, "10", adv.ID)
	req.AmountPaid = decPtr("200")
	tx, err := env.engine.RecordBuy(env.ctx, req)
	require.NoError(t, err)

	assert.True(t, tx.AdvanceDeducted.Equal(dec("100")))
	assert.True(t, tx.AmountPaid.Equal(dec("300")))
	assert.Equal(t, ledger.PaymentPartial, tx.PaymentStatus)

	got := env.reloadAdvance(t, adv.ID)
	assert.Equal(t, ledger.AdvanceSettled, got.Status)
	require.Len(t, got.SettlementHistory, 1)
	assert.True(t, got.SettlementHistory[0].Excess().IsZero(), "a buy offers at most the remainder")
}

func strPtr(s string) *string { return &s }

// =============================================================================
// INVENTORY EFFECTS
// =============================================================================

func TestRecordBuy_MergesIntoOpenBatch(t *testing.T) {
	env := newEnv(t)
	cp := env.counterparty(t, "Kojo")

	first, err := env.engine.RecordBuy(env.ctx, buy24K(cp.ID, "10", ""))
	require.NoError(t, err)
	req := buy24K(cp.ID, "30", "")
	req.DiscountPercentage = dec("0")
	second, err := env.engine.RecordBuy(env.ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.BatchID, second.BatchID)

	b, err := env.engine.GetBatch(env.ctx, first.BatchID)
	require.NoError(t, err)
	assert.True(t, b.WeightGrams.Equal(dec("40")))

	c1 := ledger.FineCostPerGram(first.BuyingPricePerGram, first.PurityPercentage)
	c2 := ledger.FineCostPerGram(second.BuyingPricePerGram, second.PurityPercentage)
	want := c1.Mul(dec("10")).Add(c2.Mul(dec("30"))).Div(dec("40"))
	assert.Equal(t, want.StringFixed(6), b.AvgCostPerGram.StringFixed(6))
	assert.True(t, b.TotalCost.Equal(b.WeightGrams.Mul(b.AvgCostPerGram)))
	assert.Equal(t, first.ID, b.SourceTransactionID, "the batch keeps its original source")
	env.requireAuditOK(t)
}

func TestRecordBuy_SeparateBatchesWhenMergeDisabled(t *testing.T) {
	env := newEnv(t, func(o *ledger.Options) { o.MergeBatches = false })
	cp := env.counterparty(t, "Kojo")

	first, err := env.engine.RecordBuy(env.ctx, buy24K(cp.ID, "10", ""))
	require.NoError(t, err)
	second, err := env.engine.RecordBuy(env.ctx, buy24K(cp.ID, "10", ""))
	require.NoError(t, err)
	assert.NotEqual(t, first.BatchID, second.BatchID)

	b, err := env.engine.GetBatch(env.ctx, second.BatchID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, b.SourceTransactionID)
	assert.Equal(t, cp.ID, b.SupplierID)
}

func TestRecordSell_DepletesFIFO(t *testing.T) {
	// GIVEN: Two 10 g batches of 22K bought in order
	// WHEN: 15 g is sold with depletion enabled
	// THEN: The older batch is emptied first and the draws are recorded
	env := newEnv(t, func(o *ledger.Options) {
		o.MergeBatches = false
		o.DepleteOnSell = true
	})
	cp := env.counterparty(t, "Kojo")

	buy := func() *ledger.Transaction {
		tx, err := env.engine.RecordBuy(env.ctx, ledger.TradeRequest{
			CounterpartyID: cp.ID,
			Purity:         "22K",
			WeightGrams:    dec("10"),
			SpotPricePerOz: dec("2000"),
		})
		require.NoError(t, err)
		return tx
	}
	older, newer := buy(), buy()

	sellReq := ledger.TradeRequest{
		CounterpartyID: cp.ID,
		Purity:         "22K",
		WeightGrams:    dec("15"),
		SpotPricePerOz: dec("2000"),
	}
	sell, err := env.engine.RecordSell(env.ctx, sellReq)
	require.NoError(t, err)
	require.Len(t, sell.Draws, 2)
	assert.Equal(t, older.BatchID, sell.Draws[0].BatchID)
	assert.True(t, sell.Draws[0].WeightGrams.Equal(dec("10")))
	assert.Equal(t, newer.BatchID, sell.Draws[1].BatchID)
	assert.True(t, sell.Draws[1].WeightGrams.Equal(dec("5")))

	// WHEN: More is sold than remains
	// THEN: InvalidState and nothing is recorded
	_, err = env.engine.RecordSell(env.ctx, sellReq)
	assert.True(t, errors.Is(err, ledger.ErrInvalidState))
	assert.Equal(t, int64(3), env.reloadCounterparty(t, cp.ID).TotalTransactions)

	b, err := env.engine.GetBatch(env.ctx, newer.BatchID)
	require.NoError(t, err)
	assert.True(t, b.WeightGrams.Equal(dec("5")))
	env.requireAuditOK(t)
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestRecordBuy_FailureRollsBackEverything(t *testing.T) {
	// GIVEN: A store whose transaction insert fails
	// WHEN: A buy against an advance is recorded
	// THEN: The advance, counterparty and inventory are exactly as before
	env, fs := newFaultyEnv(1)
	cp := env.counterparty(t, "Kojo")
	adv := env.advance(t, cp.ID, "1000")
	cpBefore := env.reloadCounterparty(t, cp.ID)

	fs.failInsertTx = true
	_, err := env.engine.RecordBuy(env.ctx, buy24K(cp.ID, "10", adv.ID))
	require.Error(t, err)
	assert.Equal(t, ledger.KindInternal, ledger.KindOf(err))

	got := env.reloadAdvance(t, adv.ID)
	assert.True(t, got.RemainingBalance.Equal(dec("1000")))
	assert.Empty(t, got.SettlementHistory)
	assert.Equal(t, ledger.AdvancePending, got.Status)

	cpAfter := env.reloadCounterparty(t, cp.ID)
	assert.Equal(t, cpBefore.Version, cpAfter.Version)
	assert.Equal(t, cpBefore.TotalTransactions, cpAfter.TotalTransactions)
	assert.True(t, cpAfter.OutstandingBalance.Equal(dec("1000")))
	assert.True(t, cpAfter.TotalAmountTraded.IsZero())

	batches, err := env.engine.ListBatches(env.ctx, ledger.BatchFilter{})
	require.NoError(t, err)
	assert.Empty(t, batches)
	env.requireAuditOK(t)
}

// =============================================================================
// LISTING
// =============================================================================

func TestListTransactions_NewestFirstWithFilters(t *testing.T) {
	env := newEnv(t)
	a := env.counterparty(t, "A")
	b := env.counterparty(t, "B")

	_, err := env.engine.RecordBuy(env.ctx, buy24K(a.ID, "1", ""))
	require.NoError(t, err)
	_, err = env.engine.RecordSell(env.ctx, buy24K(b.ID, "1", ""))
	require.NoError(t, err)
	last, err := env.engine.RecordBuy(env.ctx, buy24K(a.ID, "2", ""))
	require.NoError(t, err)

	all, err := env.engine.ListTransactions(env.ctx, ledger.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, last.ID, all[0].ID)

	forA, err := env.engine.ListTransactions(env.ctx, ledger.TransactionFilter{CounterpartyID: a.ID})
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	sells, err := env.engine.ListTransactions(env.ctx, ledger.TransactionFilter{Type: ledger.TxSell})
	require.NoError(t, err)
	assert.Len(t, sells, 1)

	limited, err := env.engine.ListTransactions(env.ctx, ledger.TransactionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = env.engine.GetTransaction(env.ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))
}
