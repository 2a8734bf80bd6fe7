/*
engine.go - Transactional façade over the ledger components

PURPOSE:
  Engine is what api/ and cmd/ talk to. Every mutating call builds the
  components over a transactional view of the store, so the multi-entity
  sequences (transaction → advance → counterparty → batch) commit or roll
  back as one unit. Lost compare-and-swap races are retried from scratch up
  to Options.RetryAttempts times.

USAGE:
  engine := ledger.NewEngine(store, ledger.Options{MergeBatches: true}, log)
  adv, err := engine.IssueAdvance(ctx, ledger.IssueRequest{...})
  tx, err := engine.RecordBuy(ctx, ledger.TradeRequest{AdvanceID: adv.ID, ...})
*/
package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Options struct {
	MergeBatches  bool
	DepleteOnSell bool
	RetryAttempts int
	Clock         Clock
}

type Engine struct {
	store TxStore
	opts  Options
	log   zerolog.Logger
}

func NewEngine(store TxStore, opts Options, log zerolog.Logger) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	return &Engine{store: store, opts: opts, log: log}
}

// components is one consistent set of ledger parts bound to a store view.
type components struct {
	counterparties *CounterpartyLedger
	advances       *AdvanceLedger
	inventory      *Inventory
	recorder       *Recorder
	prices         *PriceStore
}

func (e *Engine) bind(s Store) *components {
	cps := NewCounterpartyLedger(s, e.opts.Clock)
	adv := NewAdvanceLedger(s, cps, e.opts.Clock)
	inv := NewInventory(s, e.opts.Clock)
	return &components{
		counterparties: cps,
		advances:       adv,
		inventory:      inv,
		recorder: NewRecorder(s, cps, adv, inv, RecorderOptions{
			MergeBatches:  e.opts.MergeBatches,
			DepleteOnSell: e.opts.DepleteOnSell,
		}, e.opts.Clock),
		prices: NewPriceStore(s, e.opts.Clock),
	}
}

func (e *Engine) read() *components { return e.bind(e.store) }

// write runs fn atomically, retrying lost races.
func write[T any](ctx context.Context, e *Engine, op string, fn func(*components) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, e.opts.RetryAttempts, func() error {
		err := e.store.WithTx(ctx, func(s Store) error {
			v, err := fn(e.bind(s))
			if err != nil {
				return err
			}
			out = v
			return nil
		})
		if IsRetryable(err) {
			e.log.Warn().Str("op", op).Err(err).Msg("concurrent modification, retrying")
		}
		return err
	})
	return out, err
}

// =============================================================================
// COUNTERPARTIES
// =============================================================================

func (e *Engine) RegisterCounterparty(ctx context.Context, identity Identity, class Classification) (*Counterparty, error) {
	c, err := write(ctx, e, "counterparty.register", func(c *components) (*Counterparty, error) {
		return c.counterparties.Register(ctx, identity, class)
	})
	if err == nil {
		e.log.Info().Str("counterparty_id", string(c.ID)).Str("name", c.Name).Msg("counterparty registered")
	}
	return c, err
}

func (e *Engine) UpdateCounterparty(ctx context.Context, id CounterpartyID, identity Identity, class Classification) (*Counterparty, error) {
	return write(ctx, e, "counterparty.update", func(c *components) (*Counterparty, error) {
		return c.counterparties.UpdateProfile(ctx, id, identity, class)
	})
}

func (e *Engine) DeactivateCounterparty(ctx context.Context, id CounterpartyID) (*Counterparty, error) {
	return write(ctx, e, "counterparty.deactivate", func(c *components) (*Counterparty, error) {
		return c.counterparties.Deactivate(ctx, id)
	})
}

func (e *Engine) GetCounterparty(ctx context.Context, id CounterpartyID) (*Counterparty, error) {
	return e.read().counterparties.Get(ctx, id)
}

func (e *Engine) ListCounterparties(ctx context.Context, filter CounterpartyFilter) ([]Counterparty, error) {
	return e.read().counterparties.List(ctx, filter)
}

func (e *Engine) BalanceSummary(ctx context.Context, id CounterpartyID) (*BalanceSummary, error) {
	return e.read().counterparties.BalanceSummary(ctx, id)
}

// =============================================================================
// ADVANCES
// =============================================================================

func (e *Engine) IssueAdvance(ctx context.Context, req IssueRequest) (*Advance, error) {
	a, err := write(ctx, e, "advance.issue", func(c *components) (*Advance, error) {
		return c.advances.Issue(ctx, req)
	})
	if err == nil {
		e.log.Info().
			Str("advance_id", string(a.ID)).
			Str("counterparty_id", string(a.CounterpartyID)).
			Str("amount", a.Amount.String()).
			Str("currency", a.Currency).
			Msg("advance issued")
	}
	return a, err
}

func (e *Engine) SettleAdvance(ctx context.Context, req SettleRequest) (*Advance, error) {
	a, err := write(ctx, e, "advance.settle", func(c *components) (*Advance, error) {
		return c.advances.SettleWithDelivery(ctx, req)
	})
	if err == nil {
		e.log.Info().
			Str("advance_id", string(a.ID)).
			Str("remaining", a.RemainingBalance.String()).
			Str("status", string(a.Status)).
			Msg("advance settled")
	}
	return a, err
}

func (e *Engine) GetAdvance(ctx context.Context, id AdvanceID) (*Advance, error) {
	return e.read().advances.Get(ctx, id)
}

func (e *Engine) ListAdvances(ctx context.Context, id CounterpartyID) ([]Advance, error) {
	return e.read().advances.List(ctx, id)
}

func (e *Engine) ListOutstandingAdvances(ctx context.Context, id CounterpartyID) ([]Advance, error) {
	return e.read().advances.ListOutstanding(ctx, id)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (e *Engine) RecordBuy(ctx context.Context, req TradeRequest) (*Transaction, error) {
	tx, err := write(ctx, e, "transaction.buy", func(c *components) (*Transaction, error) {
		return c.recorder.RecordBuy(ctx, req)
	})
	if err == nil {
		e.logTrade(tx)
	}
	return tx, err
}

func (e *Engine) RecordSell(ctx context.Context, req TradeRequest) (*Transaction, error) {
	tx, err := write(ctx, e, "transaction.sell", func(c *components) (*Transaction, error) {
		return c.recorder.RecordSell(ctx, req)
	})
	if err == nil {
		e.logTrade(tx)
	}
	return tx, err
}

func (e *Engine) logTrade(tx *Transaction) {
	ev := e.log.Info().
		Str("transaction_id", string(tx.ID)).
		Str("type", string(tx.Type)).
		Str("receipt", tx.ReceiptNumber).
		Str("counterparty_id", string(tx.CounterpartyID)).
		Str("weight_grams", tx.WeightGrams.String()).
		Str("total_amount", tx.TotalAmount.StringFixed(2))
	if tx.AdvanceID != "" {
		ev = ev.Str("advance_id", string(tx.AdvanceID)).Str("advance_deducted", tx.AdvanceDeducted.StringFixed(2))
	}
	ev.Msg("transaction recorded")
}

func (e *Engine) GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	return e.read().recorder.Get(ctx, id)
}

func (e *Engine) GetTransactionByReceipt(ctx context.Context, receipt string) (*Transaction, error) {
	return e.read().recorder.GetByReceipt(ctx, receipt)
}

func (e *Engine) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return e.read().recorder.List(ctx, filter)
}

// =============================================================================
// INVENTORY
// =============================================================================

func (e *Engine) CreateBatch(ctx context.Context, req CreateBatchRequest) (*Batch, error) {
	return write(ctx, e, "inventory.create_batch", func(c *components) (*Batch, error) {
		return c.inventory.CreateBatch(ctx, req)
	})
}

func (e *Engine) MoveBatch(ctx context.Context, id BatchID, to Location, movedBy, notes string) (*Batch, error) {
	b, err := write(ctx, e, "inventory.move", func(c *components) (*Batch, error) {
		return c.inventory.Move(ctx, id, to, movedBy, notes)
	})
	if err == nil {
		last := b.MovementHistory[len(b.MovementHistory)-1]
		e.log.Info().
			Str("batch_id", string(b.ID)).
			Str("from", string(last.FromLocation)).
			Str("to", string(last.ToLocation)).
			Str("moved_by", movedBy).
			Msg("batch moved")
	}
	return b, err
}

func (e *Engine) GetBatch(ctx context.Context, id BatchID) (*Batch, error) {
	return e.read().inventory.Get(ctx, id)
}

func (e *Engine) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	return e.read().inventory.List(ctx, filter)
}

func (e *Engine) VaultSummary(ctx context.Context) (*VaultSummary, error) {
	return e.read().inventory.SummaryByLocation(ctx)
}

// =============================================================================
// PRICES
// =============================================================================

func (e *Engine) RecordPrice(ctx context.Context, req RecordPriceRequest) (*PriceObservation, error) {
	return write(ctx, e, "price.record", func(c *components) (*PriceObservation, error) {
		return c.prices.Record(ctx, req)
	})
}

func (e *Engine) LatestPrice(ctx context.Context, commodity Commodity) (*PriceObservation, error) {
	return e.read().prices.Latest(ctx, commodity)
}

func (e *Engine) PriceAt(ctx context.Context, commodity Commodity, at time.Time) (*PriceObservation, error) {
	return e.read().prices.At(ctx, commodity, at)
}

func (e *Engine) PriceHistory(ctx context.Context, commodity Commodity, from, to time.Time) ([]PriceObservation, error) {
	return e.read().prices.History(ctx, commodity, from, to)
}

// =============================================================================
// DASHBOARD
// =============================================================================

type TradeTotals struct {
	Count       int
	WeightGrams decimal.Decimal
	Amount      decimal.Decimal
}

type Dashboard struct {
	Bought               TradeTotals
	Sold                 TradeTotals
	ActiveCounterparties int
	OpenAdvances         int
	OutstandingAdvances  decimal.Decimal
	Vault                *VaultSummary
	LatestGoldPrice      *PriceObservation // nil when no price was recorded
}

// Dashboard gathers the headline figures of the trading desk.
func (e *Engine) Dashboard(ctx context.Context) (*Dashboard, error) {
	c := e.read()

	txs, err := c.recorder.List(ctx, TransactionFilter{})
	if err != nil {
		return nil, err
	}
	d := &Dashboard{
		Bought:              TradeTotals{WeightGrams: decimal.Zero, Amount: decimal.Zero},
		Sold:                TradeTotals{WeightGrams: decimal.Zero, Amount: decimal.Zero},
		OutstandingAdvances: decimal.Zero,
	}
	for _, tx := range txs {
		t := &d.Bought
		if tx.Type == TxSell {
			t = &d.Sold
		}
		t.Count++
		t.WeightGrams = t.WeightGrams.Add(tx.WeightGrams)
		t.Amount = t.Amount.Add(tx.TotalAmount)
	}

	cps, err := c.counterparties.List(ctx, CounterpartyFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	d.ActiveCounterparties = len(cps)

	open, err := e.store.ListAdvances(ctx, AdvanceFilter{OutstandingOnly: true})
	if err != nil {
		return nil, wrapStoreError("dashboard", err)
	}
	d.OpenAdvances = len(open)
	for _, a := range open {
		d.OutstandingAdvances = d.OutstandingAdvances.Add(a.RemainingBalance)
	}

	if d.Vault, err = c.inventory.SummaryByLocation(ctx); err != nil {
		return nil, err
	}

	p, err := c.prices.Latest(ctx, CommodityGold)
	switch {
	case err == nil:
		d.LatestGoldPrice = p
	case !IsNotFound(err):
		return nil, err
	}
	return d, nil
}
