/*
audit.go - Invariant auditor

PURPOSE:
  Re-derives every stored balance from its sources and reports drift:

    advance_sum        RemainingBalance + Σ settlements == Amount
    advance_negative   RemainingBalance >= 0
    advance_status     Status == DeriveAdvanceStatus(Amount, RemainingBalance)
    batch_total        TotalCost == WeightGrams × AvgCostPerGram
    batch_negative     WeightGrams >= 0
    counterparty_count TotalTransactions == number of recorded transactions
    counterparty_trade TotalWeightGrams / TotalAmountTraded == Σ transactions
    counterparty_balance OutstandingBalance == Σ open advance balances

  The auditor only reads. api/scheduler.go runs it periodically and the
  `audit` CLI command runs it once.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type AuditIssue struct {
	Check    string
	EntityID string
	Message  string
}

type AuditReport struct {
	CheckedAt      time.Time
	Counterparties int
	Advances       int
	Batches        int
	Transactions   int
	Issues         []AuditIssue
}

func (r *AuditReport) OK() bool { return len(r.Issues) == 0 }

func (r *AuditReport) add(check, id, format string, args ...any) {
	r.Issues = append(r.Issues, AuditIssue{Check: check, EntityID: id, Message: fmt.Sprintf(format, args...)})
}

// Audit checks the stored ledger against its invariants.
func (e *Engine) Audit(ctx context.Context) (*AuditReport, error) {
	const op = "audit"
	report := &AuditReport{CheckedAt: e.opts.Clock()}

	advances, err := e.store.ListAdvances(ctx, AdvanceFilter{})
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	open := make(map[CounterpartyID]decimal.Decimal)
	for _, a := range advances {
		report.Advances++
		id := string(a.ID)
		if sum := a.RemainingBalance.Add(a.SettledTotal()); !sum.Equal(a.Amount) {
			report.add("advance_sum", id, "remaining %s + settled %s != amount %s",
				a.RemainingBalance, a.SettledTotal(), a.Amount)
		}
		if a.RemainingBalance.IsNegative() {
			report.add("advance_negative", id, "remaining balance %s is negative", a.RemainingBalance)
		}
		if want := DeriveAdvanceStatus(a.Amount, a.RemainingBalance); a.Status != want {
			report.add("advance_status", id, "status %s, derived %s", a.Status, want)
		}
		open[a.CounterpartyID] = open[a.CounterpartyID].Add(decimal.Max(a.RemainingBalance, decimal.Zero))
	}

	batches, err := e.store.ListBatches(ctx, BatchFilter{})
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	for _, b := range batches {
		report.Batches++
		if want := b.WeightGrams.Mul(b.AvgCostPerGram); !b.TotalCost.Equal(want) {
			report.add("batch_total", string(b.ID), "total cost %s, derived %s", b.TotalCost, want)
		}
		if b.WeightGrams.IsNegative() {
			report.add("batch_negative", string(b.ID), "weight %s is negative", b.WeightGrams)
		}
	}

	txs, err := e.store.ListTransactions(ctx, TransactionFilter{})
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	type trade struct {
		count  int64
		weight decimal.Decimal
		amount decimal.Decimal
	}
	trades := make(map[CounterpartyID]*trade)
	for _, tx := range txs {
		report.Transactions++
		t, ok := trades[tx.CounterpartyID]
		if !ok {
			t = &trade{}
			trades[tx.CounterpartyID] = t
		}
		t.count++
		t.weight = t.weight.Add(tx.WeightGrams)
		t.amount = t.amount.Add(tx.TotalAmount)
	}

	cps, err := e.store.ListCounterparties(ctx, CounterpartyFilter{})
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	for _, c := range cps {
		report.Counterparties++
		id := string(c.ID)
		t := trades[c.ID]
		if t == nil {
			t = &trade{}
		}
		if c.TotalTransactions != t.count {
			report.add("counterparty_count", id, "total transactions %d, recorded %d", c.TotalTransactions, t.count)
		}
		if !c.TotalWeightGrams.Equal(t.weight) || !c.TotalAmountTraded.Equal(t.amount) {
			report.add("counterparty_trade", id, "totals %s g / %s, recorded %s g / %s",
				c.TotalWeightGrams, c.TotalAmountTraded, t.weight, t.amount)
		}
		if !c.OutstandingBalance.Equal(open[c.ID]) {
			report.add("counterparty_balance", id, "outstanding %s, open advances %s", c.OutstandingBalance, open[c.ID])
		}
	}

	return report, nil
}
