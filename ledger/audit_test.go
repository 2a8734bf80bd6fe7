package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldtrader/gold-ledger/ledger"
)

func issueChecks(r *ledger.AuditReport) []string {
	var checks []string
	for _, i := range r.Issues {
		checks = append(checks, i.Check)
	}
	return checks
}

func TestAudit_CleanLedger(t *testing.T) {
	env := newEnv(t)
	cp := env.counterparty(t, "Kojo")
	adv := env.advance(t, cp.ID, "1000")
	_, err := env.engine.RecordBuy(env.ctx, buy24K(cp.ID, "10", adv.ID))
	require.NoError(t, err)

	report, err := env.engine.Audit(env.ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Counterparties)
	assert.Equal(t, 1, report.Advances)
	assert.Equal(t, 1, report.Transactions)
	assert.Equal(t, 1, report.Batches)
	assert.False(t, report.CheckedAt.IsZero())
}

func TestAudit_DetectsDrift(t *testing.T) {
	// GIVEN: A consistent ledger
	// WHEN: Stored balances are tampered with behind the engine
	// THEN: Every tampered invariant is reported against its entity
	env := newEnv(t)
	cp := env.counterparty(t, "Kojo")
	adv := env.advance(t, cp.ID, "1000")
	tx, err := env.engine.RecordBuy(env.ctx, buy24K(cp.ID, "10", adv.ID))
	require.NoError(t, err)

	a := env.reloadAdvance(t, adv.ID)
	a.RemainingBalance = a.RemainingBalance.Add(dec("1"))
	a.Status = ledger.AdvanceSettled
	require.NoError(t, env.store.UpdateAdvance(env.ctx, *a))

	b, err := env.store.GetBatch(env.ctx, tx.BatchID)
	require.NoError(t, err)
	b.TotalCost = b.TotalCost.Add(dec("0.01"))
	require.NoError(t, env.store.UpdateBatch(env.ctx, *b))

	c := env.reloadCounterparty(t, cp.ID)
	c.TotalTransactions = 7
	require.NoError(t, env.store.UpdateCounterparty(env.ctx, *c))

	report, err := env.engine.Audit(env.ctx)
	require.NoError(t, err)
	assert.False(t, report.OK())

	checks := issueChecks(report)
	assert.Contains(t, checks, "advance_sum")
	assert.Contains(t, checks, "advance_status")
	assert.Contains(t, checks, "batch_total")
	assert.Contains(t, checks, "counterparty_count")
	assert.Contains(t, checks, "counterparty_balance")
	assert.NotContains(t, checks, "counterparty_trade")

	for _, i := range report.Issues {
		switch i.Check {
		case "advance_sum", "advance_status":
			assert.Equal(t, string(adv.ID), i.EntityID)
		case "batch_total":
			assert.Equal(t, string(tx.BatchID), i.EntityID)
		case "counterparty_count", "counterparty_balance":
			assert.Equal(t, string(cp.ID), i.EntityID)
		}
		assert.NotEmpty(t, i.Message)
	}
}
