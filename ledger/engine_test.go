package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldtrader/gold-ledger/ledger"
)

func shortRetryDelay(t *testing.T) {
	t.Helper()
	old := ledger.RetryBaseDelay
	ledger.RetryBaseDelay = time.Microsecond
	t.Cleanup(func() { ledger.RetryBaseDelay = old })
}

func TestEngine_RetriesLostRaces(t *testing.T) {
	// GIVEN: A store that loses the first two counterparty writes
	// WHEN: A buy is recorded with three attempts allowed
	// THEN: The third attempt commits exactly one transaction
	shortRetryDelay(t)
	env, fs := newFaultyEnv(3)
	cp := env.counterparty(t, "Kojo")

	fs.conflicts = 2
	tx, err := env.engine.RecordBuy(env.ctx, buy24K(cp.ID, "10", ""))
	require.NoError(t, err)

	txs, err := env.engine.ListTransactions(env.ctx, ledger.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, tx.ID, txs[0].ID)
	assert.Equal(t, int64(1), env.reloadCounterparty(t, cp.ID).TotalTransactions)
	env.requireAuditOK(t)
}

func TestEngine_ConflictSurfacesWhenAttemptsRunOut(t *testing.T) {
	shortRetryDelay(t)
	env, fs := newFaultyEnv(2)
	cp := env.counterparty(t, "Kojo")
	adv := env.advance(t, cp.ID, "500")

	fs.conflicts = 5
	_, err := env.engine.SettleAdvance(env.ctx, ledger.SettleRequest{AdvanceID: adv.ID, GoldValue: dec("100")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrConcurrencyConflict))
	assert.Equal(t, ledger.KindConcurrencyConflict, ledger.KindOf(err))
	assert.Equal(t, 3, fs.conflicts, "one conflict per attempt")

	got := env.reloadAdvance(t, adv.ID)
	assert.True(t, got.RemainingBalance.Equal(dec("500")), "advance write rolled back with the counterparty write")
	assert.Empty(t, got.SettlementHistory)
}

func TestEngine_Dashboard(t *testing.T) {
	env := newEnv(t)

	empty, err := env.engine.Dashboard(env.ctx)
	require.NoError(t, err)
	assert.Nil(t, empty.LatestGoldPrice)
	assert.Zero(t, empty.Bought.Count)
	assert.True(t, empty.Vault.Total.TotalWeight.IsZero())

	miner := env.counterparty(t, "Miner")
	buyer := env.counterparty(t, "Buyer")
	_, err = env.engine.DeactivateCounterparty(env.ctx, buyer.ID)
	require.NoError(t, err)
	adv := env.advance(t, miner.ID, "1000")
	env.advance(t, miner.ID, "200")

	bought, err := env.engine.RecordBuy(env.ctx, buy24K(miner.ID, "10", adv.ID))
	require.NoError(t, err)
	sold, err := env.engine.RecordSell(env.ctx, buy24K(buyer.ID, "4", ""))
	require.NoError(t, err)
	recordGold(t, env, "2350", t0)

	dash, err := env.engine.Dashboard(env.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, dash.Bought.Count)
	assert.True(t, dash.Bought.Amount.Equal(bought.TotalAmount))
	assert.Equal(t, 1, dash.Sold.Count)
	assert.True(t, dash.Sold.WeightGrams.Equal(dec("4")))
	assert.True(t, dash.Sold.Amount.Equal(sold.TotalAmount))
	assert.Equal(t, 1, dash.ActiveCounterparties)
	assert.Equal(t, 2, dash.OpenAdvances)
	assert.True(t, dash.OutstandingAdvances.Equal(dec("1200").Sub(bought.AdvanceDeducted)))
	assert.True(t, dash.Vault.Total.TotalWeight.Equal(dec("10")), "sales do not deplete by default")
	require.NotNil(t, dash.LatestGoldPrice)
	assert.True(t, dash.LatestGoldPrice.PricePerOz.Equal(dec("2350")))
}
