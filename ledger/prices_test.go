package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldtrader/gold-ledger/ledger"
)

func recordGold(t *testing.T, env *testEnv, perOz string, at time.Time) *ledger.PriceObservation {
	t.Helper()
	p, err := env.engine.RecordPrice(env.ctx, ledger.RecordPriceRequest{
		Commodity:  ledger.CommodityGold,
		PricePerOz: dec(perOz),
		Timestamp:  at,
	})
	require.NoError(t, err)
	return p
}

func TestRecordPrice_Defaults(t *testing.T) {
	env := newEnv(t)

	p := recordGold(t, env, "2350", time.Time{})

	assert.Equal(t, "75.55", p.PricePerGram.StringFixed(2), "derived from the ounce price")
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, ledger.SourceManual, p.Source)
	assert.False(t, p.Timestamp.IsZero())
	assert.Positive(t, p.Sequence)
}

func TestRecordPrice_Validation(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name string
		req  ledger.RecordPriceRequest
	}{
		{"unknown commodity", ledger.RecordPriceRequest{Commodity: "silver", PricePerOz: dec("30")}},
		{"zero price", ledger.RecordPriceRequest{Commodity: ledger.CommodityGold, PricePerOz: dec("0")}},
		{"negative per gram", ledger.RecordPriceRequest{Commodity: ledger.CommodityGold, PricePerOz: dec("1"), PricePerGram: dec("-1")}},
		{"unknown source", ledger.RecordPriceRequest{Commodity: ledger.CommodityGold, PricePerOz: dec("1"), Source: "rumour"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.RecordPrice(env.ctx, tt.req)
			assert.True(t, errors.Is(err, ledger.ErrValidation))
		})
	}
}

func TestPriceLookups(t *testing.T) {
	// GIVEN: Three gold observations an hour apart and one oil observation
	// WHEN: Prices are looked up at and between those times
	// THEN: Each lookup sees only observations at or before its instant
	env := newEnv(t)
	h := time.Hour
	recordGold(t, env, "2300", t0)
	recordGold(t, env, "2310", t0.Add(h))
	recordGold(t, env, "2320", t0.Add(2*h))
	_, err := env.engine.RecordPrice(env.ctx, ledger.RecordPriceRequest{Commodity: ledger.CommodityOil, PricePerOz: dec("80"), Timestamp: t0.Add(3 * h)})
	require.NoError(t, err)

	latest, err := env.engine.LatestPrice(env.ctx, ledger.CommodityGold)
	require.NoError(t, err)
	assert.True(t, latest.PricePerOz.Equal(dec("2320")))

	at, err := env.engine.PriceAt(env.ctx, ledger.CommodityGold, t0.Add(90*time.Minute))
	require.NoError(t, err)
	assert.True(t, at.PricePerOz.Equal(dec("2310")))

	exact, err := env.engine.PriceAt(env.ctx, ledger.CommodityGold, t0.Add(h))
	require.NoError(t, err)
	assert.True(t, exact.PricePerOz.Equal(dec("2310")), "inclusive of the instant")

	_, err = env.engine.PriceAt(env.ctx, ledger.CommodityGold, t0.Add(-time.Second))
	assert.True(t, ledger.IsNotFound(err), "nothing before the first observation")

	history, err := env.engine.PriceHistory(env.ctx, ledger.CommodityGold, t0, t0.Add(h))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].PricePerOz.Equal(dec("2300")))
	assert.True(t, history[1].PricePerOz.Equal(dec("2310")))

	_, err = env.engine.LatestPrice(env.ctx, ledger.CommodityGas)
	assert.True(t, ledger.IsNotFound(err))
}

func TestPriceLookups_SameTimestampUsesSequence(t *testing.T) {
	env := newEnv(t)
	first := recordGold(t, env, "2300", t0)
	second := recordGold(t, env, "2301", t0)
	assert.Greater(t, second.Sequence, first.Sequence)

	latest, err := env.engine.LatestPrice(env.ctx, ledger.CommodityGold)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	history, err := env.engine.PriceHistory(env.ctx, ledger.CommodityGold, t0, t0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
}

func TestPriceHistory_Validation(t *testing.T) {
	env := newEnv(t)

	_, err := env.engine.PriceHistory(env.ctx, ledger.CommodityGold, t0, t0.Add(-time.Hour))
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	_, err = env.engine.PriceHistory(env.ctx, "platinum", t0, t0)
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	empty, err := env.engine.PriceHistory(env.ctx, ledger.CommodityGold, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
