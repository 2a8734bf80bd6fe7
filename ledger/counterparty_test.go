package ledger_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldtrader/gold-ledger/ledger"
)

func TestRegisterCounterparty_Defaults(t *testing.T) {
	env := newEnv(t)

	cp, err := env.engine.RegisterCounterparty(env.ctx, ledger.Identity{Name: "  Ama Mensah  ", Phone: "+233 20 000"}, ledger.Classification{})
	require.NoError(t, err)

	assert.NotEmpty(t, cp.ID)
	assert.Equal(t, "Ama Mensah", cp.Name)
	assert.Equal(t, ledger.CounterpartyOther, cp.Type)
	assert.Equal(t, ledger.TrustNew, cp.TrustLevel)
	assert.True(t, cp.IsActive)
	assert.Zero(t, cp.TotalTransactions)
	assert.True(t, cp.OutstandingBalance.IsZero())
	assert.Nil(t, cp.LastTransactionDate)
	assert.Equal(t, int64(1), cp.Version)
}

func TestRegisterCounterparty_Validation(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name     string
		identity ledger.Identity
		class    ledger.Classification
		field    string
	}{
		{"blank name", ledger.Identity{Name: "   "}, ledger.Classification{}, "name"},
		{"unknown type", ledger.Identity{Name: "X"}, ledger.Classification{Type: "smuggler"}, "type"},
		{"unknown trust", ledger.Identity{Name: "X"}, ledger.Classification{TrustLevel: "blind"}, "trust_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.RegisterCounterparty(env.ctx, tt.identity, tt.class)
			var le *ledger.Error
			require.True(t, errors.As(err, &le))
			assert.Equal(t, ledger.KindValidation, le.Kind)
			assert.Equal(t, tt.field, le.Field)
		})
	}

	all, err := env.engine.ListCounterparties(env.ctx, ledger.CounterpartyFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpdateCounterparty_KeepsTotals(t *testing.T) {
	// GIVEN: A counterparty with an open advance and a purchase
	// WHEN: Its profile is edited
	// THEN: Identity changes, derived totals do not
	env := newEnv(t)
	cp := env.counterparty(t, "Kojo")
	adv := env.advance(t, cp.ID, "1000")
	_, err := env.engine.RecordBuy(env.ctx, buy24K(cp.ID, "2", adv.ID))
	require.NoError(t, err)
	before := env.reloadCounterparty(t, cp.ID)

	updated, err := env.engine.UpdateCounterparty(env.ctx, cp.ID,
		ledger.Identity{Name: "Kojo Asante", MobileMoney: &ledger.MobileMoney{Provider: "MTN", Number: "024"}},
		ledger.Classification{Type: ledger.CounterpartyTrader, TrustLevel: ledger.TrustRegular})
	require.NoError(t, err)

	assert.Equal(t, "Kojo Asante", updated.Name)
	assert.Equal(t, ledger.CounterpartyTrader, updated.Type)
	require.NotNil(t, updated.MobileMoney)
	assert.Equal(t, "MTN", updated.MobileMoney.Provider)
	assert.Equal(t, before.TotalTransactions, updated.TotalTransactions)
	assert.True(t, before.OutstandingBalance.Equal(updated.OutstandingBalance))
	assert.True(t, before.TotalAmountTraded.Equal(updated.TotalAmountTraded))
	assert.Equal(t, before.Version+1, updated.Version)
	env.requireAuditOK(t)
}

func TestDeactivateCounterparty(t *testing.T) {
	env := newEnv(t)
	active := env.counterparty(t, "Active")
	gone := env.counterparty(t, "Gone")

	got, err := env.engine.DeactivateCounterparty(env.ctx, gone.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// Deactivated counterparties stay readable.
	reloaded := env.reloadCounterparty(t, gone.ID)
	assert.False(t, reloaded.IsActive)

	list, err := env.engine.ListCounterparties(env.ctx, ledger.CounterpartyFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	_, err = env.engine.DeactivateCounterparty(env.ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))
}

func TestListCounterparties_Filters(t *testing.T) {
	env := newEnv(t)
	_, err := env.engine.RegisterCounterparty(env.ctx, ledger.Identity{Name: "Obuasi Refinery"}, ledger.Classification{Type: ledger.CounterpartyRefinery})
	require.NoError(t, err)
	env.counterparty(t, "Bright Miner")
	env.counterparty(t, "Abena Miner")

	miners, err := env.engine.ListCounterparties(env.ctx, ledger.CounterpartyFilter{Type: ledger.CounterpartyMiner})
	require.NoError(t, err)
	require.Len(t, miners, 2)
	assert.Equal(t, "Abena Miner", miners[0].Name, "sorted by name")

	byName, err := env.engine.ListCounterparties(env.ctx, ledger.CounterpartyFilter{NameLike: "refin"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, ledger.CounterpartyRefinery, byName[0].Type)
}

func TestBalanceSummary(t *testing.T) {
	env := newEnv(t)
	cp := env.counterparty(t, "Kojo")
	env.advance(t, cp.ID, "250")

	s, err := env.engine.BalanceSummary(env.ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kojo", s.Name)
	assert.True(t, s.OutstandingBalance.Equal(dec("250")))

	_, err = env.engine.BalanceSummary(env.ctx, "missing")
	assert.Equal(t, ledger.KindNotFound, ledger.KindOf(err))
}

func TestRecordAdvanceSettled_Floor(t *testing.T) {
	// GIVEN: Counterparties stored with a small positive and a negative balance
	// WHEN: A settlement larger than the balance is applied
	// THEN: The positive one floors at zero, the negative one keeps falling
	env := newEnv(t)
	cps := ledger.NewCounterpartyLedger(env.store, newStepClock().Now)

	seed := func(name, balance string) ledger.CounterpartyID {
		c := ledger.Counterparty{
			ID:                 ledger.CounterpartyID(name),
			Identity:           ledger.Identity{Name: name},
			IsActive:           true,
			TotalWeightGrams:   dec("0"),
			TotalAmountTraded:  dec("0"),
			OutstandingBalance: dec(balance),
			Version:            1,
		}
		require.NoError(t, env.store.InsertCounterparty(env.ctx, c))
		return c.ID
	}
	owes := seed("owes", "30")
	owed := seed("owed", "-20")

	got, err := cps.RecordAdvanceSettled(env.ctx, owes, dec("50"))
	require.NoError(t, err)
	assert.True(t, got.OutstandingBalance.IsZero())

	got, err = cps.RecordAdvanceSettled(env.ctx, owed, dec("50"))
	require.NoError(t, err)
	assert.True(t, got.OutstandingBalance.Equal(dec("-70")))

	_, err = cps.RecordAdvanceSettled(env.ctx, owes, dec("-1"))
	assert.True(t, errors.Is(err, ledger.ErrValidation))
	_, err = cps.RecordAdvanceIssued(env.ctx, owes, dec("0"))
	assert.True(t, errors.Is(err, ledger.ErrValidation))
}

func TestCounterpartyLedger_StaleWriteConflicts(t *testing.T) {
	// GIVEN: A counterparty changed behind a reader's back
	// WHEN: The reader writes its stale copy
	// THEN: The store rejects it as a concurrency conflict
	env := newEnv(t)
	cp := env.counterparty(t, "Kojo")
	stale := env.reloadCounterparty(t, cp.ID)

	_, err := env.engine.DeactivateCounterparty(env.ctx, cp.ID)
	require.NoError(t, err)

	err = env.store.UpdateCounterparty(env.ctx, *stale)
	assert.True(t, errors.Is(err, ledger.ErrConcurrencyConflict))
}
