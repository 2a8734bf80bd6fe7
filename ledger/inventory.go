/*
inventory.go - Physical stock batches and their custody locations

PURPOSE:
  A Batch is a discrete quantity of gold with its own weighted average cost
  and location. Purchases create or augment batches; moves between locations
  append to an append-only movement history.

INVARIANTS:
  - TotalCost == WeightGrams × AvgCostPerGram after every save
  - WeightGrams >= 0
  - Moving a batch to the location it is already in is rejected
*/
package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// batchIDAttempts bounds regeneration of colliding batch ids.
const batchIDAttempts = 5

type Inventory struct {
	store Store
	now   Clock
}

func NewInventory(store Store, clock Clock) *Inventory {
	if clock == nil {
		clock = SystemClock
	}
	return &Inventory{store: store, now: clock}
}

type CreateBatchRequest struct {
	ID                  BatchID // generated when empty
	GoldType            string
	Purity              string
	PurityPercentage    decimal.Decimal
	WeightGrams         decimal.Decimal
	AvgCostPerGram      decimal.Decimal
	Location            Location
	SourceTransactionID TransactionID
	SupplierID          CounterpartyID
}

func (inv *Inventory) CreateBatch(ctx context.Context, req CreateBatchRequest) (*Batch, error) {
	const op = "inventory.create_batch"

	if !req.WeightGrams.IsPositive() {
		return nil, validationError(op, "weight_grams", "must be positive")
	}
	if req.AvgCostPerGram.IsNegative() {
		return nil, validationError(op, "avg_cost_per_gram", "must not be negative")
	}
	if err := validatePurity(op, req.PurityPercentage); err != nil {
		return nil, err
	}
	if req.Location == "" {
		req.Location = LocationInSafe
	}
	if !req.Location.Valid() {
		return nil, validationError(op, "location", "unknown location %q", req.Location)
	}

	now := inv.now()
	b := Batch{
		ID:                  req.ID,
		GoldType:            strings.TrimSpace(req.GoldType),
		Purity:              req.Purity,
		PurityPercentage:    req.PurityPercentage,
		WeightGrams:         req.WeightGrams,
		Location:            req.Location,
		AvgCostPerGram:      req.AvgCostPerGram,
		SourceTransactionID: req.SourceTransactionID,
		SupplierID:          req.SupplierID,
		CreatedAt:           now,
		UpdatedAt:           now,
		Version:             1,
	}
	b.recomputeTotal()

	generated := b.ID == ""
	for attempt := 0; ; attempt++ {
		if generated {
			b.ID = NewBatchID(now)
		}
		err := inv.store.InsertBatch(ctx, b)
		if err == nil {
			return &b, nil
		}
		if !generated || !errors.Is(err, ErrDuplicateKey) || attempt+1 >= batchIDAttempts {
			return nil, wrapStoreError(op, err)
		}
	}
}

// Augment adds weight to an existing batch, blending its average cost.
func (inv *Inventory) Augment(ctx context.Context, id BatchID, weightGrams, costPerGram decimal.Decimal) (*Batch, error) {
	const op = "inventory.augment"

	if !weightGrams.IsPositive() {
		return nil, validationError(op, "weight_grams", "must be positive")
	}
	return inv.mutate(ctx, op, id, func(b *Batch) error {
		b.AvgCostPerGram = weightedAverage(b.WeightGrams, b.AvgCostPerGram, weightGrams, costPerGram)
		b.WeightGrams = b.WeightGrams.Add(weightGrams)
		return nil
	})
}

// Move relocates a whole batch and records the movement.
func (inv *Inventory) Move(ctx context.Context, id BatchID, to Location, movedBy, notes string) (*Batch, error) {
	const op = "inventory.move"

	if !to.Valid() {
		return nil, validationError(op, "to_location", "unknown location %q", to)
	}
	return inv.mutate(ctx, op, id, func(b *Batch) error {
		if b.Location == to {
			return invalidStateError(op, "batch %s is already %s", b.ID, to)
		}
		b.MovementHistory = append(b.MovementHistory, Movement{
			FromLocation: b.Location,
			ToLocation:   to,
			WeightGrams:  b.WeightGrams,
			Date:         inv.now(),
			Notes:        notes,
			MovedBy:      movedBy,
		})
		b.Location = to
		return nil
	})
}

// Deplete removes weight FIFO from in-stock batches matching goldType,
// purity and location. It fails with InvalidState, touching nothing, when
// the matching stock is short.
func (inv *Inventory) Deplete(ctx context.Context, goldType string, purity decimal.Decimal, at Location, weightGrams decimal.Decimal) ([]BatchDraw, error) {
	const op = "inventory.deplete"

	if !weightGrams.IsPositive() {
		return nil, validationError(op, "weight_grams", "must be positive")
	}
	candidates, err := inv.matching(ctx, goldType, purity, at)
	if err != nil {
		return nil, wrapStoreError(op, err)
	}

	available := decimal.Zero
	for _, b := range candidates {
		available = available.Add(b.WeightGrams)
	}
	if available.LessThan(weightGrams) {
		return nil, invalidStateError(op, "insufficient %s stock at %s: have %s g, need %s g",
			goldType, at, available.String(), weightGrams.String())
	}

	var draws []BatchDraw
	left := weightGrams
	for i := range candidates {
		if !left.IsPositive() {
			break
		}
		b := candidates[i]
		take := decimal.Min(left, b.WeightGrams)
		b.WeightGrams = b.WeightGrams.Sub(take)
		b.UpdatedAt = inv.now()
		b.recomputeTotal()
		if err := inv.store.UpdateBatch(ctx, b); err != nil {
			return nil, wrapStoreError(op, err)
		}
		draws = append(draws, BatchDraw{BatchID: b.ID, WeightGrams: take})
		left = left.Sub(take)
	}
	return draws, nil
}

// FindOpenBatch returns the oldest in-stock batch that a purchase with the
// same gold type, purity and location can be merged into.
func (inv *Inventory) FindOpenBatch(ctx context.Context, goldType string, purity decimal.Decimal, at Location) (*Batch, error) {
	candidates, err := inv.matching(ctx, goldType, purity, at)
	if err != nil {
		return nil, wrapStoreError("inventory.find_open", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return &candidates[0], nil
}

func (inv *Inventory) matching(ctx context.Context, goldType string, purity decimal.Decimal, at Location) ([]Batch, error) {
	batches, err := inv.store.ListBatches(ctx, BatchFilter{Location: at, GoldType: strings.TrimSpace(goldType), InStockOnly: true})
	if err != nil {
		return nil, err
	}
	out := batches[:0]
	for _, b := range batches {
		if b.PurityPercentage.Equal(purity) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (inv *Inventory) Get(ctx context.Context, id BatchID) (*Batch, error) {
	return inv.load(ctx, "inventory.get", id)
}

func (inv *Inventory) List(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	bs, err := inv.store.ListBatches(ctx, filter)
	return bs, wrapStoreError("inventory.list", err)
}

// SummaryByLocation aggregates every batch that still holds weight.
func (inv *Inventory) SummaryByLocation(ctx context.Context) (*VaultSummary, error) {
	batches, err := inv.store.ListBatches(ctx, BatchFilter{InStockOnly: true})
	if err != nil {
		return nil, wrapStoreError("inventory.summary", err)
	}

	summary := &VaultSummary{
		ByLocation: make(map[Location]LocationTotals),
		Total:      LocationTotals{TotalWeight: decimal.Zero, TotalCost: decimal.Zero},
	}
	for _, b := range batches {
		if !b.WeightGrams.IsPositive() {
			continue
		}
		t, ok := summary.ByLocation[b.Location]
		if !ok {
			t = LocationTotals{TotalWeight: decimal.Zero, TotalCost: decimal.Zero}
		}
		t.TotalWeight = t.TotalWeight.Add(b.WeightGrams)
		t.TotalCost = t.TotalCost.Add(b.TotalCost)
		t.BatchCount++
		summary.ByLocation[b.Location] = t

		summary.Total.TotalWeight = summary.Total.TotalWeight.Add(b.WeightGrams)
		summary.Total.TotalCost = summary.Total.TotalCost.Add(b.TotalCost)
		summary.Total.BatchCount++
	}
	return summary, nil
}

func (inv *Inventory) load(ctx context.Context, op string, id BatchID) (*Batch, error) {
	b, err := inv.store.GetBatch(ctx, id)
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	if b == nil {
		return nil, notFoundError(op, "batch", id)
	}
	return b, nil
}

func (inv *Inventory) mutate(ctx context.Context, op string, id BatchID, apply func(*Batch) error) (*Batch, error) {
	b, err := inv.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := apply(b); err != nil {
		return nil, err
	}
	b.UpdatedAt = inv.now()
	b.recomputeTotal()
	if err := inv.store.UpdateBatch(ctx, *b); err != nil {
		return nil, wrapStoreError(op, err)
	}
	b.Version++
	return b, nil
}

func validatePurity(op string, p decimal.Decimal) error {
	if !p.IsPositive() || p.GreaterThan(decimal.NewFromInt(1)) {
		return validationError(op, "purity_percentage", "must be in (0, 1], got %s", p.String())
	}
	return nil
}
