package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceStore is the append-only spot-price series. Ordering is by
// Timestamp, then by the store-assigned Sequence for equal timestamps.
type PriceStore struct {
	store Store
	now   Clock
}

func NewPriceStore(store Store, clock Clock) *PriceStore {
	if clock == nil {
		clock = SystemClock
	}
	return &PriceStore{store: store, now: clock}
}

type RecordPriceRequest struct {
	Commodity    Commodity
	PricePerOz   decimal.Decimal
	PricePerGram decimal.Decimal // derived from PricePerOz when zero
	Currency     string
	Source       PriceSource
	Timestamp    time.Time // now when zero
}

func (ps *PriceStore) Record(ctx context.Context, req RecordPriceRequest) (*PriceObservation, error) {
	const op = "price.record"

	if !req.Commodity.Valid() {
		return nil, validationError(op, "commodity", "unknown commodity %q", req.Commodity)
	}
	if !req.PricePerOz.IsPositive() {
		return nil, validationError(op, "price_per_oz", "must be positive")
	}
	if req.PricePerGram.IsNegative() {
		return nil, validationError(op, "price_per_gram", "must not be negative")
	}
	if req.Source == "" {
		req.Source = SourceManual
	}
	if !req.Source.Valid() {
		return nil, validationError(op, "source", "unknown source %q", req.Source)
	}
	if req.PricePerGram.IsZero() {
		req.PricePerGram = SpotPerGram(req.PricePerOz)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = ps.now()
	}

	p, err := ps.store.InsertPrice(ctx, PriceObservation{
		ID:           PriceID(newID()),
		Commodity:    req.Commodity,
		PricePerOz:   req.PricePerOz,
		PricePerGram: req.PricePerGram,
		Currency:     currency,
		Source:       req.Source,
		Timestamp:    ts,
	})
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	return &p, nil
}

// Latest returns the most recent observation for a commodity.
func (ps *PriceStore) Latest(ctx context.Context, c Commodity) (*PriceObservation, error) {
	return ps.lookup(ctx, "price.latest", c, nil)
}

// At returns the most recent observation with Timestamp <= at.
func (ps *PriceStore) At(ctx context.Context, c Commodity, at time.Time) (*PriceObservation, error) {
	return ps.lookup(ctx, "price.at", c, &at)
}

func (ps *PriceStore) lookup(ctx context.Context, op string, c Commodity, at *time.Time) (*PriceObservation, error) {
	if !c.Valid() {
		return nil, validationError(op, "commodity", "unknown commodity %q", c)
	}
	p, err := ps.store.LatestPrice(ctx, c, at)
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	if p == nil {
		return nil, notFoundError(op, "price observation for", c)
	}
	return p, nil
}

// History returns observations in [from, to].
func (ps *PriceStore) History(ctx context.Context, c Commodity, from, to time.Time) ([]PriceObservation, error) {
	const op = "price.history"
	if !c.Valid() {
		return nil, validationError(op, "commodity", "unknown commodity %q", c)
	}
	if to.Before(from) {
		return nil, validationError(op, "to", "must not be before from")
	}
	ps2, err := ps.store.ListPrices(ctx, c, from, to)
	return ps2, wrapStoreError(op, err)
}
