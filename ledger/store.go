/*
store.go - Persistence interface for the ledger engine

PURPOSE:
  Defines the boundary between ledger rules and the database. A Store offers
  per-entity create/read/update by id plus the handful of queries the engine
  needs (outstanding advances, transactions by counterparty, batches by
  location, price lookups).

CONTRACTS:
  - Get* returns (nil, nil) when the entity does not exist.
  - Update* on versioned entities is a compare-and-swap: the argument's
    Version must match the stored one, the stored row becomes Version+1.
    A mismatch returns ErrConcurrencyConflict.
  - Insert* of a duplicate unique key returns ErrDuplicateKey.
  - Transactions are insert-only. There is no UpdateTransaction.
  - InsertPrice assigns a monotonically increasing Sequence.

ATOMICITY:
  TxStore.WithTx runs fn against a transactional view. If fn returns an
  error nothing it wrote is visible afterwards.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, snapshot rollback
  - store/sqlite/sqlite.go: SQLite
  - store/mongo/mongo.go: MongoDB multi-document transactions
*/
package ledger

import (
	"context"
	"time"
)

type CounterpartyFilter struct {
	Type       CounterpartyType
	ActiveOnly bool
	NameLike   string
}

type AdvanceFilter struct {
	CounterpartyID  CounterpartyID
	OutstandingOnly bool
}

type TransactionFilter struct {
	CounterpartyID CounterpartyID
	Type           TransactionType
	From           *time.Time
	To             *time.Time
	Limit          int
}

type BatchFilter struct {
	Location    Location
	GoldType    string
	InStockOnly bool
}

// Store handles persistence of every ledger entity.
type Store interface {
	InsertCounterparty(ctx context.Context, c Counterparty) error
	GetCounterparty(ctx context.Context, id CounterpartyID) (*Counterparty, error)
	UpdateCounterparty(ctx context.Context, c Counterparty) error
	ListCounterparties(ctx context.Context, filter CounterpartyFilter) ([]Counterparty, error)

	InsertAdvance(ctx context.Context, a Advance) error
	GetAdvance(ctx context.Context, id AdvanceID) (*Advance, error)
	UpdateAdvance(ctx context.Context, a Advance) error
	// ListAdvances orders by GivenDate ascending.
	ListAdvances(ctx context.Context, filter AdvanceFilter) ([]Advance, error)

	InsertTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	GetTransactionByReceipt(ctx context.Context, receipt string) (*Transaction, error)
	// ListTransactions orders by CreatedAt descending.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	InsertBatch(ctx context.Context, b Batch) error
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)
	UpdateBatch(ctx context.Context, b Batch) error
	// ListBatches orders by CreatedAt ascending (FIFO).
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)

	InsertPrice(ctx context.Context, p PriceObservation) (PriceObservation, error)
	// LatestPrice returns the newest observation with Timestamp <= at, or
	// the newest overall when at is nil.
	LatestPrice(ctx context.Context, commodity Commodity, at *time.Time) (*PriceObservation, error)
	// ListPrices orders by Timestamp, Sequence ascending.
	ListPrices(ctx context.Context, commodity Commodity, from, to time.Time) ([]PriceObservation, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
