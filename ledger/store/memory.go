// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goldtrader/gold-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every entity in maps. Values are deep-copied on the way in
// and out so callers never alias stored slices.
type Memory struct {
	mu sync.RWMutex
	state
}

type state struct {
	counterparties map[ledger.CounterpartyID]ledger.Counterparty
	advances       map[ledger.AdvanceID]ledger.Advance
	transactions   map[ledger.TransactionID]ledger.Transaction
	receipts       map[string]ledger.TransactionID
	batches        map[ledger.BatchID]ledger.Batch
	prices         []ledger.PriceObservation
	priceSeq       int64
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func newState() state {
	return state{
		counterparties: make(map[ledger.CounterpartyID]ledger.Counterparty),
		advances:       make(map[ledger.AdvanceID]ledger.Advance),
		transactions:   make(map[ledger.TransactionID]ledger.Transaction),
		receipts:       make(map[string]ledger.TransactionID),
		batches:        make(map[ledger.BatchID]ledger.Batch),
	}
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

// =============================================================================
// TRANSACTIONS (ledger.TxStore)
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole call, which serializes writers.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.counterparties {
		c.counterparties[k] = v
	}
	for k, v := range s.advances {
		c.advances[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.receipts {
		c.receipts[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	c.prices = append([]ledger.PriceObservation(nil), s.prices...)
	c.priceSeq = s.priceSeq
	return c
}

// txView runs against the locked state without taking the lock again.
type txView struct {
	s *state
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) InsertCounterparty(_ context.Context, c ledger.Counterparty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertCounterparty(c)
}

func (m *Memory) GetCounterparty(_ context.Context, id ledger.CounterpartyID) (*ledger.Counterparty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getCounterparty(id), nil
}

func (m *Memory) UpdateCounterparty(_ context.Context, c ledger.Counterparty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateCounterparty(c)
}

func (m *Memory) ListCounterparties(_ context.Context, f ledger.CounterpartyFilter) ([]ledger.Counterparty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listCounterparties(f), nil
}

func (m *Memory) InsertAdvance(_ context.Context, a ledger.Advance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertAdvance(a)
}

func (m *Memory) GetAdvance(_ context.Context, id ledger.AdvanceID) (*ledger.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getAdvance(id), nil
}

func (m *Memory) UpdateAdvance(_ context.Context, a ledger.Advance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateAdvance(a)
}

func (m *Memory) ListAdvances(_ context.Context, f ledger.AdvanceFilter) ([]ledger.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listAdvances(f), nil
}

func (m *Memory) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertTransaction(tx)
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getTransaction(id), nil
}

func (m *Memory) GetTransactionByReceipt(_ context.Context, receipt string) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getTransactionByReceipt(receipt), nil
}

func (m *Memory) ListTransactions(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listTransactions(f), nil
}

func (m *Memory) InsertBatch(_ context.Context, b ledger.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertBatch(b)
}

func (m *Memory) GetBatch(_ context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getBatch(id), nil
}

func (m *Memory) UpdateBatch(_ context.Context, b ledger.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateBatch(b)
}

func (m *Memory) ListBatches(_ context.Context, f ledger.BatchFilter) ([]ledger.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listBatches(f), nil
}

func (m *Memory) InsertPrice(_ context.Context, p ledger.PriceObservation) (ledger.PriceObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertPrice(p), nil
}

func (m *Memory) LatestPrice(_ context.Context, c ledger.Commodity, at *time.Time) (*ledger.PriceObservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.latestPrice(c, at), nil
}

func (m *Memory) ListPrices(_ context.Context, c ledger.Commodity, from, to time.Time) ([]ledger.PriceObservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listPrices(c, from, to), nil
}

// =============================================================================
// TRANSACTIONAL VIEW (lock already held by WithTx)
// =============================================================================

func (v *txView) InsertCounterparty(_ context.Context, c ledger.Counterparty) error {
	return v.s.insertCounterparty(c)
}
func (v *txView) GetCounterparty(_ context.Context, id ledger.CounterpartyID) (*ledger.Counterparty, error) {
	return v.s.getCounterparty(id), nil
}
func (v *txView) UpdateCounterparty(_ context.Context, c ledger.Counterparty) error {
	return v.s.updateCounterparty(c)
}
func (v *txView) ListCounterparties(_ context.Context, f ledger.CounterpartyFilter) ([]ledger.Counterparty, error) {
	return v.s.listCounterparties(f), nil
}
func (v *txView) InsertAdvance(_ context.Context, a ledger.Advance) error {
	return v.s.insertAdvance(a)
}
func (v *txView) GetAdvance(_ context.Context, id ledger.AdvanceID) (*ledger.Advance, error) {
	return v.s.getAdvance(id), nil
}
func (v *txView) UpdateAdvance(_ context.Context, a ledger.Advance) error {
	return v.s.updateAdvance(a)
}
func (v *txView) ListAdvances(_ context.Context, f ledger.AdvanceFilter) ([]ledger.Advance, error) {
	return v.s.listAdvances(f), nil
}
func (v *txView) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.s.insertTransaction(tx)
}
func (v *txView) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return v.s.getTransaction(id), nil
}
func (v *txView) GetTransactionByReceipt(_ context.Context, receipt string) (*ledger.Transaction, error) {
	return v.s.getTransactionByReceipt(receipt), nil
}
func (v *txView) ListTransactions(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	return v.s.listTransactions(f), nil
}
func (v *txView) InsertBatch(_ context.Context, b ledger.Batch) error {
	return v.s.insertBatch(b)
}
func (v *txView) GetBatch(_ context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	return v.s.getBatch(id), nil
}
func (v *txView) UpdateBatch(_ context.Context, b ledger.Batch) error {
	return v.s.updateBatch(b)
}
func (v *txView) ListBatches(_ context.Context, f ledger.BatchFilter) ([]ledger.Batch, error) {
	return v.s.listBatches(f), nil
}
func (v *txView) InsertPrice(_ context.Context, p ledger.PriceObservation) (ledger.PriceObservation, error) {
	return v.s.insertPrice(p), nil
}
func (v *txView) LatestPrice(_ context.Context, c ledger.Commodity, at *time.Time) (*ledger.PriceObservation, error) {
	return v.s.latestPrice(c, at), nil
}
func (v *txView) ListPrices(_ context.Context, c ledger.Commodity, from, to time.Time) ([]ledger.PriceObservation, error) {
	return v.s.listPrices(c, from, to), nil
}

// =============================================================================
// STATE OPERATIONS (caller holds the lock)
// =============================================================================

func (s *state) insertCounterparty(c ledger.Counterparty) error {
	if _, ok := s.counterparties[c.ID]; ok {
		return ledger.ErrDuplicateKey
	}
	s.counterparties[c.ID] = copyCounterparty(c)
	return nil
}

func (s *state) getCounterparty(id ledger.CounterpartyID) *ledger.Counterparty {
	c, ok := s.counterparties[id]
	if !ok {
		return nil
	}
	c = copyCounterparty(c)
	return &c
}

func (s *state) updateCounterparty(c ledger.Counterparty) error {
	cur, ok := s.counterparties[c.ID]
	if !ok || cur.Version != c.Version {
		return ledger.ErrConcurrencyConflict
	}
	c.Version++
	s.counterparties[c.ID] = copyCounterparty(c)
	return nil
}

func (s *state) listCounterparties(f ledger.CounterpartyFilter) []ledger.Counterparty {
	out := []ledger.Counterparty{}
	needle := strings.ToLower(f.NameLike)
	for _, c := range s.counterparties {
		if f.Type != "" && c.Type != f.Type {
			continue
		}
		if f.ActiveOnly && !c.IsActive {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(c.Name), needle) {
			continue
		}
		out = append(out, copyCounterparty(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) insertAdvance(a ledger.Advance) error {
	if _, ok := s.advances[a.ID]; ok {
		return ledger.ErrDuplicateKey
	}
	s.advances[a.ID] = copyAdvance(a)
	return nil
}

func (s *state) getAdvance(id ledger.AdvanceID) *ledger.Advance {
	a, ok := s.advances[id]
	if !ok {
		return nil
	}
	a = copyAdvance(a)
	return &a
}

func (s *state) updateAdvance(a ledger.Advance) error {
	cur, ok := s.advances[a.ID]
	if !ok || cur.Version != a.Version {
		return ledger.ErrConcurrencyConflict
	}
	a.Version++
	s.advances[a.ID] = copyAdvance(a)
	return nil
}

func (s *state) listAdvances(f ledger.AdvanceFilter) []ledger.Advance {
	out := []ledger.Advance{}
	for _, a := range s.advances {
		if f.CounterpartyID != "" && a.CounterpartyID != f.CounterpartyID {
			continue
		}
		if f.OutstandingOnly && !a.RemainingBalance.IsPositive() {
			continue
		}
		out = append(out, copyAdvance(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GivenDate.Equal(out[j].GivenDate) {
			return out[i].GivenDate.Before(out[j].GivenDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) insertTransaction(tx ledger.Transaction) error {
	if _, ok := s.transactions[tx.ID]; ok {
		return ledger.ErrDuplicateKey
	}
	if _, ok := s.receipts[tx.ReceiptNumber]; ok {
		return ledger.ErrDuplicateKey
	}
	s.transactions[tx.ID] = copyTransaction(tx)
	s.receipts[tx.ReceiptNumber] = tx.ID
	return nil
}

func (s *state) getTransaction(id ledger.TransactionID) *ledger.Transaction {
	tx, ok := s.transactions[id]
	if !ok {
		return nil
	}
	tx = copyTransaction(tx)
	return &tx
}

func (s *state) getTransactionByReceipt(receipt string) *ledger.Transaction {
	id, ok := s.receipts[receipt]
	if !ok {
		return nil
	}
	return s.getTransaction(id)
}

func (s *state) listTransactions(f ledger.TransactionFilter) []ledger.Transaction {
	out := []ledger.Transaction{}
	for _, tx := range s.transactions {
		if f.CounterpartyID != "" && tx.CounterpartyID != f.CounterpartyID {
			continue
		}
		if f.Type != "" && tx.Type != f.Type {
			continue
		}
		if f.From != nil && tx.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && tx.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, copyTransaction(tx))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ReceiptNumber > out[j].ReceiptNumber
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (s *state) insertBatch(b ledger.Batch) error {
	if _, ok := s.batches[b.ID]; ok {
		return ledger.ErrDuplicateKey
	}
	s.batches[b.ID] = copyBatch(b)
	return nil
}

func (s *state) getBatch(id ledger.BatchID) *ledger.Batch {
	b, ok := s.batches[id]
	if !ok {
		return nil
	}
	b = copyBatch(b)
	return &b
}

func (s *state) updateBatch(b ledger.Batch) error {
	cur, ok := s.batches[b.ID]
	if !ok || cur.Version != b.Version {
		return ledger.ErrConcurrencyConflict
	}
	b.Version++
	s.batches[b.ID] = copyBatch(b)
	return nil
}

func (s *state) listBatches(f ledger.BatchFilter) []ledger.Batch {
	out := []ledger.Batch{}
	for _, b := range s.batches {
		if f.Location != "" && b.Location != f.Location {
			continue
		}
		if f.GoldType != "" && b.GoldType != f.GoldType {
			continue
		}
		if f.InStockOnly && !b.WeightGrams.IsPositive() {
			continue
		}
		out = append(out, copyBatch(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) insertPrice(p ledger.PriceObservation) ledger.PriceObservation {
	s.priceSeq++
	p.Sequence = s.priceSeq
	s.prices = append(s.prices, p)
	return p
}

func (s *state) latestPrice(c ledger.Commodity, at *time.Time) *ledger.PriceObservation {
	var best *ledger.PriceObservation
	for i := range s.prices {
		p := s.prices[i]
		if p.Commodity != c {
			continue
		}
		if at != nil && p.Timestamp.After(*at) {
			continue
		}
		if best == nil || p.Timestamp.After(best.Timestamp) ||
			(p.Timestamp.Equal(best.Timestamp) && p.Sequence > best.Sequence) {
			found := p
			best = &found
		}
	}
	return best
}

func (s *state) listPrices(c ledger.Commodity, from, to time.Time) []ledger.PriceObservation {
	out := []ledger.PriceObservation{}
	for _, p := range s.prices {
		if p.Commodity == c && !p.Timestamp.Before(from) && !p.Timestamp.After(to) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func copyCounterparty(c ledger.Counterparty) ledger.Counterparty {
	if c.BankDetails != nil {
		b := *c.BankDetails
		c.BankDetails = &b
	}
	if c.MobileMoney != nil {
		m := *c.MobileMoney
		c.MobileMoney = &m
	}
	if c.LastTransactionDate != nil {
		t := *c.LastTransactionDate
		c.LastTransactionDate = &t
	}
	return c
}

func copyAdvance(a ledger.Advance) ledger.Advance {
	a.SettlementHistory = append([]ledger.Settlement(nil), a.SettlementHistory...)
	if a.ExpectedSettlementDate != nil {
		t := *a.ExpectedSettlementDate
		a.ExpectedSettlementDate = &t
	}
	if a.SettledDate != nil {
		t := *a.SettledDate
		a.SettledDate = &t
	}
	return a
}

func copyTransaction(tx ledger.Transaction) ledger.Transaction {
	tx.Draws = append([]ledger.BatchDraw(nil), tx.Draws...)
	if tx.SpecificGravity != nil {
		g := *tx.SpecificGravity
		tx.SpecificGravity = &g
	}
	return tx
}

func copyBatch(b ledger.Batch) ledger.Batch {
	b.MovementHistory = append([]ledger.Movement(nil), b.MovementHistory...)
	return b
}
