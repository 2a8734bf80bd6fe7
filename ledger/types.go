/*
Package ledger provides the gold-trading ledger engine.

PURPOSE:
  This package holds the rules that keep counterparty balances, cash advances,
  buy/sell transactions and physical inventory batches consistent with each
  other. It knows nothing about HTTP or a specific database: persistence goes
  through the Store interface (store.go) and every multi-entity mutation runs
  inside TxStore.WithTx so it is all-or-nothing.

KEY CONCEPTS IN THIS FILE (types.go):
  - Counterparty: a supplier/buyer with derived running totals
  - Advance: cash paid ahead of a gold delivery, settled by later buys
  - Transaction: one immutable buy or sell ledger entry
  - Batch: location-tracked physical stock with a weighted average cost
  - PriceObservation: one spot-price sample in an append-only series

PRECISION:
  Money, weights, prices and purities are decimal.Decimal. Nothing is rounded
  inside the engine; presentation layers round to 2 dp.

SEE ALSO:
  - pricing.go: spot / discount / purity valuation
  - engine.go: the transactional façade used by api/ and cmd/
  - errors.go: error kinds
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// GramsPerTroyOunce converts spot prices quoted per troy ounce to per gram.
var GramsPerTroyOunce = decimal.RequireFromString("31.1035")

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CounterpartyID string
type AdvanceID string
type TransactionID string
type BatchID string
type PriceID string

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// =============================================================================
// ENUMERATIONS
// =============================================================================

type CounterpartyType string

const (
	CounterpartyMiner    CounterpartyType = "miner"
	CounterpartyTrader   CounterpartyType = "trader"
	CounterpartyRefinery CounterpartyType = "refinery"
	CounterpartyBuyer    CounterpartyType = "buyer"
	CounterpartyOther    CounterpartyType = "other"
)

func (t CounterpartyType) Valid() bool {
	switch t {
	case CounterpartyMiner, CounterpartyTrader, CounterpartyRefinery, CounterpartyBuyer, CounterpartyOther:
		return true
	}
	return false
}

type TrustLevel string

const (
	TrustNew     TrustLevel = "new"
	TrustRegular TrustLevel = "regular"
	TrustVIP     TrustLevel = "vip"
)

func (l TrustLevel) Valid() bool {
	switch l {
	case TrustNew, TrustRegular, TrustVIP:
		return true
	}
	return false
}

type AdvanceStatus string

const (
	AdvancePending AdvanceStatus = "pending"
	AdvancePartial AdvanceStatus = "partial"
	AdvanceSettled AdvanceStatus = "settled"
)

type TransactionType string

const (
	TxBuy  TransactionType = "buy"
	TxSell TransactionType = "sell"
)

func (t TransactionType) Valid() bool { return t == TxBuy || t == TxSell }

type PaymentMethod string

const (
	PayCash             PaymentMethod = "cash"
	PayMomo             PaymentMethod = "momo"
	PayBankTransfer     PaymentMethod = "bank_transfer"
	PayAdvanceDeduction PaymentMethod = "advance_deduction"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PayCash, PayMomo, PayBankTransfer, PayAdvanceDeduction:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPartial   PaymentStatus = "partial"
	PaymentCompleted PaymentStatus = "completed"
)

// Location is the physical custody state of gold.
type Location string

const (
	LocationInSafe     Location = "in_safe"
	LocationAtRefinery Location = "at_refinery"
	LocationInTransit  Location = "in_transit"
	LocationExported   Location = "exported"
)

// Locations lists every custody state in display order.
var Locations = []Location{LocationInSafe, LocationAtRefinery, LocationInTransit, LocationExported}

func (l Location) Valid() bool {
	for _, v := range Locations {
		if l == v {
			return true
		}
	}
	return false
}

type Commodity string

const (
	CommodityGold Commodity = "gold"
	CommodityOil  Commodity = "oil"
	CommodityGas  Commodity = "gas"
)

func (c Commodity) Valid() bool {
	return c == CommodityGold || c == CommodityOil || c == CommodityGas
}

type PriceSource string

const (
	SourceManual    PriceSource = "manual"
	SourceMetalsAPI PriceSource = "metals_api"
	SourceGoldAPI   PriceSource = "goldapi"
	SourceKitco     PriceSource = "kitco"
	SourceImport    PriceSource = "import"
)

func (s PriceSource) Valid() bool {
	switch s {
	case SourceManual, SourceMetalsAPI, SourceGoldAPI, SourceKitco, SourceImport:
		return true
	}
	return false
}

// =============================================================================
// COUNTERPARTY
// =============================================================================

type BankDetails struct {
	BankName      string
	AccountName   string
	AccountNumber string
	Branch        string
}

type MobileMoney struct {
	Provider string
	Number   string
	Name     string
}

// Identity is the user-editable contact part of a counterparty.
type Identity struct {
	Name     string
	Phone    string
	Email    string
	Location string
	Notes    string

	BankDetails *BankDetails
	MobileMoney *MobileMoney
}

// Classification is the user-editable category part of a counterparty.
type Classification struct {
	Type       CounterpartyType
	TrustLevel TrustLevel
}

// Counterparty is a supplier or buyer. The totals and OutstandingBalance are
// derived: only CounterpartyLedger methods may change them.
type Counterparty struct {
	ID CounterpartyID
	Identity
	Classification
	IsActive bool

	TotalTransactions   int64
	TotalWeightGrams    decimal.Decimal
	TotalAmountTraded   decimal.Decimal
	OutstandingBalance  decimal.Decimal // >0: counterparty owes goods; <0: business owes counterparty
	LastTransactionDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// BalanceSummary is the read-only view returned by CounterpartyLedger.BalanceSummary.
type BalanceSummary struct {
	CounterpartyID      CounterpartyID
	Name                string
	TotalTransactions   int64
	TotalWeightGrams    decimal.Decimal
	TotalAmountTraded   decimal.Decimal
	OutstandingBalance  decimal.Decimal
	LastTransactionDate *time.Time
}

// =============================================================================
// ADVANCE
// =============================================================================

// Settlement is one application of delivered gold against an advance.
// Amount is what was actually applied; GoldValue is what was offered.
type Settlement struct {
	TransactionID TransactionID
	Amount        decimal.Decimal
	GoldValue     decimal.Decimal
	WeightGrams   decimal.Decimal
	Date          time.Time
	Notes         string
}

// Excess is the offered value that did not fit into the remaining balance.
func (s Settlement) Excess() decimal.Decimal { return s.GoldValue.Sub(s.Amount) }

type Advance struct {
	ID               AdvanceID
	CounterpartyID   CounterpartyID
	CounterpartyName string
	Amount           decimal.Decimal
	Currency         string
	Purpose          string
	PaymentMethod    PaymentMethod
	RemainingBalance decimal.Decimal
	Status           AdvanceStatus

	SettlementHistory []Settlement

	GivenDate              time.Time
	ExpectedSettlementDate *time.Time
	SettledDate            *time.Time
	CreatedBy              string
	Version                int64
}

// DeriveAdvanceStatus is the only source of Advance.Status.
func DeriveAdvanceStatus(amount, remaining decimal.Decimal) AdvanceStatus {
	switch {
	case !remaining.IsPositive():
		return AdvanceSettled
	case remaining.LessThan(amount):
		return AdvancePartial
	default:
		return AdvancePending
	}
}

// SettledTotal sums the applied settlement amounts.
func (a *Advance) SettledTotal() decimal.Decimal {
	total := decimal.Zero
	for _, s := range a.SettlementHistory {
		total = total.Add(s.Amount)
	}
	return total
}

// =============================================================================
// TRANSACTION
// =============================================================================

// PhysicalDetails describes the gold handed over in a transaction.
type PhysicalDetails struct {
	GoldType         string
	Purity           string
	PurityPercentage decimal.Decimal
	SpecificGravity  *decimal.Decimal
	WeightGrams      decimal.Decimal
}

// Transaction is an append-only ledger entry. There is no update or delete.
type Transaction struct {
	ID               TransactionID
	Type             TransactionType
	CounterpartyID   CounterpartyID
	CounterpartyName string
	PhysicalDetails

	SpotPricePerOz     decimal.Decimal
	SpotPricePerGram   decimal.Decimal
	DiscountPercentage decimal.Decimal
	BuyingPricePerGram decimal.Decimal
	TotalAmount        decimal.Decimal
	Currency           string

	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	AmountPaid      decimal.Decimal
	AdvanceDeducted decimal.Decimal
	AdvanceID       AdvanceID

	Location      Location
	ReceiptNumber string
	BatchID       BatchID
	Draws         []BatchDraw
	Notes         string
	CreatedBy     string
	CreatedAt     time.Time
}

// BatchDraw records stock taken from a batch by a sell when depletion is on.
type BatchDraw struct {
	BatchID     BatchID
	WeightGrams decimal.Decimal
}

// =============================================================================
// INVENTORY
// =============================================================================

type Movement struct {
	FromLocation Location
	ToLocation   Location
	WeightGrams  decimal.Decimal
	Date         time.Time
	Notes        string
	MovedBy      string
}

type Batch struct {
	ID               BatchID
	GoldType         string
	Purity           string
	PurityPercentage decimal.Decimal
	WeightGrams      decimal.Decimal
	Location         Location
	AvgCostPerGram   decimal.Decimal
	TotalCost        decimal.Decimal

	SourceTransactionID TransactionID
	SupplierID          CounterpartyID
	MovementHistory     []Movement

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// recomputeTotal keeps TotalCost a pure function of weight and average cost.
func (b *Batch) recomputeTotal() {
	b.TotalCost = b.WeightGrams.Mul(b.AvgCostPerGram)
}

// LocationTotals aggregates live batches in one location.
type LocationTotals struct {
	TotalWeight decimal.Decimal
	TotalCost   decimal.Decimal
	BatchCount  int
}

// VaultSummary is the result of Inventory.SummaryByLocation.
type VaultSummary struct {
	ByLocation map[Location]LocationTotals
	Total      LocationTotals
}

// =============================================================================
// PRICES
// =============================================================================

type PriceObservation struct {
	ID           PriceID
	Commodity    Commodity
	PricePerOz   decimal.Decimal
	PricePerGram decimal.Decimal
	Currency     string
	Source       PriceSource
	Timestamp    time.Time
	Sequence     int64 // assigned by the store, breaks timestamp ties
}
