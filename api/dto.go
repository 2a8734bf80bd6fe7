/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

PRECISION:
  Requests carry decimal.Decimal, which accepts both JSON numbers and
  quoted strings. Responses are rounded for display: money and prices to
  2 dp, weights to 3 dp, purities to 4 dp. The ledger itself never rounds.

VALIDATION:
  Validation is done by the ledger, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goldtrader/gold-ledger/ledger"
)

// =============================================================================
// ROUNDING
// =============================================================================

func money(d decimal.Decimal) float64 { return d.Round(2).InexactFloat64() }

func grams(d decimal.Decimal) float64 { return d.Round(3).InexactFloat64() }

func ratio(d decimal.Decimal) float64 { return d.Round(4).InexactFloat64() }

// =============================================================================
// COUNTERPARTY
// =============================================================================

type BankDetailsDTO struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Branch        string `json:"branch,omitempty"`
}

type MobileMoneyDTO struct {
	Provider string `json:"provider"`
	Number   string `json:"number"`
	Name     string `json:"name"`
}

type CounterpartyDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`

	BankDetails *BankDetailsDTO `json:"bank_details,omitempty"`
	MobileMoney *MobileMoneyDTO `json:"mobile_money,omitempty"`

	Type       string `json:"type"`
	TrustLevel string `json:"trust_level"`
	IsActive   bool   `json:"is_active"`

	TotalTransactions   int64      `json:"total_transactions"`
	TotalWeightGrams    float64    `json:"total_weight_grams"`
	TotalAmountTraded   float64    `json:"total_amount_traded"`
	OutstandingBalance  float64    `json:"outstanding_balance"`
	LastTransactionDate *time.Time `json:"last_transaction_date,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// CounterpartyRequest is the body of both create and update.
type CounterpartyRequest struct {
	Name        string          `json:"name"`
	Phone       string          `json:"phone"`
	Email       string          `json:"email"`
	Location    string          `json:"location"`
	Notes       string          `json:"notes"`
	BankDetails *BankDetailsDTO `json:"bank_details"`
	MobileMoney *MobileMoneyDTO `json:"mobile_money"`
	Type        string          `json:"type"`
	TrustLevel  string          `json:"trust_level"`
}

func (r CounterpartyRequest) identity() ledger.Identity {
	id := ledger.Identity{
		Name:     r.Name,
		Phone:    r.Phone,
		Email:    r.Email,
		Location: r.Location,
		Notes:    r.Notes,
	}
	if r.BankDetails != nil {
		id.BankDetails = &ledger.BankDetails{
			BankName:      r.BankDetails.BankName,
			AccountName:   r.BankDetails.AccountName,
			AccountNumber: r.BankDetails.AccountNumber,
			Branch:        r.BankDetails.Branch,
		}
	}
	if r.MobileMoney != nil {
		id.MobileMoney = &ledger.MobileMoney{
			Provider: r.MobileMoney.Provider,
			Number:   r.MobileMoney.Number,
			Name:     r.MobileMoney.Name,
		}
	}
	return id
}

func (r CounterpartyRequest) classification() ledger.Classification {
	return ledger.Classification{
		Type:       ledger.CounterpartyType(r.Type),
		TrustLevel: ledger.TrustLevel(r.TrustLevel),
	}
}

func toCounterpartyDTO(c *ledger.Counterparty) CounterpartyDTO {
	dto := CounterpartyDTO{
		ID:                  string(c.ID),
		Name:                c.Name,
		Phone:               c.Phone,
		Email:               c.Email,
		Location:            c.Location,
		Notes:               c.Notes,
		Type:                string(c.Type),
		TrustLevel:          string(c.TrustLevel),
		IsActive:            c.IsActive,
		TotalTransactions:   c.TotalTransactions,
		TotalWeightGrams:    grams(c.TotalWeightGrams),
		TotalAmountTraded:   money(c.TotalAmountTraded),
		OutstandingBalance:  money(c.OutstandingBalance),
		LastTransactionDate: c.LastTransactionDate,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
	if b := c.BankDetails; b != nil {
		dto.BankDetails = &BankDetailsDTO{BankName: b.BankName, AccountName: b.AccountName, AccountNumber: b.AccountNumber, Branch: b.Branch}
	}
	if m := c.MobileMoney; m != nil {
		dto.MobileMoney = &MobileMoneyDTO{Provider: m.Provider, Number: m.Number, Name: m.Name}
	}
	return dto
}

type BalanceSummaryDTO struct {
	CounterpartyID      string     `json:"counterparty_id"`
	Name                string     `json:"name"`
	TotalTransactions   int64      `json:"total_transactions"`
	TotalWeightGrams    float64    `json:"total_weight_grams"`
	TotalAmountTraded   float64    `json:"total_amount_traded"`
	OutstandingBalance  float64    `json:"outstanding_balance"`
	LastTransactionDate *time.Time `json:"last_transaction_date,omitempty"`
}

func toBalanceSummaryDTO(s *ledger.BalanceSummary) BalanceSummaryDTO {
	return BalanceSummaryDTO{
		CounterpartyID:      string(s.CounterpartyID),
		Name:                s.Name,
		TotalTransactions:   s.TotalTransactions,
		TotalWeightGrams:    grams(s.TotalWeightGrams),
		TotalAmountTraded:   money(s.TotalAmountTraded),
		OutstandingBalance:  money(s.OutstandingBalance),
		LastTransactionDate: s.LastTransactionDate,
	}
}

// =============================================================================
// ADVANCE
// =============================================================================

type SettlementDTO struct {
	TransactionID string    `json:"transaction_id,omitempty"`
	Amount        float64   `json:"amount"`
	GoldValue     float64   `json:"gold_value"`
	Excess        float64   `json:"excess,omitempty"`
	WeightGrams   float64   `json:"weight_grams"`
	Date          time.Time `json:"date"`
	Notes         string    `json:"notes,omitempty"`
}

type AdvanceDTO struct {
	ID                     string          `json:"id"`
	CounterpartyID         string          `json:"counterparty_id"`
	CounterpartyName       string          `json:"counterparty_name"`
	Amount                 float64         `json:"amount"`
	Currency               string          `json:"currency"`
	Purpose                string          `json:"purpose,omitempty"`
	PaymentMethod          string          `json:"payment_method"`
	RemainingBalance       float64         `json:"remaining_balance"`
	Status                 string          `json:"status"`
	SettlementHistory      []SettlementDTO `json:"settlement_history"`
	GivenDate              time.Time       `json:"given_date"`
	ExpectedSettlementDate *time.Time      `json:"expected_settlement_date,omitempty"`
	SettledDate            *time.Time      `json:"settled_date,omitempty"`
	CreatedBy              string          `json:"created_by,omitempty"`
}

type IssueAdvanceRequest struct {
	CounterpartyID         string          `json:"counterparty_id"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	Purpose                string          `json:"purpose"`
	PaymentMethod          string          `json:"payment_method"`
	ExpectedSettlementDate *time.Time      `json:"expected_settlement_date"`
	CreatedBy              string          `json:"created_by"`
}

// SettleAdvanceRequest settles an advance with a delivery that is not
// recorded as a buy. Buys settle through the advance_id of TradeRequest.
type SettleAdvanceRequest struct {
	TransactionID string          `json:"transaction_id"`
	GoldValue     decimal.Decimal `json:"gold_value"`
	WeightGrams   decimal.Decimal `json:"weight_grams"`
	Notes         string          `json:"notes"`
}

func toAdvanceDTO(a *ledger.Advance) AdvanceDTO {
	history := make([]SettlementDTO, 0, len(a.SettlementHistory))
	for _, s := range a.SettlementHistory {
		history = append(history, SettlementDTO{
			TransactionID: string(s.TransactionID),
			Amount:        money(s.Amount),
			GoldValue:     money(s.GoldValue),
			Excess:        money(s.Excess()),
			WeightGrams:   grams(s.WeightGrams),
			Date:          s.Date,
			Notes:         s.Notes,
		})
	}
	return AdvanceDTO{
		ID:                     string(a.ID),
		CounterpartyID:         string(a.CounterpartyID),
		CounterpartyName:       a.CounterpartyName,
		Amount:                 money(a.Amount),
		Currency:               a.Currency,
		Purpose:                a.Purpose,
		PaymentMethod:          string(a.PaymentMethod),
		RemainingBalance:       money(a.RemainingBalance),
		Status:                 string(a.Status),
		SettlementHistory:      history,
		GivenDate:              a.GivenDate,
		ExpectedSettlementDate: a.ExpectedSettlementDate,
		SettledDate:            a.SettledDate,
		CreatedBy:              a.CreatedBy,
	}
}

func toAdvanceDTOs(as []ledger.Advance) []AdvanceDTO {
	out := make([]AdvanceDTO, 0, len(as))
	for i := range as {
		out = append(out, toAdvanceDTO(&as[i]))
	}
	return out
}

// =============================================================================
// TRANSACTION
// =============================================================================

type BatchDrawDTO struct {
	BatchID     string  `json:"batch_id"`
	WeightGrams float64 `json:"weight_grams"`
}

type TransactionDTO struct {
	ID               string   `json:"id"`
	Type             string   `json:"type"`
	CounterpartyID   string   `json:"counterparty_id"`
	CounterpartyName string   `json:"counterparty_name"`
	GoldType         string   `json:"gold_type"`
	Purity           string   `json:"purity"`
	PurityPercentage float64  `json:"purity_percentage"`
	SpecificGravity  *float64 `json:"specific_gravity,omitempty"`
	WeightGrams      float64  `json:"weight_grams"`

	SpotPricePerOz     float64 `json:"spot_price_per_oz"`
	SpotPricePerGram   float64 `json:"spot_price_per_gram"`
	DiscountPercentage float64 `json:"discount_percentage"`
	BuyingPricePerGram float64 `json:"buying_price_per_gram"`
	TotalAmount        float64 `json:"total_amount"`
	Currency           string  `json:"currency"`

	PaymentMethod   string  `json:"payment_method"`
	PaymentStatus   string  `json:"payment_status"`
	AmountPaid      float64 `json:"amount_paid"`
	AdvanceDeducted float64 `json:"advance_deducted"`
	AdvanceID       string  `json:"advance_id,omitempty"`

	Location      string         `json:"location"`
	ReceiptNumber string         `json:"receipt_number"`
	BatchID       string         `json:"batch_id,omitempty"`
	Draws         []BatchDrawDTO `json:"draws,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	CreatedBy     string         `json:"created_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// TradeRequest is the body of POST /transactions/buy and /transactions/sell.
type TradeRequest struct {
	CounterpartyID     string           `json:"counterparty_id"`
	GoldType           string           `json:"gold_type"`
	Purity             string           `json:"purity"`
	PurityPercentage   *decimal.Decimal `json:"purity_percentage"`
	SpecificGravity    *decimal.Decimal `json:"specific_gravity"`
	WeightGrams        decimal.Decimal  `json:"weight_grams"`
	SpotPricePerOz     decimal.Decimal  `json:"spot_price_per_oz"`
	DiscountPercentage decimal.Decimal  `json:"discount_percentage"`
	Currency           string           `json:"currency"`
	PaymentMethod      string           `json:"payment_method"`
	AmountPaid         *decimal.Decimal `json:"amount_paid"`
	AdvanceID          string           `json:"advance_id"`
	Location           string           `json:"location"`
	ReceiptNumber      string           `json:"receipt_number"`
	Notes              string           `json:"notes"`
	CreatedBy          string           `json:"created_by"`
}

func (r TradeRequest) toLedger() ledger.TradeRequest {
	return ledger.TradeRequest{
		CounterpartyID:     ledger.CounterpartyID(r.CounterpartyID),
		GoldType:           r.GoldType,
		Purity:             r.Purity,
		PurityPercentage:   r.PurityPercentage,
		SpecificGravity:    r.SpecificGravity,
		WeightGrams:        r.WeightGrams,
		SpotPricePerOz:     r.SpotPricePerOz,
		DiscountPercentage: r.DiscountPercentage,
		Currency:           r.Currency,
		PaymentMethod:      ledger.PaymentMethod(r.PaymentMethod),
		AmountPaid:         r.AmountPaid,
		AdvanceID:          ledger.AdvanceID(r.AdvanceID),
		Location:           ledger.Location(r.Location),
		ReceiptNumber:      r.ReceiptNumber,
		Notes:              r.Notes,
		CreatedBy:          r.CreatedBy,
	}
}

func toTransactionDTO(tx *ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:                 string(tx.ID),
		Type:               string(tx.Type),
		CounterpartyID:     string(tx.CounterpartyID),
		CounterpartyName:   tx.CounterpartyName,
		GoldType:           tx.GoldType,
		Purity:             tx.Purity,
		PurityPercentage:   ratio(tx.PurityPercentage),
		WeightGrams:        grams(tx.WeightGrams),
		SpotPricePerOz:     money(tx.SpotPricePerOz),
		SpotPricePerGram:   money(tx.SpotPricePerGram),
		DiscountPercentage: money(tx.DiscountPercentage),
		BuyingPricePerGram: money(tx.BuyingPricePerGram),
		TotalAmount:        money(tx.TotalAmount),
		Currency:           tx.Currency,
		PaymentMethod:      string(tx.PaymentMethod),
		PaymentStatus:      string(tx.PaymentStatus),
		AmountPaid:         money(tx.AmountPaid),
		AdvanceDeducted:    money(tx.AdvanceDeducted),
		AdvanceID:          string(tx.AdvanceID),
		Location:           string(tx.Location),
		ReceiptNumber:      tx.ReceiptNumber,
		BatchID:            string(tx.BatchID),
		Notes:              tx.Notes,
		CreatedBy:          tx.CreatedBy,
		CreatedAt:          tx.CreatedAt,
	}
	if tx.SpecificGravity != nil {
		sg := ratio(*tx.SpecificGravity)
		dto.SpecificGravity = &sg
	}
	for _, d := range tx.Draws {
		dto.Draws = append(dto.Draws, BatchDrawDTO{BatchID: string(d.BatchID), WeightGrams: grams(d.WeightGrams)})
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for i := range txs {
		out = append(out, toTransactionDTO(&txs[i]))
	}
	return out
}

// =============================================================================
// INVENTORY
// =============================================================================

type MovementDTO struct {
	FromLocation string    `json:"from_location"`
	ToLocation   string    `json:"to_location"`
	WeightGrams  float64   `json:"weight_grams"`
	Date         time.Time `json:"date"`
	Notes        string    `json:"notes,omitempty"`
	MovedBy      string    `json:"moved_by,omitempty"`
}

type BatchDTO struct {
	ID                  string        `json:"id"`
	GoldType            string        `json:"gold_type"`
	Purity              string        `json:"purity"`
	PurityPercentage    float64       `json:"purity_percentage"`
	WeightGrams         float64       `json:"weight_grams"`
	Location            string        `json:"location"`
	AvgCostPerGram      float64       `json:"avg_cost_per_gram"`
	TotalCost           float64       `json:"total_cost"`
	SourceTransactionID string        `json:"source_transaction_id,omitempty"`
	SupplierID          string        `json:"supplier_id,omitempty"`
	MovementHistory     []MovementDTO `json:"movement_history"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

type CreateBatchRequest struct {
	ID               string           `json:"id"`
	GoldType         string           `json:"gold_type"`
	Purity           string           `json:"purity"`
	PurityPercentage *decimal.Decimal `json:"purity_percentage"`
	WeightGrams      decimal.Decimal  `json:"weight_grams"`
	AvgCostPerGram   decimal.Decimal  `json:"avg_cost_per_gram"`
	Location         string           `json:"location"`
	SupplierID       string           `json:"supplier_id"`
}

type MoveBatchRequest struct {
	ToLocation string `json:"to_location"`
	MovedBy    string `json:"moved_by"`
	Notes      string `json:"notes"`
}

func toBatchDTO(b *ledger.Batch) BatchDTO {
	moves := make([]MovementDTO, 0, len(b.MovementHistory))
	for _, m := range b.MovementHistory {
		moves = append(moves, MovementDTO{
			FromLocation: string(m.FromLocation),
			ToLocation:   string(m.ToLocation),
			WeightGrams:  grams(m.WeightGrams),
			Date:         m.Date,
			Notes:        m.Notes,
			MovedBy:      m.MovedBy,
		})
	}
	return BatchDTO{
		ID:                  string(b.ID),
		GoldType:            b.GoldType,
		Purity:              b.Purity,
		PurityPercentage:    ratio(b.PurityPercentage),
		WeightGrams:         grams(b.WeightGrams),
		Location:            string(b.Location),
		AvgCostPerGram:      money(b.AvgCostPerGram),
		TotalCost:           money(b.TotalCost),
		SourceTransactionID: string(b.SourceTransactionID),
		SupplierID:          string(b.SupplierID),
		MovementHistory:     moves,
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
	}
}

type LocationTotalsDTO struct {
	Location    string  `json:"location,omitempty"`
	TotalWeight float64 `json:"total_weight"`
	TotalCost   float64 `json:"total_cost"`
	BatchCount  int     `json:"batch_count"`
}

type VaultSummaryDTO struct {
	ByLocation []LocationTotalsDTO `json:"by_location"`
	Total      LocationTotalsDTO   `json:"total"`
}

// toVaultSummaryDTO lists locations in ledger.Locations order, skipping
// empty ones.
func toVaultSummaryDTO(s *ledger.VaultSummary) VaultSummaryDTO {
	dto := VaultSummaryDTO{
		ByLocation: []LocationTotalsDTO{},
		Total: LocationTotalsDTO{
			TotalWeight: grams(s.Total.TotalWeight),
			TotalCost:   money(s.Total.TotalCost),
			BatchCount:  s.Total.BatchCount,
		},
	}
	for _, loc := range ledger.Locations {
		t, ok := s.ByLocation[loc]
		if !ok {
			continue
		}
		dto.ByLocation = append(dto.ByLocation, LocationTotalsDTO{
			Location:    string(loc),
			TotalWeight: grams(t.TotalWeight),
			TotalCost:   money(t.TotalCost),
			BatchCount:  t.BatchCount,
		})
	}
	return dto
}

// =============================================================================
// PRICES
// =============================================================================

type PriceDTO struct {
	ID           string    `json:"id"`
	Commodity    string    `json:"commodity"`
	PricePerOz   float64   `json:"price_per_oz"`
	PricePerGram float64   `json:"price_per_gram"`
	Currency     string    `json:"currency"`
	Source       string    `json:"source"`
	Timestamp    time.Time `json:"timestamp"`
}

type RecordPriceRequest struct {
	Commodity    string          `json:"commodity"`
	PricePerOz   decimal.Decimal `json:"price_per_oz"`
	PricePerGram decimal.Decimal `json:"price_per_gram"`
	Currency     string          `json:"currency"`
	Source       string          `json:"source"`
	Timestamp    *time.Time      `json:"timestamp"`
}

func (r RecordPriceRequest) toLedger() ledger.RecordPriceRequest {
	req := ledger.RecordPriceRequest{
		Commodity:    ledger.Commodity(r.Commodity),
		PricePerOz:   r.PricePerOz,
		PricePerGram: r.PricePerGram,
		Currency:     r.Currency,
		Source:       ledger.PriceSource(r.Source),
	}
	if req.Commodity == "" {
		req.Commodity = ledger.CommodityGold
	}
	if r.Timestamp != nil {
		req.Timestamp = r.Timestamp.UTC()
	}
	return req
}

func toPriceDTO(p *ledger.PriceObservation) PriceDTO {
	return PriceDTO{
		ID:           string(p.ID),
		Commodity:    string(p.Commodity),
		PricePerOz:   money(p.PricePerOz),
		PricePerGram: money(p.PricePerGram),
		Currency:     p.Currency,
		Source:       string(p.Source),
		Timestamp:    p.Timestamp,
	}
}

// =============================================================================
// DASHBOARD / AUDIT
// =============================================================================

type TradeTotalsDTO struct {
	Count       int     `json:"count"`
	WeightGrams float64 `json:"weight_grams"`
	Amount      float64 `json:"amount"`
}

type DashboardDTO struct {
	Bought               TradeTotalsDTO  `json:"bought"`
	Sold                 TradeTotalsDTO  `json:"sold"`
	ActiveCounterparties int             `json:"active_counterparties"`
	OpenAdvances         int             `json:"open_advances"`
	OutstandingAdvances  float64         `json:"outstanding_advances"`
	Vault                VaultSummaryDTO `json:"vault"`
	LatestGoldPrice      *PriceDTO       `json:"latest_gold_price,omitempty"`
}

func toDashboardDTO(d *ledger.Dashboard) DashboardDTO {
	dto := DashboardDTO{
		Bought:               TradeTotalsDTO{Count: d.Bought.Count, WeightGrams: grams(d.Bought.WeightGrams), Amount: money(d.Bought.Amount)},
		Sold:                 TradeTotalsDTO{Count: d.Sold.Count, WeightGrams: grams(d.Sold.WeightGrams), Amount: money(d.Sold.Amount)},
		ActiveCounterparties: d.ActiveCounterparties,
		OpenAdvances:         d.OpenAdvances,
		OutstandingAdvances:  money(d.OutstandingAdvances),
		Vault:                toVaultSummaryDTO(d.Vault),
	}
	if d.LatestGoldPrice != nil {
		p := toPriceDTO(d.LatestGoldPrice)
		dto.LatestGoldPrice = &p
	}
	return dto
}

type AuditIssueDTO struct {
	Check    string `json:"check"`
	EntityID string `json:"entity_id"`
	Message  string `json:"message"`
}

type AuditReportDTO struct {
	CheckedAt      time.Time       `json:"checked_at"`
	OK             bool            `json:"ok"`
	Counterparties int             `json:"counterparties"`
	Advances       int             `json:"advances"`
	Batches        int             `json:"batches"`
	Transactions   int             `json:"transactions"`
	Issues         []AuditIssueDTO `json:"issues"`
}

func toAuditReportDTO(r *ledger.AuditReport) AuditReportDTO {
	issues := make([]AuditIssueDTO, 0, len(r.Issues))
	for _, i := range r.Issues {
		issues = append(issues, AuditIssueDTO{Check: i.Check, EntityID: i.EntityID, Message: i.Message})
	}
	sort.SliceStable(issues, func(a, b int) bool { return issues[a].Check < issues[b].Check })
	return AuditReportDTO{
		CheckedAt:      r.CheckedAt,
		OK:             r.OK(),
		Counterparties: r.Counterparties,
		Advances:       r.Advances,
		Batches:        r.Batches,
		Transactions:   r.Transactions,
		Issues:         issues,
	}
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}
