package mongo

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/goldtrader/gold-ledger/ledger"
)

// Documents mirror the ledger types with stable snake_case field names.

type bankDoc struct {
	BankName      string `bson:"bank_name"`
	AccountName   string `bson:"account_name"`
	AccountNumber string `bson:"account_number"`
	Branch        string `bson:"branch,omitempty"`
}

type mobileMoneyDoc struct {
	Provider string `bson:"provider"`
	Number   string `bson:"number"`
	Name     string `bson:"name,omitempty"`
}

type counterpartyDoc struct {
	ID                  string          `bson:"_id"`
	Name                string          `bson:"name"`
	Phone               string          `bson:"phone,omitempty"`
	Email               string          `bson:"email,omitempty"`
	Location            string          `bson:"location,omitempty"`
	Notes               string          `bson:"notes,omitempty"`
	BankDetails         *bankDoc        `bson:"bank_details,omitempty"`
	MobileMoney         *mobileMoneyDoc `bson:"mobile_money,omitempty"`
	Type                string          `bson:"type"`
	TrustLevel          string          `bson:"trust_level"`
	IsActive            bool            `bson:"is_active"`
	TotalTransactions   int64           `bson:"total_transactions"`
	TotalWeightGrams    decimal.Decimal `bson:"total_weight_grams"`
	TotalAmountTraded   decimal.Decimal `bson:"total_amount_traded"`
	OutstandingBalance  decimal.Decimal `bson:"outstanding_balance"`
	LastTransactionDate *time.Time      `bson:"last_transaction_date,omitempty"`
	CreatedAt           time.Time       `bson:"created_at"`
	UpdatedAt           time.Time       `bson:"updated_at"`
	Version             int64           `bson:"version"`
}

func fromCounterparty(c ledger.Counterparty) counterpartyDoc {
	d := counterpartyDoc{
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
		TotalWeightGrams:    c.TotalWeightGrams,
		TotalAmountTraded:   c.TotalAmountTraded,
		OutstandingBalance:  c.OutstandingBalance,
		LastTransactionDate: c.LastTransactionDate,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
		Version:             c.Version,
	}
	if b := c.BankDetails; b != nil {
		d.BankDetails = &bankDoc{BankName: b.BankName, AccountName: b.AccountName, AccountNumber: b.AccountNumber, Branch: b.Branch}
	}
	if m := c.MobileMoney; m != nil {
		d.MobileMoney = &mobileMoneyDoc{Provider: m.Provider, Number: m.Number, Name: m.Name}
	}
	return d
}

func (d counterpartyDoc) model() ledger.Counterparty {
	c := ledger.Counterparty{
		ID: ledger.CounterpartyID(d.ID),
		Identity: ledger.Identity{
			Name:     d.Name,
			Phone:    d.Phone,
			Email:    d.Email,
			Location: d.Location,
			Notes:    d.Notes,
		},
		Classification: ledger.Classification{
			Type:       ledger.CounterpartyType(d.Type),
			TrustLevel: ledger.TrustLevel(d.TrustLevel),
		},
		IsActive:            d.IsActive,
		TotalTransactions:   d.TotalTransactions,
		TotalWeightGrams:    d.TotalWeightGrams,
		TotalAmountTraded:   d.TotalAmountTraded,
		OutstandingBalance:  d.OutstandingBalance,
		LastTransactionDate: d.LastTransactionDate,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
		Version:             d.Version,
	}
	if b := d.BankDetails; b != nil {
		c.BankDetails = &ledger.BankDetails{BankName: b.BankName, AccountName: b.AccountName, AccountNumber: b.AccountNumber, Branch: b.Branch}
	}
	if m := d.MobileMoney; m != nil {
		c.MobileMoney = &ledger.MobileMoney{Provider: m.Provider, Number: m.Number, Name: m.Name}
	}
	return c
}

type settlementDoc struct {
	TransactionID string          `bson:"transaction_id,omitempty"`
	Amount        decimal.Decimal `bson:"amount"`
	GoldValue     decimal.Decimal `bson:"gold_value"`
	WeightGrams   decimal.Decimal `bson:"weight_grams"`
	Date          time.Time       `bson:"date"`
	Notes         string          `bson:"notes,omitempty"`
}

type advanceDoc struct {
	ID                     string          `bson:"_id"`
	CounterpartyID         string          `bson:"counterparty_id"`
	CounterpartyName       string          `bson:"counterparty_name"`
	Amount                 decimal.Decimal `bson:"amount"`
	Currency               string          `bson:"currency"`
	Purpose                string          `bson:"purpose,omitempty"`
	PaymentMethod          string          `bson:"payment_method"`
	RemainingBalance       decimal.Decimal `bson:"remaining_balance"`
	Outstanding            bool            `bson:"outstanding"`
	Status                 string          `bson:"status"`
	SettlementHistory      []settlementDoc `bson:"settlement_history"`
	GivenDate              time.Time       `bson:"given_date"`
	ExpectedSettlementDate *time.Time      `bson:"expected_settlement_date,omitempty"`
	SettledDate            *time.Time      `bson:"settled_date,omitempty"`
	CreatedBy              string          `bson:"created_by,omitempty"`
	Version                int64           `bson:"version"`
}

func fromAdvance(a ledger.Advance) advanceDoc {
	d := advanceDoc{
		ID:                     string(a.ID),
		CounterpartyID:         string(a.CounterpartyID),
		CounterpartyName:       a.CounterpartyName,
		Amount:                 a.Amount,
		Currency:               a.Currency,
		Purpose:                a.Purpose,
		PaymentMethod:          string(a.PaymentMethod),
		RemainingBalance:       a.RemainingBalance,
		Outstanding:            a.RemainingBalance.IsPositive(),
		Status:                 string(a.Status),
		SettlementHistory:      make([]settlementDoc, 0, len(a.SettlementHistory)),
		GivenDate:              a.GivenDate,
		ExpectedSettlementDate: a.ExpectedSettlementDate,
		SettledDate:            a.SettledDate,
		CreatedBy:              a.CreatedBy,
		Version:                a.Version,
	}
	for _, s := range a.SettlementHistory {
		d.SettlementHistory = append(d.SettlementHistory, settlementDoc{
			TransactionID: string(s.TransactionID),
			Amount:        s.Amount,
			GoldValue:     s.GoldValue,
			WeightGrams:   s.WeightGrams,
			Date:          s.Date,
			Notes:         s.Notes,
		})
	}
	return d
}

func (d advanceDoc) model() ledger.Advance {
	a := ledger.Advance{
		ID:                     ledger.AdvanceID(d.ID),
		CounterpartyID:         ledger.CounterpartyID(d.CounterpartyID),
		CounterpartyName:       d.CounterpartyName,
		Amount:                 d.Amount,
		Currency:               d.Currency,
		Purpose:                d.Purpose,
		PaymentMethod:          ledger.PaymentMethod(d.PaymentMethod),
		RemainingBalance:       d.RemainingBalance,
		Status:                 ledger.AdvanceStatus(d.Status),
		GivenDate:              d.GivenDate,
		ExpectedSettlementDate: d.ExpectedSettlementDate,
		SettledDate:            d.SettledDate,
		CreatedBy:              d.CreatedBy,
		Version:                d.Version,
	}
	for _, s := range d.SettlementHistory {
		a.SettlementHistory = append(a.SettlementHistory, ledger.Settlement{
			TransactionID: ledger.TransactionID(s.TransactionID),
			Amount:        s.Amount,
			GoldValue:     s.GoldValue,
			WeightGrams:   s.WeightGrams,
			Date:          s.Date,
			Notes:         s.Notes,
		})
	}
	return a
}

type drawDoc struct {
	BatchID     string          `bson:"batch_id"`
	WeightGrams decimal.Decimal `bson:"weight_grams"`
}

type transactionDoc struct {
	ID                 string           `bson:"_id"`
	Type               string           `bson:"type"`
	CounterpartyID     string           `bson:"counterparty_id"`
	CounterpartyName   string           `bson:"counterparty_name"`
	GoldType           string           `bson:"gold_type"`
	Purity             string           `bson:"purity"`
	PurityPercentage   decimal.Decimal  `bson:"purity_percentage"`
	SpecificGravity    *decimal.Decimal `bson:"specific_gravity,omitempty"`
	WeightGrams        decimal.Decimal  `bson:"weight_grams"`
	SpotPricePerOz     decimal.Decimal  `bson:"spot_price_per_oz"`
	SpotPricePerGram   decimal.Decimal  `bson:"spot_price_per_gram"`
	DiscountPercentage decimal.Decimal  `bson:"discount_percentage"`
	BuyingPricePerGram decimal.Decimal  `bson:"buying_price_per_gram"`
	TotalAmount        decimal.Decimal  `bson:"total_amount"`
	Currency           string           `bson:"currency"`
	PaymentMethod      string           `bson:"payment_method"`
	PaymentStatus      string           `bson:"payment_status"`
	AmountPaid         decimal.Decimal  `bson:"amount_paid"`
	AdvanceDeducted    decimal.Decimal  `bson:"advance_deducted"`
	AdvanceID          string           `bson:"advance_id,omitempty"`
	Location           string           `bson:"location"`
	ReceiptNumber      string           `bson:"receipt_number"`
	BatchID            string           `bson:"batch_id,omitempty"`
	Draws              []drawDoc        `bson:"draws,omitempty"`
	Notes              string           `bson:"notes,omitempty"`
	CreatedBy          string           `bson:"created_by,omitempty"`
	CreatedAt          time.Time        `bson:"created_at"`
}

func fromTransaction(tx ledger.Transaction) transactionDoc {
	d := transactionDoc{
		ID:                 string(tx.ID),
		Type:               string(tx.Type),
		CounterpartyID:     string(tx.CounterpartyID),
		CounterpartyName:   tx.CounterpartyName,
		GoldType:           tx.GoldType,
		Purity:             tx.Purity,
		PurityPercentage:   tx.PurityPercentage,
		SpecificGravity:    tx.SpecificGravity,
		WeightGrams:        tx.WeightGrams,
		SpotPricePerOz:     tx.SpotPricePerOz,
		SpotPricePerGram:   tx.SpotPricePerGram,
		DiscountPercentage: tx.DiscountPercentage,
		BuyingPricePerGram: tx.BuyingPricePerGram,
		TotalAmount:        tx.TotalAmount,
		Currency:           tx.Currency,
		PaymentMethod:      string(tx.PaymentMethod),
		PaymentStatus:      string(tx.PaymentStatus),
		AmountPaid:         tx.AmountPaid,
		AdvanceDeducted:    tx.AdvanceDeducted,
		AdvanceID:          string(tx.AdvanceID),
		Location:           string(tx.Location),
		ReceiptNumber:      tx.ReceiptNumber,
		BatchID:            string(tx.BatchID),
		Notes:              tx.Notes,
		CreatedBy:          tx.CreatedBy,
		CreatedAt:          tx.CreatedAt,
	}
	for _, dr := range tx.Draws {
		d.Draws = append(d.Draws, drawDoc{BatchID: string(dr.BatchID), WeightGrams: dr.WeightGrams})
	}
	return d
}

func (d transactionDoc) model() ledger.Transaction {
	tx := ledger.Transaction{
		ID:               ledger.TransactionID(d.ID),
		Type:             ledger.TransactionType(d.Type),
		CounterpartyID:   ledger.CounterpartyID(d.CounterpartyID),
		CounterpartyName: d.CounterpartyName,
		PhysicalDetails: ledger.PhysicalDetails{
			GoldType:         d.GoldType,
			Purity:           d.Purity,
			PurityPercentage: d.PurityPercentage,
			SpecificGravity:  d.SpecificGravity,
			WeightGrams:      d.WeightGrams,
		},
		SpotPricePerOz:     d.SpotPricePerOz,
		SpotPricePerGram:   d.SpotPricePerGram,
		DiscountPercentage: d.DiscountPercentage,
		BuyingPricePerGram: d.BuyingPricePerGram,
		TotalAmount:        d.TotalAmount,
		Currency:           d.Currency,
		PaymentMethod:      ledger.PaymentMethod(d.PaymentMethod),
		PaymentStatus:      ledger.PaymentStatus(d.PaymentStatus),
		AmountPaid:         d.AmountPaid,
		AdvanceDeducted:    d.AdvanceDeducted,
		AdvanceID:          ledger.AdvanceID(d.AdvanceID),
		Location:           ledger.Location(d.Location),
		ReceiptNumber:      d.ReceiptNumber,
		BatchID:            ledger.BatchID(d.BatchID),
		Notes:              d.Notes,
		CreatedBy:          d.CreatedBy,
		CreatedAt:          d.CreatedAt,
	}
	for _, dr := range d.Draws {
		tx.Draws = append(tx.Draws, ledger.BatchDraw{BatchID: ledger.BatchID(dr.BatchID), WeightGrams: dr.WeightGrams})
	}
	return tx
}

type movementDoc struct {
	FromLocation string          `bson:"from_location"`
	ToLocation   string          `bson:"to_location"`
	WeightGrams  decimal.Decimal `bson:"weight_grams"`
	Date         time.Time       `bson:"date"`
	Notes        string          `bson:"notes,omitempty"`
	MovedBy      string          `bson:"moved_by,omitempty"`
}

type batchDoc struct {
	ID                  string          `bson:"_id"`
	GoldType            string          `bson:"gold_type"`
	Purity              string          `bson:"purity"`
	PurityPercentage    decimal.Decimal `bson:"purity_percentage"`
	WeightGrams         decimal.Decimal `bson:"weight_grams"`
	InStock             bool            `bson:"in_stock"`
	Location            string          `bson:"location"`
	AvgCostPerGram      decimal.Decimal `bson:"avg_cost_per_gram"`
	TotalCost           decimal.Decimal `bson:"total_cost"`
	SourceTransactionID string          `bson:"source_transaction_id,omitempty"`
	SupplierID          string          `bson:"supplier_id,omitempty"`
	MovementHistory     []movementDoc   `bson:"movement_history"`
	CreatedAt           time.Time       `bson:"created_at"`
	UpdatedAt           time.Time       `bson:"updated_at"`
	Version             int64           `bson:"version"`
}

func fromBatch(b ledger.Batch) batchDoc {
	d := batchDoc{
		ID:                  string(b.ID),
		GoldType:            b.GoldType,
		Purity:              b.Purity,
		PurityPercentage:    b.PurityPercentage,
		WeightGrams:         b.WeightGrams,
		InStock:             b.WeightGrams.IsPositive(),
		Location:            string(b.Location),
		AvgCostPerGram:      b.AvgCostPerGram,
		TotalCost:           b.TotalCost,
		SourceTransactionID: string(b.SourceTransactionID),
		SupplierID:          string(b.SupplierID),
		MovementHistory:     make([]movementDoc, 0, len(b.MovementHistory)),
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
		Version:             b.Version,
	}
	for _, m := range b.MovementHistory {
		d.MovementHistory = append(d.MovementHistory, movementDoc{
			FromLocation: string(m.FromLocation),
			ToLocation:   string(m.ToLocation),
			WeightGrams:  m.WeightGrams,
			Date:         m.Date,
			Notes:        m.Notes,
			MovedBy:      m.MovedBy,
		})
	}
	return d
}

func (d batchDoc) model() ledger.Batch {
	b := ledger.Batch{
		ID:                  ledger.BatchID(d.ID),
		GoldType:            d.GoldType,
		Purity:              d.Purity,
		PurityPercentage:    d.PurityPercentage,
		WeightGrams:         d.WeightGrams,
		Location:            ledger.Location(d.Location),
		AvgCostPerGram:      d.AvgCostPerGram,
		TotalCost:           d.TotalCost,
		SourceTransactionID: ledger.TransactionID(d.SourceTransactionID),
		SupplierID:          ledger.CounterpartyID(d.SupplierID),
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
		Version:             d.Version,
	}
	for _, m := range d.MovementHistory {
		b.MovementHistory = append(b.MovementHistory, ledger.Movement{
			FromLocation: ledger.Location(m.FromLocation),
			ToLocation:   ledger.Location(m.ToLocation),
			WeightGrams:  m.WeightGrams,
			Date:         m.Date,
			Notes:        m.Notes,
			MovedBy:      m.MovedBy,
		})
	}
	return b
}

type priceDoc struct {
	ID           string          `bson:"_id"`
	Seq          int64           `bson:"seq"`
	Commodity    string          `bson:"commodity"`
	PricePerOz   decimal.Decimal `bson:"price_per_oz"`
	PricePerGram decimal.Decimal `bson:"price_per_gram"`
	Currency     string          `bson:"currency"`
	Source       string          `bson:"source"`
	Timestamp    time.Time       `bson:"timestamp"`
}

func fromPrice(p ledger.PriceObservation) priceDoc {
	return priceDoc{
		ID:           string(p.ID),
		Seq:          p.Sequence,
		Commodity:    string(p.Commodity),
		PricePerOz:   p.PricePerOz,
		PricePerGram: p.PricePerGram,
		Currency:     p.Currency,
		Source:       string(p.Source),
		Timestamp:    p.Timestamp,
	}
}

func (d priceDoc) model() ledger.PriceObservation {
	return ledger.PriceObservation{
		ID:           ledger.PriceID(d.ID),
		Commodity:    ledger.Commodity(d.Commodity),
		PricePerOz:   d.PricePerOz,
		PricePerGram: d.PricePerGram,
		Currency:     d.Currency,
		Source:       ledger.PriceSource(d.Source),
		Timestamp:    d.Timestamp,
		Sequence:     d.Seq,
	}
}
