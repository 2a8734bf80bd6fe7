package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// purityByLabel maps karat labels to fine content. "Custom" has no entry:
// the caller must supply the percentage.
var purityByLabel = map[string]decimal.Decimal{
	"24K": decimal.RequireFromString("0.999"),
	"22K": decimal.RequireFromString("0.916"),
	"21K": decimal.RequireFromString("0.875"),
	"18K": decimal.RequireFromString("0.750"),
	"14K": decimal.RequireFromString("0.585"),
	"10K": decimal.RequireFromString("0.417"),
}

// PurityForLabel returns the fine content of a karat label.
func PurityForLabel(label string) (decimal.Decimal, bool) {
	p, ok := purityByLabel[strings.ToUpper(strings.TrimSpace(label))]
	return p, ok
}

// SpotPerGram converts a troy-ounce price to a per-gram price.
func SpotPerGram(pricePerOz decimal.Decimal) decimal.Decimal {
	return pricePerOz.Div(GramsPerTroyOunce)
}

// Quote is the full valuation of one buy or sell.
type Quote struct {
	SpotPricePerOz     decimal.Decimal
	SpotPricePerGram   decimal.Decimal
	DiscountPercentage decimal.Decimal
	PricePerGram       decimal.Decimal
	TotalAmount        decimal.Decimal
}

// QuoteFor values weight × purity at spot adjusted by the discount.
// A buy subtracts the discount from spot, a sell adds it as a premium.
// The function is pure: same inputs, same quote.
func QuoteFor(kind TransactionType, weightGrams, purity, spotPerOz, discountPct decimal.Decimal) Quote {
	spotGram := SpotPerGram(spotPerOz)
	adj := discountPct.Div(hundred)

	factor := decimal.NewFromInt(1).Sub(adj)
	if kind == TxSell {
		factor = decimal.NewFromInt(1).Add(adj)
	}
	price := spotGram.Mul(factor)

	return Quote{
		SpotPricePerOz:     spotPerOz,
		SpotPricePerGram:   spotGram,
		DiscountPercentage: discountPct,
		PricePerGram:       price,
		TotalAmount:        weightGrams.Mul(price).Mul(purity),
	}
}

// FineCostPerGram is the acquisition cost per gram of gross weight that a
// purchased batch carries into inventory.
func FineCostPerGram(pricePerGram, purity decimal.Decimal) decimal.Decimal {
	return pricePerGram.Mul(purity)
}

// weightedAverage blends two cost bases by weight.
func weightedAverage(w1, c1, w2, c2 decimal.Decimal) decimal.Decimal {
	total := w1.Add(w2)
	if total.IsZero() {
		return decimal.Zero
	}
	return w1.Mul(c1).Add(w2.Mul(c2)).Div(total)
}
