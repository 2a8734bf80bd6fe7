package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPurityForLabel(t *testing.T) {
	tests := []struct {
		label string
		want  string
		ok    bool
	}{
		{"24K", "0.999", true},
		{"22k", "0.916", true},
		{" 18K ", "0.75", true},
		{"10K", "0.417", true},
		{"Custom", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := PurityForLabel(tt.label)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, got.Equal(d(tt.want)), "got %s", got)
			}
		})
	}
}

func TestQuoteFor(t *testing.T) {
	tests := []struct {
		name      string
		kind      TransactionType
		weight    string
		purity    string
		spot      string
		discount  string
		wantPrice string
		wantTotal string
	}{
		{"buy at 5% discount", TxBuy, "10", "0.999", "2350", "5", "71.78", "717.05"},
		{"sell at spot", TxSell, "5", "0.999", "2350", "0", "75.55", "377.39"},
		{"sell at 2% premium", TxSell, "10", "1", "2350", "2", "77.07", "770.65"},
		{"buy at par", TxBuy, "31.1035", "1", "2000", "0", "64.30", "2000.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := QuoteFor(tt.kind, d(tt.weight), d(tt.purity), d(tt.spot), d(tt.discount))
			assert.Equal(t, tt.wantPrice, q.PricePerGram.StringFixed(2))
			assert.Equal(t, tt.wantTotal, q.TotalAmount.StringFixed(2))
			assert.True(t, q.SpotPricePerOz.Equal(d(tt.spot)))
		})
	}
}

func TestQuoteFor_IsPure(t *testing.T) {
	a := QuoteFor(TxBuy, d("7.25"), d("0.916"), d("2411.37"), d("3.5"))
	b := QuoteFor(TxBuy, d("7.25"), d("0.916"), d("2411.37"), d("3.5"))
	assert.True(t, a.TotalAmount.Equal(b.TotalAmount))
	assert.True(t, a.PricePerGram.Equal(b.PricePerGram))
}

func TestSpotPerGram(t *testing.T) {
	assert.Equal(t, "75.554198", SpotPerGram(d("2350")).StringFixed(6))
	assert.True(t, SpotPerGram(GramsPerTroyOunce).Equal(d("1")))
}

func TestWeightedAverage(t *testing.T) {
	assert.True(t, weightedAverage(d("10"), d("60"), d("30"), d("70")).Equal(d("67.5")))
	assert.True(t, weightedAverage(d("0"), d("99"), d("5"), d("70")).Equal(d("70")), "empty batch takes the new cost")
	assert.True(t, weightedAverage(d("0"), d("60"), d("0"), d("70")).IsZero())
}
