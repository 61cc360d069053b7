package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestEffectiveUnitPrice(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		pricing models.ProductPricing
		want    string
	}{
		{
			name:    "no sale price",
			pricing: models.ProductPricing{RegularPrice: dec("100")},
			want:    "100",
		},
		{
			name: "sale active within window",
			pricing: models.ProductPricing{
				RegularPrice: dec("100"),
				SalePrice:    decPtr("80"),
				SaleStart:    timePtr(now.Add(-time.Hour)),
				SaleEnd:      timePtr(now.Add(time.Hour)),
			},
			want: "80",
		},
		{
			name: "sale window boundaries are inclusive",
			pricing: models.ProductPricing{
				RegularPrice: dec("100"),
				SalePrice:    decPtr("80"),
				SaleStart:    timePtr(now),
				SaleEnd:      timePtr(now),
			},
			want: "80",
		},
		{
			name: "sale not started",
			pricing: models.ProductPricing{
				RegularPrice: dec("100"),
				SalePrice:    decPtr("80"),
				SaleStart:    timePtr(now.Add(time.Minute)),
			},
			want: "100",
		},
		{
			name: "sale expired",
			pricing: models.ProductPricing{
				RegularPrice: dec("100"),
				SalePrice:    decPtr("80"),
				SaleEnd:      timePtr(now.Add(-time.Minute)),
			},
			want: "100",
		},
		{
			name: "sale with no window is always on",
			pricing: models.ProductPricing{
				RegularPrice: dec("100"),
				SalePrice:    decPtr("80"),
			},
			want: "80",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := EffectiveUnitPrice(tc.pricing, now)
			if !got.Equal(dec(tc.want)) {
				t.Fatalf("EffectiveUnitPrice() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestPriceLine(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	p := models.ProductPricing{
		RegularPrice: dec("100"),
		SalePrice:    decPtr("80"),
		SaleStart:    timePtr(now.Add(-time.Hour)),
		SaleEnd:      timePtr(now.Add(time.Hour)),
	}

	line := PriceLine(p, 2, dec("0.14"), now)
	if !line.Subtotal.Equal(dec("160.00")) {
		t.Fatalf("subtotal = %s, want 160.00", line.Subtotal)
	}
	if !line.Tax.Equal(dec("22.40")) {
		t.Fatalf("tax = %s, want 22.40", line.Tax)
	}
	if !line.Total.Equal(dec("182.40")) {
		t.Fatalf("total = %s, want 182.40", line.Total)
	}
}

func TestPriceLineRoundsBeforeSumming(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	p := models.ProductPricing{RegularPrice: dec("0.333")}

	line := PriceLine(p, 3, decimal.Zero, now)
	if !line.Subtotal.Equal(dec("1.00")) {
		t.Fatalf("subtotal = %s, want 1.00", line.Subtotal)
	}
}

func TestBuildQuote(t *testing.T) {
	t.Parallel()

	taxRate := dec("0.14")

	tests := []struct {
		name     string
		lines    []PricedLine
		shipping string
		discount string
		subtotal string
		tax      string
		total    string
		clamped  string
	}{
		{
			name: "plain totals",
			lines: []PricedLine{
				{Subtotal: dec("160.00")},
				{Subtotal: dec("40.00")},
			},
			shipping: "25.00",
			discount: "0",
			subtotal: "200.00",
			tax:      "28.00",
			total:    "253.00",
			clamped:  "0",
		},
		{
			name: "discount applied",
			lines: []PricedLine{
				{Subtotal: dec("100.00")},
			},
			shipping: "10.00",
			discount: "15.00",
			subtotal: "100.00",
			tax:      "14.00",
			total:    "109.00",
			clamped:  "15.00",
		},
		{
			name: "discount clamped to gross, total never negative",
			lines: []PricedLine{
				{Subtotal: dec("10.00")},
			},
			shipping: "0",
			discount: "999.00",
			subtotal: "10.00",
			tax:      "1.40",
			total:    "0.00",
			clamped:  "11.40",
		},
		{
			name: "negative discount clamped to zero",
			lines: []PricedLine{
				{Subtotal: dec("10.00")},
			},
			shipping: "0",
			discount: "-5.00",
			subtotal: "10.00",
			tax:      "1.40",
			total:    "11.40",
			clamped:  "0",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := BuildQuote(tc.lines, taxRate, dec(tc.shipping), dec(tc.discount))
			if !q.Subtotal.Equal(dec(tc.subtotal)) {
				t.Errorf("subtotal = %s, want %s", q.Subtotal, tc.subtotal)
			}
			if !q.Tax.Equal(dec(tc.tax)) {
				t.Errorf("tax = %s, want %s", q.Tax, tc.tax)
			}
			if !q.Discount.Equal(dec(tc.clamped)) {
				t.Errorf("discount = %s, want %s", q.Discount, tc.clamped)
			}
			if !q.Total.Equal(dec(tc.total)) {
				t.Errorf("total = %s, want %s", q.Total, tc.total)
			}
		})
	}
}

func TestBuildQuoteNegativeShippingKeepsDiscountNonNegative(t *testing.T) {
	t.Parallel()

	// Shipping larger than subtotal+tax drives gross below zero. The clamp
	// bounds must not invert; the discount stays at zero instead of absorbing
	// the negative gross.
	q := BuildQuote([]PricedLine{{Subtotal: dec("100.00")}}, dec("0.14"), dec("-200.00"), dec("0"))

	if q.Discount.IsNegative() {
		t.Fatalf("discount went negative: %s", q.Discount)
	}
	if !q.Discount.Equal(decimal.Zero) {
		t.Errorf("discount = %s, want 0", q.Discount)
	}

	q = BuildQuote([]PricedLine{{Subtotal: dec("100.00")}}, dec("0.14"), dec("-200.00"), dec("50.00"))
	if q.Discount.IsNegative() {
		t.Fatalf("discount went negative: %s", q.Discount)
	}
}

func TestWithinTolerance(t *testing.T) {
	t.Parallel()

	if !WithinTolerance(dec("100.00"), dec("100.01")) {
		t.Fatal("expected 0.01 drift to be tolerated")
	}
	if WithinTolerance(dec("100.00"), dec("100.02")) {
		t.Fatal("expected 0.02 drift to be rejected")
	}
}
