// Package pricing computes line prices and order totals. It is the single
// implementation of the sale-window rule: the cart display path and the
// settlement path both price through here.
package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/models"
)

// Tolerance is the maximum allowed drift when cross-checking client-submitted
// totals against server-computed ones.
var Tolerance = decimal.NewFromFloat(0.01)

// EffectiveUnitPrice returns the sale price when one is set and now falls
// inside the sale window (inclusive on both ends, missing bound treated as
// open), otherwise the regular price.
func EffectiveUnitPrice(p models.ProductPricing, now time.Time) decimal.Decimal {
	if p.SalePrice == nil {
		return p.RegularPrice
	}
	if p.SaleStart != nil && now.Before(*p.SaleStart) {
		return p.RegularPrice
	}
	if p.SaleEnd != nil && now.After(*p.SaleEnd) {
		return p.RegularPrice
	}
	return *p.SalePrice
}

// PricedLine is one cart line after server-side repricing.
type PricedLine struct {
	ProductID   uuid.UUID
	VariationID *uuid.UUID
	Name        string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
}

// PriceLine prices a single cart line: subtotal rounded to 2 decimals before
// it enters the order subtotal, tax at the configured rate.
func PriceLine(p models.ProductPricing, quantity int, taxRate decimal.Decimal, now time.Time) PricedLine {
	unit := EffectiveUnitPrice(p, now)
	subtotal := unit.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
	tax := subtotal.Mul(taxRate).Round(2)
	return PricedLine{
		ProductID:   p.ProductID,
		VariationID: p.VariationID,
		Name:        p.Name,
		SKU:         p.SKU,
		Quantity:    quantity,
		UnitPrice:   unit,
		Subtotal:    subtotal,
		Tax:         tax,
		Total:       subtotal.Add(tax),
	}
}

// Quote is the server-computed money breakdown for a cart.
type Quote struct {
	Lines    []PricedLine
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// BuildQuote sums priced lines and applies shipping and discount. The
// discount is clamped so the total can never go negative.
func BuildQuote(lines []PricedLine, taxRate, shipping, discount decimal.Decimal) Quote {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Subtotal)
	}
	tax := subtotal.Mul(taxRate).Round(2)

	gross := subtotal.Add(tax).Add(shipping)
	// Floor gross at zero before clamping so a pathological negative shipping
	// value can never invert the clamp and produce a negative discount.
	discount = clamp(discount, decimal.Zero, decimal.Max(gross, decimal.Zero))

	return Quote{
		Lines:    lines,
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    gross.Sub(discount).Round(2),
	}
}

// WithinTolerance reports whether two amounts agree within Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
