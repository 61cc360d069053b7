// Package promo holds the pure promo-code eligibility and discount rules.
// Redemption (counter increment + usage row) is transactional and lives in the
// store layer so the eligibility check and the increment share one atomic unit.
package promo

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/models"
)

var (
	ErrInactive         = errors.New("promo code is not active")
	ErrNotStarted       = errors.New("promo code is not yet valid")
	ErrExpired          = errors.New("promo code has expired")
	ErrUsageLimit       = errors.New("promo code usage limit reached")
	ErrUserUsageLimit   = errors.New("promo code usage limit reached for this user")
	ErrBelowMinimum     = errors.New("order total is below the promo code minimum")
	ErrUnknownPromoType = errors.New("unknown promo code type")
)

// IsActive reports whether the code can be redeemed at all right now,
// independent of who is redeeming it.
func IsActive(p models.PromoCode, now time.Time) error {
	if !p.IsActive {
		return ErrInactive
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return ErrNotStarted
	}
	if p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
		return ErrExpired
	}
	if p.UsageLimit != nil && p.Used >= *p.UsageLimit {
		return ErrUsageLimit
	}
	return nil
}

// Validate checks full eligibility for one user and order total. userUses is
// the count of this user's prior redemptions of the code.
func Validate(p models.PromoCode, now time.Time, orderTotal decimal.Decimal, userUses int) error {
	if err := IsActive(p, now); err != nil {
		return err
	}
	if p.UsageLimitPerUser != nil && userUses >= *p.UsageLimitPerUser {
		return ErrUserUsageLimit
	}
	if p.MinOrderTotal != nil && orderTotal.LessThan(*p.MinOrderTotal) {
		return ErrBelowMinimum
	}
	return nil
}

// Discount computes the bounded discount for an order total: fixed amounts are
// capped at the order total, percentages at max_discount when set. Result is
// rounded to 2 decimals and never negative.
func Discount(p models.PromoCode, orderTotal decimal.Decimal) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch p.Type {
	case models.PromoFixed:
		d = p.Amount
		if d.GreaterThan(orderTotal) {
			d = orderTotal
		}
	case models.PromoPercent:
		d = orderTotal.Mul(p.Amount).Div(decimal.NewFromInt(100))
	default:
		return decimal.Zero, ErrUnknownPromoType
	}

	if p.MaxDiscount != nil && d.GreaterThan(*p.MaxDiscount) {
		d = *p.MaxDiscount
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	return d.Round(2), nil
}
