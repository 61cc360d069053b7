package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PromoType string

const (
	PromoFixed   PromoType = "fixed"
	PromoPercent PromoType = "percent"
)

type PromoCode struct {
	ID                uuid.UUID        `json:"id"`
	Code              string           `json:"code"`
	Type              PromoType        `json:"type"`
	Amount            decimal.Decimal  `json:"amount"`
	UsageLimit        *int             `json:"usage_limit,omitempty"`
	UsageLimitPerUser *int             `json:"usage_limit_per_user,omitempty"`
	Used              int              `json:"used"`
	MinOrderTotal     *decimal.Decimal `json:"min_order_total,omitempty"`
	MaxDiscount       *decimal.Decimal `json:"max_discount,omitempty"`
	StartsAt          *time.Time       `json:"starts_at,omitempty"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
	IsActive          bool             `json:"is_active"`
}

// PromoCodeUsage is an append-only join row; the per-user cap is enforced by
// counting these inside the settlement transaction.
type PromoCodeUsage struct {
	ID          uuid.UUID `json:"id"`
	PromoCodeID uuid.UUID `json:"promo_code_id"`
	UserID      uuid.UUID `json:"user_id"`
	OrderID     uuid.UUID `json:"order_id"`
	UsedAt      time.Time `json:"used_at"`
}
