package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductPricing is the read-only slice of product/variation data the
// settlement path needs: current prices, the sale window, and the fields
// snapshotted onto order items. Catalog management lives elsewhere.
type ProductPricing struct {
	ProductID    uuid.UUID
	VariationID  *uuid.UUID
	Name         string
	SKU          string
	RegularPrice decimal.Decimal
	SalePrice    *decimal.Decimal
	SaleStart    *time.Time
	SaleEnd      *time.Time
}
