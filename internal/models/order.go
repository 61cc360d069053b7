package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

const PaymentMethodCashOnDelivery = "cash_on_delivery"

// Order is an immutable financial record. Monetary fields never change after
// creation; only status, payment_status and the transition timestamps move,
// and those move forward only.
type Order struct {
	ID                uuid.UUID       `json:"id"`
	OrderNumber       string          `json:"order_number"`
	UserID            uuid.UUID       `json:"user_id"`
	Status            OrderStatus     `json:"status"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	PaymentMethod     string          `json:"payment_method"`
	PaymentID         string          `json:"payment_id,omitempty"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Tax               decimal.Decimal `json:"tax"`
	ShippingCost      decimal.Decimal `json:"shipping_cost"`
	Discount          decimal.Decimal `json:"discount"`
	Total             decimal.Decimal `json:"total"`
	Currency          string          `json:"currency"`
	ShippingMethod    string          `json:"shipping_method"`
	BillingAddressID  uuid.UUID       `json:"billing_address_id"`
	ShippingAddressID uuid.UUID       `json:"shipping_address_id"`
	Notes             string          `json:"notes,omitempty"`
	MetaData          map[string]any  `json:"meta_data,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	PaidAt            time.Time       `json:"paid_at"`
	CompletedAt       time.Time       `json:"completed_at"`
	CancelledAt       time.Time       `json:"cancelled_at"`
	RefundedAt        time.Time       `json:"refunded_at"`
	Items             []OrderItem     `json:"items,omitempty"`
}

// OrderItem snapshots product name and SKU at order time so later product
// edits cannot rewrite order history.
type OrderItem struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	ProductID   uuid.UUID       `json:"product_id"`
	VariationID *uuid.UUID      `json:"variation_id,omitempty"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
}
