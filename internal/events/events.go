// Package events defines the domain events state-transition operations return.
// Transitions never invoke side effects themselves; they hand the event list
// back and a dispatcher fans it out. That keeps refund -> status-change ->
// refund style cycles structurally impossible.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	OrderCreated         Type = "order.created"
	OrderStatusChanged   Type = "order.status_changed"
	PaymentStatusChanged Type = "order.payment_status_changed"
	WalletCredited       Type = "wallet.credited"
	WalletDebited        Type = "wallet.debited"
	OrderRefunded        Type = "order.refunded"
)

type Event struct {
	ID         uuid.UUID        `json:"id"`
	Type       Type             `json:"type"`
	OrderID    uuid.UUID        `json:"order_id,omitempty"`
	UserID     uuid.UUID        `json:"user_id,omitempty"`
	From       string           `json:"from,omitempty"`
	To         string           `json:"to,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Currency   string           `json:"currency,omitempty"`
	Payload    map[string]any   `json:"payload,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

func New(t Type) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
}
