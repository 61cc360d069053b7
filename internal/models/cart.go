package models

import (
	"time"

	"github.com/google/uuid"
)

// Cart belongs to exactly one of a user or an anonymous guest token. It stays
// mutable until settlement empties it; the cart row itself is never deleted.
type Cart struct {
	ID         uuid.UUID  `json:"id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	GuestToken string     `json:"guest_token,omitempty"`
	Items      []CartItem `json:"items"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type CartItem struct {
	ID          uuid.UUID  `json:"id"`
	CartID      uuid.UUID  `json:"cart_id"`
	ProductID   uuid.UUID  `json:"product_id"`
	VariationID *uuid.UUID `json:"variation_id,omitempty"`
	Quantity    int        `json:"quantity"`
}
