package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianshop/meridian/internal/models"
)

type CartStore struct {
	pool *pgxpool.Pool
}

func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

// GetOrCreateByUser returns the user's cart, creating an empty one lazily.
func (s *CartStore) GetOrCreateByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	cart := &models.Cart{}
	err := conn(ctx, s.pool).QueryRow(ctx, `
		SELECT id, user_id, guest_token, created_at, updated_at
		FROM carts WHERE user_id = $1
	`, userID).Scan(&cart.ID, &cart.UserID, &cart.GuestToken, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		err = conn(ctx, s.pool).QueryRow(ctx, `
			INSERT INTO carts (id, user_id) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
			RETURNING id, user_id, guest_token, created_at, updated_at
		`, uuid.New(), userID).Scan(&cart.ID, &cart.UserID, &cart.GuestToken, &cart.CreatedAt, &cart.UpdatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get or create cart: %w", err)
	}

	if err := s.loadItems(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// GetOrCreateByGuest returns the anonymous cart for a guest token, creating
// one lazily.
func (s *CartStore) GetOrCreateByGuest(ctx context.Context, guestToken string) (*models.Cart, error) {
	if guestToken == "" {
		return nil, fmt.Errorf("guest token is required")
	}

	cart := &models.Cart{}
	err := conn(ctx, s.pool).QueryRow(ctx, `
		SELECT id, user_id, guest_token, created_at, updated_at
		FROM carts WHERE guest_token = $1
	`, guestToken).Scan(&cart.ID, &cart.UserID, &cart.GuestToken, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		err = conn(ctx, s.pool).QueryRow(ctx, `
			INSERT INTO carts (id, guest_token) VALUES ($1, $2)
			ON CONFLICT (guest_token) DO UPDATE SET updated_at = NOW()
			RETURNING id, user_id, guest_token, created_at, updated_at
		`, uuid.New(), guestToken).Scan(&cart.ID, &cart.UserID, &cart.GuestToken, &cart.CreatedAt, &cart.UpdatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get or create guest cart: %w", err)
	}

	if err := s.loadItems(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// AddItem upserts a line keyed by (cart, product, variation), adding to the
// quantity when the line already exists.
func (s *CartStore) AddItem(ctx context.Context, cartID, productID uuid.UUID, variationID *uuid.UUID, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("quantity must be at least 1")
	}

	_, err := conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, variation_id, quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cart_id, product_id, COALESCE(variation_id, '00000000-0000-0000-0000-000000000000'::uuid))
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
	`, uuid.New(), cartID, productID, variationID, quantity)
	if err != nil {
		return fmt.Errorf("failed to add cart item: %w", err)
	}
	return nil
}

func (s *CartStore) UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("quantity must be at least 1")
	}

	tag, err := conn(ctx, s.pool).Exec(ctx, `
		UPDATE cart_items SET quantity = $1 WHERE id = $2 AND cart_id = $3
	`, quantity, itemID, cartID)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *CartStore) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	_, err := conn(ctx, s.pool).Exec(ctx, `
		DELETE FROM cart_items WHERE id = $1 AND cart_id = $2
	`, itemID, cartID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return nil
}

// ClearItems empties the cart. The cart row survives.
func (s *CartStore) ClearItems(ctx context.Context, cartID uuid.UUID) error {
	_, err := conn(ctx, s.pool).Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// MergeGuestCart folds a guest cart's lines into the user's cart on login,
// summing quantities for lines both carts share, then empties the guest cart.
func (s *CartStore) MergeGuestCart(ctx context.Context, guestToken string, userID uuid.UUID) (*models.Cart, error) {
	guestCart, err := s.GetOrCreateByGuest(ctx, guestToken)
	if err != nil {
		return nil, err
	}
	userCart, err := s.GetOrCreateByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	for _, item := range guestCart.Items {
		if err := s.AddItem(ctx, userCart.ID, item.ProductID, item.VariationID, item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to merge cart line: %w", err)
		}
	}
	if err := s.ClearItems(ctx, guestCart.ID); err != nil {
		return nil, err
	}

	if err := s.loadItems(ctx, userCart); err != nil {
		return nil, err
	}
	return userCart, nil
}

func (s *CartStore) loadItems(ctx context.Context, cart *models.Cart) error {
	rows, err := conn(ctx, s.pool).Query(ctx, `
		SELECT id, cart_id, product_id, variation_id, quantity
		FROM cart_items WHERE cart_id = $1
		ORDER BY created_at
	`, cart.ID)
	if err != nil {
		return fmt.Errorf("failed to load cart items: %w", err)
	}
	defer rows.Close()

	cart.Items = cart.Items[:0]
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &item.VariationID, &item.Quantity); err != nil {
			return fmt.Errorf("failed to scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	return rows.Err()
}
