package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AddressStore only answers the questions settlement asks of the address
// book: ownership and the delivery area. Address CRUD is a separate surface.
type AddressStore struct {
	pool *pgxpool.Pool
}

var ErrAddressNotOwned = errors.New("address does not belong to user")

func NewAddressStore(pool *pgxpool.Pool) *AddressStore {
	return &AddressStore{pool: pool}
}

// VerifyOwnership checks that the address exists and belongs to the user.
func (s *AddressStore) VerifyOwnership(ctx context.Context, addressID, userID uuid.UUID) error {
	var owner uuid.UUID
	err := conn(ctx, s.pool).QueryRow(ctx, `
		SELECT user_id FROM addresses WHERE id = $1
	`, addressID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAddressNotOwned
	}
	if err != nil {
		return fmt.Errorf("failed to verify address ownership: %w", err)
	}
	if owner != userID {
		return ErrAddressNotOwned
	}
	return nil
}

// DeliveryArea returns the city of a shipping address, used by the
// cash-on-delivery area allowlist.
func (s *AddressStore) DeliveryArea(ctx context.Context, addressID uuid.UUID) (string, error) {
	var city string
	err := conn(ctx, s.pool).QueryRow(ctx, `
		SELECT COALESCE(city, '') FROM addresses WHERE id = $1
	`, addressID).Scan(&city)
	if err != nil {
		return "", fmt.Errorf("failed to load delivery area: %w", err)
	}
	return city, nil
}
