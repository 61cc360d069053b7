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

type PromoStore struct {
	pool *pgxpool.Pool
}

var (
	ErrPromoNotFound      = errors.New("promo code not found")
	ErrPromoLimitExceeded = errors.New("promo code usage limit exceeded")
)

func NewPromoStore(pool *pgxpool.Pool) *PromoStore {
	return &PromoStore{pool: pool}
}

const promoColumns = `
	id, code, type, amount, usage_limit, usage_limit_per_user, used,
	min_order_total, max_discount, starts_at, expires_at, is_active`

func (s *PromoStore) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	return s.fetch(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE code = $1`, code)
}

// LockByCode loads the promo row FOR UPDATE. Call inside the settlement
// transaction so concurrent checkouts serialize on the usage counter.
func (s *PromoStore) LockByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	return s.fetch(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE code = $1 FOR UPDATE`, code)
}

func (s *PromoStore) fetch(ctx context.Context, query, code string) (*models.PromoCode, error) {
	p := &models.PromoCode{}
	err := conn(ctx, s.pool).QueryRow(ctx, query, code).Scan(
		&p.ID, &p.Code, &p.Type, &p.Amount, &p.UsageLimit, &p.UsageLimitPerUser,
		&p.Used, &p.MinOrderTotal, &p.MaxDiscount, &p.StartsAt, &p.ExpiresAt, &p.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPromoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load promo code: %w", err)
	}
	return p, nil
}

// CountUsageByUser returns how many times the user has redeemed the code.
func (s *PromoStore) CountUsageByUser(ctx context.Context, promoID, userID uuid.UUID) (int, error) {
	var count int
	err := conn(ctx, s.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM promo_code_usages WHERE promo_code_id = $1 AND user_id = $2
	`, promoID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count promo usage: %w", err)
	}
	return count, nil
}

// ConsumeUsage increments the usage counter and records the redemption in one
// atomic step. The conditional update is what makes the global cap race-safe:
// two concurrent checkouts can both read used < limit, but only the ones that
// still fit when the increment lands succeed.
func (s *PromoStore) ConsumeUsage(ctx context.Context, promoID, userID, orderID uuid.UUID) error {
	tag, err := conn(ctx, s.pool).Exec(ctx, `
		UPDATE promo_codes SET used = used + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used < usage_limit)
	`, promoID)
	if err != nil {
		return fmt.Errorf("failed to increment promo usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPromoLimitExceeded
	}

	_, err = conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO promo_code_usages (id, promo_code_id, user_id, order_id)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), promoID, userID, orderID)
	if err != nil {
		return fmt.Errorf("failed to record promo usage: %w", err)
	}
	return nil
}
