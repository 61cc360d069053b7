package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianshop/meridian/internal/models"
)

type OrderStore struct {
	pool *pgxpool.Pool
}

var ErrInvalidStatusTransition = errors.New("invalid order status transition")

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts the order and its items. Call inside the settlement
// transaction so a failure leaves nothing behind.
func (s *OrderStore) Create(ctx context.Context, order *models.Order) error {
	metaJSON, err := json.Marshal(order.MetaData)
	if err != nil {
		return fmt.Errorf("failed to encode order metadata: %w", err)
	}

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	err = conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, status, payment_status, payment_method,
			subtotal, tax, shipping_cost, discount, total, currency,
			shipping_method, billing_address_id, shipping_address_id, notes, meta_data
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at
	`,
		order.ID, order.OrderNumber, order.UserID, order.Status, order.PaymentStatus,
		order.PaymentMethod, order.Subtotal, order.Tax, order.ShippingCost,
		order.Discount, order.Total, order.Currency, order.ShippingMethod,
		order.BillingAddressID, order.ShippingAddressID,
		pgtype.Text{String: order.Notes, Valid: order.Notes != ""}, metaJSON,
	).Scan(&order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.OrderID = order.ID
		_, err := conn(ctx, s.pool).Exec(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, variation_id, name, sku,
				quantity, price, subtotal, tax, total
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			item.ID, item.OrderID, item.ProductID, item.VariationID, item.Name,
			item.SKU, item.Quantity, item.Price, item.Subtotal, item.Tax, item.Total,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.getBy(ctx, "id = $1", orderID)
}

func (s *OrderStore) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return s.getBy(ctx, "order_number = $1", orderNumber)
}

// GetByPaymentSession looks an order up by the gateway session id stored in
// its metadata. Fallback path for callbacks missing the merchant reference.
func (s *OrderStore) GetByPaymentSession(ctx context.Context, sessionID string) (*models.Order, error) {
	return s.getBy(ctx, "meta_data->>'payment_session_id' = $1", sessionID)
}

func (s *OrderStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Order, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, order := range orders {
		if err := s.loadItems(ctx, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// MarkPaid transitions payment_status to paid and records the gateway
// transaction reference. The conditional update makes replayed callbacks a
// no-op: an already-paid order reports ErrInvalidStatusTransition, which
// callers treat as benign.
func (s *OrderStore) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentID string) error {
	tag, err := conn(ctx, s.pool).Exec(ctx, `
		UPDATE orders
		SET payment_status = $1, payment_id = $2, paid_at = NOW()
		WHERE id = $3 AND payment_status = 'pending'
	`, models.PaymentPaid, paymentID, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected payment_status pending", ErrInvalidStatusTransition)
	}
	return nil
}

func (s *OrderStore) MarkPaymentFailed(ctx context.Context, orderID uuid.UUID) error {
	tag, err := conn(ctx, s.pool).Exec(ctx, `
		UPDATE orders
		SET payment_status = $1
		WHERE id = $2 AND payment_status = 'pending'
	`, models.PaymentFailed, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected payment_status pending", ErrInvalidStatusTransition)
	}
	return nil
}

// statusTransitions is the forward-only order state machine.
var statusTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusProcessing: {models.StatusPending},
	models.StatusCompleted:  {models.StatusProcessing, models.StatusPending},
	models.StatusCancelled:  {models.StatusPending, models.StatusProcessing},
	models.StatusRefunded:   {models.StatusCompleted},
}

// timestampColumns maps terminal transitions to the column stamped exactly
// once when the transition lands.
var timestampColumns = map[models.OrderStatus]string{
	models.StatusCompleted: "completed_at",
	models.StatusCancelled: "cancelled_at",
	models.StatusRefunded:  "refunded_at",
}

// UpdateStatus applies a forward status transition. Illegal transitions,
// including repeats, report ErrInvalidStatusTransition.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) error {
	from, ok := statusTransitions[to]
	if !ok {
		return fmt.Errorf("%w: no transition into %s", ErrInvalidStatusTransition, to)
	}

	query := `UPDATE orders SET status = $1`
	if col, stamped := timestampColumns[to]; stamped {
		query += `, ` + col + ` = NOW()`
	}
	query += ` WHERE id = $2 AND status = ANY($3)`

	tag, err := conn(ctx, s.pool).Exec(ctx, query, to, orderID, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected status in %v", ErrInvalidStatusTransition, from)
	}
	return nil
}

// MarkRefunded stamps the refund in one step: status, payment_status and
// refunded_at move together inside the refund transaction, so no listener
// has to chase the status change afterwards. The WHERE clause enforces the
// same completed-to-refunded edge as statusTransitions.
func (s *OrderStore) MarkRefunded(ctx context.Context, orderID uuid.UUID) error {
	tag, err := conn(ctx, s.pool).Exec(ctx, `
		UPDATE orders
		SET status = $1, payment_status = $2, refunded_at = NOW()
		WHERE id = $3 AND status = 'completed' AND payment_status = 'paid'
	`, models.StatusRefunded, models.PaymentRefunded, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected completed and paid", ErrInvalidStatusTransition)
	}
	return nil
}

// MergeMetaData merges key/values into the order's meta_data JSON. Gateway
// transaction ids land here rather than in structured columns so gateway
// schema drift cannot break the order table.
func (s *OrderStore) MergeMetaData(ctx context.Context, orderID uuid.UUID, values map[string]any) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	_, err = conn(ctx, s.pool).Exec(ctx, `
		UPDATE orders SET meta_data = COALESCE(meta_data, '{}'::jsonb) || $1::jsonb WHERE id = $2
	`, raw, orderID)
	if err != nil {
		return fmt.Errorf("failed to merge order metadata: %w", err)
	}
	return nil
}

const orderColumns = `
	id, order_number, user_id, status, payment_status, payment_method, payment_id,
	subtotal, tax, shipping_cost, discount, total, currency, shipping_method,
	billing_address_id, shipping_address_id, notes, meta_data,
	created_at, paid_at, completed_at, cancelled_at, refunded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var (
		paymentID pgtype.Text
		notes     pgtype.Text
		meta      []byte
		paidAt    pgtype.Timestamptz
		completed pgtype.Timestamptz
		cancelled pgtype.Timestamptz
		refunded  pgtype.Timestamptz
	)

	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.Status,
		&order.PaymentStatus, &order.PaymentMethod, &paymentID,
		&order.Subtotal, &order.Tax, &order.ShippingCost, &order.Discount,
		&order.Total, &order.Currency, &order.ShippingMethod,
		&order.BillingAddressID, &order.ShippingAddressID, &notes, &meta,
		&order.CreatedAt, &paidAt, &completed, &cancelled, &refunded,
	)
	if err != nil {
		return nil, err
	}

	if paymentID.Valid {
		order.PaymentID = paymentID.String
	}
	if notes.Valid {
		order.Notes = notes.String
	}
	if paidAt.Valid {
		order.PaidAt = paidAt.Time
	}
	if completed.Valid {
		order.CompletedAt = completed.Time
	}
	if cancelled.Valid {
		order.CancelledAt = cancelled.Time
	}
	if refunded.Valid {
		order.RefundedAt = refunded.Time
	}
	if meta != nil {
		if err := json.Unmarshal(meta, &order.MetaData); err != nil {
			return nil, fmt.Errorf("failed to decode order metadata: %w", err)
		}
	}
	return order, nil
}

func (s *OrderStore) getBy(ctx context.Context, where string, arg any) (*models.Order, error) {
	row := conn(ctx, s.pool).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg)
	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderStore) loadItems(ctx context.Context, order *models.Order) error {
	rows, err := conn(ctx, s.pool).Query(ctx, `
		SELECT id, order_id, product_id, variation_id, name, sku,
		       quantity, price, subtotal, tax, total
		FROM order_items WHERE order_id = $1
	`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.VariationID,
			&item.Name, &item.SKU, &item.Quantity, &item.Price,
			&item.Subtotal, &item.Tax, &item.Total,
		); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}
