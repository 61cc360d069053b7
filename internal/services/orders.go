package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianshop/meridian/internal/db"
	"github.com/meridianshop/meridian/internal/events"
	"github.com/meridianshop/meridian/internal/logging"
	"github.com/meridianshop/meridian/internal/models"
	"github.com/meridianshop/meridian/internal/observability"
)

var ErrOrderNotFound = errors.New("order not found")

type orderStore interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) error
	MarkPaid(ctx context.Context, orderID uuid.UUID, paymentID string) error
}

// OrderService owns order retrieval and the status state machine.
type OrderService struct {
	orders     orderStore
	tx         txRunner
	dispatcher eventDispatcher
	logger     *slog.Logger
}

func NewOrderService(orders orderStore, tx txRunner, dispatcher eventDispatcher, logger *slog.Logger) *OrderService {
	return &OrderService{
		orders:     orders,
		tx:         tx,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (s *OrderService) Get(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderLookupErr(err)
	}
	if order.UserID != userID {
		// Not the requester's order; indistinguishable from absent.
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.orders.ListByUser(ctx, userID, limit)
}

// UpdateStatus applies a forward status transition and its side transitions.
// Completing a cash-on-delivery order that is not yet paid marks payment
// collected, in the same transaction as the status change.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.update_status",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("UpdateStatus"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderLookupErr(err)
	}

	collectOnDelivery := to == models.StatusCompleted &&
		order.PaymentMethod == models.PaymentMethodCashOnDelivery &&
		order.PaymentStatus != models.PaymentPaid

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateStatus(ctx, orderID, to); err != nil {
			return err
		}
		if collectOnDelivery {
			if err := s.orders.MarkPaid(ctx, orderID, "cod-"+order.OrderNumber); err != nil {
				// Lost the race with a concurrent transition; the order is
				// already paid, which is the state we wanted.
				if errors.Is(err, db.ErrInvalidStatusTransition) {
					collectOnDelivery = false
					return nil
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	meter.Count("order.status_changed", 1, sentry.WithAttributes(
		attribute.String("to", string(to)),
	))
	logger.Info("order status changed",
		"order_id", orderID,
		"order_number", order.OrderNumber,
		"from", order.Status,
		"to", to)

	evts := []events.Event{statusEvent(order, string(order.Status), string(to))}
	if collectOnDelivery {
		paid := events.New(events.PaymentStatusChanged)
		paid.OrderID = order.ID
		paid.UserID = order.UserID
		paid.From = string(models.PaymentPending)
		paid.To = string(models.PaymentPaid)
		paid.Payload = map[string]any{"order_number": order.OrderNumber}
		evts = append(evts, paid)
	}
	s.dispatcher.Dispatch(ctx, evts)

	return s.orders.GetByID(ctx, orderID)
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func mapOrderLookupErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	return err
}

func statusEvent(order *models.Order, from, to string) events.Event {
	evt := events.New(events.OrderStatusChanged)
	evt.OrderID = order.ID
	evt.UserID = order.UserID
	evt.From = from
	evt.To = to
	evt.Payload = map[string]any{"order_number": order.OrderNumber}
	return evt
}
