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
	"github.com/meridianshop/meridian/internal/payment"
)

type callbackOrderStore interface {
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetByPaymentSession(ctx context.Context, sessionID string) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, paymentID string) error
	MarkPaymentFailed(ctx context.Context, orderID uuid.UUID) error
	MergeMetaData(ctx context.Context, orderID uuid.UUID, values map[string]any) error
}

// PaymentService settles asynchronous gateway callbacks into payment status
// transitions.
type PaymentService struct {
	registry   *payment.Registry
	orders     callbackOrderStore
	tx         txRunner
	dispatcher eventDispatcher
	logger     *slog.Logger
}

func NewPaymentService(registry *payment.Registry, orders callbackOrderStore, tx txRunner, dispatcher eventDispatcher, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		registry:   registry,
		orders:     orders,
		tx:         tx,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (s *PaymentService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// CallbackOutcome reports what a callback did, including the event id used
// for gateway-level deduplication.
type CallbackOutcome struct {
	EventID     string
	OrderNumber string
	Applied     bool
	Message     string
}

// HandleCallback verifies and settles one gateway callback. Redelivered
// callbacks for an already-settled order are a logged no-op, not an error:
// the conditional transition in the store is the atomic idempotency check.
func (s *PaymentService) HandleCallback(ctx context.Context, method string, cb payment.Callback) (*CallbackOutcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.handle_callback",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("HandleCallback"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("method", method))
	meter.Count("webhook.router.received", 1)

	// Disabled gateways still settle callbacks for payments they took.
	provider, err := s.registry.Lookup(method)
	if err != nil {
		meter.Count("webhook.router.unknown_method", 1)
		return nil, err
	}

	result, err := provider.HandleCallback(ctx, cb)
	if err != nil {
		meter.Count("webhook.router.rejected", 1)
		return nil, fmt.Errorf("callback rejected: %w", err)
	}
	if result == nil {
		// Event type the gateway adapter does not act on.
		return &CallbackOutcome{Applied: false, Message: "event ignored"}, nil
	}

	order, err := s.lookupOrder(ctx, result)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			// A session created for a settlement that aborted before commit.
			logger.Warn("callback for unknown order",
				"method", method,
				"order_number", result.OrderNumber,
				"session_id", result.SessionID)
			meter.Count("webhook.router.orphan", 1)
		}
		return nil, err
	}

	applied := true
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var transitionErr error
		switch result.Outcome {
		case payment.OutcomePaid:
			transitionErr = s.orders.MarkPaid(ctx, order.ID, result.TransactionID)
		case payment.OutcomeFailed:
			transitionErr = s.orders.MarkPaymentFailed(ctx, order.ID)
		default:
			return fmt.Errorf("unknown callback outcome %q", result.Outcome)
		}
		if transitionErr != nil {
			if errors.Is(transitionErr, db.ErrInvalidStatusTransition) {
				applied = false
			} else {
				return transitionErr
			}
		}
		if len(result.GatewayDetails) > 0 {
			return s.orders.MergeMetaData(ctx, order.ID, result.GatewayDetails)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to settle callback: %w", err)
	}

	outcome := &CallbackOutcome{
		EventID:     result.EventID,
		OrderNumber: order.OrderNumber,
		Applied:     applied,
	}
	if !applied {
		outcome.Message = "already settled"
		logger.Info("duplicate callback ignored",
			"method", method,
			"order_number", order.OrderNumber,
			"raw_status", result.RawStatus)
		meter.Count("webhook.router.duplicate", 1)
		return outcome, nil
	}

	meter.Count("webhook.router.processed", 1, sentry.WithAttributes(
		attribute.String("outcome", string(result.Outcome)),
	))
	logger.Info("payment callback settled",
		"method", method,
		"order_number", order.OrderNumber,
		"outcome", result.Outcome,
		"transaction_id", result.TransactionID)

	evt := events.New(events.PaymentStatusChanged)
	evt.OrderID = order.ID
	evt.UserID = order.UserID
	evt.From = string(order.PaymentStatus)
	evt.To = string(paymentStatusFor(result.Outcome))
	evt.Payload = map[string]any{"order_number": order.OrderNumber}
	s.dispatcher.Dispatch(ctx, []events.Event{evt})

	outcome.Message = "callback processed"
	return outcome, nil
}

func (s *PaymentService) lookupOrder(ctx context.Context, result *payment.CallbackResult) (*models.Order, error) {
	if result.OrderNumber != "" {
		order, err := s.orders.GetByOrderNumber(ctx, result.OrderNumber)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to look up order: %w", err)
		}
	}
	if result.SessionID != "" {
		order, err := s.orders.GetByPaymentSession(ctx, result.SessionID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to look up order by session: %w", err)
		}
	}
	return nil, ErrOrderNotFound
}

func paymentStatusFor(outcome payment.Outcome) models.PaymentStatus {
	if outcome == payment.OutcomePaid {
		return models.PaymentPaid
	}
	return models.PaymentFailed
}
