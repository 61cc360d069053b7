package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/db"
	"github.com/meridianshop/meridian/internal/events"
	"github.com/meridianshop/meridian/internal/logging"
	"github.com/meridianshop/meridian/internal/models"
	"github.com/meridianshop/meridian/internal/observability"
)

var (
	ErrAmountNotPositive  = errors.New("amount must be positive")
	ErrRefundExceedsTotal = errors.New("refund amount exceeds order total")
	ErrOrderNotRefundable = errors.New("order is not refundable")
)

type walletStore interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
	Credit(ctx context.Context, walletID uuid.UUID, txn *models.WalletTransaction) error
	Debit(ctx context.Context, walletID uuid.UUID, txn *models.WalletTransaction) error
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletTransaction, error)
}

type refundOrderStore interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	MarkRefunded(ctx context.Context, orderID uuid.UUID) error
	MergeMetaData(ctx context.Context, orderID uuid.UUID, values map[string]any) error
}

// WalletService owns the wallet ledger: deposits, withdrawals, and order
// refunds.
type WalletService struct {
	wallets    walletStore
	orders     refundOrderStore
	tx         txRunner
	dispatcher eventDispatcher
	currency   string
	logger     *slog.Logger
}

func NewWalletService(wallets walletStore, orders refundOrderStore, tx txRunner, dispatcher eventDispatcher, currency string, logger *slog.Logger) *WalletService {
	return &WalletService{
		wallets:    wallets,
		orders:     orders,
		tx:         tx,
		dispatcher: dispatcher,
		currency:   currency,
		logger:     logger,
	}
}

func (s *WalletService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func (s *WalletService) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return s.wallets.GetOrCreate(ctx, userID, s.currency)
}

func (s *WalletService) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	wallet, err := s.wallets.GetOrCreate(ctx, userID, s.currency)
	if err != nil {
		return nil, err
	}
	return s.wallets.ListTransactions(ctx, wallet.ID, limit)
}

// AddFunds deposits into the user's wallet. The reference defaults to a
// fresh token; callers supplying their own get idempotency across retries.
func (s *WalletService) AddFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description, reference string) (*models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}
	if reference == "" {
		reference = "dep-" + uuid.NewString()
	}

	wallet, err := s.wallets.GetOrCreate(ctx, userID, s.currency)
	if err != nil {
		return nil, err
	}

	txn := &models.WalletTransaction{
		Amount:      amount.Round(2),
		Type:        models.TransactionDeposit,
		Status:      models.TransactionCompleted,
		Reference:   reference,
		Description: description,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.wallets.Credit(ctx, wallet.ID, txn)
	})
	if err != nil {
		return nil, err
	}

	s.emitWalletEvent(ctx, events.WalletCredited, userID, txn)
	return txn, nil
}

// DeductFunds withdraws from the user's wallet. Insufficient funds is a
// normal rejected outcome: no transaction, no balance change.
func (s *WalletService) DeductFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description, reference string) (*models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}
	if reference == "" {
		reference = "wd-" + uuid.NewString()
	}

	wallet, err := s.wallets.GetOrCreate(ctx, userID, s.currency)
	if err != nil {
		return nil, err
	}

	txn := &models.WalletTransaction{
		Amount:      amount.Round(2),
		Type:        models.TransactionWithdrawal,
		Status:      models.TransactionCompleted,
		Reference:   reference,
		Description: description,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.wallets.Debit(ctx, wallet.ID, txn)
	})
	if err != nil {
		return nil, err
	}

	s.emitWalletEvent(ctx, events.WalletDebited, userID, txn)
	return txn, nil
}

// ProcessRefund refunds a paid order into the owner's wallet. The amount
// defaults to the order total and may never exceed it. The order is marked
// refunded and the wallet credited in one transaction; the refund reference
// is derived from the order id, so a retried refund request hits the
// conditional status transition and the unique reference, not the balance.
func (s *WalletService) ProcessRefund(ctx context.Context, orderID uuid.UUID, amount *decimal.Decimal, reason string) (*models.WalletTransaction, error) {
	span := sentry.StartSpan(
		ctx,
		"service.wallet.process_refund",
		sentry.WithOpName("service.wallet"),
		sentry.WithDescription("ProcessRefund"),
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

	refund := order.Total
	if amount != nil {
		refund = amount.Round(2)
	}
	if !refund.IsPositive() {
		return nil, ErrAmountNotPositive
	}
	if refund.GreaterThan(order.Total) {
		meter.Count("refund.rejected", 1, sentry.WithAttributes(
			attribute.String("reason", "exceeds_total"),
		))
		return nil, fmt.Errorf("%w: order total is %s, requested %s",
			ErrRefundExceedsTotal, order.Total.StringFixed(2), refund.StringFixed(2))
	}
	if order.PaymentStatus != models.PaymentPaid {
		meter.Count("refund.rejected", 1, sentry.WithAttributes(
			attribute.String("reason", "not_paid"),
		))
		return nil, fmt.Errorf("%w: payment status is %s", ErrOrderNotRefundable, order.PaymentStatus)
	}

	wallet, err := s.wallets.GetOrCreate(ctx, order.UserID, order.Currency)
	if err != nil {
		return nil, err
	}

	txn := &models.WalletTransaction{
		Amount:      refund,
		Type:        models.TransactionRefund,
		Status:      models.TransactionCompleted,
		Reference:   "refund-" + order.ID.String(),
		Description: "refund for order " + order.OrderNumber,
		Metadata: map[string]any{
			"order_id":     order.ID.String(),
			"order_number": order.OrderNumber,
			"reason":       reason,
		},
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.MarkRefunded(ctx, order.ID); err != nil {
			return err
		}
		if err := s.wallets.Credit(ctx, wallet.ID, txn); err != nil {
			return err
		}
		return s.orders.MergeMetaData(ctx, order.ID, map[string]any{
			"refund_reason": reason,
			"refund_amount": refund.StringFixed(2),
		})
	})
	if err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) || errors.Is(err, db.ErrDuplicateReference) {
			meter.Count("refund.rejected", 1, sentry.WithAttributes(
				attribute.String("reason", "already_refunded"),
			))
			return nil, fmt.Errorf("%w: already refunded", ErrOrderNotRefundable)
		}
		return nil, fmt.Errorf("failed to process refund: %w", err)
	}

	meter.Count("refund.processed", 1)
	logger.Info("order refunded",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"amount", refund.StringFixed(2),
		"reason", reason)

	refunded := events.New(events.OrderRefunded)
	refunded.OrderID = order.ID
	refunded.UserID = order.UserID
	refunded.Amount = &refund
	refunded.Currency = order.Currency
	refunded.Payload = map[string]any{"order_number": order.OrderNumber}
	s.dispatcher.Dispatch(ctx, []events.Event{refunded})

	return txn, nil
}

func (s *WalletService) emitWalletEvent(ctx context.Context, t events.Type, userID uuid.UUID, txn *models.WalletTransaction) {
	evt := events.New(t)
	evt.UserID = userID
	amount := txn.Amount
	evt.Amount = &amount
	evt.Currency = s.currency
	evt.Payload = map[string]any{"reference": txn.Reference}
	s.dispatcher.Dispatch(ctx, []events.Event{evt})
}
