package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/db"
	"github.com/meridianshop/meridian/internal/models"
)

func pendingOrder(method string) *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD202501150930121234",
		UserID:        uuid.New(),
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentPending,
		PaymentMethod: method,
		Total:         decimal.RequireFromString("202.40"),
		Currency:      "EGP",
	}
}

func TestUpdateStatusCashOnDeliveryAutoPay(t *testing.T) {
	t.Parallel()

	order := pendingOrder(models.PaymentMethodCashOnDelivery)
	store := newFakeOrderStore(order)
	dispatch := &fakeDispatcher{}
	s := NewOrderService(store, &fakeTxRunner{}, dispatch, slog.Default())

	updated, err := s.UpdateStatus(context.Background(), order.ID, models.StatusCompleted)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if updated.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", updated.Status)
	}
	if updated.PaymentStatus != models.PaymentPaid {
		t.Errorf("payment_status = %s, want paid (cash collected on delivery)", updated.PaymentStatus)
	}
	if n := len(dispatch.ofType("order.status_changed")); n != 1 {
		t.Errorf("status events = %d, want 1", n)
	}
	if n := len(dispatch.ofType("order.payment_status_changed")); n != 1 {
		t.Errorf("payment status events = %d, want 1", n)
	}

	// Repeating the transition is an invalid-transition error, not a second
	// payment or a second batch of events.
	if _, err := s.UpdateStatus(context.Background(), order.ID, models.StatusCompleted); !errors.Is(err, db.ErrInvalidStatusTransition) {
		t.Fatalf("repeated UpdateStatus() error = %v, want ErrInvalidStatusTransition", err)
	}
	if n := len(dispatch.ofType("order.payment_status_changed")); n != 1 {
		t.Errorf("payment status events after repeat = %d, want 1", n)
	}
}

func TestUpdateStatusCompletedCardOrderKeepsPaymentStatus(t *testing.T) {
	t.Parallel()

	order := pendingOrder("card")
	store := newFakeOrderStore(order)
	dispatch := &fakeDispatcher{}
	s := NewOrderService(store, &fakeTxRunner{}, dispatch, slog.Default())

	updated, err := s.UpdateStatus(context.Background(), order.ID, models.StatusCompleted)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if updated.PaymentStatus != models.PaymentPending {
		t.Errorf("payment_status = %s, want pending (card settles via callback)", updated.PaymentStatus)
	}
	if n := len(dispatch.ofType("order.payment_status_changed")); n != 0 {
		t.Errorf("payment status events = %d, want 0", n)
	}
}

func TestUpdateStatusAlreadyPaidCashOrder(t *testing.T) {
	t.Parallel()

	order := pendingOrder(models.PaymentMethodCashOnDelivery)
	order.PaymentStatus = models.PaymentPaid
	store := newFakeOrderStore(order)
	dispatch := &fakeDispatcher{}
	s := NewOrderService(store, &fakeTxRunner{}, dispatch, slog.Default())

	if _, err := s.UpdateStatus(context.Background(), order.ID, models.StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if n := len(dispatch.ofType("order.payment_status_changed")); n != 0 {
		t.Errorf("payment status events = %d, want 0 for already-paid order", n)
	}
}

func TestUpdateStatusIllegalTransition(t *testing.T) {
	t.Parallel()

	order := pendingOrder("card")
	store := newFakeOrderStore(order)
	s := NewOrderService(store, &fakeTxRunner{}, &fakeDispatcher{}, slog.Default())

	if _, err := s.UpdateStatus(context.Background(), order.ID, models.StatusRefunded); !errors.Is(err, db.ErrInvalidStatusTransition) {
		t.Fatalf("UpdateStatus() error = %v, want ErrInvalidStatusTransition", err)
	}
}

func TestGetRejectsForeignOrder(t *testing.T) {
	t.Parallel()

	order := pendingOrder("card")
	store := newFakeOrderStore(order)
	s := NewOrderService(store, &fakeTxRunner{}, &fakeDispatcher{}, slog.Default())

	if _, err := s.Get(context.Background(), order.ID, uuid.New()); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("Get() error = %v, want ErrOrderNotFound", err)
	}
	if _, err := s.Get(context.Background(), order.ID, order.UserID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}
