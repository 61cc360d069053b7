package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/db"
	"github.com/meridianshop/meridian/internal/models"
	"github.com/meridianshop/meridian/internal/payment"
	"github.com/meridianshop/meridian/internal/promo"
	"github.com/meridianshop/meridian/internal/settings"
)

type checkoutFixture struct {
	service   *CheckoutService
	carts     *fakeCartStore
	promos    *fakePromoStore
	orders    *fakeOrderStore
	dispatch  *fakeDispatcher
	userID    uuid.UUID
	productID uuid.UUID
	billing   uuid.UUID
	shipping  uuid.UUID
}

// newCheckoutFixture wires a checkout over one product: regular price 100,
// sale price 80 with an open sale window, quantity 2 in the cart. At the
// default 0.14 tax rate that prices to subtotal 160.00, tax 22.40.
func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()

	userID := uuid.New()
	productID := uuid.New()
	billing := uuid.New()
	shipping := uuid.New()

	salePrice := decimal.RequireFromString("80")
	carts := &fakeCartStore{
		cart: &models.Cart{
			ID:     uuid.New(),
			UserID: &userID,
			Items: []models.CartItem{
				{ID: uuid.New(), ProductID: productID, Quantity: 2},
			},
		},
	}
	products := &fakeProductStore{
		products: map[uuid.UUID]*models.ProductPricing{
			productID: {
				ProductID:    productID,
				Name:         "Meridian Mug",
				SKU:          "MUG-01",
				RegularPrice: decimal.RequireFromString("100"),
				SalePrice:    &salePrice,
			},
		},
	}
	promos := &fakePromoStore{}
	orders := newFakeOrderStore()
	addresses := &fakeAddressStore{
		ownedBy: map[uuid.UUID]uuid.UUID{billing: userID, shipping: userID},
		area:    "Cairo",
	}
	dispatch := &fakeDispatcher{}

	registry := payment.NewRegistry(
		payment.NewCashOnDelivery(settings.StaticProvider{
			payment.CashOnDeliveryID: {Enabled: true},
		}, slog.Default()),
	)

	service := NewCheckoutService(
		carts, products, promos, orders, addresses, registry,
		&fakeTxRunner{}, dispatch,
		decimal.RequireFromString("0.14"), "EGP", slog.Default(),
	)

	return &checkoutFixture{
		service:   service,
		carts:     carts,
		promos:    promos,
		orders:    orders,
		dispatch:  dispatch,
		userID:    userID,
		productID: productID,
		billing:   billing,
		shipping:  shipping,
	}
}

func (f *checkoutFixture) input() CheckoutInput {
	return CheckoutInput{
		UserID:            f.userID,
		Email:             "buyer@example.com",
		PaymentMethod:     payment.CashOnDeliveryID,
		ShippingMethod:    "standard",
		ShippingCost:      decimal.RequireFromString("20"),
		Subtotal:          decimal.RequireFromString("160.00"),
		Tax:               decimal.RequireFromString("22.40"),
		Total:             decimal.RequireFromString("202.40"),
		BillingAddressID:  f.billing,
		ShippingAddressID: f.shipping,
		CartItems: []ClientCartItem{
			{ProductID: f.productID, Quantity: 2},
		},
	}
}

func TestCreateOrder(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)

	result, err := f.service.CreateOrder(context.Background(), f.input())
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	order := result.Order
	if order.Status != models.StatusPending || order.PaymentStatus != models.PaymentPending {
		t.Errorf("status = %s/%s, want pending/pending", order.Status, order.PaymentStatus)
	}
	if !order.Subtotal.Equal(decimal.RequireFromString("160")) {
		t.Errorf("subtotal = %s, want 160.00", order.Subtotal)
	}
	if !order.Tax.Equal(decimal.RequireFromString("22.4")) {
		t.Errorf("tax = %s, want 22.40", order.Tax)
	}
	if !order.Total.Equal(decimal.RequireFromString("202.4")) {
		t.Errorf("total = %s, want 202.40", order.Total)
	}
	if !strings.HasPrefix(order.OrderNumber, "ORD") || len(order.OrderNumber) != len("ORD")+14+4 {
		t.Errorf("order number %q does not match ORD<YmdHis><4 digits>", order.OrderNumber)
	}
	if len(order.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(order.Items))
	}
	item := order.Items[0]
	if item.Name != "Meridian Mug" || item.SKU != "MUG-01" {
		t.Errorf("item snapshot = %q/%q", item.Name, item.SKU)
	}
	if !item.Price.Equal(decimal.RequireFromString("80")) {
		t.Errorf("item price = %s, want sale price 80", item.Price)
	}
	if !f.carts.cleared {
		t.Error("cart was not cleared")
	}
	if result.Payment.Status != payment.SessionPending {
		t.Errorf("payment status = %q, want pending", result.Payment.Status)
	}
	if created := f.dispatch.ofType("order.created"); len(created) != 1 {
		t.Errorf("order.created events = %d, want 1", len(created))
	}
}

func TestCreateOrderExpiredSaleUsesRegularPrice(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	past := time.Now().Add(-time.Hour)
	product := f.service.products.(*fakeProductStore).products[f.productID]
	product.SaleEnd = &past

	// Client priced the cart while the sale was live; the server re-prices
	// at the regular price and the totals no longer agree.
	_, err := f.service.CreateOrder(context.Background(), f.input())

	var mismatch *TotalMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("CreateOrder() error = %v, want TotalMismatchError", err)
	}
	if mismatch.Field != "subtotal" {
		t.Errorf("mismatch field = %q, want subtotal", mismatch.Field)
	}
	if !mismatch.Server.Equal(decimal.RequireFromString("200")) {
		t.Errorf("server subtotal = %s, want 200.00", mismatch.Server)
	}
}

func TestCreateOrderTotalMismatchLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	input := f.input()
	input.Total = decimal.RequireFromString("150.00")

	_, err := f.service.CreateOrder(context.Background(), input)

	var mismatch *TotalMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("CreateOrder() error = %v, want TotalMismatchError", err)
	}
	if !mismatch.Server.Equal(decimal.RequireFromString("202.4")) || !mismatch.Provided.Equal(decimal.RequireFromString("150")) {
		t.Errorf("mismatch = server %s / provided %s", mismatch.Server, mismatch.Provided)
	}
	if len(f.orders.orders) != 0 {
		t.Error("order was created despite mismatch")
	}
	if f.carts.cleared {
		t.Error("cart was cleared despite mismatch")
	}
	if f.promos.consumed != 0 {
		t.Error("promo usage was consumed despite mismatch")
	}
	if len(f.dispatch.events) != 0 {
		t.Error("events were dispatched despite mismatch")
	}
}

func TestCreateOrderWithinTolerance(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	input := f.input()
	// Off by exactly the tolerance: still accepted.
	input.Total = decimal.RequireFromString("202.41")

	if _, err := f.service.CreateOrder(context.Background(), input); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
}

func TestCreateOrderEmptyCart(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	f.carts.cart.Items = nil

	if _, err := f.service.CreateOrder(context.Background(), f.input()); !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("CreateOrder() error = %v, want ErrCartEmpty", err)
	}
}

func TestCreateOrderNegativeShippingRejected(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	input := f.input()
	// A negative shipping cost would drive the gross below zero; totals that
	// the client computed the same way would pass the tolerance cross-check,
	// so the amount itself has to be rejected up front.
	input.ShippingCost = decimal.RequireFromString("-200")
	input.Total = decimal.RequireFromString("0")

	if _, err := f.service.CreateOrder(context.Background(), input); !errors.Is(err, ErrNegativeShipping) {
		t.Fatalf("CreateOrder() error = %v, want ErrNegativeShipping", err)
	}
	if len(f.orders.orders) != 0 {
		t.Error("order was created despite negative shipping cost")
	}
	if f.carts.cleared {
		t.Error("cart was cleared despite negative shipping cost")
	}
	if len(f.dispatch.events) != 0 {
		t.Error("events were dispatched despite negative shipping cost")
	}
}

func TestCreateOrderLinePriceCrossCheck(t *testing.T) {
	t.Parallel()

	t.Run("matching price accepted", func(t *testing.T) {
		t.Parallel()

		f := newCheckoutFixture(t)
		input := f.input()
		price := decimal.RequireFromString("80")
		input.CartItems[0].Price = &price

		if _, err := f.service.CreateOrder(context.Background(), input); err != nil {
			t.Fatalf("CreateOrder() error = %v", err)
		}
	})

	t.Run("stale price rejected", func(t *testing.T) {
		t.Parallel()

		f := newCheckoutFixture(t)
		input := f.input()
		// The client priced against the regular price, but the open sale
		// window makes 80 the effective unit price.
		price := decimal.RequireFromString("100")
		input.CartItems[0].Price = &price

		if _, err := f.service.CreateOrder(context.Background(), input); !errors.Is(err, ErrCartStale) {
			t.Fatalf("CreateOrder() error = %v, want ErrCartStale", err)
		}
		if len(f.orders.orders) != 0 {
			t.Error("order was created despite a stale line price")
		}
	})
}

func TestCreateOrderStaleCart(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	input := f.input()
	input.CartItems[0].Quantity = 3

	if _, err := f.service.CreateOrder(context.Background(), input); !errors.Is(err, ErrCartStale) {
		t.Fatalf("CreateOrder() error = %v, want ErrCartStale", err)
	}
	if len(f.orders.orders) != 0 {
		t.Error("order was created despite stale cart")
	}
}

func TestCreateOrderForeignAddress(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	input := f.input()
	input.BillingAddressID = uuid.New()

	if _, err := f.service.CreateOrder(context.Background(), input); err == nil {
		t.Fatal("CreateOrder() expected error for foreign address")
	}
}

func TestCreateOrderWithPromo(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	maxDiscount := decimal.RequireFromString("15")
	f.promos.promo = &models.PromoCode{
		ID:          uuid.New(),
		Code:        "SAVE10",
		Type:        models.PromoPercent,
		Amount:      decimal.RequireFromString("10"),
		MaxDiscount: &maxDiscount,
		IsActive:    true,
	}

	input := f.input()
	input.PromoCode = "SAVE10"
	// 10% of 202.40 is 20.24, clamped to max_discount 15.
	input.Total = decimal.RequireFromString("187.40")

	result, err := f.service.CreateOrder(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if !result.Order.Discount.Equal(decimal.RequireFromString("15")) {
		t.Errorf("discount = %s, want 15.00", result.Order.Discount)
	}
	if !result.Order.Total.Equal(decimal.RequireFromString("187.4")) {
		t.Errorf("total = %s, want 187.40", result.Order.Total)
	}
	if f.promos.consumed != 1 {
		t.Errorf("promo consumed %d times, want 1", f.promos.consumed)
	}
}

func TestCreateOrderPromoLimitExhausted(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	limit := 5
	f.promos.promo = &models.PromoCode{
		ID:         uuid.New(),
		Code:       "LIMITED",
		Type:       models.PromoFixed,
		Amount:     decimal.RequireFromString("10"),
		UsageLimit: &limit,
		Used:       5,
		IsActive:   true,
	}

	input := f.input()
	input.PromoCode = "LIMITED"
	input.Total = decimal.RequireFromString("192.40")

	if _, err := f.service.CreateOrder(context.Background(), input); err == nil {
		t.Fatal("CreateOrder() expected error for exhausted promo")
	}
	if len(f.orders.orders) != 0 {
		t.Error("order was created despite exhausted promo")
	}
	if f.carts.cleared {
		t.Error("cart was cleared despite exhausted promo")
	}
}

// lockingPromoStore serializes promo reads and the conditional usage
// increment behind one mutex, modelling the row lock plus conditional
// UPDATE the real store uses.
type lockingPromoStore struct {
	mu       sync.Mutex
	promo    *models.PromoCode
	consumed int
}

func (s *lockingPromoStore) GetByCode(_ context.Context, code string) (*models.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.promo == nil || s.promo.Code != code {
		return nil, db.ErrPromoNotFound
	}
	snapshot := *s.promo
	return &snapshot, nil
}

func (s *lockingPromoStore) LockByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	return s.GetByCode(ctx, code)
}

func (s *lockingPromoStore) CountUsageByUser(_ context.Context, _, _ uuid.UUID) (int, error) {
	return 0, nil
}

func (s *lockingPromoStore) ConsumeUsage(_ context.Context, _, _, _ uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.promo.UsageLimit != nil && s.promo.Used >= *s.promo.UsageLimit {
		return db.ErrPromoLimitExceeded
	}
	s.promo.Used++
	s.consumed++
	return nil
}

func TestCreateOrderConcurrentPromoRedemption(t *testing.T) {
	t.Parallel()

	const attempts = 4
	limit := attempts - 1
	shared := &lockingPromoStore{
		promo: &models.PromoCode{
			ID:         uuid.New(),
			Code:       "LIMITED",
			Type:       models.PromoFixed,
			Amount:     decimal.RequireFromString("10"),
			UsageLimit: &limit,
			IsActive:   true,
		},
	}

	fixtures := make([]*checkoutFixture, attempts)
	for i := range fixtures {
		f := newCheckoutFixture(t)
		f.service.promos = shared
		fixtures[i] = f
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i, f := range fixtures {
		wg.Add(1)
		go func(i int, f *checkoutFixture) {
			defer wg.Done()
			input := f.input()
			input.PromoCode = "LIMITED"
			input.Total = decimal.RequireFromString("192.40")
			_, errs[i] = f.service.CreateOrder(context.Background(), input)
		}(i, f)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, db.ErrPromoLimitExceeded) && !errors.Is(err, promo.ErrUsageLimit) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != limit {
		t.Errorf("succeeded = %d, want %d", succeeded, limit)
	}
	if shared.promo.Used != limit {
		t.Errorf("promo used = %d, want %d", shared.promo.Used, limit)
	}
	if shared.consumed != limit {
		t.Errorf("usage rows = %d, want %d", shared.consumed, limit)
	}

	orders := 0
	for _, f := range fixtures {
		orders += len(f.orders.orders)
	}
	if orders != limit {
		t.Errorf("orders created = %d, want %d", orders, limit)
	}
}

func TestCreateOrderGatewayRejection(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)

	// Rebuild the registry with a COD minimum above the order total.
	minTotal := decimal.RequireFromString("500")
	f.service.registry = payment.NewRegistry(
		payment.NewCashOnDelivery(settings.StaticProvider{
			payment.CashOnDeliveryID: {Enabled: true, MinOrderTotal: &minTotal},
		}, slog.Default()),
	)

	_, err := f.service.CreateOrder(context.Background(), f.input())
	if !errors.Is(err, ErrPaymentRejected) {
		t.Fatalf("CreateOrder() error = %v, want ErrPaymentRejected", err)
	}
	if len(f.orders.orders) != 0 {
		t.Error("order was created despite gateway rejection")
	}
}

func TestCreateOrderUnknownPaymentMethod(t *testing.T) {
	t.Parallel()

	f := newCheckoutFixture(t)
	input := f.input()
	input.PaymentMethod = "bank_transfer"

	if _, err := f.service.CreateOrder(context.Background(), input); !errors.Is(err, payment.ErrMethodNotFound) {
		t.Fatalf("CreateOrder() error = %v, want ErrMethodNotFound", err)
	}
}

func TestMatchesCartVariationLines(t *testing.T) {
	t.Parallel()

	productID := uuid.New()
	variationID := uuid.New()

	stored := []models.CartItem{
		{ProductID: productID, Quantity: 1},
		{ProductID: productID, VariationID: &variationID, Quantity: 2},
	}
	submitted := []ClientCartItem{
		{ProductID: productID, Quantity: 1},
		{ProductID: productID, VariationID: &variationID, Quantity: 2},
	}
	if err := matchesCart(stored, submitted); err != nil {
		t.Errorf("matchesCart() error = %v", err)
	}

	swapped := []ClientCartItem{
		{ProductID: productID, Quantity: 2},
		{ProductID: productID, VariationID: &variationID, Quantity: 1},
	}
	if err := matchesCart(stored, swapped); !errors.Is(err, ErrCartStale) {
		t.Errorf("matchesCart() error = %v, want ErrCartStale", err)
	}
}
