// Package services implements the settlement core: converting carts into
// immutable orders, applying payment outcomes, and reconciling wallet
// balances. Services depend on small consumer-side interfaces so tests can
// exercise the transactional logic with fakes.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/events"
	"github.com/meridianshop/meridian/internal/logging"
	"github.com/meridianshop/meridian/internal/models"
	"github.com/meridianshop/meridian/internal/observability"
	"github.com/meridianshop/meridian/internal/payment"
	"github.com/meridianshop/meridian/internal/pricing"
	"github.com/meridianshop/meridian/internal/promo"
)

var (
	ErrCartEmpty        = errors.New("cart is empty")
	ErrCartStale        = errors.New("submitted cart does not match the stored cart")
	ErrPaymentRejected  = errors.New("payment method rejected the order")
	ErrNegativeShipping = errors.New("shipping cost cannot be negative")
)

// TotalMismatchError reports a client-submitted amount that disagrees with
// the server-computed one beyond tolerance. Both values are surfaced so the
// caller can tell tampering or a stale cart apart from a business rejection.
type TotalMismatchError struct {
	Field    string
	Server   decimal.Decimal
	Provided decimal.Decimal
}

func (e *TotalMismatchError) Error() string {
	return fmt.Sprintf("%s mismatch: server computed %s, client submitted %s",
		e.Field, e.Server.StringFixed(2), e.Provided.StringFixed(2))
}

type cartStore interface {
	GetOrCreateByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	ClearItems(ctx context.Context, cartID uuid.UUID) error
}

type productPricingStore interface {
	GetPricing(ctx context.Context, productID uuid.UUID, variationID *uuid.UUID) (*models.ProductPricing, error)
}

type promoStore interface {
	GetByCode(ctx context.Context, code string) (*models.PromoCode, error)
	LockByCode(ctx context.Context, code string) (*models.PromoCode, error)
	CountUsageByUser(ctx context.Context, promoID, userID uuid.UUID) (int, error)
	ConsumeUsage(ctx context.Context, promoID, userID, orderID uuid.UUID) error
}

type orderCreator interface {
	Create(ctx context.Context, order *models.Order) error
}

type addressStore interface {
	VerifyOwnership(ctx context.Context, addressID, userID uuid.UUID) error
	DeliveryArea(ctx context.Context, addressID uuid.UUID) (string, error)
}

type txRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type eventDispatcher interface {
	Dispatch(ctx context.Context, evts []events.Event)
}

// CheckoutService turns carts into orders.
type CheckoutService struct {
	carts      cartStore
	products   productPricingStore
	promos     promoStore
	orders     orderCreator
	addresses  addressStore
	registry   *payment.Registry
	tx         txRunner
	dispatcher eventDispatcher
	taxRate    decimal.Decimal
	currency   string
	logger     *slog.Logger
	now        func() time.Time
}

func NewCheckoutService(
	carts cartStore,
	products productPricingStore,
	promos promoStore,
	orders orderCreator,
	addresses addressStore,
	registry *payment.Registry,
	tx txRunner,
	dispatcher eventDispatcher,
	taxRate decimal.Decimal,
	currency string,
	logger *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		carts:      carts,
		products:   products,
		promos:     promos,
		orders:     orders,
		addresses:  addresses,
		registry:   registry,
		tx:         tx,
		dispatcher: dispatcher,
		taxRate:    taxRate,
		currency:   currency,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *CheckoutService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// ClientCartItem is the client's view of one cart line. Quantity is checked
// against the stored cart and Price, when submitted, against the server
// repricing; the authoritative prices always come from stored product data.
type ClientCartItem struct {
	ProductID   uuid.UUID        `json:"product_id" validate:"required"`
	VariationID *uuid.UUID       `json:"variation_id,omitempty"`
	Quantity    int              `json:"quantity" validate:"required,gte=1"`
	Price       *decimal.Decimal `json:"price,omitempty"`
}

type CheckoutInput struct {
	UserID            uuid.UUID
	Email             string
	PaymentMethod     string           `json:"payment_method" validate:"required"`
	ShippingMethod    string           `json:"shipping_method" validate:"required"`
	ShippingCost      decimal.Decimal  `json:"shipping_cost"`
	Subtotal          decimal.Decimal  `json:"subtotal"`
	Tax               decimal.Decimal  `json:"tax"`
	Total             decimal.Decimal  `json:"total"`
	PromoCode         string           `json:"promo_code,omitempty"`
	BillingAddressID  uuid.UUID        `json:"billing_address_id" validate:"required"`
	ShippingAddressID uuid.UUID        `json:"shipping_address_id" validate:"required"`
	Notes             string           `json:"notes,omitempty"`
	CartItems         []ClientCartItem `json:"cart_items" validate:"required,min=1,dive"`
}

// CheckoutResult is the created order plus the synchronous payment result
// (session id and redirect for card gateways, pending for cash on delivery).
type CheckoutResult struct {
	Order   *models.Order          `json:"order"`
	Payment *payment.SessionResult `json:"payment"`
}

// CreateOrder runs the settlement sequence: server-side re-pricing, promo
// validation, tolerance cross-check against the client's totals, synchronous
// gateway session creation, then one transaction inserting the order and its
// items, consuming promo usage, and clearing the cart. Any failure before
// commit leaves no partial state; a gateway session created for an aborted
// settlement is an acceptable orphan reconciled when its callback finds no
// order.
func (s *CheckoutService) CreateOrder(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.checkout.create_order",
		sentry.WithOpName("service.checkout"),
		sentry.WithDescription("CreateOrder"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("payment_method", input.PaymentMethod))
	recordFailure := func(reason string) {
		meter.Count("checkout.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}
	meter.Count("checkout.received", 1)

	if input.ShippingCost.IsNegative() {
		recordFailure("shipping_negative")
		return nil, ErrNegativeShipping
	}

	cart, err := s.carts.GetOrCreateByUser(ctx, input.UserID)
	if err != nil {
		recordFailure("cart_load_failed")
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		recordFailure("cart_empty")
		return nil, ErrCartEmpty
	}
	if err := matchesCart(cart.Items, input.CartItems); err != nil {
		recordFailure("cart_stale")
		return nil, err
	}

	for _, addressID := range []uuid.UUID{input.BillingAddressID, input.ShippingAddressID} {
		if err := s.addresses.VerifyOwnership(ctx, addressID, input.UserID); err != nil {
			recordFailure("address_not_owned")
			return nil, fmt.Errorf("address validation failed: %w", err)
		}
	}

	now := s.now()
	quote, err := s.priceCart(ctx, cart, input.ShippingCost, now)
	if err != nil {
		recordFailure("pricing_failed")
		return nil, err
	}
	if err := checkLinePrices(quote.Lines, input.CartItems); err != nil {
		recordFailure("price_stale")
		return nil, err
	}

	// Promo eligibility is pre-checked here for an early error; the
	// authoritative check and the counter increment happen under the row
	// lock inside the transaction below.
	var promoCode *models.PromoCode
	if input.PromoCode != "" {
		promoCode, err = s.promos.GetByCode(ctx, input.PromoCode)
		if err != nil {
			recordFailure("promo_not_found")
			return nil, err
		}
		userUses, err := s.promos.CountUsageByUser(ctx, promoCode.ID, input.UserID)
		if err != nil {
			recordFailure("promo_usage_lookup_failed")
			return nil, fmt.Errorf("failed to count promo usage: %w", err)
		}
		if err := promo.Validate(*promoCode, now, quote.Total, userUses); err != nil {
			recordFailure("promo_ineligible")
			return nil, err
		}
		discount, err := promo.Discount(*promoCode, quote.Total)
		if err != nil {
			recordFailure("promo_ineligible")
			return nil, err
		}
		quote = pricing.BuildQuote(quote.Lines, s.taxRate, input.ShippingCost, discount)
	}

	if err := checkTotals(quote, input); err != nil {
		logger.Warn("checkout totals mismatch",
			"user_id", input.UserID,
			"error", err)
		meter.Count("checkout.total_mismatch", 1)
		recordFailure("total_mismatch")
		return nil, err
	}

	orderNumber := newOrderNumber(now)

	// Gateway session creation stays outside the transaction: a session
	// with no order is recoverable, an order with no session is not.
	provider, err := s.registry.Get(ctx, input.PaymentMethod)
	if err != nil {
		recordFailure("payment_method_unavailable")
		return nil, err
	}
	deliveryArea, err := s.addresses.DeliveryArea(ctx, input.ShippingAddressID)
	if err != nil {
		recordFailure("address_lookup_failed")
		return nil, fmt.Errorf("failed to resolve delivery area: %w", err)
	}
	session, err := provider.CreateSession(ctx, payment.Draft{
		OrderNumber:  orderNumber,
		UserID:       input.UserID,
		Amount:       quote.Total,
		Currency:     s.currency,
		Email:        input.Email,
		Description:  "order " + orderNumber,
		DeliveryArea: deliveryArea,
	})
	if err != nil {
		recordFailure("gateway_session_failed")
		return nil, fmt.Errorf("payment session creation failed: %w", err)
	}
	if session.Status == payment.SessionRejected {
		recordFailure("gateway_rejected")
		return nil, fmt.Errorf("%w: %s", ErrPaymentRejected, session.Message)
	}

	order := s.buildOrder(input, quote, orderNumber, session, now)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if promoCode != nil {
			locked, err := s.promos.LockByCode(ctx, promoCode.Code)
			if err != nil {
				return err
			}
			userUses, err := s.promos.CountUsageByUser(ctx, locked.ID, input.UserID)
			if err != nil {
				return fmt.Errorf("failed to count promo usage: %w", err)
			}
			if err := promo.Validate(*locked, now, order.Total.Add(order.Discount), userUses); err != nil {
				return err
			}
			if err := s.promos.ConsumeUsage(ctx, locked.ID, input.UserID, order.ID); err != nil {
				return err
			}
		}
		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}
		return s.carts.ClearItems(ctx, cart.ID)
	})
	if err != nil {
		recordFailure("settlement_failed")
		return nil, err
	}

	meter.Count("order.created", 1)
	logger.Info("order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"user_id", order.UserID,
		"payment_method", order.PaymentMethod,
		"total", order.Total.StringFixed(2))

	created := events.New(events.OrderCreated)
	created.OrderID = order.ID
	created.UserID = order.UserID
	total := order.Total
	created.Amount = &total
	created.Currency = order.Currency
	created.Payload = map[string]any{
		"order_number": order.OrderNumber,
		"email":        input.Email,
	}
	s.dispatcher.Dispatch(ctx, []events.Event{created})

	return &CheckoutResult{Order: order, Payment: session}, nil
}

// priceCart re-prices the stored cart lines from current product data.
func (s *CheckoutService) priceCart(ctx context.Context, cart *models.Cart, shipping decimal.Decimal, now time.Time) (pricing.Quote, error) {
	lines := make([]pricing.PricedLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		product, err := s.products.GetPricing(ctx, item.ProductID, item.VariationID)
		if err != nil {
			return pricing.Quote{}, fmt.Errorf("failed to load product %s: %w", item.ProductID, err)
		}
		lines = append(lines, pricing.PriceLine(*product, item.Quantity, s.taxRate, now))
	}
	return pricing.BuildQuote(lines, s.taxRate, shipping, decimal.Zero), nil
}

func (s *CheckoutService) buildOrder(input CheckoutInput, quote pricing.Quote, orderNumber string, session *payment.SessionResult, now time.Time) *models.Order {
	items := make([]models.OrderItem, 0, len(quote.Lines))
	lineSnapshots := make([]map[string]any, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		items = append(items, models.OrderItem{
			ProductID:   line.ProductID,
			VariationID: line.VariationID,
			Name:        line.Name,
			SKU:         line.SKU,
			Quantity:    line.Quantity,
			Price:       line.UnitPrice,
			Subtotal:    line.Subtotal,
			Tax:         line.Tax,
			Total:       line.Total,
		})
		lineSnapshots = append(lineSnapshots, map[string]any{
			"product_id": line.ProductID,
			"quantity":   line.Quantity,
			"unit_price": line.UnitPrice.StringFixed(2),
			"subtotal":   line.Subtotal.StringFixed(2),
		})
	}

	meta := map[string]any{
		"cart_items": lineSnapshots,
		"pricing": map[string]any{
			"tax_rate":  s.taxRate.String(),
			"priced_at": now.UTC().Format(time.RFC3339),
		},
	}
	if session.SessionID != "" {
		meta["payment_session_id"] = session.SessionID
	}
	if input.PromoCode != "" {
		meta["promo_code"] = input.PromoCode
	}

	return &models.Order{
		ID:                uuid.New(),
		OrderNumber:       orderNumber,
		UserID:            input.UserID,
		Status:            models.StatusPending,
		PaymentStatus:     models.PaymentPending,
		PaymentMethod:     input.PaymentMethod,
		Subtotal:          quote.Subtotal,
		Tax:               quote.Tax,
		ShippingCost:      quote.Shipping,
		Discount:          quote.Discount,
		Total:             quote.Total,
		Currency:          s.currency,
		ShippingMethod:    input.ShippingMethod,
		BillingAddressID:  input.BillingAddressID,
		ShippingAddressID: input.ShippingAddressID,
		Notes:             input.Notes,
		MetaData:          meta,
		Items:             items,
	}
}

// matchesCart verifies the client's cart mirror against the stored cart.
// A deviation means the cart changed since the client priced it; settling
// anyway would surprise the customer, so it aborts like a total mismatch.
func matchesCart(stored []models.CartItem, submitted []ClientCartItem) error {
	if len(stored) != len(submitted) {
		return fmt.Errorf("%w: %d lines stored, %d submitted", ErrCartStale, len(stored), len(submitted))
	}

	type lineKey struct {
		productID   uuid.UUID
		variationID uuid.UUID
	}
	key := func(productID uuid.UUID, variationID *uuid.UUID) lineKey {
		k := lineKey{productID: productID}
		if variationID != nil {
			k.variationID = *variationID
		}
		return k
	}

	quantities := make(map[lineKey]int, len(stored))
	for _, item := range stored {
		quantities[key(item.ProductID, item.VariationID)] += item.Quantity
	}
	for _, item := range submitted {
		k := key(item.ProductID, item.VariationID)
		if quantities[k] != item.Quantity {
			return fmt.Errorf("%w: quantity differs for product %s", ErrCartStale, item.ProductID)
		}
		delete(quantities, k)
	}
	if len(quantities) != 0 {
		return fmt.Errorf("%w: submitted lines do not cover the cart", ErrCartStale)
	}
	return nil
}

// checkLinePrices compares the unit prices the client saw against the
// server-repriced ones. A drift beyond tolerance means a price or sale
// window changed after the client priced the cart, so it aborts like any
// other stale-cart deviation.
func checkLinePrices(lines []pricing.PricedLine, submitted []ClientCartItem) error {
	type lineKey struct {
		productID   uuid.UUID
		variationID uuid.UUID
	}
	key := func(productID uuid.UUID, variationID *uuid.UUID) lineKey {
		k := lineKey{productID: productID}
		if variationID != nil {
			k.variationID = *variationID
		}
		return k
	}

	unitPrices := make(map[lineKey]decimal.Decimal, len(lines))
	for _, line := range lines {
		unitPrices[key(line.ProductID, line.VariationID)] = line.UnitPrice
	}
	for _, item := range submitted {
		if item.Price == nil {
			continue
		}
		unit, ok := unitPrices[key(item.ProductID, item.VariationID)]
		if !ok {
			continue
		}
		if !pricing.WithinTolerance(unit, *item.Price) {
			return fmt.Errorf("%w: unit price differs for product %s", ErrCartStale, item.ProductID)
		}
	}
	return nil
}

// checkTotals compares the client's submitted amounts against the server
// quote within tolerance.
func checkTotals(quote pricing.Quote, input CheckoutInput) error {
	checks := []struct {
		field    string
		server   decimal.Decimal
		provided decimal.Decimal
	}{
		{"subtotal", quote.Subtotal, input.Subtotal},
		{"tax", quote.Tax, input.Tax},
		{"total", quote.Total, input.Total},
	}
	for _, c := range checks {
		if !pricing.WithinTolerance(c.server, c.provided) {
			return &TotalMismatchError{Field: c.field, Server: c.server, Provided: c.provided}
		}
	}
	return nil
}

// newOrderNumber generates ORD<YmdHis><4 random digits>.
func newOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD%s%04d", now.UTC().Format("20060102150405"), rand.Intn(10000))
}
