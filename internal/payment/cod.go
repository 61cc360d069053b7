package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meridianshop/meridian/internal/logging"
	"github.com/meridianshop/meridian/internal/settings"
)

const CashOnDeliveryID = "cash_on_delivery"

// CashOnDelivery takes no payment up front: the session step only validates
// the order against the configured limits and delivery areas, and payment
// stays pending until the order is delivered.
type CashOnDelivery struct {
	settings settings.Provider
	logger   *slog.Logger
}

func NewCashOnDelivery(settingsProvider settings.Provider, logger *slog.Logger) *CashOnDelivery {
	return &CashOnDelivery{settings: settingsProvider, logger: logger}
}

func (p *CashOnDelivery) Identifier() string {
	return CashOnDeliveryID
}

func (p *CashOnDelivery) Enabled(ctx context.Context) bool {
	method, err := p.settings.PaymentMethod(ctx, CashOnDeliveryID)
	if err != nil {
		logging.FromContext(ctx, p.logger).Error("failed to read cash-on-delivery settings", "error", err)
		return false
	}
	return method.Enabled
}

func (p *CashOnDelivery) CreateSession(ctx context.Context, draft Draft) (*SessionResult, error) {
	method, err := p.settings.PaymentMethod(ctx, CashOnDeliveryID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cash-on-delivery settings: %w", err)
	}

	if method.MinOrderTotal != nil && draft.Amount.LessThan(*method.MinOrderTotal) {
		return &SessionResult{
			Status:  SessionRejected,
			Message: fmt.Sprintf("order total below cash-on-delivery minimum of %s", method.MinOrderTotal),
		}, nil
	}
	if method.MaxOrderTotal != nil && draft.Amount.GreaterThan(*method.MaxOrderTotal) {
		return &SessionResult{
			Status:  SessionRejected,
			Message: fmt.Sprintf("order total above cash-on-delivery maximum of %s", method.MaxOrderTotal),
		}, nil
	}
	if len(method.DeliveryAreas) > 0 && !areaAllowed(method.DeliveryAreas, draft.DeliveryArea) {
		return &SessionResult{
			Status:  SessionRejected,
			Message: fmt.Sprintf("cash on delivery is not available in %q", draft.DeliveryArea),
		}, nil
	}

	return &SessionResult{
		Status:  SessionPending,
		Message: "payment will be collected on delivery",
	}, nil
}

// HandleCallback exists only to satisfy the interface; cash on delivery has
// no asynchronous leg. Payment completion happens through the order-delivered
// transition instead.
func (p *CashOnDelivery) HandleCallback(ctx context.Context, cb Callback) (*CallbackResult, error) {
	return nil, fmt.Errorf("cash on delivery has no gateway callbacks")
}

func (p *CashOnDelivery) ConfigFields() []ConfigField {
	return []ConfigField{
		{Key: "enabled", Label: "Enabled", Type: "bool", Required: true},
		{Key: "min_order_total", Label: "Minimum order total", Type: "decimal"},
		{Key: "max_order_total", Label: "Maximum order total", Type: "decimal"},
		{Key: "delivery_areas", Label: "Delivery areas", Type: "string_list"},
	}
}

func areaAllowed(areas []string, area string) bool {
	for _, allowed := range areas {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(area)) {
			return true
		}
	}
	return false
}
