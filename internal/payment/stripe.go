package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/meridianshop/meridian/internal/logging"
	"github.com/meridianshop/meridian/internal/settings"
)

const StripeID = "stripe"

// StripeGateway maps Stripe Checkout onto the uniform provider interface.
type StripeGateway struct {
	client        *stripeapi.Client
	webhookSecret string
	settings      settings.Provider
	logger        *slog.Logger
}

func NewStripeGateway(secretKey, webhookSecret string, settingsProvider settings.Provider, logger *slog.Logger) *StripeGateway {
	var client *stripeapi.Client
	if secretKey != "" {
		client = stripeapi.NewClient(secretKey)
	}
	return &StripeGateway{
		client:        client,
		webhookSecret: webhookSecret,
		settings:      settingsProvider,
		logger:        logger,
	}
}

func (g *StripeGateway) Identifier() string {
	return StripeID
}

func (g *StripeGateway) Enabled(ctx context.Context) bool {
	if g.client == nil {
		return false
	}
	method, err := g.settings.PaymentMethod(ctx, StripeID)
	if err != nil {
		logging.FromContext(ctx, g.logger).Error("failed to read stripe settings", "error", err)
		return false
	}
	return method.Enabled
}

func (g *StripeGateway) CreateSession(ctx context.Context, draft Draft) (*SessionResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}

	// Stripe amounts are minor units.
	amountCents := draft.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	params := &stripeapi.CheckoutSessionCreateParams{
		Mode: stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripeapi.String(draft.Currency),
					ProductData: &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripeapi.String(draft.Description),
					},
					UnitAmount: stripeapi.Int64(amountCents),
				},
				Quantity: stripeapi.Int64(1),
			},
		},
		ClientReferenceID: stripeapi.String(draft.OrderNumber),
		Metadata: map[string]string{
			"order_number": draft.OrderNumber,
			"user_id":      draft.UserID.String(),
		},
	}
	if draft.Email != "" {
		params.CustomerEmail = stripeapi.String(draft.Email)
	}

	session, err := g.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe checkout session: %w", err)
	}

	return &SessionResult{
		Status:      SessionCreated,
		SessionID:   session.ID,
		RedirectURL: session.URL,
	}, nil
}

// HandleCallback validates the webhook signature and maps checkout/session
// events to payment outcomes. Unhandled event types return a nil result.
func (g *StripeGateway) HandleCallback(ctx context.Context, cb Callback) (*CallbackResult, error) {
	signature := cb.Header.Get("Stripe-Signature")
	if signature == "" {
		return nil, fmt.Errorf("missing stripe signature header")
	}

	event, err := webhook.ConstructEvent(cb.Body, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature validation failed: %w", err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_failed":
	default:
		logging.FromContext(ctx, g.logger).Info("unhandled stripe event type", "type", event.Type)
		return nil, nil
	}

	var session stripeapi.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("invalid event object: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("missing session ID")
	}

	outcome := OutcomeFailed
	if event.Type == "checkout.session.completed" {
		outcome = OutcomePaid
	}

	transactionID := ""
	if session.PaymentIntent != nil {
		transactionID = session.PaymentIntent.ID
	}

	return &CallbackResult{
		EventID:       event.ID,
		OrderNumber:   session.ClientReferenceID,
		SessionID:     session.ID,
		Outcome:       outcome,
		TransactionID: transactionID,
		RawStatus:     string(event.Type),
		GatewayDetails: map[string]any{
			"gateway_transaction_id": transactionID,
			"gateway_session_id":     session.ID,
			"gateway_event_type":     string(event.Type),
		},
	}, nil
}

func (g *StripeGateway) ConfigFields() []ConfigField {
	return []ConfigField{
		{Key: "enabled", Label: "Enabled", Type: "bool", Required: true},
		{Key: "secret_key", Label: "Secret key", Type: "secret", Required: true},
		{Key: "webhook_secret", Label: "Webhook signing secret", Type: "secret", Required: true},
	}
}
