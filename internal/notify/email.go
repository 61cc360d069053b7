package notify

import (
	"context"
	"fmt"

	resend "github.com/resend/resend-go/v3"

	"github.com/meridianshop/meridian/internal/events"
)

// EmailSink sends customer-facing emails for the event types that warrant
// one. Events without a customer email or without a template are skipped.
type EmailSink struct {
	client *resend.Client
	from   string
}

func NewEmailSink(apiKey, from string) *EmailSink {
	return &EmailSink{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

func (s *EmailSink) Name() string {
	return "email"
}

func (s *EmailSink) Deliver(ctx context.Context, event events.Event) error {
	to, _ := event.Payload["email"].(string)
	if to == "" {
		return nil
	}

	subject, text := renderEmail(event)
	if subject == "" {
		return nil
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Text:    text,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to send email via resend: %w", err)
	}
	return nil
}

func renderEmail(event events.Event) (subject, text string) {
	orderNumber, _ := event.Payload["order_number"].(string)

	switch event.Type {
	case events.OrderCreated:
		subject = fmt.Sprintf("Order %s received", orderNumber)
		text = fmt.Sprintf("Thanks for your order!\n\nWe received order %s and will let you know as soon as it is on its way.", orderNumber)
	case events.OrderStatusChanged:
		subject = fmt.Sprintf("Order %s is now %s", orderNumber, event.To)
		text = fmt.Sprintf("Your order %s moved from %s to %s.", orderNumber, event.From, event.To)
	case events.OrderRefunded:
		subject = fmt.Sprintf("Refund issued for order %s", orderNumber)
		if event.Amount != nil {
			text = fmt.Sprintf("We refunded %s %s for order %s to your wallet.", event.Amount.StringFixed(2), event.Currency, orderNumber)
		} else {
			text = fmt.Sprintf("We issued a refund for order %s to your wallet.", orderNumber)
		}
	}
	return subject, text
}
