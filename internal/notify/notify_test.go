package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/events"
)

type recordingSink struct {
	name      string
	delivered []events.Event
	err       error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, event events.Event) error {
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, event)
	return nil
}

func TestDispatcherDeliversToAllSinks(t *testing.T) {
	t.Parallel()

	first := &recordingSink{name: "first"}
	second := &recordingSink{name: "second"}
	d := NewDispatcher(slog.Default(), first, second)

	evts := []events.Event{
		events.New(events.OrderCreated),
		events.New(events.OrderStatusChanged),
	}
	d.Dispatch(context.Background(), evts)

	if len(first.delivered) != 2 || len(second.delivered) != 2 {
		t.Errorf("delivered = %d/%d, want 2/2", len(first.delivered), len(second.delivered))
	}
}

func TestDispatcherContinuesPastFailingSink(t *testing.T) {
	t.Parallel()

	broken := &recordingSink{name: "broken", err: errors.New("connection refused")}
	healthy := &recordingSink{name: "healthy"}
	d := NewDispatcher(slog.Default(), broken, healthy)

	d.Dispatch(context.Background(), []events.Event{events.New(events.OrderCreated)})

	if len(healthy.delivered) != 1 {
		t.Errorf("healthy sink delivered = %d, want 1", len(healthy.delivered))
	}
}

func TestDispatcherNoEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{name: "sink"}
	d := NewDispatcher(slog.Default(), sink)
	d.Dispatch(context.Background(), nil)

	if len(sink.delivered) != 0 {
		t.Errorf("delivered = %d, want 0", len(sink.delivered))
	}
}

func TestRenderEmail(t *testing.T) {
	t.Parallel()

	amount := decimal.RequireFromString("182.40")

	tests := []struct {
		name        string
		event       events.Event
		wantSubject string
	}{
		{
			name: "order created",
			event: events.Event{
				Type:    events.OrderCreated,
				Payload: map[string]any{"order_number": "ORD1"},
			},
			wantSubject: "Order ORD1 received",
		},
		{
			name: "status changed",
			event: events.Event{
				Type:    events.OrderStatusChanged,
				From:    "pending",
				To:      "processing",
				Payload: map[string]any{"order_number": "ORD1"},
			},
			wantSubject: "Order ORD1 is now processing",
		},
		{
			name: "refund with amount",
			event: events.Event{
				Type:     events.OrderRefunded,
				Amount:   &amount,
				Currency: "EGP",
				Payload:  map[string]any{"order_number": "ORD1"},
			},
			wantSubject: "Refund issued for order ORD1",
		},
		{
			name:        "wallet events have no email",
			event:       events.Event{Type: events.WalletCredited, UserID: uuid.New()},
			wantSubject: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			subject, _ := renderEmail(tt.event)
			if subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", subject, tt.wantSubject)
			}
		})
	}
}

func TestEmailSinkSkipsEventsWithoutRecipient(t *testing.T) {
	t.Parallel()

	s := NewEmailSink("re_test_key", "orders@example.com")

	// No recipient in payload: the sink must return nil without calling out.
	if err := s.Deliver(context.Background(), events.New(events.OrderCreated)); err != nil {
		t.Errorf("Deliver() error = %v", err)
	}
}
