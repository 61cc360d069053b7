package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridianshop/meridian/internal/events"
)

// LogSink records every event in the structured log. It is always registered
// so events remain observable even when no external sink is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) Deliver(ctx context.Context, event events.Event) error {
	attrs := []any{
		"event_id", event.ID,
		"event_type", event.Type,
	}
	if event.OrderID != uuid.Nil {
		attrs = append(attrs, "order_id", event.OrderID)
	}
	if event.From != "" || event.To != "" {
		attrs = append(attrs, "from", event.From, "to", event.To)
	}
	if event.Amount != nil {
		attrs = append(attrs, "amount", event.Amount.StringFixed(2), "currency", event.Currency)
	}
	s.logger.InfoContext(ctx, "domain event", attrs...)
	return nil
}
