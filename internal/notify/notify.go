// Package notify fans out domain events to the configured sinks: the Kafka
// event stream, transactional email, and the log. Delivery is best-effort;
// sink failures are logged and never fail the transaction that produced the
// events.
package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/meridianshop/meridian/internal/events"
	"github.com/meridianshop/meridian/internal/logging"
	"github.com/meridianshop/meridian/internal/observability"
)

// Sink delivers one event to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event events.Event) error
}

// Dispatcher delivers events to every sink after the producing transaction
// has committed.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Dispatch sends each event to each sink. Failures are logged per sink and
// do not stop delivery to the remaining sinks.
func (d *Dispatcher) Dispatch(ctx context.Context, evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	logger := logging.FromContext(ctx, d.logger)
	meter := observability.MeterFromContext(ctx)

	for _, event := range evts {
		for _, sink := range d.sinks {
			if err := sink.Deliver(ctx, event); err != nil {
				logger.Error("failed to deliver event",
					"sink", sink.Name(),
					"event_id", event.ID,
					"event_type", event.Type,
					"error", err)
				meter.Count("notify.delivery_failed", 1, sentry.WithAttributes(
					attribute.String("sink", sink.Name()),
					attribute.String("event_type", string(event.Type)),
				))
				continue
			}
			meter.Count("notify.delivered", 1, sentry.WithAttributes(
				attribute.String("sink", sink.Name()),
				attribute.String("event_type", string(event.Type)),
			))
		}
	}
}

// Close releases sinks that hold connections, such as the Kafka writer.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, sink := range d.sinks {
		closer, ok := sink.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
