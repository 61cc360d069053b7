package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/gorilla/mux"

	"github.com/meridianshop/meridian/internal/cache"
	"github.com/meridianshop/meridian/internal/observability"
	"github.com/meridianshop/meridian/internal/payment"
	"github.com/meridianshop/meridian/internal/services"
)

const callbackDedupTTL = 24 * time.Hour

// PaymentCallback receives asynchronous gateway notifications. Gateways
// retry on non-2xx responses, so every handled delivery answers 200 with a
// status body; only an unknown order returns 404 to signal the gateway that
// redelivery cannot help until the order exists.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	method := mux.Vars(r)["method"]
	logger := h.loggerFromContext(r.Context()).With("payment_method", method)
	meter := observability.MeterFromContext(r.Context())
	meter.SetAttributes(attribute.String("payment_method", method))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read callback body")
		return
	}

	outcome, err := h.paymentService.HandleCallback(r.Context(), method, payment.Callback{
		Body:   body,
		Header: r.Header,
	})
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrMethodNotFound):
			respondError(w, http.StatusNotFound, "unknown payment method")
		case errors.Is(err, services.ErrOrderNotFound):
			respondError(w, http.StatusNotFound, "order not found")
		default:
			logger.Warn("callback rejected", "error", err)
			meter.Count("webhook.rejected", 1)
			respondError(w, http.StatusBadRequest, "callback rejected")
		}
		return
	}

	if outcome.EventID != "" {
		key := cache.CallbackKey(method, outcome.EventID)
		if _, cacheErr := h.cacheProvider.Get(r.Context(), key); cacheErr == nil {
			meter.Count("webhook.duplicate_delivery", 1)
			respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "message": "event already processed"})
			return
		}
		if cacheErr := h.cacheProvider.Set(r.Context(), key, outcome.OrderNumber, callbackDedupTTL); cacheErr != nil {
			logger.Warn("failed to record callback event in dedup cache", "error", cacheErr)
		}
	}

	status := "ignored"
	if outcome.Applied {
		status = "processed"
	}
	meter.Count("webhook.handled", 1, sentry.WithAttributes(attribute.String("result", status)))
	respondJSON(w, http.StatusOK, map[string]string{"status": status, "message": outcome.Message})
}
