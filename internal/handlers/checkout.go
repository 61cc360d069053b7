package handlers

import (
	"errors"
	"net/http"

	"github.com/meridianshop/meridian/internal/db"
	"github.com/meridianshop/meridian/internal/payment"
	"github.com/meridianshop/meridian/internal/promo"
	"github.com/meridianshop/meridian/internal/services"
)

// Checkout settles the authenticated user's cart into an order.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == nil {
		return
	}

	var input services.CheckoutInput
	if !h.decodeJSON(w, r, &input) {
		return
	}
	input.UserID = *userID
	input.Email = authEmail(r)

	result, err := h.checkoutService.CreateOrder(r.Context(), input)
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

func (h *Handlers) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var mismatch *services.TotalMismatchError
	switch {
	case errors.Is(err, services.ErrCartEmpty):
		respondError(w, http.StatusBadRequest, "cart is empty")
	case errors.Is(err, services.ErrNegativeShipping):
		respondError(w, http.StatusBadRequest, "shipping cost cannot be negative")
	case errors.Is(err, services.ErrCartStale):
		respondError(w, http.StatusConflict, "cart has changed, refresh and try again")
	case errors.As(err, &mismatch):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "totals do not match server-side pricing",
			"field":    mismatch.Field,
			"server":   mismatch.Server.StringFixed(2),
			"provided": mismatch.Provided.StringFixed(2),
		})
	case errors.Is(err, services.ErrPaymentRejected):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, payment.ErrMethodNotFound):
		respondError(w, http.StatusBadRequest, "unknown or disabled payment method")
	case errors.Is(err, db.ErrPromoNotFound),
		errors.Is(err, db.ErrPromoLimitExceeded),
		isPromoRejection(err):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, db.ErrAddressNotOwned):
		respondError(w, http.StatusBadRequest, "address does not belong to this account")
	default:
		h.loggerFromContext(r.Context()).Error("checkout failed", "error", err)
		respondError(w, http.StatusInternalServerError, "checkout failed")
	}
}

func isPromoRejection(err error) bool {
	return errors.Is(err, promo.ErrInactive) ||
		errors.Is(err, promo.ErrNotStarted) ||
		errors.Is(err, promo.ErrExpired) ||
		errors.Is(err, promo.ErrUsageLimit) ||
		errors.Is(err, promo.ErrUserUsageLimit) ||
		errors.Is(err, promo.ErrBelowMinimum)
}
