package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/db"
	"github.com/meridianshop/meridian/internal/promo"
)

// promoRejectionReason maps a validation error to a machine-readable reason
// for the client to render.
func promoRejectionReason(err error) string {
	switch {
	case errors.Is(err, promo.ErrInactive):
		return "inactive"
	case errors.Is(err, promo.ErrNotStarted):
		return "not_started"
	case errors.Is(err, promo.ErrExpired):
		return "expired"
	case errors.Is(err, promo.ErrUsageLimit):
		return "usage_limit_reached"
	case errors.Is(err, promo.ErrUserUsageLimit):
		return "user_usage_limit_reached"
	case errors.Is(err, promo.ErrBelowMinimum):
		return "below_minimum_order"
	default:
		return "invalid"
	}
}

// ValidatePromo checks a promo code against an order total without
// consuming usage. The checkout transaction re-validates under lock.
func (h *Handlers) ValidatePromo(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == nil {
		return
	}

	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}
	total, err := decimal.NewFromString(r.URL.Query().Get("total"))
	if err != nil || total.IsNegative() {
		respondError(w, http.StatusBadRequest, "total must be a non-negative amount")
		return
	}

	p, err := h.promoStore.GetByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, db.ErrPromoNotFound) {
			respondJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": "not_found"})
			return
		}
		h.loggerFromContext(r.Context()).Error("failed to load promo code", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to validate promo code")
		return
	}

	userUses, err := h.promoStore.CountUsageByUser(r.Context(), p.ID, *userID)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to count promo usage", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to validate promo code")
		return
	}

	if err := promo.Validate(*p, time.Now(), total, userUses); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": promoRejectionReason(err)})
		return
	}

	discount, err := promo.Discount(*p, total)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": promoRejectionReason(err)})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"code":     p.Code,
		"type":     p.Type,
		"discount": discount.StringFixed(2),
		"total":    total.Sub(discount).StringFixed(2),
	})
}
