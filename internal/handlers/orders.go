package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/meridianshop/meridian/internal/db"
	"github.com/meridianshop/meridian/internal/models"
	"github.com/meridianshop/meridian/internal/services"
)

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == nil {
		return
	}

	orderID, err := uuid.Parse(mux.Vars(r)["orderID"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.orderService.Get(r.Context(), orderID, *userID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		h.loggerFromContext(r.Context()).Error("failed to load order", "error", err, "order_id", orderID)
		respondError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == nil {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	orders, err := h.orderService.ListByUser(r.Context(), *userID, limit)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to list orders", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

type updateOrderStatusRequest struct {
	Status models.OrderStatus `json:"status" validate:"required,oneof=pending processing completed cancelled refunded"`
}

// UpdateOrderStatus moves an order through its fulfilment lifecycle.
// Completing a cash-on-delivery order also marks it paid.
func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(r)["orderID"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req updateOrderStatusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	order, err := h.orderService.UpdateStatus(r.Context(), orderID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			respondError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, db.ErrInvalidStatusTransition):
			respondError(w, http.StatusConflict, "status transition not allowed")
		default:
			h.loggerFromContext(r.Context()).Error("failed to update order status", "error", err, "order_id", orderID)
			respondError(w, http.StatusInternalServerError, "failed to update order status")
		}
		return
	}
	respondJSON(w, http.StatusOK, order)
}
