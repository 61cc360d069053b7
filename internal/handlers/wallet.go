package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/db"
	"github.com/meridianshop/meridian/internal/models"
	"github.com/meridianshop/meridian/internal/services"
)

func (h *Handlers) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == nil {
		return
	}

	wallet, err := h.walletService.GetOrCreate(r.Context(), *userID)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to load wallet", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}

func (h *Handlers) ListWalletTransactions(w http.ResponseWriter, r *http.Request) {
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

	transactions, err := h.walletService.ListTransactions(r.Context(), *userID, limit)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to list wallet transactions", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if transactions == nil {
		transactions = []models.WalletTransaction{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

type walletMovementRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Description string          `json:"description,omitempty"`
	Reference   string          `json:"reference,omitempty"`
}

func (h *Handlers) WalletDeposit(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == nil {
		return
	}

	var req walletMovementRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	txn, err := h.walletService.AddFunds(r.Context(), *userID, req.Amount, req.Description, req.Reference)
	if err != nil {
		h.writeWalletError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

func (h *Handlers) WalletWithdraw(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == nil {
		return
	}

	var req walletMovementRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	txn, err := h.walletService.DeductFunds(r.Context(), *userID, req.Amount, req.Description, req.Reference)
	if err != nil {
		h.writeWalletError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

type refundRequest struct {
	OrderID uuid.UUID        `json:"order_id" validate:"required"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}

// WalletRefund credits a paid order's total (or a partial amount) back to
// the buyer's wallet and marks the order refunded. Admin only.
func (h *Handlers) WalletRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	txn, err := h.walletService.ProcessRefund(r.Context(), req.OrderID, req.Amount, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			respondError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, services.ErrOrderNotRefundable),
			errors.Is(err, services.ErrRefundExceedsTotal),
			errors.Is(err, services.ErrAmountNotPositive):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.loggerFromContext(r.Context()).Error("refund failed", "error", err, "order_id", req.OrderID)
			respondError(w, http.StatusInternalServerError, "refund failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

func (h *Handlers) writeWalletError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrAmountNotPositive):
		respondError(w, http.StatusBadRequest, "amount must be positive")
	case errors.Is(err, db.ErrInsufficientFunds):
		respondError(w, http.StatusUnprocessableEntity, "insufficient wallet balance")
	case errors.Is(err, db.ErrDuplicateReference):
		respondError(w, http.StatusConflict, "reference already used")
	default:
		h.loggerFromContext(r.Context()).Error("wallet operation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "wallet operation failed")
	}
}
