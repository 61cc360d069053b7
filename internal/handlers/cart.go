package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/meridianshop/meridian/internal/auth"
	"github.com/meridianshop/meridian/internal/models"
)

// cartForIdentity resolves the cart owned by the current user or guest.
func (h *Handlers) cartForIdentity(r *http.Request, identity *auth.Identity) (*models.Cart, error) {
	if identity.UserID != nil {
		return h.cartStore.GetOrCreateByUser(r.Context(), *identity.UserID)
	}
	return h.cartStore.GetOrCreateByGuest(r.Context(), identity.GuestToken)
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	identity := h.identity(w, r)
	if identity == nil {
		return
	}

	cart, err := h.cartForIdentity(r, identity)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to load cart", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load cart")
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

type addCartItemRequest struct {
	ProductID   uuid.UUID  `json:"product_id" validate:"required"`
	VariationID *uuid.UUID `json:"variation_id,omitempty"`
	Quantity    int        `json:"quantity" validate:"required,gte=1,lte=100"`
}

func (h *Handlers) AddCartItem(w http.ResponseWriter, r *http.Request) {
	identity := h.identity(w, r)
	if identity == nil {
		return
	}

	var req addCartItemRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	cart, err := h.cartForIdentity(r, identity)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to load cart", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load cart")
		return
	}

	if err := h.cartStore.AddItem(r.Context(), cart.ID, req.ProductID, req.VariationID, req.Quantity); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to add cart item", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to add item")
		return
	}

	cart, err = h.cartForIdentity(r, identity)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload cart")
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"required,gte=1,lte=100"`
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	identity := h.identity(w, r)
	if identity == nil {
		return
	}

	itemID, err := uuid.Parse(mux.Vars(r)["itemID"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req updateCartItemRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	cart, err := h.cartForIdentity(r, identity)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load cart")
		return
	}

	if err := h.cartStore.UpdateItemQuantity(r.Context(), cart.ID, itemID, req.Quantity); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to update cart item", "error", err, "item_id", itemID)
		respondError(w, http.StatusInternalServerError, "failed to update item")
		return
	}

	cart, err = h.cartForIdentity(r, identity)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload cart")
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *Handlers) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	identity := h.identity(w, r)
	if identity == nil {
		return
	}

	itemID, err := uuid.Parse(mux.Vars(r)["itemID"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	cart, err := h.cartForIdentity(r, identity)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load cart")
		return
	}

	if err := h.cartStore.RemoveItem(r.Context(), cart.ID, itemID); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to remove cart item", "error", err, "item_id", itemID)
		respondError(w, http.StatusInternalServerError, "failed to remove item")
		return
	}

	cart, err = h.cartForIdentity(r, identity)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload cart")
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

type mergeCartRequest struct {
	GuestToken string `json:"guest_token" validate:"required"`
}

// MergeCart folds a guest cart into the authenticated user's cart after
// login. Quantities for matching lines are summed.
func (h *Handlers) MergeCart(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == nil {
		return
	}

	var req mergeCartRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	cart, err := h.cartStore.MergeGuestCart(r.Context(), req.GuestToken, *userID)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to merge guest cart", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to merge cart")
		return
	}
	respondJSON(w, http.StatusOK, cart)
}
