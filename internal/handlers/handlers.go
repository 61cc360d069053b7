// Package handlers provides the HTTP surface: checkout, carts, orders,
// wallet, promo validation, and gateway callbacks.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/auth"
	"github.com/meridianshop/meridian/internal/cache"
	"github.com/meridianshop/meridian/internal/config"
	"github.com/meridianshop/meridian/internal/db"
	"github.com/meridianshop/meridian/internal/logging"
	"github.com/meridianshop/meridian/internal/models"
	"github.com/meridianshop/meridian/internal/payment"
	"github.com/meridianshop/meridian/internal/services"
)

const maxBodyBytes = 1 << 20 // 1 MB

type checkoutService interface {
	CreateOrder(ctx context.Context, input services.CheckoutInput) (*services.CheckoutResult, error)
}

type orderService interface {
	Get(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) (*models.Order, error)
}

type paymentCallbackService interface {
	HandleCallback(ctx context.Context, method string, cb payment.Callback) (*services.CallbackOutcome, error)
}

type walletService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error)
	AddFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description, reference string) (*models.WalletTransaction, error)
	DeductFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description, reference string) (*models.WalletTransaction, error)
	ProcessRefund(ctx context.Context, orderID uuid.UUID, amount *decimal.Decimal, reason string) (*models.WalletTransaction, error)
}

// Handlers provides HTTP request handlers for the storefront API.
type Handlers struct {
	config          *config.Config
	cartStore       *db.CartStore
	promoStore      *db.PromoStore
	cacheProvider   cache.Provider
	verifier        *auth.Verifier
	checkoutService checkoutService
	orderService    orderService
	paymentService  paymentCallbackService
	walletService   walletService
	registry        *payment.Registry
	validate        *validator.Validate
	logger          *slog.Logger
}

type Dependencies struct {
	Config          *config.Config
	CartStore       *db.CartStore
	PromoStore      *db.PromoStore
	CacheProvider   cache.Provider
	Verifier        *auth.Verifier
	CheckoutService checkoutService
	OrderService    orderService
	PaymentService  paymentCallbackService
	WalletService   walletService
	Registry        *payment.Registry
	Logger          *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.CartStore == nil {
		return nil, fmt.Errorf("handlers dependencies: cartStore is required")
	}
	if deps.PromoStore == nil {
		return nil, fmt.Errorf("handlers dependencies: promoStore is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("handlers dependencies: verifier is required")
	}
	if deps.CheckoutService == nil {
		return nil, fmt.Errorf("handlers dependencies: checkoutService is required")
	}
	if deps.OrderService == nil {
		return nil, fmt.Errorf("handlers dependencies: orderService is required")
	}
	if deps.PaymentService == nil {
		return nil, fmt.Errorf("handlers dependencies: paymentService is required")
	}
	if deps.WalletService == nil {
		return nil, fmt.Errorf("handlers dependencies: walletService is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("handlers dependencies: registry is required")
	}

	return &Handlers{
		config:          deps.Config,
		cartStore:       deps.CartStore,
		promoStore:      deps.PromoStore,
		cacheProvider:   deps.CacheProvider,
		verifier:        deps.Verifier,
		checkoutService: deps.CheckoutService,
		orderService:    deps.OrderService,
		paymentService:  deps.PaymentService,
		walletService:   deps.WalletService,
		registry:        deps.Registry,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		logger:          logger,
	}, nil
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

// Verifier exposes the auth middleware for route wiring.
func (h *Handlers) Verifier() *auth.Verifier {
	return h.verifier
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PaymentMethods lists available methods with their admin-facing config
// schema, enabled ones only.
func (h *Handlers) PaymentMethods(w http.ResponseWriter, r *http.Request) {
	type methodInfo struct {
		Identifier   string                `json:"identifier"`
		ConfigFields []payment.ConfigField `json:"config_fields"`
	}

	var methods []methodInfo
	for _, id := range h.registry.Identifiers() {
		provider, err := h.registry.Get(r.Context(), id)
		if err != nil {
			continue
		}
		methods = append(methods, methodInfo{
			Identifier:   provider.Identifier(),
			ConfigFields: provider.ConfigFields(),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"currency":        h.config.Currency,
		"payment_methods": methods,
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads and validates a request body into dst.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid field %s: failed on %s", fields[0].Field(), fields[0].Tag()))
			return false
		}
		respondError(w, http.StatusBadRequest, "validation failed")
		return false
	}
	return true
}

// identity returns the request identity, or writes 401 and returns nil.
func (h *Handlers) identity(w http.ResponseWriter, r *http.Request) *auth.Identity {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		respondError(w, http.StatusUnauthorized, "authentication or guest token required")
		return nil
	}
	return identity
}

func authEmail(r *http.Request) string {
	if identity := auth.FromContext(r.Context()); identity != nil {
		return identity.Email
	}
	return ""
}

// userID returns the authenticated user id, or writes 401 and returns nil.
func (h *Handlers) userID(w http.ResponseWriter, r *http.Request) *uuid.UUID {
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.UserID == nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return nil
	}
	return identity.UserID
}
