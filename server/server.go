package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/meridianshop/meridian/internal/auth"
	"github.com/meridianshop/meridian/internal/config"
	"github.com/meridianshop/meridian/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.SecurityHeaders)
	r.Use(h.Verifier().Middleware)

	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")

	// Gateway callbacks authenticate by signature, not bearer token.
	r.HandleFunc("/payments/{method}/callback", h.PaymentCallback).Methods("POST").Name("payments.callback")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/payment-methods", h.PaymentMethods).Methods("GET").Name("api.payment_methods")

	// Cart routes work for users and guests alike.
	cartRouter := api.PathPrefix("/cart").Subrouter()
	cartRouter.Use(auth.RequireIdentity)
	cartRouter.HandleFunc("", h.GetCart).Methods("GET").Name("api.cart")
	cartRouter.HandleFunc("/items", h.AddCartItem).Methods("POST").Name("api.cart.items.add")
	cartRouter.HandleFunc("/items/{itemID}", h.UpdateCartItem).Methods("PUT").Name("api.cart.items.update")
	cartRouter.HandleFunc("/items/{itemID}", h.RemoveCartItem).Methods("DELETE").Name("api.cart.items.remove")

	userRouter := api.PathPrefix("").Subrouter()
	userRouter.Use(auth.RequireUser)
	userRouter.HandleFunc("/cart/merge", h.MergeCart).Methods("POST").Name("api.cart.merge")
	userRouter.HandleFunc("/checkout", h.Checkout).Methods("POST").Name("api.checkout")
	userRouter.HandleFunc("/orders", h.ListOrders).Methods("GET").Name("api.orders")
	userRouter.HandleFunc("/orders/{orderID}", h.GetOrder).Methods("GET").Name("api.orders.get")
	userRouter.HandleFunc("/promos/validate", h.ValidatePromo).Methods("GET").Name("api.promos.validate")
	userRouter.HandleFunc("/wallet", h.GetWallet).Methods("GET").Name("api.wallet")
	userRouter.HandleFunc("/wallet/transactions", h.ListWalletTransactions).Methods("GET").Name("api.wallet.transactions")
	userRouter.HandleFunc("/wallet/deposit", h.WalletDeposit).Methods("POST").Name("api.wallet.deposit")
	userRouter.HandleFunc("/wallet/withdraw", h.WalletWithdraw).Methods("POST").Name("api.wallet.withdraw")

	// Admin-only operations.
	api.Handle("/wallet/refund", auth.RequireAdmin(http.HandlerFunc(h.WalletRefund))).Methods("POST").Name("api.wallet.refund")
	api.Handle("/orders/{orderID}/status", auth.RequireAdmin(http.HandlerFunc(h.UpdateOrderStatus))).Methods("PATCH").Name("api.orders.status")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})

	return r
}
