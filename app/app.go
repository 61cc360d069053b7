package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/lmittmann/tint"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianshop/meridian/internal/auth"
	"github.com/meridianshop/meridian/internal/cache"
	"github.com/meridianshop/meridian/internal/config"
	"github.com/meridianshop/meridian/internal/db"
	"github.com/meridianshop/meridian/internal/handlers"
	"github.com/meridianshop/meridian/internal/logging"
	"github.com/meridianshop/meridian/internal/notify"
	"github.com/meridianshop/meridian/internal/observability"
	"github.com/meridianshop/meridian/internal/payment"
	"github.com/meridianshop/meridian/internal/services"
	"github.com/meridianshop/meridian/internal/settings"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Dispatcher    *notify.Dispatcher
	Handlers      *handlers.Handlers
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 1.0,
			EnableLogs:       true,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
	}

	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	settingsProvider := settings.NewFileProvider(cfg.PaymentMethodsFile)

	providers := []payment.Provider{
		payment.NewCashOnDelivery(settingsProvider, logger.With("component", "cod_gateway")),
	}
	if cfg.CardGatewayAPIKey != "" {
		providers = append(providers, payment.NewCardGateway(
			payment.CardConfig{
				BaseURL:    cfg.CardGatewayBaseURL,
				MerchantID: cfg.CardGatewayMerchantID,
				APIKey:     cfg.CardGatewayAPIKey,
				APISecret:  cfg.CardGatewayAPISecret,
			},
			settingsProvider,
			observability.NewHTTPClient(30*time.Second),
			logger.With("component", "card_gateway"),
		))
	}
	if cfg.StripeSecretKey != "" {
		providers = append(providers, payment.NewStripeGateway(
			cfg.StripeSecretKey,
			cfg.StripeWebhookSecret,
			settingsProvider,
			logger.With("component", "stripe_gateway"),
		))
	}
	registry := payment.NewRegistry(providers...)

	cartStore := db.NewCartStore(database)
	productStore := db.NewProductStore(database)
	promoStore := db.NewPromoStore(database)
	orderStore := db.NewOrderStore(database)
	addressStore := db.NewAddressStore(database)
	walletStore := db.NewWalletStore(database)
	txRunner := db.NewTxRunner(database)

	sinks := []notify.Sink{notify.NewLogSink(logger.With("component", "event_log"))}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventTopic))
	}
	if cfg.ResendAPIKey != "" {
		sinks = append(sinks, notify.NewEmailSink(cfg.ResendAPIKey, cfg.EmailFrom))
	}
	dispatcher := notify.NewDispatcher(logger.With("component", "dispatcher"), sinks...)

	checkoutService := services.NewCheckoutService(
		cartStore,
		productStore,
		promoStore,
		orderStore,
		addressStore,
		registry,
		txRunner,
		dispatcher,
		cfg.TaxRate,
		cfg.Currency,
		logger.With("component", "checkout_service"),
	)
	orderService := services.NewOrderService(orderStore, txRunner, dispatcher, logger.With("component", "order_service"))
	paymentService := services.NewPaymentService(registry, orderStore, txRunner, dispatcher, logger.With("component", "payment_service"))
	walletService := services.NewWalletService(walletStore, orderStore, txRunner, dispatcher, cfg.Currency, logger.With("component", "wallet_service"))

	h, err := handlers.New(handlers.Dependencies{
		Config:          cfg,
		CartStore:       cartStore,
		PromoStore:      promoStore,
		CacheProvider:   cacheProvider,
		Verifier:        auth.NewVerifier(cfg.JWTSecret),
		CheckoutService: checkoutService,
		OrderService:    orderService,
		PaymentService:  paymentService,
		WalletService:   walletService,
		Registry:        registry,
		Logger:          logger,
	})
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            database,
		CacheProvider: cacheProvider,
		Dispatcher:    dispatcher,
		Handlers:      h,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Close(); err != nil && a.Logger != nil {
			a.Logger.Warn("failed to close event dispatcher", "error", err)
		}
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	sentry.Flush(2 * time.Second)
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var console slog.Handler
	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch format {
	case "json":
		console = slog.NewJSONHandler(os.Stdout, opts)
	default:
		console = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	if cfg.SentryDSN == "" {
		return slog.New(console)
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelInfo, slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	return slog.New(logging.MultiHandler(console, sentryHandler))
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
