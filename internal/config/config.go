package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// TaxRate is applied to every order subtotal. The rate is deliberately a
	// single explicit setting; nothing else in the codebase hardcodes one.
	TaxRate  decimal.Decimal `env:"TAX_RATE" envDefault:"0.14"`
	Currency string          `env:"CURRENCY" envDefault:"USD" validate:"required,len=3,uppercase"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required,min=32"`

	PaymentMethodsFile string `env:"PAYMENT_METHODS_FILE" envDefault:"payments.yaml" validate:"required"`

	CardGatewayBaseURL    string `env:"CARD_GATEWAY_BASE_URL" validate:"omitempty,url"`
	CardGatewayMerchantID string `env:"CARD_GATEWAY_MERCHANT_ID"`
	CardGatewayAPIKey     string `env:"CARD_GATEWAY_API_KEY"`
	CardGatewayAPISecret  string `env:"CARD_GATEWAY_API_SECRET"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaEventTopic string   `env:"KAFKA_EVENT_TOPIC" envDefault:"shop.events"`

	ResendAPIKey string `env:"RESEND_API_KEY"`
	EmailFrom    string `env:"EMAIL_FROM" validate:"omitempty,email"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`

	SentryDSN string `env:"SENTRY_DSN"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if c.TaxRate.IsNegative() || c.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("TAX_RATE must be in [0, 1)")
	}

	hasCardKey := strings.TrimSpace(c.CardGatewayAPIKey) != ""
	hasCardSecret := strings.TrimSpace(c.CardGatewayAPISecret) != ""
	if hasCardKey != hasCardSecret {
		return fmt.Errorf("CARD_GATEWAY_API_KEY and CARD_GATEWAY_API_SECRET must be set together")
	}
	if hasCardKey {
		baseURL := strings.TrimSpace(c.CardGatewayBaseURL)
		if baseURL == "" {
			return fmt.Errorf("CARD_GATEWAY_BASE_URL is required when card gateway credentials are set")
		}
		if parsed, err := url.Parse(baseURL); err != nil || parsed.Hostname() == "" {
			return fmt.Errorf("CARD_GATEWAY_BASE_URL must be a valid absolute URL")
		}
	}

	if strings.TrimSpace(c.StripeSecretKey) != "" && strings.TrimSpace(c.StripeWebhookSecret) == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	if strings.TrimSpace(c.ResendAPIKey) != "" && strings.TrimSpace(c.EmailFrom) == "" {
		return fmt.Errorf("EMAIL_FROM is required when RESEND_API_KEY is set")
	}

	return nil
}
