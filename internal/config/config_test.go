package config

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func validConfig() *Config {
	return &Config{
		DatabaseURL:        "postgres://localhost/meridian",
		TaxRate:            decimal.NewFromFloat(0.14),
		Currency:           "USD",
		JWTSecret:          strings.Repeat("s", 32),
		PaymentMethodsFile: "payments.yaml",
		CacheProvider:      "memory",
		LogFormat:          "text",
		Port:               "8080",
	}
}

func TestValidateTaxRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rate    string
		wantErr bool
	}{
		{name: "default rate", rate: "0.14", wantErr: false},
		{name: "zero rate", rate: "0", wantErr: false},
		{name: "negative rate", rate: "-0.01", wantErr: true},
		{name: "rate of one", rate: "1", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			rate, err := decimal.NewFromString(tt.rate)
			if err != nil {
				t.Fatal(err)
			}
			cfg.TaxRate = rate

			err = cfg.validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateCurrency(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Currency = "usd"

	err := cfg.validate()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Currency") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCardGatewayCredentialsMustBePaired(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.CardGatewayAPIKey = "merchant-key"

	err := cfg.validate()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "CARD_GATEWAY_API_SECRET") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCardGatewayRequiresBaseURL(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.CardGatewayAPIKey = "merchant-key"
	cfg.CardGatewayAPISecret = "secret"

	err := cfg.validate()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "CARD_GATEWAY_BASE_URL") {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.CardGatewayBaseURL = "https://gateway.example.com"
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStripeWebhookSecretRequired(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.StripeSecretKey = "sk_test_123"

	err := cfg.validate()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "STRIPE_WEBHOOK_SECRET") {
		t.Fatalf("unexpected error: %v", err)
	}
}
