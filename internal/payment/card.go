package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/logging"
	"github.com/meridianshop/meridian/internal/settings"
)

const CardID = "card"

const cardRequestTimeout = 30 * time.Second

type CardConfig struct {
	BaseURL    string
	MerchantID string
	APIKey     string
	APISecret  string
}

// CardGateway integrates with an external card gateway that requires
// HMAC-signed session requests. The gateway's expected amount and timestamp
// encodings differ between deployments and are not documented consistently,
// so session creation walks an ordered candidate list of encodings and API
// versions and takes the first accepted attempt. This fallback is load-bearing;
// do not collapse it to a single encoding without confirmation from the
// gateway operator.
type CardGateway struct {
	cfg      CardConfig
	settings settings.Provider
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

func NewCardGateway(cfg CardConfig, settingsProvider settings.Provider, client *http.Client, logger *slog.Logger) *CardGateway {
	if client == nil {
		client = &http.Client{Timeout: cardRequestTimeout}
	}
	return &CardGateway{
		cfg:      cfg,
		settings: settingsProvider,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}
}

func (g *CardGateway) Identifier() string {
	return CardID
}

func (g *CardGateway) Enabled(ctx context.Context) bool {
	if g.cfg.APIKey == "" || g.cfg.APISecret == "" || g.cfg.BaseURL == "" {
		return false
	}
	method, err := g.settings.PaymentMethod(ctx, CardID)
	if err != nil {
		logging.FromContext(ctx, g.logger).Error("failed to read card gateway settings", "error", err)
		return false
	}
	return method.Enabled
}

// attempt is one (endpoint, amount encoding, timestamp format) combination.
type attempt struct {
	name      string
	path      string
	amount    func(decimal.Decimal) string
	timestamp func(time.Time) string
}

func amountFixed2(d decimal.Decimal) string { return d.StringFixed(2) }
func amountPlain(d decimal.Decimal) string  { return d.String() }
func amountMinor(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).Round(0).String()
}

func tsUnix(t time.Time) string    { return fmt.Sprintf("%d", t.Unix()) }
func tsCompact(t time.Time) string { return t.UTC().Format("20060102150405") }
func tsRFC3339(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// attempts is ordered most-likely-first based on observed gateway behavior.
var attempts = []attempt{
	{name: "v2/fixed2/unix", path: "/api/v2/sessions", amount: amountFixed2, timestamp: tsUnix},
	{name: "v2/fixed2/compact", path: "/api/v2/sessions", amount: amountFixed2, timestamp: tsCompact},
	{name: "v2/minor/unix", path: "/api/v2/sessions", amount: amountMinor, timestamp: tsUnix},
	{name: "v1/fixed2/unix", path: "/api/v1/sessions", amount: amountFixed2, timestamp: tsUnix},
	{name: "v1/plain/compact", path: "/api/v1/sessions", amount: amountPlain, timestamp: tsCompact},
	{name: "v1/minor/rfc3339", path: "/api/v1/sessions", amount: amountMinor, timestamp: tsRFC3339},
}

type cardSessionRequest struct {
	MerchantID        string `json:"merchant_id"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	MerchantReference string `json:"merchant_reference"`
	Timestamp         string `json:"timestamp"`
	Signature         string `json:"signature"`
	Description       string `json:"description,omitempty"`
	CustomerEmail     string `json:"customer_email,omitempty"`
}

type cardSessionResponse struct {
	ResponseCode   string `json:"response_code"`
	Status         string `json:"status"`
	SessionID      string `json:"session_id"`
	TransactionRef string `json:"transaction_ref"`
	RedirectURL    string `json:"redirect_url"`
	Message        string `json:"message"`
}

func (g *CardGateway) CreateSession(ctx context.Context, draft Draft) (*SessionResult, error) {
	logger := logging.FromContext(ctx, g.logger)
	currency := strings.ToUpper(draft.Currency)
	now := g.now()

	var lastErr error
	for _, a := range attempts {
		result, err := g.trySession(ctx, a, draft, currency, now)
		if err != nil {
			logger.Debug("card gateway attempt failed", "attempt", a.name, "error", err)
			lastErr = err
			continue
		}
		logger.Info("card gateway session created", "attempt", a.name, "session_id", result.SessionID)
		return result, nil
	}

	return nil, fmt.Errorf("all card gateway attempts failed: %w", lastErr)
}

func (g *CardGateway) trySession(ctx context.Context, a attempt, draft Draft, currency string, now time.Time) (*SessionResult, error) {
	amount := a.amount(draft.Amount)
	timestamp := a.timestamp(now)

	reqBody := cardSessionRequest{
		MerchantID:        g.cfg.MerchantID,
		Amount:            amount,
		Currency:          currency,
		MerchantReference: draft.OrderNumber,
		Timestamp:         timestamp,
		Signature:         g.sign(amount, currency, draft.OrderNumber, timestamp),
		Description:       draft.Description,
		CustomerEmail:     draft.Email,
	}

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.BaseURL, "/")+a.path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read session response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}

	var parsed cardSessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}

	if !gatewaySuccess(parsed.ResponseCode, parsed.Status) {
		return nil, fmt.Errorf("gateway rejected session: code=%s status=%s message=%s", parsed.ResponseCode, parsed.Status, parsed.Message)
	}
	if parsed.SessionID == "" {
		return nil, fmt.Errorf("gateway accepted session but returned no session id")
	}

	return &SessionResult{
		Status:         SessionCreated,
		SessionID:      parsed.SessionID,
		TransactionRef: parsed.TransactionRef,
		RedirectURL:    parsed.RedirectURL,
		Message:        parsed.Message,
	}, nil
}

// sign computes the request signature: HMAC-SHA256 over the canonical
// concatenation merchantKey|amount|currency|reference|timestamp (no
// separators), keyed by the shared API secret, base64-encoded.
func (g *CardGateway) sign(amount, currency, reference, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.APISecret))
	mac.Write([]byte(g.cfg.APIKey + amount + currency + reference + timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type cardCallbackPayload struct {
	EventID           string          `json:"event_id"`
	MerchantReference string          `json:"merchant_reference"`
	SessionID         string          `json:"session_id"`
	TransactionID     string          `json:"transaction_id"`
	Status            string          `json:"status"`
	ResponseCode      string          `json:"response_code"`
	Amount            json.RawMessage `json:"amount"`
	Currency          string          `json:"currency"`
	Message           string          `json:"message"`
	Signature         string          `json:"signature"`
}

func (g *CardGateway) HandleCallback(ctx context.Context, cb Callback) (*CallbackResult, error) {
	var payload cardCallbackPayload
	if err := json.Unmarshal(cb.Body, &payload); err != nil {
		return nil, fmt.Errorf("invalid callback payload: %w", err)
	}

	if payload.MerchantReference == "" && payload.SessionID == "" {
		return nil, fmt.Errorf("callback identifies no order: missing merchant_reference and session_id")
	}

	if payload.Signature != "" {
		expected := g.callbackSignature(payload.MerchantReference, payload.TransactionID, payload.Status)
		if !hmac.Equal([]byte(expected), []byte(payload.Signature)) {
			return nil, fmt.Errorf("callback signature mismatch")
		}
	}

	outcome := OutcomeFailed
	if gatewaySuccess(payload.ResponseCode, payload.Status) {
		outcome = OutcomePaid
	}

	return &CallbackResult{
		EventID:       payload.EventID,
		OrderNumber:   payload.MerchantReference,
		SessionID:     payload.SessionID,
		Outcome:       outcome,
		TransactionID: payload.TransactionID,
		RawStatus:     firstNonEmpty(payload.Status, payload.ResponseCode),
		Message:       payload.Message,
		GatewayDetails: map[string]any{
			"gateway_transaction_id": payload.TransactionID,
			"gateway_session_id":     payload.SessionID,
			"gateway_status":         payload.Status,
			"gateway_response_code":  payload.ResponseCode,
		},
	}, nil
}

func (g *CardGateway) callbackSignature(reference, transactionID, status string) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.APISecret))
	mac.Write([]byte(reference + transactionID + status))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (g *CardGateway) ConfigFields() []ConfigField {
	return []ConfigField{
		{Key: "enabled", Label: "Enabled", Type: "bool", Required: true},
		{Key: "merchant_id", Label: "Merchant ID", Type: "string", Required: true},
		{Key: "api_key", Label: "API key", Type: "string", Required: true},
		{Key: "api_secret", Label: "API secret", Type: "secret", Required: true},
	}
}

// gatewaySuccess recognizes the gateway's success vocabulary, which differs
// across its API versions.
func gatewaySuccess(code, status string) bool {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "00", "200", "SUCCESS", "APPROVED":
		return true
	}
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS", "APPROVED", "PAID", "CAPTURED":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
