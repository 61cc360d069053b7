// Package payment abstracts payment backends behind one capability-based
// interface. Concrete gateways register in an explicit Registry built at
// startup and injected wherever payments are taken.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrMethodNotFound = errors.New("payment method not found")
	ErrMethodDisabled = errors.New("payment method is disabled")
)

// Draft carries everything a gateway needs to open a session for an order
// that has not been persisted yet.
type Draft struct {
	OrderNumber  string
	UserID       uuid.UUID
	Amount       decimal.Decimal
	Currency     string
	Email        string
	Description  string
	DeliveryArea string
}

type SessionStatus string

const (
	SessionPending  SessionStatus = "pending"
	SessionCreated  SessionStatus = "created"
	SessionRejected SessionStatus = "rejected"
)

// SessionResult is the outcome of the synchronous create-session step.
type SessionResult struct {
	Status         SessionStatus `json:"status"`
	SessionID      string        `json:"session_id,omitempty"`
	TransactionRef string        `json:"transaction_ref,omitempty"`
	RedirectURL    string        `json:"redirect_url,omitempty"`
	Message        string        `json:"message,omitempty"`
}

type Outcome string

const (
	OutcomePaid   Outcome = "paid"
	OutcomeFailed Outcome = "failed"
)

// Callback is one asynchronous delivery from a gateway: the raw body plus
// headers, since some gateways sign via header.
type Callback struct {
	Body   []byte
	Header http.Header
}

// CallbackResult identifies the order and the payment outcome a callback
// reports. EventID deduplicates redelivered callbacks when the gateway
// provides a stable id.
type CallbackResult struct {
	EventID        string
	OrderNumber    string
	SessionID      string
	Outcome        Outcome
	TransactionID  string
	RawStatus      string
	Message        string
	GatewayDetails map[string]any
}

// ConfigField describes one admin-facing configuration knob, so the admin UI
// can render gateway settings without knowing each gateway.
type ConfigField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Provider is the uniform gateway interface.
type Provider interface {
	Identifier() string
	// Enabled reflects live admin configuration; implementations read through
	// the settings provider rather than caching at construction.
	Enabled(ctx context.Context) bool
	// CreateSession runs the synchronous step before order persistence.
	// Gateways without one (cash on delivery) validate and return pending.
	CreateSession(ctx context.Context, draft Draft) (*SessionResult, error)
	HandleCallback(ctx context.Context, cb Callback) (*CallbackResult, error)
	ConfigFields() []ConfigField
}

// Registry holds the configured providers. It is immutable after startup;
// enablement changes flow through each provider's settings lookup instead.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Identifier()] = p
	}
	return &Registry{providers: m}
}

// Get returns the provider for a method identifier, requiring it to be
// enabled.
func (r *Registry) Get(ctx context.Context, id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, id)
	}
	if !p.Enabled(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrMethodDisabled, id)
	}
	return p, nil
}

// Lookup returns the provider regardless of enablement, for callback routing:
// a gateway disabled after taking payments must still settle its callbacks.
func (r *Registry) Lookup(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, id)
	}
	return p, nil
}

// Identifiers lists registered method ids in stable order.
func (r *Registry) Identifiers() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
