package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WalletTransactionType string

const (
	TransactionDeposit    WalletTransactionType = "deposit"
	TransactionWithdrawal WalletTransactionType = "withdrawal"
	TransactionRefund     WalletTransactionType = "refund"
)

type WalletTransactionStatus string

const (
	TransactionPending   WalletTransactionStatus = "pending"
	TransactionCompleted WalletTransactionStatus = "completed"
	TransactionFailed    WalletTransactionStatus = "failed"
)

// Wallet holds a denormalized running balance. The balance is only ever
// mutated in the same transaction that inserts the ledger entry, so replaying
// completed transactions must always reproduce it.
type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WalletTransaction is an append-only ledger entry. Amount is always positive;
// the type carries the sign. Amount never changes after creation.
type WalletTransaction struct {
	ID          uuid.UUID               `json:"id"`
	WalletID    uuid.UUID               `json:"wallet_id"`
	Amount      decimal.Decimal         `json:"amount"`
	Type        WalletTransactionType   `json:"type"`
	Status      WalletTransactionStatus `json:"status"`
	Reference   string                  `json:"reference"`
	Description string                  `json:"description,omitempty"`
	Metadata    map[string]any          `json:"metadata,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

// SignedAmount returns the amount with the ledger sign applied: deposits and
// refunds credit the wallet, withdrawals debit it.
func (t WalletTransaction) SignedAmount() decimal.Decimal {
	if t.Type == TransactionWithdrawal {
		return t.Amount.Neg()
	}
	return t.Amount
}
