package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/models"
)

type WalletStore struct {
	pool *pgxpool.Pool
}

var (
	ErrInsufficientFunds  = errors.New("insufficient wallet balance")
	ErrDuplicateReference = errors.New("wallet transaction reference already used")
)

func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// GetOrCreate returns the user's primary wallet for a currency, creating it
// lazily with a zero balance.
func (s *WalletStore) GetOrCreate(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := conn(ctx, s.pool).QueryRow(ctx, `
		SELECT id, user_id, currency, balance, created_at, updated_at
		FROM wallets WHERE user_id = $1 AND currency = $2
	`, userID, currency).Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		err = conn(ctx, s.pool).QueryRow(ctx, `
			INSERT INTO wallets (id, user_id, currency, balance) VALUES ($1, $2, $3, 0)
			ON CONFLICT (user_id, currency) DO UPDATE SET updated_at = NOW()
			RETURNING id, user_id, currency, balance, created_at, updated_at
		`, uuid.New(), userID, currency).Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get or create wallet: %w", err)
	}
	return w, nil
}

func (s *WalletStore) GetByID(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := conn(ctx, s.pool).QueryRow(ctx, `
		SELECT id, user_id, currency, balance, created_at, updated_at
		FROM wallets WHERE id = $1
	`, walletID).Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return w, nil
}

// Credit increments the balance and appends the ledger entry in one step.
// Run inside a transaction so the balance never reflects a transaction that
// does not exist.
func (s *WalletStore) Credit(ctx context.Context, walletID uuid.UUID, txn *models.WalletTransaction) error {
	_, err := conn(ctx, s.pool).Exec(ctx, `
		UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE id = $2
	`, txn.Amount, walletID)
	if err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	return s.insertTransaction(ctx, walletID, txn)
}

// Debit decrements the balance only when funds suffice; an insufficient
// balance is reported as ErrInsufficientFunds with no ledger entry written.
func (s *WalletStore) Debit(ctx context.Context, walletID uuid.UUID, txn *models.WalletTransaction) error {
	tag, err := conn(ctx, s.pool).Exec(ctx, `
		UPDATE wallets SET balance = balance - $1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1
	`, txn.Amount, walletID)
	if err != nil {
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return s.insertTransaction(ctx, walletID, txn)
}

func (s *WalletStore) insertTransaction(ctx context.Context, walletID uuid.UUID, txn *models.WalletTransaction) error {
	metaJSON, err := json.Marshal(txn.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode transaction metadata: %w", err)
	}

	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	txn.WalletID = walletID

	err = conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, amount, type, status, reference, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (reference) DO NOTHING
		RETURNING created_at
	`, txn.ID, walletID, txn.Amount, txn.Type, txn.Status, txn.Reference, txn.Description, metaJSON).Scan(&txn.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateReference
	}
	if err != nil {
		return fmt.Errorf("failed to insert wallet transaction: %w", err)
	}
	return nil
}

func (s *WalletStore) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, `
		SELECT id, wallet_id, amount, type, status, reference, COALESCE(description, ''), metadata, created_at
		FROM wallet_transactions WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.WalletTransaction
	for rows.Next() {
		var (
			txn  models.WalletTransaction
			meta []byte
		)
		if err := rows.Scan(&txn.ID, &txn.WalletID, &txn.Amount, &txn.Type, &txn.Status,
			&txn.Reference, &txn.Description, &meta, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet transaction: %w", err)
		}
		if meta != nil {
			if err := json.Unmarshal(meta, &txn.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
			}
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// SumCompleted replays the ledger: deposits and refunds positive, withdrawals
// negative, completed entries only. Must always equal the stored balance.
func (s *WalletStore) SumCompleted(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := conn(ctx, s.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'withdrawal' THEN -amount ELSE amount END), 0)
		FROM wallet_transactions
		WHERE wallet_id = $1 AND status = 'completed'
	`, walletID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to replay wallet ledger: %w", err)
	}
	return sum, nil
}
