package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/meridianshop/meridian/internal/db"
	"github.com/meridianshop/meridian/internal/events"
	"github.com/meridianshop/meridian/internal/models"
)

// fakeTxRunner runs the function directly. Store fakes keep their own state,
// so rollback semantics are asserted by checking which fakes were mutated.
type fakeTxRunner struct {
	calls int
}

func (r *fakeTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	return fn(ctx)
}

type fakeDispatcher struct {
	events []events.Event
}

func (d *fakeDispatcher) Dispatch(_ context.Context, evts []events.Event) {
	d.events = append(d.events, evts...)
}

func (d *fakeDispatcher) ofType(t events.Type) []events.Event {
	var matched []events.Event
	for _, evt := range d.events {
		if evt.Type == t {
			matched = append(matched, evt)
		}
	}
	return matched
}

type fakeCartStore struct {
	cart    *models.Cart
	cleared bool
}

func (s *fakeCartStore) GetOrCreateByUser(_ context.Context, userID uuid.UUID) (*models.Cart, error) {
	if s.cart == nil {
		s.cart = &models.Cart{ID: uuid.New(), UserID: &userID}
	}
	return s.cart, nil
}

func (s *fakeCartStore) ClearItems(_ context.Context, cartID uuid.UUID) error {
	s.cleared = true
	return nil
}

type fakeProductStore struct {
	products map[uuid.UUID]*models.ProductPricing
}

func (s *fakeProductStore) GetPricing(_ context.Context, productID uuid.UUID, _ *uuid.UUID) (*models.ProductPricing, error) {
	p, ok := s.products[productID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return p, nil
}

type fakePromoStore struct {
	promo    *models.PromoCode
	userUses int
	consumed int
}

func (s *fakePromoStore) GetByCode(_ context.Context, code string) (*models.PromoCode, error) {
	if s.promo == nil || s.promo.Code != code {
		return nil, db.ErrPromoNotFound
	}
	return s.promo, nil
}

func (s *fakePromoStore) LockByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	return s.GetByCode(ctx, code)
}

func (s *fakePromoStore) CountUsageByUser(_ context.Context, _, _ uuid.UUID) (int, error) {
	return s.userUses, nil
}

func (s *fakePromoStore) ConsumeUsage(_ context.Context, _, _, _ uuid.UUID) error {
	if s.promo.UsageLimit != nil && s.promo.Used >= *s.promo.UsageLimit {
		return db.ErrPromoLimitExceeded
	}
	s.promo.Used++
	s.consumed++
	return nil
}

type fakeOrderStore struct {
	orders    map[uuid.UUID]*models.Order
	createErr error
}

func newFakeOrderStore(orders ...*models.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[uuid.UUID]*models.Order)}
	for _, order := range orders {
		s.orders[order.ID] = order
	}
	return s
}

func (s *fakeOrderStore) Create(_ context.Context, order *models.Order) error {
	if s.createErr != nil {
		return s.createErr
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.CreatedAt = time.Now()
	s.orders[order.ID] = order
	return nil
}

func (s *fakeOrderStore) GetByID(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return order, nil
}

func (s *fakeOrderStore) GetByOrderNumber(_ context.Context, orderNumber string) (*models.Order, error) {
	for _, order := range s.orders {
		if order.OrderNumber == orderNumber {
			return order, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *fakeOrderStore) GetByPaymentSession(_ context.Context, sessionID string) (*models.Order, error) {
	for _, order := range s.orders {
		if order.MetaData["payment_session_id"] == sessionID {
			return order, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *fakeOrderStore) ListByUser(_ context.Context, userID uuid.UUID, _ int) ([]*models.Order, error) {
	var orders []*models.Order
	for _, order := range s.orders {
		if order.UserID == userID {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (s *fakeOrderStore) MarkPaid(_ context.Context, orderID uuid.UUID, paymentID string) error {
	order, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	if order.PaymentStatus != models.PaymentPending {
		return fmt.Errorf("%w: expected payment_status pending", db.ErrInvalidStatusTransition)
	}
	order.PaymentStatus = models.PaymentPaid
	order.PaymentID = paymentID
	order.PaidAt = time.Now()
	return nil
}

func (s *fakeOrderStore) MarkPaymentFailed(_ context.Context, orderID uuid.UUID) error {
	order, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	if order.PaymentStatus != models.PaymentPending {
		return fmt.Errorf("%w: expected payment_status pending", db.ErrInvalidStatusTransition)
	}
	order.PaymentStatus = models.PaymentFailed
	return nil
}

func (s *fakeOrderStore) UpdateStatus(_ context.Context, orderID uuid.UUID, to models.OrderStatus) error {
	order, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	allowed := map[models.OrderStatus][]models.OrderStatus{
		models.StatusProcessing: {models.StatusPending},
		models.StatusCompleted:  {models.StatusProcessing, models.StatusPending},
		models.StatusCancelled:  {models.StatusPending, models.StatusProcessing},
		models.StatusRefunded:   {models.StatusCompleted},
	}
	for _, from := range allowed[to] {
		if order.Status == from {
			order.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move %s to %s", db.ErrInvalidStatusTransition, order.Status, to)
}

func (s *fakeOrderStore) MarkRefunded(_ context.Context, orderID uuid.UUID) error {
	order, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	if order.Status != models.StatusCompleted || order.PaymentStatus != models.PaymentPaid {
		return fmt.Errorf("%w: expected completed and paid", db.ErrInvalidStatusTransition)
	}
	order.Status = models.StatusRefunded
	order.PaymentStatus = models.PaymentRefunded
	order.RefundedAt = time.Now()
	return nil
}

func (s *fakeOrderStore) MergeMetaData(_ context.Context, orderID uuid.UUID, values map[string]any) error {
	order, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	if order.MetaData == nil {
		order.MetaData = make(map[string]any)
	}
	for k, v := range values {
		order.MetaData[k] = v
	}
	return nil
}

type fakeAddressStore struct {
	ownedBy map[uuid.UUID]uuid.UUID
	area    string
}

func (s *fakeAddressStore) VerifyOwnership(_ context.Context, addressID, userID uuid.UUID) error {
	if owner, ok := s.ownedBy[addressID]; !ok || owner != userID {
		return db.ErrAddressNotOwned
	}
	return nil
}

func (s *fakeAddressStore) DeliveryArea(_ context.Context, _ uuid.UUID) (string, error) {
	return s.area, nil
}

// fakeWalletStore mirrors the real store's semantics: balance and ledger
// move together, debits require funds, references are unique.
type fakeWalletStore struct {
	wallet *models.Wallet
	ledger []models.WalletTransaction
}

func (s *fakeWalletStore) GetOrCreate(_ context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	if s.wallet == nil {
		s.wallet = &models.Wallet{ID: uuid.New(), UserID: userID, Currency: currency}
	}
	return s.wallet, nil
}

func (s *fakeWalletStore) Credit(_ context.Context, walletID uuid.UUID, txn *models.WalletTransaction) error {
	if err := s.appendTxn(walletID, txn); err != nil {
		return err
	}
	s.wallet.Balance = s.wallet.Balance.Add(txn.Amount)
	return nil
}

func (s *fakeWalletStore) Debit(_ context.Context, walletID uuid.UUID, txn *models.WalletTransaction) error {
	if s.wallet.Balance.LessThan(txn.Amount) {
		return db.ErrInsufficientFunds
	}
	if err := s.appendTxn(walletID, txn); err != nil {
		return err
	}
	s.wallet.Balance = s.wallet.Balance.Sub(txn.Amount)
	return nil
}

func (s *fakeWalletStore) appendTxn(walletID uuid.UUID, txn *models.WalletTransaction) error {
	for _, existing := range s.ledger {
		if existing.Reference == txn.Reference {
			return db.ErrDuplicateReference
		}
	}
	txn.ID = uuid.New()
	txn.WalletID = walletID
	s.ledger = append(s.ledger, *txn)
	return nil
}

func (s *fakeWalletStore) ListTransactions(_ context.Context, _ uuid.UUID, _ int) ([]models.WalletTransaction, error) {
	return s.ledger, nil
}

func (s *fakeWalletStore) sumSigned() decimal.Decimal {
	sum := decimal.Zero
	for _, txn := range s.ledger {
		if txn.Status == models.TransactionCompleted {
			sum = sum.Add(txn.SignedAmount())
		}
	}
	return sum
}
