package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fanpay/internal/db"
	"fanpay/internal/models"
	"fanpay/internal/money"
	"fanpay/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var DefaultMinPaymentAmount = decimal.NewFromInt(1000)

type PaymentStore interface {
	Create(ctx context.Context, tx store.Execer, p store.Payment) error
	GetByProviderIDForUpdate(ctx context.Context, tx store.Getter, providerPaymentID string) (store.Payment, error)
	MarkCompleted(ctx context.Context, tx store.Execer, paymentID string, at time.Time) error
	MarkFailed(ctx context.Context, tx store.Execer, paymentID string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]store.Payment, int, error)
}

// PaymentService turns provider charges into wallet deposits. The provider
// itself is out of process; it reports outcomes through the webhook.
type PaymentService struct {
	txRunner   db.TxRunner
	wallet     *WalletService
	payments   PaymentStore
	notifier   Notifier
	minPayment decimal.Decimal
	now        func() time.Time
}

func NewPaymentService(txRunner db.TxRunner, wallet *WalletService, payments PaymentStore, notifier Notifier, minPayment decimal.Decimal) *PaymentService {
	if !minPayment.IsPositive() {
		minPayment = DefaultMinPaymentAmount
	}
	return &PaymentService{
		txRunner:   txRunner,
		wallet:     wallet,
		payments:   payments,
		notifier:   notifier,
		minPayment: minPayment,
		now:        time.Now,
	}
}

// CreatePending registers a wallet charge the client started with the
// provider.
func (s *PaymentService) CreatePending(ctx context.Context, userID, providerPaymentID string, amount decimal.Decimal) (store.Payment, error) {
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return store.Payment{}, ErrMissingProviderPayment
	}
	if err := s.wallet.validateAmount(amount); err != nil {
		return store.Payment{}, err
	}
	if amount.LessThan(s.minPayment) {
		return store.Payment{}, ErrPaymentBelowMinimum
	}
	now := s.now()
	payment := store.Payment{
		ID:                uuid.NewString(),
		UserID:            userID,
		ProviderPaymentID: providerPaymentID,
		Amount:            amount,
		Type:              models.PaymentWalletCharge,
		Status:            models.PaymentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.payments.Create(ctx, tx, payment)
	})
	if db.IsUniqueViolation(err) {
		return store.Payment{}, ErrDuplicatePayment
	}
	if err != nil {
		return store.Payment{}, unitError(err)
	}
	return payment, nil
}

type PaymentCompletion struct {
	Payment store.Payment `json:"payment"`
	Deposit *Posting      `json:"deposit,omitempty"`
	// Replayed is set when the payment had already been completed and
	// nothing was deposited this time.
	Replayed bool `json:"replayed"`
}

// Complete marks the payment COMPLETED and deposits its amount in the same
// unit of work. Providers retry webhooks, so completing twice is a no-op.
func (s *PaymentService) Complete(ctx context.Context, providerPaymentID string) (PaymentCompletion, error) {
	var result PaymentCompletion
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = PaymentCompletion{}
		payment, err := s.payments.GetByProviderIDForUpdate(ctx, tx, providerPaymentID)
		if err != nil {
			return notFoundOr(err, ErrPaymentNotFound)
		}
		switch payment.Status {
		case models.PaymentCompleted:
			result = PaymentCompletion{Payment: payment, Replayed: true}
			return nil
		case models.PaymentFailed:
			return ErrPaymentFailed
		}
		now := s.now()
		if err := s.payments.MarkCompleted(ctx, tx, payment.ID, now); err != nil {
			return err
		}
		posting, err := s.wallet.DepositTx(ctx, tx, DepositRequest{
			UserID:        payment.UserID,
			Amount:        payment.Amount,
			ReferenceID:   stringPtr(payment.ID),
			ReferenceType: stringPtr(models.RefPayment),
			Description:   stringPtr("Wallet charge"),
		})
		if err != nil {
			return err
		}
		payment.Status = models.PaymentCompleted
		payment.CompletedAt = &now
		result = PaymentCompletion{Payment: payment, Deposit: &posting}
		return nil
	})
	if err != nil {
		return PaymentCompletion{}, unitError(err)
	}
	if result.Deposit != nil {
		s.wallet.Announce(ctx, *result.Deposit)
		if s.notifier != nil {
			s.notifier.Notify(context.WithoutCancel(ctx), Notification{
				UserID:  result.Payment.UserID,
				Type:    models.NotifyDepositCompleted,
				Title:   "Wallet Charged",
				Message: fmt.Sprintf("%s has been added to your wallet.", money.Display(result.Payment.Amount)),
				Data:    map[string]any{"payment_id": result.Payment.ID},
			})
		}
	}
	return result, nil
}

// Fail records a declined charge. Completed payments stay completed.
func (s *PaymentService) Fail(ctx context.Context, providerPaymentID string) (store.Payment, error) {
	var payment store.Payment
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		payment, err = s.payments.GetByProviderIDForUpdate(ctx, tx, providerPaymentID)
		if err != nil {
			return notFoundOr(err, ErrPaymentNotFound)
		}
		switch payment.Status {
		case models.PaymentCompleted:
			return ErrPaymentAlreadySettled
		case models.PaymentFailed:
			return nil
		}
		if err := s.payments.MarkFailed(ctx, tx, payment.ID); err != nil {
			return err
		}
		payment.Status = models.PaymentFailed
		return nil
	})
	if err != nil {
		return store.Payment{}, unitError(err)
	}
	return payment, nil
}

func (s *PaymentService) History(ctx context.Context, userID string, page, limit int) (Page[store.Payment], error) {
	page, limit, offset := pageWindow(page, limit)
	rows, total, err := s.payments.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return Page[store.Payment]{}, unitError(err)
	}
	return newPage(rows, total, page, limit), nil
}
