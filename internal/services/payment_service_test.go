package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"fanpay/internal/models"
	"fanpay/internal/store"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPaymentStore struct {
	byProvider map[string]store.Payment
	createErr  error
}

func (s *stubPaymentStore) Create(_ context.Context, _ store.Execer, p store.Payment) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.byProvider[p.ProviderPaymentID] = p
	return nil
}

func (s *stubPaymentStore) GetByProviderIDForUpdate(_ context.Context, _ store.Getter, providerPaymentID string) (store.Payment, error) {
	p, ok := s.byProvider[providerPaymentID]
	if !ok {
		return store.Payment{}, sql.ErrNoRows
	}
	return p, nil
}

func (s *stubPaymentStore) MarkCompleted(_ context.Context, _ store.Execer, paymentID string, at time.Time) error {
	return s.set(paymentID, func(p *store.Payment) {
		p.Status = models.PaymentCompleted
		p.CompletedAt = &at
	})
}

func (s *stubPaymentStore) MarkFailed(_ context.Context, _ store.Execer, paymentID string) error {
	return s.set(paymentID, func(p *store.Payment) { p.Status = models.PaymentFailed })
}

func (s *stubPaymentStore) ListByUser(context.Context, string, int, int) ([]store.Payment, int, error) {
	return nil, 0, nil
}

func (s *stubPaymentStore) set(paymentID string, apply func(*store.Payment)) error {
	for key, p := range s.byProvider {
		if p.ID == paymentID {
			apply(&p)
			s.byProvider[key] = p
			return nil
		}
	}
	return sql.ErrNoRows
}

func newPaymentFixture(t *testing.T) (*memFixture, *PaymentService, *stubPaymentStore) {
	t.Helper()
	f := newReplyFixture(t)
	payments := &stubPaymentStore{byProvider: map[string]store.Payment{}}
	service := NewPaymentService(f.runner, f.wallet, payments, f.notifier, decimal.Zero)
	service.now = f.clock.Now
	return f, service, payments
}

func TestCreatePendingPayment(t *testing.T) {
	ctx := context.Background()
	_, service, payments := newPaymentFixture(t)

	payment, err := service.CreatePending(ctx, testFan, " pg_123 ", krw(30000))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, models.PaymentWalletCharge, payment.Type)
	assert.Contains(t, payments.byProvider, "pg_123")

	_, err = service.CreatePending(ctx, testFan, "pg_124", krw(500))
	assert.ErrorIs(t, err, ErrPaymentBelowMinimum)

	_, err = service.CreatePending(ctx, testFan, "  ", krw(30000))
	assert.ErrorIs(t, err, ErrMissingProviderPayment)

	_, err = service.CreatePending(ctx, testFan, "pg_125", decimal.RequireFromString("1000.5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	payments.createErr = &pq.Error{Code: "23505"}
	_, err = service.CreatePending(ctx, testFan, "pg_123", krw(30000))
	assert.ErrorIs(t, err, ErrDuplicatePayment)
}

func TestCompletePaymentDepositsOnce(t *testing.T) {
	ctx := context.Background()
	f, service, _ := newPaymentFixture(t)
	_, err := service.CreatePending(ctx, testFan, "pg_123", krw(30000))
	require.NoError(t, err)

	done, err := service.Complete(ctx, "pg_123")
	require.NoError(t, err)
	assert.False(t, done.Replayed)
	require.NotNil(t, done.Deposit)
	assert.Equal(t, models.PaymentCompleted, done.Payment.Status)
	assert.NotNil(t, done.Payment.CompletedAt)
	assert.True(t, f.ledger.balance(testFan).Equal(krw(80000)))
	assert.Equal(t, []models.NotificationType{models.NotifyDepositCompleted}, f.notifier.types())
	assert.Equal(t, "₩30,000 has been added to your wallet.", f.notifier.sent[0].Message)

	again, err := service.Complete(ctx, "pg_123")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Nil(t, again.Deposit)
	assert.True(t, f.ledger.balance(testFan).Equal(krw(80000)))
	assert.Len(t, f.notifier.sent, 1)

	_, err = service.Complete(ctx, "pg_missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestFailPayment(t *testing.T) {
	ctx := context.Background()
	f, service, _ := newPaymentFixture(t)
	_, err := service.CreatePending(ctx, testFan, "pg_declined", krw(10000))
	require.NoError(t, err)
	_, err = service.CreatePending(ctx, testFan, "pg_paid", krw(10000))
	require.NoError(t, err)

	failed, err := service.Fail(ctx, "pg_declined")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, failed.Status)

	_, err = service.Complete(ctx, "pg_declined")
	assert.ErrorIs(t, err, ErrPaymentFailed)

	_, err = service.Complete(ctx, "pg_paid")
	require.NoError(t, err)
	_, err = service.Fail(ctx, "pg_paid")
	assert.ErrorIs(t, err, ErrPaymentAlreadySettled)

	assert.True(t, f.ledger.balance(testFan).Equal(krw(60000)))
}
