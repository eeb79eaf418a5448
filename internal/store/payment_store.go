package store

import (
	"context"
	"time"

	"fanpay/internal/models"

	"github.com/shopspring/decimal"
)

type PaymentStore struct {
	db DB
}

type Payment struct {
	ID                string               `db:"id" json:"id"`
	UserID            string               `db:"user_id" json:"user_id"`
	ProviderPaymentID string               `db:"provider_payment_id" json:"provider_payment_id"`
	Amount            decimal.Decimal      `db:"amount" json:"amount"`
	Type              string               `db:"type" json:"type"`
	Status            models.PaymentStatus `db:"status" json:"status"`
	CompletedAt       *time.Time           `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time            `db:"updated_at" json:"updated_at"`
}

const paymentColumns = `id, user_id, provider_payment_id, amount, type, status, completed_at, created_at, updated_at`

func NewPaymentStore(db DB) *PaymentStore {
	return &PaymentStore{db: db}
}

func (s *PaymentStore) Create(ctx context.Context, tx Execer, p Payment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, provider_payment_id, amount, type, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.UserID, p.ProviderPaymentID, p.Amount, p.Type, p.Status)
	return err
}

func (s *PaymentStore) GetByProviderIDForUpdate(ctx context.Context, tx Getter, providerPaymentID string) (Payment, error) {
	var row Payment
	err := tx.GetContext(ctx, &row, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE provider_payment_id = $1
		FOR UPDATE
	`, providerPaymentID)
	if err != nil {
		return Payment{}, err
	}
	return row, nil
}

func (s *PaymentStore) MarkCompleted(ctx context.Context, tx Execer, paymentID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = 'COMPLETED', completed_at = $2, updated_at = NOW()
		WHERE id = $1
	`, paymentID, at)
	return err
}

func (s *PaymentStore) MarkFailed(ctx context.Context, tx Execer, paymentID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = 'FAILED', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`, paymentID)
	return err
}

func (s *PaymentStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Payment, int, error) {
	var rows []Payment
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(1) FROM payments WHERE user_id = $1`, userID); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
