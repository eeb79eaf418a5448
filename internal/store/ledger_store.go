package store

import (
	"context"
	"time"

	"fanpay/internal/models"

	"github.com/shopspring/decimal"
)

// LedgerStore persists the append-only wallet history kept in the
// transactions table. Rows are never updated or deleted.
type LedgerStore struct {
	db DB
}

type LedgerEntry struct {
	ID            string                   `db:"id" json:"id"`
	WalletID      string                   `db:"wallet_id" json:"wallet_id"`
	Type          models.TransactionType   `db:"type" json:"type"`
	Amount        decimal.Decimal          `db:"amount" json:"amount"`
	BalanceBefore decimal.Decimal          `db:"balance_before" json:"balance_before"`
	BalanceAfter  decimal.Decimal          `db:"balance_after" json:"balance_after"`
	ReferenceID   *string                  `db:"reference_id" json:"reference_id,omitempty"`
	ReferenceType *string                  `db:"reference_type" json:"reference_type,omitempty"`
	Description   *string                  `db:"description" json:"description,omitempty"`
	Status        models.TransactionStatus `db:"status" json:"status"`
	CreatedAt     time.Time                `db:"created_at" json:"created_at"`
}

type LedgerEntryInput struct {
	ID            string
	WalletID      string
	Type          models.TransactionType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	ReferenceID   *string
	ReferenceType *string
	Description   *string
	Status        models.TransactionStatus
}

type EscrowSummary struct {
	Held        decimal.Decimal `db:"held" json:"held"`
	Outstanding decimal.Decimal `db:"outstanding" json:"outstanding"`
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Append(ctx context.Context, tx Execer, entry LedgerEntryInput) error {
	status := entry.Status
	if status == "" {
		status = models.TxStatusCompleted
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, wallet_id, type, amount, balance_before, balance_after, reference_id, reference_type, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.WalletID, entry.Type, entry.Amount, entry.BalanceBefore, entry.BalanceAfter,
		entry.ReferenceID, entry.ReferenceType, entry.Description, status)
	return err
}

func (s *LedgerStore) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]LedgerEntry, error) {
	var rows []LedgerEntry
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, wallet_id, type, amount, balance_before, balance_after, reference_id, reference_type, description, status, created_at
		FROM transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *LedgerStore) CountByWallet(ctx context.Context, walletID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM transactions WHERE wallet_id = $1`, walletID)
	return count, err
}

// ListChronological returns the full history oldest first, the order in
// which replaying it must reproduce the wallet balance.
func (s *LedgerStore) ListChronological(ctx context.Context, walletID string) ([]LedgerEntry, error) {
	var rows []LedgerEntry
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, wallet_id, type, amount, balance_before, balance_after, reference_id, reference_type, description, status, created_at
		FROM transactions
		WHERE wallet_id = $1 AND status = 'COMPLETED'
		ORDER BY created_at ASC, id ASC
	`, walletID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Escrow compares funds held by active reply requests with escrow debits not
// yet matched by a release or refund.
func (s *LedgerStore) Escrow(ctx context.Context) (EscrowSummary, error) {
	var row EscrowSummary
	err := s.db.GetContext(ctx, &row, `
		SELECT
		    (SELECT COALESCE(SUM(escrow_amount), 0)
		     FROM reply_requests
		     WHERE status IN ('QUEUED', 'IN_PROGRESS')) AS held,
		    (SELECT COALESCE(-SUM(amount), 0)
		     FROM transactions
		     WHERE type IN ('REPLY_REQUEST_ESCROW', 'REPLY_REQUEST_RELEASE', 'REPLY_REQUEST_REFUND')
		       AND status = 'COMPLETED') AS outstanding
	`)
	if err != nil {
		return EscrowSummary{}, err
	}
	return row, nil
}
