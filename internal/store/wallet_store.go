package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type WalletStore struct {
	db DB
}

type Wallet struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	Currency  string          `db:"currency" json:"currency"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// WalletBalanceSummary compares the stored balance with the sum of the
// wallet's ledger entries.
type WalletBalanceSummary struct {
	WalletID      string          `db:"wallet_id" json:"wallet_id"`
	UserID        string          `db:"user_id" json:"user_id"`
	StoredBalance decimal.Decimal `db:"stored_balance" json:"stored_balance"`
	LedgerSum     decimal.Decimal `db:"ledger_sum" json:"ledger_sum"`
	Difference    decimal.Decimal `db:"difference" json:"difference"`
	EntryCount    int             `db:"entry_count" json:"entry_count"`
}

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

func (s *WalletStore) GetByUser(ctx context.Context, userID string) (Wallet, error) {
	var row Wallet
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, balance, currency, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return Wallet{}, err
	}
	return row, nil
}

// Create inserts a zero-balance wallet. A concurrent insert for the same user
// wins silently; callers re-read the row afterwards.
func (s *WalletStore) Create(ctx context.Context, tx Execer, id, userID, currency string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, balance, currency)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, id, userID, currency)
	return err
}

func (s *WalletStore) GetByUserForUpdate(ctx context.Context, tx Getter, userID string) (Wallet, error) {
	var row Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT id, user_id, balance, currency, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) UpdateBalance(ctx context.Context, tx Execer, walletID string, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, updated_at = NOW()
		WHERE id = $2
	`, balance, walletID)
	return err
}

// Reconcile returns every wallet whose stored balance disagrees with its
// ledger, or all wallets when onlyMismatched is false.
func (s *WalletStore) Reconcile(ctx context.Context, onlyMismatched bool) ([]WalletBalanceSummary, error) {
	query := `
		SELECT w.id AS wallet_id,
		       w.user_id,
		       w.balance AS stored_balance,
		       COALESCE(SUM(t.amount), 0) AS ledger_sum,
		       (w.balance - COALESCE(SUM(t.amount), 0)) AS difference,
		       COUNT(t.id) AS entry_count
		FROM wallets w
		LEFT JOIN transactions t ON t.wallet_id = w.id AND t.status = 'COMPLETED'
		GROUP BY w.id, w.user_id, w.balance
	`
	if onlyMismatched {
		query += " HAVING w.balance <> COALESCE(SUM(t.amount), 0)"
	}
	query += " ORDER BY w.id"
	var rows []WalletBalanceSummary
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}
