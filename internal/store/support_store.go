package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type SupportStore struct {
	db DB
}

type Support struct {
	ID          string          `db:"id" json:"id"`
	SupporterID string          `db:"supporter_id" json:"supporter_id"`
	ReceiverID  string          `db:"receiver_id" json:"receiver_id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Message     *string         `db:"message" json:"message,omitempty"`
	IsAnonymous bool            `db:"is_anonymous" json:"is_anonymous"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// SupportWithParty is a support row joined with the nickname of the other side.
type SupportWithParty struct {
	Support
	CounterpartyNickname string `db:"counterparty_nickname" json:"counterparty_nickname"`
}

type TopSupporter struct {
	SupporterID  string          `db:"supporter_id" json:"supporter_id"`
	Nickname     string          `db:"nickname" json:"nickname"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"total_amount"`
	SupportCount int             `db:"support_count" json:"support_count"`
}

func NewSupportStore(db DB) *SupportStore {
	return &SupportStore{db: db}
}

func (s *SupportStore) Create(ctx context.Context, tx Execer, support Support) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO supports (id, supporter_id, receiver_id, amount, message, is_anonymous)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, support.ID, support.SupporterID, support.ReceiverID, support.Amount, support.Message, support.IsAnonymous)
	return err
}

// HasSupported reports whether supporterID already supported receiverID.
func (s *SupportStore) HasSupported(ctx context.Context, q Getter, supporterID, receiverID string) (bool, error) {
	var exists bool
	err := q.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM supports WHERE supporter_id = $1 AND receiver_id = $2)
	`, supporterID, receiverID)
	return exists, err
}

func (s *SupportStore) ListSent(ctx context.Context, supporterID string, limit, offset int) ([]SupportWithParty, int, error) {
	var rows []SupportWithParty
	err := s.db.SelectContext(ctx, &rows, `
		SELECT s.id, s.supporter_id, s.receiver_id, s.amount, s.message, s.is_anonymous, s.created_at,
		       u.nickname AS counterparty_nickname
		FROM supports s
		JOIN users u ON u.id = s.receiver_id
		WHERE s.supporter_id = $1
		ORDER BY s.created_at DESC
		LIMIT $2 OFFSET $3
	`, supporterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(1) FROM supports WHERE supporter_id = $1`, supporterID); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *SupportStore) ListReceived(ctx context.Context, receiverID string, limit, offset int) ([]SupportWithParty, int, error) {
	var rows []SupportWithParty
	err := s.db.SelectContext(ctx, &rows, `
		SELECT s.id, s.supporter_id, s.receiver_id, s.amount, s.message, s.is_anonymous, s.created_at,
		       u.nickname AS counterparty_nickname
		FROM supports s
		JOIN users u ON u.id = s.supporter_id
		WHERE s.receiver_id = $1
		ORDER BY s.created_at DESC
		LIMIT $2 OFFSET $3
	`, receiverID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(1) FROM supports WHERE receiver_id = $1`, receiverID); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// TopSupporters ranks named supporters by total amount. Anonymous supports
// are left out of the ranking.
func (s *SupportStore) TopSupporters(ctx context.Context, receiverID string, limit int) ([]TopSupporter, error) {
	var rows []TopSupporter
	err := s.db.SelectContext(ctx, &rows, `
		SELECT s.supporter_id, u.nickname, SUM(s.amount) AS total_amount, COUNT(1) AS support_count
		FROM supports s
		JOIN users u ON u.id = s.supporter_id
		WHERE s.receiver_id = $1 AND s.is_anonymous = FALSE
		GROUP BY s.supporter_id, u.nickname
		ORDER BY total_amount DESC, support_count DESC
		LIMIT $2
	`, receiverID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
