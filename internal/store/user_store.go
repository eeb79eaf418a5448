package store

import (
	"context"

	"github.com/shopspring/decimal"
)

// UserStore is the read side of identity the ledger needs, plus the creator
// support counters kept on creator_profiles.
type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

type UserProfile struct {
	ID                string  `db:"id" json:"id"`
	Email             string  `db:"email" json:"-"`
	Nickname          string  `db:"nickname" json:"nickname"`
	StageName         *string `db:"stage_name" json:"stage_name,omitempty"`
	HasCreatorProfile bool    `db:"has_creator_profile" json:"has_creator_profile"`
}

func (s *UserStore) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID)
	return exists, err
}

func (s *UserStore) Profile(ctx context.Context, userID string) (UserProfile, error) {
	var row UserProfile
	err := s.db.GetContext(ctx, &row, `
		SELECT u.id, u.email, u.nickname, c.stage_name, (c.user_id IS NOT NULL) AS has_creator_profile
		FROM users u
		LEFT JOIN creator_profiles c ON c.user_id = u.id
		WHERE u.id = $1
	`, userID)
	if err != nil {
		return UserProfile{}, err
	}
	return row, nil
}

// AddSupportStats bumps the creator's running support totals. Users without a
// creator profile are left untouched.
func (s *UserStore) AddSupportStats(ctx context.Context, tx Execer, creatorID string, amount decimal.Decimal, newSupporter bool) error {
	supporterDelta := 0
	if newSupporter {
		supporterDelta = 1
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE creator_profiles
		SET total_support = total_support + $1,
		    supporter_count = supporter_count + $2,
		    updated_at = NOW()
		WHERE user_id = $3
	`, amount, supporterDelta, creatorID)
	return err
}
