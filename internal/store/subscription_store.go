package store

import (
	"context"
	"time"

	"fanpay/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type SubscriptionStore struct {
	db DB
}

type SubscriptionTier struct {
	ID             string          `db:"id" json:"id"`
	CreatorID      string          `db:"creator_id" json:"creator_id"`
	Name           string          `db:"name" json:"name"`
	Description    *string         `db:"description" json:"description,omitempty"`
	Price          decimal.Decimal `db:"price" json:"price"`
	Benefits       pq.StringArray  `db:"benefits" json:"benefits"`
	MaxSubscribers *int            `db:"max_subscribers" json:"max_subscribers,omitempty"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

type Subscription struct {
	ID           string                    `db:"id" json:"id"`
	SubscriberID string                    `db:"subscriber_id" json:"subscriber_id"`
	CreatorID    string                    `db:"creator_id" json:"creator_id"`
	TierID       string                    `db:"tier_id" json:"tier_id"`
	Status       models.SubscriptionStatus `db:"status" json:"status"`
	StartedAt    time.Time                 `db:"started_at" json:"started_at"`
	ExpiresAt    time.Time                 `db:"expires_at" json:"expires_at"`
	CancelledAt  *time.Time                `db:"cancelled_at" json:"cancelled_at,omitempty"`
	AutoRenew    bool                      `db:"auto_renew" json:"auto_renew"`
}

// SubscriptionView joins a subscription with its tier and the nickname of
// the other party.
type SubscriptionView struct {
	Subscription
	TierName             string          `db:"tier_name" json:"tier_name"`
	TierPrice            decimal.Decimal `db:"tier_price" json:"tier_price"`
	CounterpartyNickname string          `db:"counterparty_nickname" json:"counterparty_nickname"`
}

const subscriptionColumns = `id, subscriber_id, creator_id, tier_id, status, started_at, expires_at, cancelled_at, auto_renew`

func NewSubscriptionStore(db DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) CreateTier(ctx context.Context, tx Execer, tier SubscriptionTier) error {
	benefits := tier.Benefits
	if benefits == nil {
		benefits = pq.StringArray{}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO subscription_tiers (id, creator_id, name, description, price, benefits, max_subscribers, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tier.ID, tier.CreatorID, tier.Name, tier.Description, tier.Price, benefits, tier.MaxSubscribers, tier.IsActive)
	return err
}

func (s *SubscriptionStore) GetTier(ctx context.Context, tierID string) (SubscriptionTier, error) {
	var row SubscriptionTier
	err := s.db.GetContext(ctx, &row, `
		SELECT id, creator_id, name, description, price, benefits, max_subscribers, is_active, created_at
		FROM subscription_tiers
		WHERE id = $1
	`, tierID)
	if err != nil {
		return SubscriptionTier{}, err
	}
	return row, nil
}

func (s *SubscriptionStore) ListActiveTiers(ctx context.Context, creatorID string) ([]SubscriptionTier, error) {
	var rows []SubscriptionTier
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, creator_id, name, description, price, benefits, max_subscribers, is_active, created_at
		FROM subscription_tiers
		WHERE creator_id = $1 AND is_active = TRUE
		ORDER BY price ASC
	`, creatorID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *SubscriptionStore) CountActiveByTier(ctx context.Context, q Getter, tierID string) (int, error) {
	var count int
	err := q.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM subscriptions
		WHERE tier_id = $1 AND status = 'ACTIVE' AND expires_at > NOW()
	`, tierID)
	return count, err
}

func (s *SubscriptionStore) GetByPairForUpdate(ctx context.Context, tx Getter, subscriberID, creatorID string) (Subscription, error) {
	var row Subscription
	err := tx.GetContext(ctx, &row, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE subscriber_id = $1 AND creator_id = $2
		FOR UPDATE
	`, subscriberID, creatorID)
	if err != nil {
		return Subscription{}, err
	}
	return row, nil
}

func (s *SubscriptionStore) GetByPair(ctx context.Context, subscriberID, creatorID string) (Subscription, error) {
	var row Subscription
	err := s.db.GetContext(ctx, &row, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE subscriber_id = $1 AND creator_id = $2
	`, subscriberID, creatorID)
	if err != nil {
		return Subscription{}, err
	}
	return row, nil
}

func (s *SubscriptionStore) GetByID(ctx context.Context, subscriptionID string) (Subscription, error) {
	var row Subscription
	err := s.db.GetContext(ctx, &row, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = $1
	`, subscriptionID)
	if err != nil {
		return Subscription{}, err
	}
	return row, nil
}

// Upsert starts or renews the subscriber's subscription to a creator. A
// renewal keeps the row id and replaces tier, status and period.
func (s *SubscriptionStore) Upsert(ctx context.Context, tx Execer, sub Subscription) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (id, subscriber_id, creator_id, tier_id, status, started_at, expires_at, auto_renew)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subscriber_id, creator_id) DO UPDATE
		SET tier_id = EXCLUDED.tier_id,
		    status = EXCLUDED.status,
		    started_at = EXCLUDED.started_at,
		    expires_at = EXCLUDED.expires_at,
		    auto_renew = EXCLUDED.auto_renew,
		    cancelled_at = NULL
	`, sub.ID, sub.SubscriberID, sub.CreatorID, sub.TierID, sub.Status, sub.StartedAt, sub.ExpiresAt, sub.AutoRenew)
	return err
}

func (s *SubscriptionStore) Cancel(ctx context.Context, tx Execer, subscriptionID string, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'CANCELLED', cancelled_at = $2, auto_renew = FALSE
		WHERE id = $1 AND status = 'ACTIVE'
	`, subscriptionID, at)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func (s *SubscriptionStore) ListBySubscriber(ctx context.Context, subscriberID string) ([]SubscriptionView, error) {
	var rows []SubscriptionView
	err := s.db.SelectContext(ctx, &rows, `
		SELECT s.id, s.subscriber_id, s.creator_id, s.tier_id, s.status, s.started_at, s.expires_at, s.cancelled_at, s.auto_renew,
		       t.name AS tier_name, t.price AS tier_price, u.nickname AS counterparty_nickname
		FROM subscriptions s
		JOIN subscription_tiers t ON t.id = s.tier_id
		JOIN users u ON u.id = s.creator_id
		WHERE s.subscriber_id = $1 AND s.status = 'ACTIVE'
		ORDER BY s.started_at DESC
	`, subscriberID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *SubscriptionStore) ListByCreator(ctx context.Context, creatorID string, limit, offset int) ([]SubscriptionView, int, error) {
	var rows []SubscriptionView
	err := s.db.SelectContext(ctx, &rows, `
		SELECT s.id, s.subscriber_id, s.creator_id, s.tier_id, s.status, s.started_at, s.expires_at, s.cancelled_at, s.auto_renew,
		       t.name AS tier_name, t.price AS tier_price, u.nickname AS counterparty_nickname
		FROM subscriptions s
		JOIN subscription_tiers t ON t.id = s.tier_id
		JOIN users u ON u.id = s.subscriber_id
		WHERE s.creator_id = $1 AND s.status = 'ACTIVE'
		ORDER BY s.started_at DESC
		LIMIT $2 OFFSET $3
	`, creatorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var total int
	err = s.db.GetContext(ctx, &total, `
		SELECT COUNT(1) FROM subscriptions WHERE creator_id = $1 AND status = 'ACTIVE'
	`, creatorID)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
