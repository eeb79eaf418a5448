package store

import (
	"context"
	"time"

	"fanpay/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ReplyProductStore holds what a creator sells: reply products, their SLA
// options and the creator's daily slot policy.
type ReplyProductStore struct {
	db DB
}

type ReplyProduct struct {
	ID          string             `db:"id" json:"id"`
	CreatorID   string             `db:"creator_id" json:"creator_id"`
	Name        string             `db:"name" json:"name"`
	Description *string            `db:"description" json:"description,omitempty"`
	ContentType models.ContentType `db:"content_type" json:"content_type"`
	BasePrice   decimal.Decimal    `db:"base_price" json:"base_price"`
	IsActive    bool               `db:"is_active" json:"is_active"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
}

type ReplySLA struct {
	ID              string          `db:"id" json:"id"`
	ProductID       string          `db:"product_id" json:"product_id"`
	Name            string          `db:"name" json:"name"`
	DeadlineHours   int             `db:"deadline_hours" json:"deadline_hours"`
	PriceMultiplier decimal.Decimal `db:"price_multiplier" json:"price_multiplier"`
	IsActive        bool            `db:"is_active" json:"is_active"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

type SlotPolicy struct {
	CreatorID      string    `db:"creator_id" json:"creator_id"`
	DailySlotLimit int       `db:"daily_slot_limit" json:"daily_slot_limit"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func NewReplyProductStore(db DB) *ReplyProductStore {
	return &ReplyProductStore{db: db}
}

func (s *ReplyProductStore) CreateProduct(ctx context.Context, tx Execer, p ReplyProduct) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reply_products (id, creator_id, name, description, content_type, base_price, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.CreatorID, p.Name, p.Description, p.ContentType, p.BasePrice, p.IsActive)
	return err
}

func (s *ReplyProductStore) GetProduct(ctx context.Context, productID string) (ReplyProduct, error) {
	var row ReplyProduct
	err := s.db.GetContext(ctx, &row, `
		SELECT id, creator_id, name, description, content_type, base_price, is_active, created_at
		FROM reply_products
		WHERE id = $1
	`, productID)
	if err != nil {
		return ReplyProduct{}, err
	}
	return row, nil
}

func (s *ReplyProductStore) ListActiveByCreator(ctx context.Context, creatorID string) ([]ReplyProduct, error) {
	var rows []ReplyProduct
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, creator_id, name, description, content_type, base_price, is_active, created_at
		FROM reply_products
		WHERE creator_id = $1 AND is_active = TRUE
		ORDER BY base_price ASC, created_at ASC
	`, creatorID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *ReplyProductStore) CreateSLA(ctx context.Context, tx Execer, sla ReplySLA) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reply_slas (id, product_id, name, deadline_hours, price_multiplier, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sla.ID, sla.ProductID, sla.Name, sla.DeadlineHours, sla.PriceMultiplier, sla.IsActive)
	return err
}

func (s *ReplyProductStore) GetSLA(ctx context.Context, slaID string) (ReplySLA, error) {
	var row ReplySLA
	err := s.db.GetContext(ctx, &row, `
		SELECT id, product_id, name, deadline_hours, price_multiplier, is_active, created_at
		FROM reply_slas
		WHERE id = $1
	`, slaID)
	if err != nil {
		return ReplySLA{}, err
	}
	return row, nil
}

func (s *ReplyProductStore) ListActiveSLAs(ctx context.Context, productIDs []string) ([]ReplySLA, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var rows []ReplySLA
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, product_id, name, deadline_hours, price_multiplier, is_active, created_at
		FROM reply_slas
		WHERE product_id = ANY($1) AND is_active = TRUE
		ORDER BY product_id, deadline_hours DESC
	`, pq.Array(productIDs))
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetSlotPolicy returns sql.ErrNoRows when the creator never set a limit.
func (s *ReplyProductStore) GetSlotPolicy(ctx context.Context, creatorID string) (SlotPolicy, error) {
	var row SlotPolicy
	err := s.db.GetContext(ctx, &row, `
		SELECT creator_id, daily_slot_limit, updated_at
		FROM reply_slot_policies
		WHERE creator_id = $1
	`, creatorID)
	if err != nil {
		return SlotPolicy{}, err
	}
	return row, nil
}

func (s *ReplyProductStore) UpsertSlotPolicy(ctx context.Context, tx Execer, creatorID string, dailyLimit int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reply_slot_policies (creator_id, daily_slot_limit)
		VALUES ($1, $2)
		ON CONFLICT (creator_id) DO UPDATE
		SET daily_slot_limit = EXCLUDED.daily_slot_limit, updated_at = NOW()
	`, creatorID, dailyLimit)
	return err
}
