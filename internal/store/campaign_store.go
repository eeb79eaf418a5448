package store

import (
	"context"
	"time"

	"fanpay/internal/models"

	"github.com/shopspring/decimal"
)

type CampaignStore struct {
	db DB
}

type Campaign struct {
	ID            string                `db:"id" json:"id"`
	CreatorID     string                `db:"creator_id" json:"creator_id"`
	Title         string                `db:"title" json:"title"`
	Description   *string               `db:"description" json:"description,omitempty"`
	GoalAmount    decimal.Decimal       `db:"goal_amount" json:"goal_amount"`
	CurrentAmount decimal.Decimal       `db:"current_amount" json:"current_amount"`
	Status        models.CampaignStatus `db:"status" json:"status"`
	StartDate     time.Time             `db:"start_date" json:"start_date"`
	EndDate       time.Time             `db:"end_date" json:"end_date"`
	CreatedAt     time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time             `db:"updated_at" json:"updated_at"`
}

type CampaignContribution struct {
	ID            string          `db:"id" json:"id"`
	CampaignID    string          `db:"campaign_id" json:"campaign_id"`
	ContributorID string          `db:"contributor_id" json:"contributor_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Message       *string         `db:"message" json:"message,omitempty"`
	IsAnonymous   bool            `db:"is_anonymous" json:"is_anonymous"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

type ContributionView struct {
	CampaignContribution
	CampaignTitle string `db:"campaign_title" json:"campaign_title"`
}

type CampaignFilter struct {
	Status    models.CampaignStatus
	CreatorID string
	Limit     int
	Offset    int
}

const campaignColumns = `id, creator_id, title, description, goal_amount, current_amount, status, start_date, end_date, created_at, updated_at`

func NewCampaignStore(db DB) *CampaignStore {
	return &CampaignStore{db: db}
}

func (s *CampaignStore) Create(ctx context.Context, tx Execer, c Campaign) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, creator_id, title, description, goal_amount, current_amount, status, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)
	`, c.ID, c.CreatorID, c.Title, c.Description, c.GoalAmount, c.Status, c.StartDate, c.EndDate)
	return err
}

func (s *CampaignStore) GetByID(ctx context.Context, campaignID string) (Campaign, error) {
	var row Campaign
	err := s.db.GetContext(ctx, &row, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, campaignID)
	if err != nil {
		return Campaign{}, err
	}
	return row, nil
}

func (s *CampaignStore) GetForUpdate(ctx context.Context, tx Getter, campaignID string) (Campaign, error) {
	var row Campaign
	err := tx.GetContext(ctx, &row, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 FOR UPDATE`, campaignID)
	if err != nil {
		return Campaign{}, err
	}
	return row, nil
}

func (s *CampaignStore) List(ctx context.Context, filter CampaignFilter) ([]Campaign, int, error) {
	var rows []Campaign
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR creator_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, string(filter.Status), filter.CreatorID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	var total int
	err = s.db.GetContext(ctx, &total, `
		SELECT COUNT(1)
		FROM campaigns
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR creator_id = $2)
	`, string(filter.Status), filter.CreatorID)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *CampaignStore) AddAmount(ctx context.Context, tx Execer, campaignID string, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET current_amount = current_amount + $2, updated_at = NOW()
		WHERE id = $1
	`, campaignID, amount)
	return err
}

func (s *CampaignStore) UpdateStatus(ctx context.Context, tx Execer, campaignID string, status models.CampaignStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1
	`, campaignID, string(status))
	return err
}

func (s *CampaignStore) CreateContribution(ctx context.Context, tx Execer, c CampaignContribution) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO campaign_contributions (id, campaign_id, contributor_id, amount, message, is_anonymous)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.CampaignID, c.ContributorID, c.Amount, c.Message, c.IsAnonymous)
	return err
}

func (s *CampaignStore) ListContributionsByContributor(ctx context.Context, contributorID string, limit, offset int) ([]ContributionView, int, error) {
	var rows []ContributionView
	err := s.db.SelectContext(ctx, &rows, `
		SELECT cc.id, cc.campaign_id, cc.contributor_id, cc.amount, cc.message, cc.is_anonymous, cc.created_at,
		       c.title AS campaign_title
		FROM campaign_contributions cc
		JOIN campaigns c ON c.id = cc.campaign_id
		WHERE cc.contributor_id = $1
		ORDER BY cc.created_at DESC
		LIMIT $2 OFFSET $3
	`, contributorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(1) FROM campaign_contributions WHERE contributor_id = $1`, contributorID); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
