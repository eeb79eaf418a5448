package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"fanpay/internal/db"
	"fanpay/internal/models"
	"fanpay/internal/money"
	"fanpay/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type CampaignStore interface {
	Create(ctx context.Context, tx store.Execer, c store.Campaign) error
	GetByID(ctx context.Context, campaignID string) (store.Campaign, error)
	GetForUpdate(ctx context.Context, tx store.Getter, campaignID string) (store.Campaign, error)
	List(ctx context.Context, filter store.CampaignFilter) ([]store.Campaign, int, error)
	AddAmount(ctx context.Context, tx store.Execer, campaignID string, amount decimal.Decimal) error
	UpdateStatus(ctx context.Context, tx store.Execer, campaignID string, status models.CampaignStatus) error
	CreateContribution(ctx context.Context, tx store.Execer, c store.CampaignContribution) error
	ListContributionsByContributor(ctx context.Context, contributorID string, limit, offset int) ([]store.ContributionView, int, error)
}

type CampaignService struct {
	txRunner  db.TxRunner
	wallet    *WalletService
	campaigns CampaignStore
	users     IdentityStore
	audit     AuditStore
	notifier  Notifier
	now       func() time.Time
}

func NewCampaignService(txRunner db.TxRunner, wallet *WalletService, campaigns CampaignStore, users IdentityStore, audit AuditStore, notifier Notifier) *CampaignService {
	return &CampaignService{
		txRunner:  txRunner,
		wallet:    wallet,
		campaigns: campaigns,
		users:     users,
		audit:     audit,
		notifier:  notifier,
		now:       time.Now,
	}
}

// CampaignView adds the figures clients show next to a campaign.
type CampaignView struct {
	store.Campaign
	ProgressPercentage float64 `json:"progress_percentage"`
	DaysLeft           int     `json:"days_left"`
}

type CreateCampaignRequest struct {
	CreatorID   string
	Title       string
	Description *string
	GoalAmount  decimal.Decimal
	StartDate   time.Time
	EndDate     time.Time
}

// Create opens a campaign. It starts ACTIVE when its start date has arrived
// and DRAFT otherwise.
func (s *CampaignService) Create(ctx context.Context, req CreateCampaignRequest) (CampaignView, error) {
	title := strings.TrimSpace(req.Title)
	if n := utf8.RuneCountInString(title); n == 0 || n > 200 {
		return CampaignView{}, ErrInvalidName
	}
	if !req.GoalAmount.IsPositive() || !money.IsWhole(req.GoalAmount) {
		return CampaignView{}, ErrInvalidAmount
	}
	now := s.now()
	if !req.StartDate.Before(req.EndDate) || !req.EndDate.After(now) {
		return CampaignView{}, ErrInvalidCampaignDates
	}
	profile, err := s.users.Profile(ctx, req.CreatorID)
	if err != nil {
		return CampaignView{}, notFoundOr(err, ErrUserNotFound)
	}
	if !profile.HasCreatorProfile {
		return CampaignView{}, ErrNotCreator
	}
	status := models.CampaignDraft
	if !req.StartDate.After(now) {
		status = models.CampaignActive
	}
	campaign := store.Campaign{
		ID:            uuid.NewString(),
		CreatorID:     req.CreatorID,
		Title:         title,
		Description:   req.Description,
		GoalAmount:    req.GoalAmount,
		CurrentAmount: decimal.Zero,
		Status:        status,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.campaigns.Create(ctx, tx, campaign); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, req.CreatorID, "campaign.create", "campaign", campaign.ID, map[string]any{
			"goal_amount": money.Format(req.GoalAmount),
			"status":      string(status),
		})
	})
	if err != nil {
		return CampaignView{}, unitError(err)
	}
	return s.view(campaign), nil
}

func (s *CampaignService) Get(ctx context.Context, campaignID string) (CampaignView, error) {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return CampaignView{}, notFoundOr(err, ErrCampaignNotFound)
	}
	return s.view(campaign), nil
}

func (s *CampaignService) List(ctx context.Context, status models.CampaignStatus, creatorID string, page, limit int) (Page[CampaignView], error) {
	switch status {
	case "", models.CampaignDraft, models.CampaignActive, models.CampaignCompleted, models.CampaignCancelled:
	default:
		return Page[CampaignView]{}, ErrInvalidStatusFilter
	}
	page, limit, offset := pageWindow(page, limit)
	rows, total, err := s.campaigns.List(ctx, store.CampaignFilter{
		Status:    status,
		CreatorID: creatorID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return Page[CampaignView]{}, unitError(err)
	}
	views := make([]CampaignView, 0, len(rows))
	for _, c := range rows {
		views = append(views, s.view(c))
	}
	return newPage(views, total, page, limit), nil
}

type ContributeRequest struct {
	CampaignID    string
	ContributorID string
	Amount        decimal.Decimal
	Message       *string
	IsAnonymous   bool
}

type ContributionResult struct {
	Contribution store.CampaignContribution `json:"contribution"`
	Campaign     CampaignView               `json:"campaign"`
}

// Contribute funds an active campaign within its date window. The campaign
// row is locked so concurrent contributions add up exactly.
func (s *CampaignService) Contribute(ctx context.Context, req ContributeRequest) (ContributionResult, error) {
	message, err := optionalText(req.Message, maxSupportMessage)
	if err != nil {
		return ContributionResult{}, err
	}
	var result ContributionResult
	var transfer TransferResult
	var goalCrossed bool
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		campaign, err := s.campaigns.GetForUpdate(ctx, tx, req.CampaignID)
		if err != nil {
			return notFoundOr(err, ErrCampaignNotFound)
		}
		if campaign.CreatorID == req.ContributorID {
			return ErrSelfContribution
		}
		now := s.now()
		if campaign.Status != models.CampaignActive || now.Before(campaign.StartDate) || now.After(campaign.EndDate) {
			return ErrCampaignNotActive
		}
		contribution := store.CampaignContribution{
			ID:            uuid.NewString(),
			CampaignID:    campaign.ID,
			ContributorID: req.ContributorID,
			Amount:        req.Amount,
			Message:       message,
			IsAnonymous:   req.IsAnonymous,
			CreatedAt:     now,
		}
		transfer, err = s.wallet.TransferTx(ctx, tx, TransferRequest{
			FromUserID:    req.ContributorID,
			ToUserID:      campaign.CreatorID,
			Amount:        req.Amount,
			Type:          models.TxCampaignContribution,
			Description:   stringPtr(fmt.Sprintf("Contribution to %s", campaign.Title)),
			ReferenceID:   stringPtr(campaign.ID),
			ReferenceType: stringPtr(models.RefCampaign),
		})
		if err != nil {
			return err
		}
		if err := s.campaigns.CreateContribution(ctx, tx, contribution); err != nil {
			return err
		}
		if err := s.campaigns.AddAmount(ctx, tx, campaign.ID, req.Amount); err != nil {
			return err
		}
		before := campaign.CurrentAmount
		campaign.CurrentAmount = before.Add(req.Amount)
		goalCrossed = before.LessThan(campaign.GoalAmount) && !campaign.CurrentAmount.LessThan(campaign.GoalAmount)
		result = ContributionResult{Contribution: contribution, Campaign: s.view(campaign)}
		return nil
	})
	if err != nil {
		return ContributionResult{}, unitError(err)
	}
	s.wallet.Announce(ctx, transfer.Debit, transfer.Credit)

	campaign := result.Campaign
	contributor := "Anonymous fan"
	if !req.IsAnonymous {
		if profile, err := s.users.Profile(ctx, req.ContributorID); err == nil {
			contributor = profile.Nickname
		}
	}
	s.notify(ctx, Notification{
		UserID:  campaign.CreatorID,
		Type:    models.NotifyCampaignContribution,
		Title:   "New Contribution!",
		Message: fmt.Sprintf("%s contributed %s to \"%s\"", contributor, money.Display(req.Amount), campaign.Title),
		Data:    map[string]any{"campaign_id": campaign.ID, "contribution_id": result.Contribution.ID},
	})
	if goalCrossed {
		s.notify(ctx, Notification{
			UserID:  campaign.CreatorID,
			Type:    models.NotifyCampaignGoalReached,
			Title:   "Campaign Goal Reached!",
			Message: fmt.Sprintf("Your campaign \"%s\" has reached its goal!", campaign.Title),
			Data:    map[string]any{"campaign_id": campaign.ID},
		})
	}
	return result, nil
}

// UpdateStatus lets the owning creator move a campaign along its lifecycle.
func (s *CampaignService) UpdateStatus(ctx context.Context, creatorID, campaignID string, status models.CampaignStatus) (CampaignView, error) {
	var updated store.Campaign
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		campaign, err := s.campaigns.GetForUpdate(ctx, tx, campaignID)
		if err != nil {
			return notFoundOr(err, ErrCampaignNotFound)
		}
		if campaign.CreatorID != creatorID {
			return ErrNotCampaignOwner
		}
		if !campaign.Status.CanTransition(status) {
			return ErrInvalidCampaignStatus
		}
		if err := s.campaigns.UpdateStatus(ctx, tx, campaignID, status); err != nil {
			return err
		}
		previous := campaign.Status
		campaign.Status = status
		updated = campaign
		return s.audit.Log(ctx, tx, creatorID, "campaign.status", "campaign", campaignID, map[string]any{
			"from": string(previous),
			"to":   string(status),
		})
	})
	if err != nil {
		return CampaignView{}, unitError(err)
	}
	return s.view(updated), nil
}

func (s *CampaignService) MyContributions(ctx context.Context, contributorID string, page, limit int) (Page[store.ContributionView], error) {
	page, limit, offset := pageWindow(page, limit)
	rows, total, err := s.campaigns.ListContributionsByContributor(ctx, contributorID, limit, offset)
	if err != nil {
		return Page[store.ContributionView]{}, unitError(err)
	}
	return newPage(rows, total, page, limit), nil
}

func (s *CampaignService) view(c store.Campaign) CampaignView {
	view := CampaignView{Campaign: c}
	if c.GoalAmount.IsPositive() {
		view.ProgressPercentage = c.CurrentAmount.Div(c.GoalAmount).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	remaining := c.EndDate.Sub(s.now())
	if remaining > 0 {
		view.DaysLeft = int(math.Ceil(remaining.Hours() / 24))
	}
	return view
}

func (s *CampaignService) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(context.WithoutCancel(ctx), n)
}
