package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"fanpay/internal/db"
	"fanpay/internal/models"
	"fanpay/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type SubscriptionStore interface {
	CreateTier(ctx context.Context, tx store.Execer, tier store.SubscriptionTier) error
	GetTier(ctx context.Context, tierID string) (store.SubscriptionTier, error)
	ListActiveTiers(ctx context.Context, creatorID string) ([]store.SubscriptionTier, error)
	CountActiveByTier(ctx context.Context, q store.Getter, tierID string) (int, error)
	GetByPairForUpdate(ctx context.Context, tx store.Getter, subscriberID, creatorID string) (store.Subscription, error)
	GetByPair(ctx context.Context, subscriberID, creatorID string) (store.Subscription, error)
	GetByID(ctx context.Context, subscriptionID string) (store.Subscription, error)
	Upsert(ctx context.Context, tx store.Execer, sub store.Subscription) error
	Cancel(ctx context.Context, tx store.Execer, subscriptionID string, at time.Time) (int64, error)
	ListBySubscriber(ctx context.Context, subscriberID string) ([]store.SubscriptionView, error)
	ListByCreator(ctx context.Context, creatorID string, limit, offset int) ([]store.SubscriptionView, int, error)
}

type SubscriptionService struct {
	txRunner      db.TxRunner
	wallet        *WalletService
	subscriptions SubscriptionStore
	users         IdentityStore
	audit         AuditStore
	notifier      Notifier
	now           func() time.Time
}

func NewSubscriptionService(txRunner db.TxRunner, wallet *WalletService, subscriptions SubscriptionStore, users IdentityStore, audit AuditStore, notifier Notifier) *SubscriptionService {
	return &SubscriptionService{
		txRunner:      txRunner,
		wallet:        wallet,
		subscriptions: subscriptions,
		users:         users,
		audit:         audit,
		notifier:      notifier,
		now:           time.Now,
	}
}

type CreateTierRequest struct {
	CreatorID      string
	Name           string
	Description    *string
	Price          decimal.Decimal
	Benefits       []string
	MaxSubscribers *int
}

func (s *SubscriptionService) CreateTier(ctx context.Context, req CreateTierRequest) (store.SubscriptionTier, error) {
	name := strings.TrimSpace(req.Name)
	if n := utf8.RuneCountInString(name); n == 0 || n > 100 {
		return store.SubscriptionTier{}, ErrInvalidName
	}
	if err := s.wallet.validateAmount(req.Price); err != nil {
		return store.SubscriptionTier{}, err
	}
	if req.MaxSubscribers != nil && *req.MaxSubscribers < 1 {
		return store.SubscriptionTier{}, ErrInvalidMaxSubscribers
	}
	profile, err := s.users.Profile(ctx, req.CreatorID)
	if err != nil {
		return store.SubscriptionTier{}, notFoundOr(err, ErrUserNotFound)
	}
	if !profile.HasCreatorProfile {
		return store.SubscriptionTier{}, ErrNotCreator
	}
	tier := store.SubscriptionTier{
		ID:             uuid.NewString(),
		CreatorID:      req.CreatorID,
		Name:           name,
		Description:    req.Description,
		Price:          req.Price,
		Benefits:       pq.StringArray(req.Benefits),
		MaxSubscribers: req.MaxSubscribers,
		IsActive:       true,
		CreatedAt:      s.now(),
	}
	if tier.Benefits == nil {
		tier.Benefits = pq.StringArray{}
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.subscriptions.CreateTier(ctx, tx, tier); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, req.CreatorID, "subscription_tier.create", "subscription_tier", tier.ID, map[string]any{
			"price": tier.Price.String(),
		})
	})
	if err != nil {
		return store.SubscriptionTier{}, unitError(err)
	}
	return tier, nil
}

func (s *SubscriptionService) Tiers(ctx context.Context, creatorID string) ([]store.SubscriptionTier, error) {
	tiers, err := s.subscriptions.ListActiveTiers(ctx, creatorID)
	if err != nil {
		return nil, unitError(err)
	}
	if tiers == nil {
		tiers = []store.SubscriptionTier{}
	}
	return tiers, nil
}

type SubscribeRequest struct {
	SubscriberID string
	CreatorID    string
	TierID       string
}

// Subscribe charges the first month and starts, or restarts, the
// subscription. Tier capacity is counted inside the same unit of work.
func (s *SubscriptionService) Subscribe(ctx context.Context, req SubscribeRequest) (store.Subscription, error) {
	if req.SubscriberID == req.CreatorID {
		return store.Subscription{}, ErrSelfSubscription
	}
	tier, err := s.subscriptions.GetTier(ctx, req.TierID)
	if err != nil {
		return store.Subscription{}, notFoundOr(err, ErrTierNotFound)
	}
	if tier.CreatorID != req.CreatorID {
		return store.Subscription{}, ErrTierNotFound
	}
	if !tier.IsActive {
		return store.Subscription{}, ErrTierInactive
	}

	var sub store.Subscription
	var transfer TransferResult
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.subscriptions.GetByPairForUpdate(ctx, tx, req.SubscriberID, req.CreatorID)
		switch {
		case err == nil:
			if existing.Status == models.SubscriptionActive && existing.ExpiresAt.After(s.now()) {
				return ErrAlreadySubscribed
			}
		case errors.Is(err, sql.ErrNoRows):
			existing = store.Subscription{ID: uuid.NewString()}
		default:
			return err
		}
		if tier.MaxSubscribers != nil {
			count, err := s.subscriptions.CountActiveByTier(ctx, tx, tier.ID)
			if err != nil {
				return err
			}
			if count >= *tier.MaxSubscribers {
				return ErrTierFull
			}
		}
		transfer, err = s.wallet.TransferTx(ctx, tx, TransferRequest{
			FromUserID:    req.SubscriberID,
			ToUserID:      req.CreatorID,
			Amount:        tier.Price,
			Type:          models.TxSubscriptionPayment,
			Description:   stringPtr(fmt.Sprintf("Subscription to %s", tier.Name)),
			ReferenceID:   stringPtr(existing.ID),
			ReferenceType: stringPtr(models.RefSubscription),
		})
		if err != nil {
			return err
		}
		now := s.now()
		sub = store.Subscription{
			ID:           existing.ID,
			SubscriberID: req.SubscriberID,
			CreatorID:    req.CreatorID,
			TierID:       tier.ID,
			Status:       models.SubscriptionActive,
			StartedAt:    now,
			ExpiresAt:    now.AddDate(0, 1, 0),
			AutoRenew:    true,
		}
		return s.subscriptions.Upsert(ctx, tx, sub)
	})
	if err != nil {
		return store.Subscription{}, unitError(err)
	}
	s.wallet.Announce(ctx, transfer.Debit, transfer.Credit)
	if s.notifier != nil {
		s.notifier.Notify(context.WithoutCancel(ctx), Notification{
			UserID:  req.CreatorID,
			Type:    models.NotifyNewSubscriber,
			Title:   "New Subscriber!",
			Message: fmt.Sprintf("You have a new subscriber for %s!", tier.Name),
			Data:    map[string]any{"subscription_id": sub.ID, "tier_id": tier.ID},
		})
	}
	return sub, nil
}

// Cancel stops an active subscription. The paid period is not refunded.
func (s *SubscriptionService) Cancel(ctx context.Context, subscriberID, subscriptionID string) (store.Subscription, error) {
	sub, err := s.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return store.Subscription{}, notFoundOr(err, ErrSubscriptionNotFound)
	}
	if sub.SubscriberID != subscriberID {
		return store.Subscription{}, ErrNotSubscriptionOwner
	}
	now := s.now()
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		rows, err := s.subscriptions.Cancel(ctx, tx, subscriptionID, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrSubscriptionNotActive
		}
		return s.audit.Log(ctx, tx, subscriberID, "subscription.cancel", "subscription", subscriptionID, nil)
	})
	if err != nil {
		return store.Subscription{}, unitError(err)
	}
	sub.Status = models.SubscriptionCancelled
	sub.CancelledAt = &now
	sub.AutoRenew = false
	return sub, nil
}

func (s *SubscriptionService) MySubscriptions(ctx context.Context, subscriberID string) ([]store.SubscriptionView, error) {
	rows, err := s.subscriptions.ListBySubscriber(ctx, subscriberID)
	if err != nil {
		return nil, unitError(err)
	}
	if rows == nil {
		rows = []store.SubscriptionView{}
	}
	return rows, nil
}

func (s *SubscriptionService) MySubscribers(ctx context.Context, creatorID string, page, limit int) (Page[store.SubscriptionView], error) {
	page, limit, offset := pageWindow(page, limit)
	rows, total, err := s.subscriptions.ListByCreator(ctx, creatorID, limit, offset)
	if err != nil {
		return Page[store.SubscriptionView]{}, unitError(err)
	}
	return newPage(rows, total, page, limit), nil
}

type SubscriptionCheck struct {
	IsSubscribed bool                `json:"is_subscribed"`
	Subscription *store.Subscription `json:"subscription,omitempty"`
}

func (s *SubscriptionService) Check(ctx context.Context, subscriberID, creatorID string) (SubscriptionCheck, error) {
	sub, err := s.subscriptions.GetByPair(ctx, subscriberID, creatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return SubscriptionCheck{}, nil
	}
	if err != nil {
		return SubscriptionCheck{}, unitError(err)
	}
	active := sub.Status == models.SubscriptionActive && sub.ExpiresAt.After(s.now())
	return SubscriptionCheck{IsSubscribed: active, Subscription: &sub}, nil
}
