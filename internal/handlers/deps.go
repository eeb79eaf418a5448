package handlers

import (
	"context"

	"fanpay/internal/models"
	"fanpay/internal/services"
	"fanpay/internal/store"

	"github.com/shopspring/decimal"
)

type WalletService interface {
	GetOrCreateWallet(ctx context.Context, userID string) (store.Wallet, error)
	GetBalance(ctx context.Context, userID string) (services.Balance, error)
	ListTransactions(ctx context.Context, userID string, page, limit int) (services.Page[store.LedgerEntry], error)
	Withdraw(ctx context.Context, req services.WithdrawRequest) (services.Posting, error)
	VerifyReplay(ctx context.Context, userID string) (services.ReplayReport, error)
	Reconcile(ctx context.Context, onlyMismatched bool) ([]store.WalletBalanceSummary, error)
	EscrowSummary(ctx context.Context) (store.EscrowSummary, error)
}

type ReplyService interface {
	CreateRequest(ctx context.Context, req services.CreateReplyRequest) (store.ReplyRequest, error)
	StartRequest(ctx context.Context, requestID, creatorID string) (store.ReplyRequest, error)
	DeliverReply(ctx context.Context, req services.DeliverReplyRequest) (store.ReplyDelivery, error)
	RejectRequest(ctx context.Context, requestID, creatorID, reason string) (store.ReplyRefund, error)
	SubmitFeedback(ctx context.Context, req services.FeedbackRequest) (store.ReplyDelivery, error)
	GetRequest(ctx context.Context, requestID, viewerID string) (services.ReplyRequestDetail, error)
	ListMyRequests(ctx context.Context, requesterID string, status models.ReplyStatus, page, limit int) (services.Page[store.ReplyRequest], error)
	CreatorQueue(ctx context.Context, creatorID string, page, limit int) (services.CreatorQueue, error)
	CreatorProducts(ctx context.Context, creatorID string) (services.CreatorCatalog, error)
	CreateProduct(ctx context.Context, req services.CreateProductRequest) (store.ReplyProduct, error)
	AddSLA(ctx context.Context, req services.AddSLARequest) (store.ReplySLA, error)
	SetSlotPolicy(ctx context.Context, creatorID string, dailyLimit int) error
}

type SupportService interface {
	Send(ctx context.Context, req services.SendSupportRequest) (store.Support, error)
	History(ctx context.Context, userID string, direction services.SupportDirection, page, limit int) (services.Page[store.SupportWithParty], error)
	TopSupporters(ctx context.Context, receiverID string, limit int) ([]store.TopSupporter, error)
}

type SubscriptionService interface {
	CreateTier(ctx context.Context, req services.CreateTierRequest) (store.SubscriptionTier, error)
	Tiers(ctx context.Context, creatorID string) ([]store.SubscriptionTier, error)
	Subscribe(ctx context.Context, req services.SubscribeRequest) (store.Subscription, error)
	Cancel(ctx context.Context, subscriberID, subscriptionID string) (store.Subscription, error)
	MySubscriptions(ctx context.Context, subscriberID string) ([]store.SubscriptionView, error)
	MySubscribers(ctx context.Context, creatorID string, page, limit int) (services.Page[store.SubscriptionView], error)
	Check(ctx context.Context, subscriberID, creatorID string) (services.SubscriptionCheck, error)
}

type CampaignService interface {
	Create(ctx context.Context, req services.CreateCampaignRequest) (services.CampaignView, error)
	Get(ctx context.Context, campaignID string) (services.CampaignView, error)
	List(ctx context.Context, status models.CampaignStatus, creatorID string, page, limit int) (services.Page[services.CampaignView], error)
	Contribute(ctx context.Context, req services.ContributeRequest) (services.ContributionResult, error)
	UpdateStatus(ctx context.Context, creatorID, campaignID string, status models.CampaignStatus) (services.CampaignView, error)
	MyContributions(ctx context.Context, contributorID string, page, limit int) (services.Page[store.ContributionView], error)
}

type PaymentService interface {
	CreatePending(ctx context.Context, userID, providerPaymentID string, amount decimal.Decimal) (store.Payment, error)
	Complete(ctx context.Context, providerPaymentID string) (services.PaymentCompletion, error)
	Fail(ctx context.Context, providerPaymentID string) (store.Payment, error)
	History(ctx context.Context, userID string, page, limit int) (services.Page[store.Payment], error)
}

type NotificationService interface {
	List(ctx context.Context, userID string, unreadOnly bool, page, limit int) (services.NotificationList, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID, notificationID string) error
}

type IdentityStore interface {
	Profile(ctx context.Context, userID string) (store.UserProfile, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
	CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error
	List(ctx context.Context) ([]store.Admin, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error
	List(ctx context.Context, entityType string, limit, offset int) ([]store.AuditEntry, error)
}

// Sweeper runs the expiry sweep under the same lock as the scheduled job.
type Sweeper interface {
	RunOnce(ctx context.Context) (services.SweepResult, bool, error)
}
