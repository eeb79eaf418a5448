package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fanpay/internal/auth"
	"fanpay/internal/config"
	"fanpay/internal/models"
	"fanpay/internal/services"
	"fanpay/internal/store"
	"fanpay/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const testSecret = "secret"

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubWalletService struct {
	getBalanceFn func(ctx context.Context, userID string) (services.Balance, error)
	listFn       func(ctx context.Context, userID string, page, limit int) (services.Page[store.LedgerEntry], error)
	withdrawFn   func(ctx context.Context, req services.WithdrawRequest) (services.Posting, error)
	replayFn     func(ctx context.Context, userID string) (services.ReplayReport, error)
	reconcileFn  func(ctx context.Context, onlyMismatched bool) ([]store.WalletBalanceSummary, error)
}

func (s stubWalletService) GetOrCreateWallet(ctx context.Context, userID string) (store.Wallet, error) {
	return store.Wallet{UserID: userID, Balance: decimal.Zero, Currency: "KRW"}, nil
}

func (s stubWalletService) GetBalance(ctx context.Context, userID string) (services.Balance, error) {
	if s.getBalanceFn == nil {
		return services.Balance{Balance: decimal.Zero, Currency: "KRW"}, nil
	}
	return s.getBalanceFn(ctx, userID)
}

func (s stubWalletService) ListTransactions(ctx context.Context, userID string, page, limit int) (services.Page[store.LedgerEntry], error) {
	if s.listFn == nil {
		return services.Page[store.LedgerEntry]{}, nil
	}
	return s.listFn(ctx, userID, page, limit)
}

func (s stubWalletService) Withdraw(ctx context.Context, req services.WithdrawRequest) (services.Posting, error) {
	if s.withdrawFn == nil {
		return services.Posting{}, nil
	}
	return s.withdrawFn(ctx, req)
}

func (s stubWalletService) VerifyReplay(ctx context.Context, userID string) (services.ReplayReport, error) {
	if s.replayFn == nil {
		return services.ReplayReport{}, nil
	}
	return s.replayFn(ctx, userID)
}

func (s stubWalletService) Reconcile(ctx context.Context, onlyMismatched bool) ([]store.WalletBalanceSummary, error) {
	if s.reconcileFn == nil {
		return nil, nil
	}
	return s.reconcileFn(ctx, onlyMismatched)
}

func (s stubWalletService) EscrowSummary(ctx context.Context) (store.EscrowSummary, error) {
	return store.EscrowSummary{}, nil
}

type stubReplyService struct {
	createFn  func(ctx context.Context, req services.CreateReplyRequest) (store.ReplyRequest, error)
	deliverFn func(ctx context.Context, req services.DeliverReplyRequest) (store.ReplyDelivery, error)
	rejectFn  func(ctx context.Context, requestID, creatorID, reason string) (store.ReplyRefund, error)
	listFn    func(ctx context.Context, requesterID string, status models.ReplyStatus, page, limit int) (services.Page[store.ReplyRequest], error)
	addSLAFn  func(ctx context.Context, req services.AddSLARequest) (store.ReplySLA, error)
}

func (s stubReplyService) CreateRequest(ctx context.Context, req services.CreateReplyRequest) (store.ReplyRequest, error) {
	if s.createFn == nil {
		return store.ReplyRequest{}, nil
	}
	return s.createFn(ctx, req)
}

func (s stubReplyService) StartRequest(ctx context.Context, requestID, creatorID string) (store.ReplyRequest, error) {
	return store.ReplyRequest{ID: requestID, CreatorID: creatorID}, nil
}

func (s stubReplyService) DeliverReply(ctx context.Context, req services.DeliverReplyRequest) (store.ReplyDelivery, error) {
	if s.deliverFn == nil {
		return store.ReplyDelivery{}, nil
	}
	return s.deliverFn(ctx, req)
}

func (s stubReplyService) RejectRequest(ctx context.Context, requestID, creatorID, reason string) (store.ReplyRefund, error) {
	if s.rejectFn == nil {
		return store.ReplyRefund{}, nil
	}
	return s.rejectFn(ctx, requestID, creatorID, reason)
}

func (s stubReplyService) SubmitFeedback(ctx context.Context, req services.FeedbackRequest) (store.ReplyDelivery, error) {
	return store.ReplyDelivery{}, nil
}

func (s stubReplyService) GetRequest(ctx context.Context, requestID, viewerID string) (services.ReplyRequestDetail, error) {
	return services.ReplyRequestDetail{}, nil
}

func (s stubReplyService) ListMyRequests(ctx context.Context, requesterID string, status models.ReplyStatus, page, limit int) (services.Page[store.ReplyRequest], error) {
	if s.listFn == nil {
		return services.Page[store.ReplyRequest]{}, nil
	}
	return s.listFn(ctx, requesterID, status, page, limit)
}

func (s stubReplyService) CreatorQueue(ctx context.Context, creatorID string, page, limit int) (services.CreatorQueue, error) {
	return services.CreatorQueue{}, nil
}

func (s stubReplyService) CreatorProducts(ctx context.Context, creatorID string) (services.CreatorCatalog, error) {
	return services.CreatorCatalog{}, nil
}

func (s stubReplyService) CreateProduct(ctx context.Context, req services.CreateProductRequest) (store.ReplyProduct, error) {
	return store.ReplyProduct{}, nil
}

func (s stubReplyService) AddSLA(ctx context.Context, req services.AddSLARequest) (store.ReplySLA, error) {
	if s.addSLAFn == nil {
		return store.ReplySLA{}, nil
	}
	return s.addSLAFn(ctx, req)
}

func (s stubReplyService) SetSlotPolicy(ctx context.Context, creatorID string, dailyLimit int) error {
	return nil
}

type stubSupportService struct {
	sendFn    func(ctx context.Context, req services.SendSupportRequest) (store.Support, error)
	historyFn func(ctx context.Context, userID string, direction services.SupportDirection, page, limit int) (services.Page[store.SupportWithParty], error)
}

func (s stubSupportService) Send(ctx context.Context, req services.SendSupportRequest) (store.Support, error) {
	if s.sendFn == nil {
		return store.Support{}, nil
	}
	return s.sendFn(ctx, req)
}

func (s stubSupportService) History(ctx context.Context, userID string, direction services.SupportDirection, page, limit int) (services.Page[store.SupportWithParty], error) {
	if s.historyFn == nil {
		return services.Page[store.SupportWithParty]{}, nil
	}
	return s.historyFn(ctx, userID, direction, page, limit)
}

func (s stubSupportService) TopSupporters(ctx context.Context, receiverID string, limit int) ([]store.TopSupporter, error) {
	return []store.TopSupporter{}, nil
}

type stubSubscriptionService struct {
	subscribeFn func(ctx context.Context, req services.SubscribeRequest) (store.Subscription, error)
}

func (s stubSubscriptionService) CreateTier(ctx context.Context, req services.CreateTierRequest) (store.SubscriptionTier, error) {
	return store.SubscriptionTier{}, nil
}

func (s stubSubscriptionService) Tiers(ctx context.Context, creatorID string) ([]store.SubscriptionTier, error) {
	return []store.SubscriptionTier{}, nil
}

func (s stubSubscriptionService) Subscribe(ctx context.Context, req services.SubscribeRequest) (store.Subscription, error) {
	if s.subscribeFn == nil {
		return store.Subscription{}, nil
	}
	return s.subscribeFn(ctx, req)
}

func (s stubSubscriptionService) Cancel(ctx context.Context, subscriberID, subscriptionID string) (store.Subscription, error) {
	return store.Subscription{}, nil
}

func (s stubSubscriptionService) MySubscriptions(ctx context.Context, subscriberID string) ([]store.SubscriptionView, error) {
	return []store.SubscriptionView{}, nil
}

func (s stubSubscriptionService) MySubscribers(ctx context.Context, creatorID string, page, limit int) (services.Page[store.SubscriptionView], error) {
	return services.Page[store.SubscriptionView]{}, nil
}

func (s stubSubscriptionService) Check(ctx context.Context, subscriberID, creatorID string) (services.SubscriptionCheck, error) {
	return services.SubscriptionCheck{}, nil
}

type stubCampaignService struct {
	updateStatusFn func(ctx context.Context, creatorID, campaignID string, status models.CampaignStatus) (services.CampaignView, error)
	createFn       func(ctx context.Context, req services.CreateCampaignRequest) (services.CampaignView, error)
}

func (s stubCampaignService) Create(ctx context.Context, req services.CreateCampaignRequest) (services.CampaignView, error) {
	if s.createFn == nil {
		return services.CampaignView{}, nil
	}
	return s.createFn(ctx, req)
}

func (s stubCampaignService) Get(ctx context.Context, campaignID string) (services.CampaignView, error) {
	return services.CampaignView{}, nil
}

func (s stubCampaignService) List(ctx context.Context, status models.CampaignStatus, creatorID string, page, limit int) (services.Page[services.CampaignView], error) {
	return services.Page[services.CampaignView]{}, nil
}

func (s stubCampaignService) Contribute(ctx context.Context, req services.ContributeRequest) (services.ContributionResult, error) {
	return services.ContributionResult{}, nil
}

func (s stubCampaignService) UpdateStatus(ctx context.Context, creatorID, campaignID string, status models.CampaignStatus) (services.CampaignView, error) {
	if s.updateStatusFn == nil {
		return services.CampaignView{}, nil
	}
	return s.updateStatusFn(ctx, creatorID, campaignID, status)
}

func (s stubCampaignService) MyContributions(ctx context.Context, contributorID string, page, limit int) (services.Page[store.ContributionView], error) {
	return services.Page[store.ContributionView]{}, nil
}

type stubPaymentService struct {
	createFn   func(ctx context.Context, userID, providerPaymentID string, amount decimal.Decimal) (store.Payment, error)
	completeFn func(ctx context.Context, providerPaymentID string) (services.PaymentCompletion, error)
	failFn     func(ctx context.Context, providerPaymentID string) (store.Payment, error)
}

func (s stubPaymentService) CreatePending(ctx context.Context, userID, providerPaymentID string, amount decimal.Decimal) (store.Payment, error) {
	if s.createFn == nil {
		return store.Payment{}, nil
	}
	return s.createFn(ctx, userID, providerPaymentID, amount)
}

func (s stubPaymentService) Complete(ctx context.Context, providerPaymentID string) (services.PaymentCompletion, error) {
	if s.completeFn == nil {
		return services.PaymentCompletion{}, nil
	}
	return s.completeFn(ctx, providerPaymentID)
}

func (s stubPaymentService) Fail(ctx context.Context, providerPaymentID string) (store.Payment, error) {
	if s.failFn == nil {
		return store.Payment{}, nil
	}
	return s.failFn(ctx, providerPaymentID)
}

func (s stubPaymentService) History(ctx context.Context, userID string, page, limit int) (services.Page[store.Payment], error) {
	return services.Page[store.Payment]{}, nil
}

type stubNotificationService struct {
	listFn   func(ctx context.Context, userID string, unreadOnly bool, page, limit int) (services.NotificationList, error)
	deleteFn func(ctx context.Context, userID, notificationID string) error
}

func (s stubNotificationService) List(ctx context.Context, userID string, unreadOnly bool, page, limit int) (services.NotificationList, error) {
	if s.listFn == nil {
		return services.NotificationList{}, nil
	}
	return s.listFn(ctx, userID, unreadOnly, page, limit)
}

func (s stubNotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

func (s stubNotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	return nil
}

func (s stubNotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (s stubNotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	if s.deleteFn == nil {
		return nil
	}
	return s.deleteFn(ctx, userID, notificationID)
}

type stubIdentityStore struct {
	profileFn func(ctx context.Context, userID string) (store.UserProfile, error)
}

func (s stubIdentityStore) Profile(ctx context.Context, userID string) (store.UserProfile, error) {
	if s.profileFn == nil {
		return store.UserProfile{ID: userID}, nil
	}
	return s.profileFn(ctx, userID)
}

type stubAdminStore struct {
	isAdminFn     func(ctx context.Context, userID string) (bool, bool, error)
	hasRoleFn     func(ctx context.Context, userID, role string) (bool, error)
	createAdminFn func(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	grantRoleFn   func(ctx context.Context, tx store.Execer, adminUserID, role string) error
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if s.hasRoleFn == nil {
		return false, nil
	}
	return s.hasRoleFn(ctx, userID, role)
}

func (s stubAdminStore) CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error {
	if s.createAdminFn == nil {
		return nil
	}
	return s.createAdminFn(ctx, tx, userID, isSuper, createdBy)
}

func (s stubAdminStore) GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error {
	if s.grantRoleFn == nil {
		return nil
	}
	return s.grantRoleFn(ctx, tx, adminUserID, role)
}

func (s stubAdminStore) List(ctx context.Context) ([]store.Admin, error) {
	return nil, nil
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error
	listFn func(ctx context.Context, entityType string, limit, offset int) ([]store.AuditEntry, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, entityType string, limit, offset int) ([]store.AuditEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, entityType, limit, offset)
}

type stubSweeper struct {
	runFn func(ctx context.Context) (services.SweepResult, bool, error)
}

func (s stubSweeper) RunOnce(ctx context.Context) (services.SweepResult, bool, error) {
	if s.runFn == nil {
		return services.SweepResult{}, true, nil
	}
	return s.runFn(ctx)
}

// newTestRouter fills every dependency the test leaves empty with a stub.
func newTestRouter(deps Deps) http.Handler {
	deps.Config = config.Config{
		AppEnv:         "test",
		JWTSecret:      testSecret,
		AllowedOrigins: "*",
		WebhookSecret:  "hook-secret",
		IdempotencyTTL: time.Minute,
	}
	if deps.TxRunner == nil {
		deps.TxRunner = fakeTxRunner{}
	}
	if deps.Wallet == nil {
		deps.Wallet = stubWalletService{}
	}
	if deps.Replies == nil {
		deps.Replies = stubReplyService{}
	}
	if deps.Supports == nil {
		deps.Supports = stubSupportService{}
	}
	if deps.Subscriptions == nil {
		deps.Subscriptions = stubSubscriptionService{}
	}
	if deps.Campaigns == nil {
		deps.Campaigns = stubCampaignService{}
	}
	if deps.Payments == nil {
		deps.Payments = stubPaymentService{}
	}
	if deps.Notifications == nil {
		deps.Notifications = stubNotificationService{}
	}
	if deps.Users == nil {
		deps.Users = stubIdentityStore{}
	}
	if deps.Admin == nil {
		deps.Admin = stubAdminStore{}
	}
	if deps.Audit == nil {
		deps.Audit = stubAuditStore{}
	}
	if deps.Sweeper == nil {
		deps.Sweeper = stubSweeper{}
	}
	if deps.Hub == nil {
		deps.Hub = websocket.NewHub()
	}
	return New(deps).Routes()
}

// serve sends body to path as userID. An empty userID sends no token.
func serve(t *testing.T, router http.Handler, method, path, body, userID string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := auth.GenerateToken(testSecret, userID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
