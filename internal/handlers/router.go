package handlers

import (
	"net/http"
	"time"

	"fanpay/internal/config"
	"fanpay/internal/db"
	"fanpay/internal/kvstore"
	"fanpay/internal/logger"
	"fanpay/internal/metrics"
	"fanpay/internal/middleware"
	"fanpay/internal/store"
	"fanpay/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps collects what the HTTP layer needs. Idempotency may be nil, which
// disables Idempotency-Key handling.
type Deps struct {
	Config        config.Config
	TxRunner      db.TxRunner
	Wallet        WalletService
	Replies       ReplyService
	Supports      SupportService
	Subscriptions SubscriptionService
	Campaigns     CampaignService
	Payments      PaymentService
	Notifications NotificationService
	Users         IdentityStore
	Admin         AdminStore
	Audit         AuditStore
	Sweeper       Sweeper
	Idempotency   kvstore.Store
	Hub           *websocket.Hub
}

type Handler struct {
	cfg           config.Config
	txRunner      db.TxRunner
	wallet        WalletService
	replies       ReplyService
	supports      SupportService
	subscriptions SubscriptionService
	campaigns     CampaignService
	payments      PaymentService
	notifications NotificationService
	users         IdentityStore
	admin         AdminStore
	audit         AuditStore
	sweeper       Sweeper
	idempotency   kvstore.Store
	hub           *websocket.Hub
}

func New(deps Deps) *Handler {
	return &Handler{
		cfg:           deps.Config,
		txRunner:      deps.TxRunner,
		wallet:        deps.Wallet,
		replies:       deps.Replies,
		supports:      deps.Supports,
		subscriptions: deps.Subscriptions,
		campaigns:     deps.Campaigns,
		payments:      deps.Payments,
		notifications: deps.Notifications,
		users:         deps.Users,
		admin:         deps.Admin,
		audit:         deps.Audit,
		sweeper:       deps.Sweeper,
		idempotency:   deps.Idempotency,
		hub:           deps.Hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestLogger(logger.Log))
	router.Use(chimiddleware.Recoverer)
	router.Use(metrics.InstrumentHandler)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", middleware.IdempotencyHeader},
		ExposedHeaders:   []string{middleware.ReplayedHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", metrics.Handler())
	router.With(middleware.AuthWebSocket(h.cfg.JWTSecret)).Get("/ws", h.ServeWS)
	router.Post("/webhooks/payments", h.PaymentWebhook)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		idem := r.With(h.idempotent)

		r.Get("/wallet", h.GetWallet)
		r.Get("/wallet/balance", h.GetBalance)
		r.Get("/wallet/transactions", h.ListTransactions)
		idem.Post("/wallet/withdraw", h.Withdraw)

		r.Get("/users/{id}", h.GetUserProfile)

		idem.Post("/supports", h.SendSupport)
		r.Get("/supports", h.SupportHistory)
		r.Get("/creators/{id}/top-supporters", h.TopSupporters)

		r.Post("/subscriptions/tiers", h.CreateTier)
		r.Get("/creators/{id}/tiers", h.ListTiers)
		idem.Post("/subscriptions", h.Subscribe)
		r.Delete("/subscriptions/{id}", h.CancelSubscription)
		r.Get("/subscriptions", h.MySubscriptions)
		r.Get("/subscribers", h.MySubscribers)
		r.Get("/creators/{id}/subscription", h.CheckSubscription)

		r.Post("/campaigns", h.CreateCampaign)
		r.Get("/campaigns", h.ListCampaigns)
		r.Get("/campaigns/contributions/me", h.MyContributions)
		r.Get("/campaigns/{id}", h.GetCampaign)
		idem.Post("/campaigns/{id}/contributions", h.Contribute)
		r.Put("/campaigns/{id}/status", h.UpdateCampaignStatus)

		r.Post("/reply-products", h.CreateReplyProduct)
		r.Post("/reply-products/{id}/slas", h.AddReplySLA)
		r.Put("/reply-slot-policy", h.SetSlotPolicy)
		r.Get("/creators/{id}/reply-products", h.CreatorReplyProducts)
		idem.Post("/reply-requests", h.CreateReplyRequest)
		r.Get("/reply-requests", h.ListMyReplyRequests)
		r.Get("/reply-requests/{id}", h.GetReplyRequest)
		r.Get("/reply-queue", h.ReplyQueue)
		r.Post("/reply-requests/{id}/start", h.StartReplyRequest)
		idem.Post("/reply-requests/{id}/deliver", h.DeliverReply)
		idem.Post("/reply-requests/{id}/reject", h.RejectReplyRequest)
		r.Post("/reply-requests/{id}/feedback", h.SubmitFeedback)

		idem.Post("/payments", h.CreatePayment)
		r.Get("/payments", h.PaymentHistory)

		r.Get("/notifications", h.ListNotifications)
		r.Get("/notifications/unread-count", h.UnreadNotifications)
		r.Post("/notifications/read-all", h.MarkAllNotificationsRead)
		r.Post("/notifications/{id}/read", h.MarkNotificationRead)
		r.Delete("/notifications/{id}", h.DeleteNotification)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.With(middleware.RequireAdmin(h.admin, store.RoleLedgerAuditor)).Get("/reconcile", h.Reconcile)
		r.With(middleware.RequireAdmin(h.admin, store.RoleLedgerAuditor)).Get("/escrow", h.EscrowSummary)
		r.With(middleware.RequireAdmin(h.admin, store.RoleLedgerAuditor)).Get("/wallets/{userID}/replay", h.VerifyReplay)
		r.With(middleware.RequireAdmin(h.admin, store.RoleLedgerAuditor)).Get("/audit", h.ListAuditLogs)
		r.With(middleware.RequireAdmin(h.admin, store.RoleEscrowOperator)).Post("/reply-requests/sweep", h.RunSweep)
		r.With(middleware.RequireAdmin(h.admin, "")).Get("/admins", h.ListAdmins)
		r.With(middleware.RequireAdmin(h.admin, "")).Post("/promote", h.PromoteAdmin)
		r.With(middleware.RequireAdmin(h.admin, "")).Post("/roles/grant", h.GrantRole)
	})
	return router
}

// idempotent applies Idempotency-Key handling when a store is configured.
func (h *Handler) idempotent(next http.Handler) http.Handler {
	if h.idempotency == nil {
		return next
	}
	ttl := h.cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return middleware.Idempotency(h.idempotency, ttl)(next)
}
