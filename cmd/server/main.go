package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fanpay/internal/config"
	"fanpay/internal/db"
	"fanpay/internal/events"
	"fanpay/internal/handlers"
	"fanpay/internal/kvstore"
	"fanpay/internal/logger"
	"fanpay/internal/metrics"
	"fanpay/internal/scheduler"
	"fanpay/internal/services"
	"fanpay/internal/store"
	"fanpay/internal/websocket"
	"fanpay/migrations"
)

func main() {
	cfg := config.Load()
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatalw("failed to connect database", "error", err)
	}
	defer database.Close()

	if cfg.AutoMigrate {
		if err := db.MigrateUp(migrations.Files, cfg.DatabaseURL); err != nil {
			logger.Log.Fatalw("failed to apply migrations", "error", err)
		}
		logger.Log.Infow("migrations applied")
	}

	kv := openKVStore(ctx, cfg)
	defer kv.Close()

	publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaLedgerTopic, cfg.KafkaNotificationTopic)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Log.Warnw("kafka publisher close failed", "error", err)
		}
	}()

	users := store.NewUserStore(database)
	wallets := store.NewWalletStore(database)
	ledger := store.NewLedgerStore(database)
	replies := store.NewReplyStore(database)
	products := store.NewReplyProductStore(database)
	supports := store.NewSupportStore(database)
	subscriptions := store.NewSubscriptionStore(database)
	campaigns := store.NewCampaignStore(database)
	payments := store.NewPaymentStore(database)
	notificationStore := store.NewNotificationStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()
	recorder := metrics.Recorder{}

	notifications := services.NewNotificationService(notificationStore, hub, publisher)
	wallet := services.NewWalletService(txRunner, wallets, ledger, audit, hub, publisher, recorder, services.Limits{
		MaxTransaction: cfg.MaxTransactionAmount,
		MaxWallet:      cfg.MaxWalletBalance,
	})
	replyService := services.NewReplyService(txRunner, wallet, replies, products, users, audit, notifications, recorder, services.ReplyOptions{
		DefaultDailySlotLimit: cfg.DefaultDailySlotLimit,
		Location:              cfg.BusinessLocation,
	})

	sweep := scheduler.NewEscrowSweep(replyService, kv, cfg.EscrowSweepTimeout)
	if err := sweep.Start(cfg.EscrowSweepSchedule); err != nil {
		logger.Log.Fatalw("failed to schedule escrow sweep", "schedule", cfg.EscrowSweepSchedule, "error", err)
	}

	handler := handlers.New(handlers.Deps{
		Config:        cfg,
		TxRunner:      txRunner,
		Wallet:        wallet,
		Replies:       replyService,
		Supports:      services.NewSupportService(txRunner, wallet, supports, users, users, notifications),
		Subscriptions: services.NewSubscriptionService(txRunner, wallet, subscriptions, users, audit, notifications),
		Campaigns:     services.NewCampaignService(txRunner, wallet, campaigns, users, audit, notifications),
		Payments:      services.NewPaymentService(txRunner, wallet, payments, notifications, cfg.MinPaymentAmount),
		Notifications: notifications,
		Users:         users,
		Admin:         admin,
		Audit:         audit,
		Sweeper:       sweep,
		Idempotency:   kv,
		Hub:           hub,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Log.Infow("fanpay API listening", "addr", server.Addr, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalw("server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Errorw("http shutdown failed", "error", err)
	}
	if err := sweep.Stop(shutdownCtx); err != nil {
		logger.Log.Warnw("escrow sweep did not stop in time", "error", err)
	}
}

// openKVStore prefers Redis so the sweep lock and idempotency keys are shared
// across instances. Outside production an unreachable Redis falls back to an
// in-process store.
func openKVStore(ctx context.Context, cfg config.Config) kvstore.Store {
	redisStore := kvstore.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err := redisStore.Ping(pingCtx)
	if err == nil {
		return redisStore
	}
	_ = redisStore.Close()
	if cfg.AppEnv == "production" {
		logger.Log.Fatalw("redis unavailable", "addr", cfg.RedisAddr, "error", err)
	}
	logger.Log.Warnw("redis unavailable, using in-memory kv store", "addr", cfg.RedisAddr, "error", err)
	return kvstore.NewMemory()
}
