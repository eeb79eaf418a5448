package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"fanpay/internal/config"
	"fanpay/internal/db"
	"fanpay/internal/logger"
	"fanpay/internal/store"
	"fanpay/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jmoiron/sqlx"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	steps := flag.Int("steps", 0, "apply (or with -down, roll back) this many migrations instead of all")
	bootstrapAdmin := flag.String("bootstrap-admin", "", "make this user the first super admin when no admin exists")
	flag.Parse()

	cfg := config.Load()
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Log.Sync() }()

	migrator, err := db.NewMigrator(migrations.Files, cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatalw("failed to open migrations", "error", err)
	}
	defer migrator.Close()

	switch {
	case *down && *steps > 0:
		err = migrator.Steps(-*steps)
	case *down:
		err = migrator.Steps(-1)
	case *steps > 0:
		err = migrator.Steps(*steps)
	default:
		err = migrator.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Log.Fatalw("migration failed", "error", err)
	}
	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Log.Fatalw("failed to read schema version", "error", err)
	}
	logger.Log.Infow("schema ready", "version", version, "dirty", dirty)

	if *bootstrapAdmin != "" {
		if err := bootstrap(cfg.DatabaseURL, *bootstrapAdmin); err != nil {
			logger.Log.Fatalw("admin bootstrap failed", "user_id", *bootstrapAdmin, "error", err)
		}
	}
}

// bootstrap creates the first super admin. Later admins are promoted through
// the admin API.
func bootstrap(databaseURL, userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	admins := store.NewAdminStore(database)
	exists, err := admins.HasAnyAdmin(ctx)
	if err != nil {
		return err
	}
	if exists {
		logger.Log.Infow("admin already exists, skipping bootstrap")
		return nil
	}
	ok, err := store.NewUserStore(database).Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("user not found")
	}
	audit := store.NewAuditStore(database)
	err = db.NewTxRunner(database).WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := admins.CreateAdmin(ctx, tx, userID, true, nil); err != nil {
			return err
		}
		return audit.Log(ctx, tx, "", "bootstrap_admin", "admin", userID, map[string]string{"user_id": userID})
	})
	if err != nil {
		return err
	}
	logger.Log.Infow("super admin created", "user_id", userID)
	return nil
}
