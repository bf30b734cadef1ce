package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/auth"
	"github.com/nerdneilsfield/dreamforge/internal/config"
	"github.com/nerdneilsfield/dreamforge/internal/generation"
	"github.com/nerdneilsfield/dreamforge/internal/i18n"
	"github.com/nerdneilsfield/dreamforge/internal/imagestore"
	"github.com/nerdneilsfield/dreamforge/internal/inference"
	"github.com/nerdneilsfield/dreamforge/internal/logger"
	"github.com/nerdneilsfield/dreamforge/internal/payments"
	"github.com/nerdneilsfield/dreamforge/internal/storage"
)

// Run wires every component from cfg and serves HTTP until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, version, buildDate string) error {
	log, err := logger.InitLogger(cfg.LogConfig, version)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting DreamForge...", zap.String("version", version), zap.String("buildDate", buildDate))

	db, err := storage.InitDB(cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer func() {
		if err := storage.Close(db); err != nil {
			log.Warn("Closing database failed", zap.Error(err))
		}
	}()

	if err := storage.SeedCatalog(db, cfg.Catalog, log); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	catalog, err := storage.LoadCatalog(ctx, db)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	gateway, err := inference.New(cfg.Inference, log.Named("inference"))
	if err != nil {
		return fmt.Errorf("init inference gateway: %w", err)
	}

	images, err := imagestore.New(ctx, cfg.Storage, log.Named("imagestore"))
	if err != nil {
		return fmt.Errorf("init image store: %w", err)
	}
	var imagesDir string
	if local, ok := images.(*imagestore.Local); ok {
		imagesDir = local.Dir()
	}

	i18nManager, err := i18n.NewManager(cfg.DefaultLanguage, log)
	if err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	users := storage.NewUserStore(db)
	ledger := storage.NewGormLedger(db, log)
	gallery := storage.NewGallery(db)
	purchases := storage.NewPurchaseStore(db, log)

	srv := New(Deps{
		Config:      cfg,
		Users:       users,
		Ledger:      ledger,
		Gallery:     gallery,
		Catalog:     catalog,
		Coordinator: generation.NewCoordinator(catalog, ledger, gateway, images, gallery, cfg.Inference.Timeout, log),
		Payments:    payments.NewService(cfg.Payments.Packages, payments.NewSimulatedProvider(cfg.Payments.CheckoutBaseURL), purchases, users, log),
		Sessions:    auth.NewSessionManager(cfg.Session.Secret, cfg.Session.Issuer, cfg.Session.TTL),
		Authorizer:  auth.NewAuthorizer(cfg.Admins.UserIDs),
		I18n:        i18nManager,
		Gateway:     gateway,
		ImagesDir:   imagesDir,
		Logger:      log.Named("http"),
		Version:     version,
		BuildDate:   buildDate,
	})

	if err := srv.Start(ctx); err != nil {
		log.Error("HTTP server stopped with error", zap.Error(err))
		return err
	}
	log.Info("DreamForge stopped")
	return nil
}
