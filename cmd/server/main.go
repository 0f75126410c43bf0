package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/wearlab/tryon-server/internal/admin"
	"github.com/wearlab/tryon-server/internal/config"
	"github.com/wearlab/tryon-server/internal/database"
	"github.com/wearlab/tryon-server/internal/kling"
	"github.com/wearlab/tryon-server/internal/repository"
	"github.com/wearlab/tryon-server/internal/server"
	"github.com/wearlab/tryon-server/internal/service"
	"github.com/wearlab/tryon-server/internal/storage"
	"github.com/wearlab/tryon-server/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	klingClient := kling.NewClient(cfg, logr)

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	packRepo := repository.NewPackRepository(db)
	promoRepo := repository.NewPromoRepository(db)
	shareRepo := repository.NewShareRepository(db)

	userService := service.NewUserService(userRepo, taskRepo)
	packService := service.NewPackService(cfg, packRepo)
	promoService := service.NewPromoService(promoRepo)
	tryonService := service.NewTryOnService(cfg, logr, userRepo, taskRepo, klingClient, uploader)
	webhookService := service.NewWebhookService(cfg.LemonWebhookSecret, logr, paymentRepo, packService, promoService)
	referralService := service.NewReferralService(logr, shareRepo, taskRepo, userRepo, cfg.ReferralClickThreshold, cfg.ReferralRewardCredits)

	if err := packService.EnsureConfiguredPacks(ctx); err != nil {
		log.Fatalf("ensure credit packs: %v", err)
	}

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userService, packService, promoService, paymentRepo)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	apiServer := server.NewServer(cfg, logr, tryonService, userService, promoService, referralService, webhookService)
	if err := apiServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api server stopped", "err", err)
	}
}
