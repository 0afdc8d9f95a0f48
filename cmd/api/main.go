package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"portfolioPro/internal/api"
	"portfolioPro/internal/auth"
	"portfolioPro/internal/config"
	"portfolioPro/internal/database"
	"portfolioPro/internal/metrics"
	"portfolioPro/internal/payment"
	"portfolioPro/internal/render"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/tasks"
	"portfolioPro/internal/validation"
	"portfolioPro/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	log.Printf("api bootstrapped with db host=%s port=%d db=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	validation.MustSetup()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	seeded, err := database.SeedTemplates(db)
	if err != nil {
		log.Fatalf("seed templates: %v", err)
	}
	log.Printf("database ready, %d templates seeded", seeded)

	privateKey, err := os.ReadFile(cfg.Auth.PrivateKeyPath)
	if err != nil {
		log.Fatalf("read private key: %v", err)
	}
	publicKey, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		log.Fatalf("read public key: %v", err)
	}
	authService, err := auth.NewAuthService(privateKey, publicKey, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	var scanner api.Scanner
	if cfg.API.ClamdAddr != "" {
		scanner = api.ClamdScanner(cfg.API.ClamdAddr)
		log.Printf("upload scanning enabled via clamd at %s", cfg.API.ClamdAddr)
	}

	recorder := metrics.NewRecorder(cfg.Limits.MonitoringCapacity)
	payments := payment.NewService(db, payment.NewRazorpayGateway(cfg.Payment.KeyID, cfg.Payment.KeySecret), payment.Options{
		KeyID:      cfg.Payment.KeyID,
		KeySecret:  cfg.Payment.KeySecret,
		Currency:   cfg.Payment.Currency,
		CouponCode: cfg.Payment.CouponCode,
	})

	router := api.NewRouter(cfg, logger, recorder)
	api.RegisterRoutes(router, api.Deps{
		Config:   cfg,
		DB:       db,
		Redis:    redisClient,
		Auth:     authService,
		Payments: payments,
		Objects:  storageClient,
		Queue:    tasks.NewQueue(asynqClient, cfg.Worker.MaxRetry, 0),
		Notifier: worker.NewRedisNotifier(redisClient),
		Renderer: render.MustNew(),
		Recorder: recorder,
		Scanner:  scanner,
		Logger:   logger,
	})

	address := fmt.Sprintf(":%d", cfg.API.Port)
	log.Printf("api listening on %s", address)
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
