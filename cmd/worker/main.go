package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"portfolioPro/internal/config"
	"portfolioPro/internal/database"
	"portfolioPro/internal/mail"
	"portfolioPro/internal/metrics"
	"portfolioPro/internal/pdf"
	"portfolioPro/internal/render"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	var sender mail.Sender
	if cfg.Email.SendGridKey != "" {
		sender = mail.NewSendGridSender(cfg.Email.SendGridKey, cfg.Email.FromName, cfg.Email.FromAddress)
	} else {
		sender = mail.NewLogSender(logger)
		log.Println("sendgrid key not set, emails will only be logged")
	}

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})

	mux := worker.NewServeMux(worker.Deps{
		DB:       db,
		Storage:  storageClient,
		PDF:      pdf.NewRodGenerator(logger),
		Renderer: render.MustNew(),
		Mail:     sender,
		Notifier: worker.NewRedisNotifier(redisClient),
		Logger:   logger,
		AppName:  cfg.Email.FromName,
	})
	mux.Use(metrics.AsynqMetricsMiddleware())

	logger.Info("worker service started", slog.String("redis_addr", redisAddr))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
