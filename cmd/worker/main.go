package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"certverify/internal/certificate"
	"certverify/internal/cloudinary"
	"certverify/internal/compose"
	"certverify/internal/config"
	"certverify/internal/fetch"
	"certverify/internal/logger"
	"certverify/internal/qr"
	"certverify/internal/queue"
	"certverify/internal/store"
	"certverify/internal/worker"
)

// Worker consumes compose jobs, stores the composed documents and records their URLs.
func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("detail", w))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if !cdn.Configured() {
		log.Fatal("cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}
	if cfg.QueueBackend == "memory" {
		log.Fatal("the worker needs QUEUE_BACKEND=redis; an in-memory queue is not shared with the api")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(store.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = redisClient.Close() }()

	repo := certificate.NewRepository(db.Client)
	cache := certificate.NewCachedStore(repo, redisClient.Client, cfg.CacheTTL, log)

	proc := worker.New(
		fetch.New(cfg.FetchTimeout, cfg.MaxUploadBytes, cfg.FetchOptions()...),
		compose.New(qr.NewCodec(), nil, log),
		cdn,
		repo,
		cache,
		log,
	)
	if err := proc.Run(ctx, queue.NewRedisQueue(redisClient.Client, "")); err != nil {
		log.Fatal("worker failed", zap.Error(err))
	}
}
