package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"certverify/internal/auth"
	"certverify/internal/certificate"
	"certverify/internal/chain"
	"certverify/internal/cloudinary"
	"certverify/internal/compose"
	"certverify/internal/config"
	"certverify/internal/extract"
	"certverify/internal/fetch"
	"certverify/internal/handler"
	"certverify/internal/httpmiddleware"
	"certverify/internal/logger"
	"certverify/internal/metrics"
	"certverify/internal/qr"
	"certverify/internal/queue"
	"certverify/internal/render"
	"certverify/internal/store"
	"certverify/internal/verify"
	"certverify/internal/worker"
)

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

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	render.Init(render.Options{
		Scale:       cfg.RenderScale,
		Concurrency: cfg.RenderConcurrency,
		MaxPages:    cfg.RenderMaxPages,
		MaxPixels:   cfg.RenderMaxPixels,
	})

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		log.Warn("db not ready, applying schema in the background", zap.Error(err))
		go func() {
			if db.KeepMigrating(ctx, 5*time.Second, func(err error) {
				log.Debug("schema not applied yet", zap.Error(err))
			}) == nil {
				log.Info("schema applied")
			}
		}()
	}
	defer func() { _ = db.Close() }()

	redisClient := store.NewRedis(store.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = redisClient.Close() }()

	repo := certificate.NewRepository(db.Client)
	cache := certificate.NewCachedStore(repo, redisClient.Client, cfg.CacheTTL, log)

	opts := []verify.Option{verify.WithChainTimeout(cfg.ChainTimeout), verify.WithLogger(log)}
	if cfg.ChainEnabled() {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.ChainTimeout)
		client, err := chain.Dial(dialCtx, cfg.ChainRPCURL, cfg.ChainContract)
		cancel()
		if err != nil {
			// Verification keeps working store-trusted.
			log.Warn("registry client unavailable", zap.Error(err))
		} else {
			defer client.Close()
			opts = append(opts, verify.WithChain(client))
			log.Info("registry cross-checks enabled", zap.String("contract", cfg.ChainContract))
		}
	} else {
		log.Info("registry not configured, results are store-trusted")
	}
	resolver := verify.NewResolver(cache, opts...)

	codec := qr.NewCodec()
	documents := verify.NewDocumentVerifier(resolver, extract.New(codec),
		verify.WithScale(cfg.RenderScale),
		verify.WithMetadataFallback(cfg.MetadataFallback),
		verify.WithDocumentLogger(log))

	var views compose.ViewStore = compose.NewRedisViews(redisClient.Client, cfg.ViewTTL)
	if cfg.ViewBackend == "memory" {
		views = compose.NewMemoryViews(cfg.ViewTTL)
	}

	fetcher := fetch.New(cfg.FetchTimeout, cfg.MaxUploadBytes, cfg.FetchOptions()...)
	deps := handler.Deps{
		Resolver:       resolver,
		Documents:      documents,
		Certificates:   repo,
		Composer:       compose.New(codec, views, log),
		Views:          views,
		Sources:        fetcher,
		Cache:          cache,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         log,
	}
	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if cdn.Configured() {
		deps.Uploader = cdn
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Info("cloudinary not configured, composed documents are not stored")
	}

	switch {
	case cfg.QueueBackend != "memory":
		deps.Queue = queue.NewRedisQueue(redisClient.Client, "")
	case deps.Uploader == nil:
		log.Warn("compose jobs disabled: the in-memory queue needs cloudinary for its in-process worker")
	default:
		// Nothing outside this process can read an in-memory queue, so jobs run here.
		q := queue.NewInMemory(64)
		proc := worker.New(fetcher, compose.New(codec, nil, log), cdn, repo, cache, log)
		go func() {
			if err := proc.Run(ctx, q); err != nil {
				log.Error("in-process worker stopped", zap.Error(err))
			}
		}()
		deps.Queue = q
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(log, "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"X-View-Handle", "X-Document-URL", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	handler.New(deps).Register(r, auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleUniversity, auth.RoleSuper))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}
