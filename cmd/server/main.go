package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"school-payments/internal/config"
	"school-payments/internal/database"
	"school-payments/internal/infrastructure/payment"
	"school-payments/internal/infrastructure/signing"
	"school-payments/internal/logger"
	"school-payments/internal/repo"
	"school-payments/internal/server"
	"school-payments/internal/service"
	"school-payments/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	zl, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer zl.Sync()

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DSN())
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	dbService := database.New(db, zl)
	defer dbService.Close()

	if err := database.Migrate(ctx, db); err != nil {
		zl.Fatal("failed to migrate database", zap.Error(err))
	}

	orderRepo := repo.NewOrderRepo(db)
	statusRepo := repo.NewStatusRepo(db)
	webhookRepo := repo.NewWebhookRepo(db)

	signer := signing.NewSigner(cfg.SigningKey)
	gateway := payment.NewClient(payment.Options{
		BaseURL:      cfg.GatewayBaseURL,
		APIKey:       cfg.APIKey,
		FallbackURL:  cfg.GatewayFallbackURL,
		Timeout:      cfg.GatewayTimeout,
		RetryBackoff: cfg.GatewayRetryBackoff,
	}, signer, zl)

	if cfg.RedisURL != "" {
		rdb, err := payment.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zl.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		gateway = payment.NewCachedGateway(gateway, rdb, cfg.StatusCacheTTL, zl)
		zl.Info("gateway status cache enabled", zap.Duration("ttl", cfg.StatusCacheTTL))
	}

	paymentService := service.NewPaymentService(
		database.NewTransactor(db),
		orderRepo,
		statusRepo,
		webhookRepo,
		gateway,
		signer,
		service.Options{
			GatewayName:      cfg.GatewayName,
			DefaultTrusteeID: cfg.DefaultTrusteeID,
			StrictOrdering:   cfg.StrictOrdering,
			VerifySignature:  cfg.VerifyCallbackSignature,
		},
		zl,
	)

	if cfg.ReconcileInterval > 0 {
		rw := worker.NewReconciliationWorker(orderRepo, statusRepo, gateway, worker.Options{
			Interval:   cfg.ReconcileInterval,
			StaleAfter: cfg.ReconcileStaleAfter,
			Batch:      cfg.ReconcileBatch,
			RPS:        cfg.ReconcileRPS,
		}, zl)
		go rw.Run(ctx)
	}

	router := server.NewRouter(server.NewPaymentHandler(paymentService, zl), dbService, cfg.CORSOrigins, zl)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("payment service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
}
