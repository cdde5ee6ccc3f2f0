package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/handlers"
	"github.com/tenpo-pos/core/internal/platform/auth"
	"github.com/tenpo-pos/core/internal/platform/config"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
	"github.com/tenpo-pos/core/internal/platform/observability"
	firestoreRepo "github.com/tenpo-pos/core/internal/repositories/firestore"
	"github.com/tenpo-pos/core/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("stock")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load("8006")
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := provider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	stockRepo, err := firestoreRepo.NewStockRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise stock repository", zap.Error(err))
	}

	eventLog := observability.EventLogger(logger)

	verifier, err := auth.NewTokenVerifier(cfg.Auth.TokenSecret)
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}
	minter, err := auth.NewServiceTokenMinter(cfg.Auth.ServiceTokenSecret, cfg.Auth.ServiceTokenTTL, nil)
	if err != nil {
		logger.Fatal("failed to initialise service token minter", zap.Error(err))
	}

	acks, err := services.NewAckNotifier(cfg.Peers.CartServiceURL, nil, minter, domain.ServiceStock)
	if err != nil {
		logger.Fatal("failed to initialise ack notifier", zap.Error(err))
	}

	stockService, err := services.NewStockService(services.StockServiceDeps{
		Stocks: stockRepo,
		Acks:   acks,
		Alerts: services.LogAlertNotifier{Log: eventLog},
		Logger: eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise stock service", zap.Error(err))
	}

	stockHandlers := handlers.NewStockHandlers(stockService, verifier)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithRoutes(stockHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("stock service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
