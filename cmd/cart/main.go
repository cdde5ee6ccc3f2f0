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

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/handlers"
	"github.com/tenpo-pos/core/internal/platform/auth"
	"github.com/tenpo-pos/core/internal/platform/cache"
	"github.com/tenpo-pos/core/internal/platform/config"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
	"github.com/tenpo-pos/core/internal/platform/observability"
	ppubsub "github.com/tenpo-pos/core/internal/platform/pubsub"
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

	logger := baseLogger.Named("cart")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load("8003")
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

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	publisher, err := ppubsub.NewPublisher(pubsubClient, cfg.Breaker)
	if err != nil {
		logger.Fatal("failed to initialise publisher", zap.Error(err))
	}
	defer publisher.Stop()

	cartRepo, err := firestoreRepo.NewCartRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	terminalRepo, err := firestoreRepo.NewTerminalRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise terminal repository", zap.Error(err))
	}
	masterRepo, err := firestoreRepo.NewMasterRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise master repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}
	tranLogRepo, err := firestoreRepo.NewTranLogRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise tranlog repository", zap.Error(err))
	}
	statusRepo, err := firestoreRepo.NewTransactionStatusRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise transaction status repository", zap.Error(err))
	}
	deliveryRepo, err := firestoreRepo.NewDeliveryStatusRepository(provider, firestoreRepo.TranlogDeliveryCollection)
	if err != nil {
		logger.Fatal("failed to initialise delivery status repository", zap.Error(err))
	}

	eventLog := observability.EventLogger(logger)

	tracker, err := services.NewDeliveryTracker(services.DeliveryTrackerDeps{
		Statuses:  deliveryRepo,
		Publisher: publisher,
		TopicServices: map[string][]string{
			cfg.PubSub.TranlogTopic: {domain.ServiceReport, domain.ServiceJournal, domain.ServiceStock},
		},
		CheckInterval: cfg.Delivery.CheckInterval,
		FailedPeriod:  cfg.Delivery.FailedPeriod,
		Period:        cfg.Delivery.Lookback,
		Logger:        eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise delivery tracker", zap.Error(err))
	}

	receipts := services.NewReceiptRegistry()
	payments := services.NewPaymentRegistry()
	terminalCache := cache.NewTTL[domain.Terminal](cfg.Cache.TerminalTTL, nil)

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Sessions:      provider,
		Carts:         cartRepo,
		Terminals:     terminalRepo,
		Masters:       masterRepo,
		Counters:      counterRepo,
		TranLogs:      tranLogRepo,
		Statuses:      statusRepo,
		Tracker:       tracker,
		Receipts:      receipts,
		Payments:      payments,
		TerminalCache: terminalCache,
		TranlogTopic:  cfg.PubSub.TranlogTopic,
		Logger:        eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	transactionService, err := services.NewTransactionService(services.TransactionServiceDeps{
		Sessions:     provider,
		TranLogs:     tranLogRepo,
		Statuses:     statusRepo,
		Terminals:    terminalRepo,
		Masters:      masterRepo,
		Counters:     counterRepo,
		Tracker:      tracker,
		Receipts:     receipts,
		TranlogTopic: cfg.PubSub.TranlogTopic,
		Logger:       eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise transaction service", zap.Error(err))
	}

	verifier, err := auth.NewTokenVerifier(cfg.Auth.TokenSecret)
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}
	minter, err := auth.NewServiceTokenMinter(cfg.Auth.ServiceTokenSecret, cfg.Auth.ServiceTokenTTL, nil)
	if err != nil {
		logger.Fatal("failed to initialise service token minter", zap.Error(err))
	}

	apiKeyCache := cache.NewTTL[auth.TerminalIdentity](cfg.Cache.TerminalTTL, nil)
	resolver := func(ctx context.Context, apiKey string) (auth.TerminalIdentity, error) {
		return apiKeyCache.Get(ctx, apiKey, func(ctx context.Context, key string) (auth.TerminalIdentity, error) {
			terminal, err := terminalRepo.FindByAPIKey(ctx, key)
			if err != nil {
				return auth.TerminalIdentity{}, err
			}
			identity := auth.TerminalIdentity{
				TenantID:   terminal.TenantID,
				StoreCode:  terminal.StoreCode,
				TerminalNo: terminal.TerminalNo,
			}
			if terminal.Staff != nil {
				identity.StaffID = terminal.Staff.ID
			}
			return identity, nil
		})
	}

	cartHandlers := handlers.NewCartHandlers(cartService, transactionService, tracker, verifier, minter, resolver)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithRoutes(cartHandlers.Routes),
	)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go services.RunSweeper(sweepCtx, tracker, eventLog)

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
		serverLogger.Info("cart service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
