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

	logger := baseLogger.Named("terminal")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load("8001")
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

	terminalRepo, err := firestoreRepo.NewTerminalRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise terminal repository", zap.Error(err))
	}
	cashLogRepo, err := firestoreRepo.NewCashLogRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise cash log repository", zap.Error(err))
	}
	openCloseRepo, err := firestoreRepo.NewOpenCloseLogRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise open close log repository", zap.Error(err))
	}
	tranLogRepo, err := firestoreRepo.NewTranLogRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise tranlog repository", zap.Error(err))
	}
	masterRepo, err := firestoreRepo.NewMasterRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise master repository", zap.Error(err))
	}
	deliveryRepo, err := firestoreRepo.NewDeliveryStatusRepository(provider, firestoreRepo.TerminalLogDeliveryCollection)
	if err != nil {
		logger.Fatal("failed to initialise delivery status repository", zap.Error(err))
	}

	eventLog := observability.EventLogger(logger)

	tracker, err := services.NewDeliveryTracker(services.DeliveryTrackerDeps{
		Statuses:  deliveryRepo,
		Publisher: publisher,
		TopicServices: map[string][]string{
			cfg.PubSub.CashlogTopic:   {domain.ServiceReport, domain.ServiceJournal},
			cfg.PubSub.OpenCloseTopic: {domain.ServiceReport, domain.ServiceJournal},
		},
		CheckInterval: cfg.Delivery.CheckInterval,
		FailedPeriod:  cfg.Delivery.FailedPeriod,
		Period:        cfg.Delivery.Lookback,
		Logger:        eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise delivery tracker", zap.Error(err))
	}

	terminalService, err := services.NewTerminalService(services.TerminalServiceDeps{
		Sessions:       provider,
		Terminals:      terminalRepo,
		CashLogs:       cashLogRepo,
		OpenCloseLogs:  openCloseRepo,
		TranLogs:       tranLogRepo,
		Masters:        masterRepo,
		Tracker:        tracker,
		CashlogTopic:   cfg.PubSub.CashlogTopic,
		OpenCloseTopic: cfg.PubSub.OpenCloseTopic,
		Logger:         eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise terminal service", zap.Error(err))
	}

	verifier, err := auth.NewTokenVerifier(cfg.Auth.TokenSecret)
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}
	minter, err := auth.NewServiceTokenMinter(cfg.Auth.ServiceTokenSecret, cfg.Auth.ServiceTokenTTL, nil)
	if err != nil {
		logger.Fatal("failed to initialise service token minter", zap.Error(err))
	}

	terminalCache := cache.NewTTL[domain.Terminal](cfg.Cache.TerminalTTL, nil)
	resolver := func(ctx context.Context, apiKey string) (auth.TerminalIdentity, error) {
		terminal, err := terminalCache.Get(ctx, apiKey, func(ctx context.Context, key string) (domain.Terminal, error) {
			return terminalService.ResolveAPIKey(ctx, key)
		})
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
	}

	terminalHandlers := handlers.NewTerminalHandlers(terminalService, tracker, verifier, minter, resolver)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithRoutes(terminalHandlers.Routes),
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
		serverLogger.Info("terminal service listening")
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
