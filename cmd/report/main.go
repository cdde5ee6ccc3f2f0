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
	"github.com/tenpo-pos/core/internal/platform/cache"
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

	logger := baseLogger.Named("report")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load("8004")
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

	tranLogRepo, err := firestoreRepo.NewTranLogRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise tranlog repository", zap.Error(err))
	}
	cashLogRepo, err := firestoreRepo.NewCashLogRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise cash log repository", zap.Error(err))
	}
	openCloseRepo, err := firestoreRepo.NewOpenCloseLogRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise open close log repository", zap.Error(err))
	}
	terminalRepo, err := firestoreRepo.NewTerminalRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise terminal repository", zap.Error(err))
	}
	masterRepo, err := firestoreRepo.NewMasterRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise master repository", zap.Error(err))
	}
	reportRepo, err := firestoreRepo.NewReportRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise report repository", zap.Error(err))
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

	journalPoster, err := services.NewJournalPoster(cfg.Peers.CartServiceURL, nil, minter)
	if err != nil {
		logger.Fatal("failed to initialise journal poster", zap.Error(err))
	}

	reportService, err := services.NewReportService(services.ReportServiceDeps{
		TranLogs:      tranLogRepo,
		CashLogs:      cashLogRepo,
		OpenCloseLogs: openCloseRepo,
		Masters:       masterRepo,
		Reports:       reportRepo,
		Journal:       journalPoster,
		Logger:        eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise report service", zap.Error(err))
	}

	tranAcks, err := services.NewAckNotifier(cfg.Peers.CartServiceURL, nil, minter, domain.ServiceReport)
	if err != nil {
		logger.Fatal("failed to initialise transaction ack notifier", zap.Error(err))
	}
	terminalAcks, err := services.NewTerminalAckNotifier(cfg.Peers.TerminalServiceURL, nil, minter, domain.ServiceReport)
	if err != nil {
		logger.Fatal("failed to initialise terminal ack notifier", zap.Error(err))
	}
	consumer, err := services.NewReportConsumer(tranAcks, terminalAcks, eventLog)
	if err != nil {
		logger.Fatal("failed to initialise report consumer", zap.Error(err))
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

	reportHandlers := handlers.NewReportHandlers(reportService, verifier, resolver)
	consumerHandlers := handlers.NewConsumerHandlers(consumer)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithRoutes(reportHandlers.Routes, consumerHandlers.Routes),
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
		serverLogger.Info("report service listening")
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
