package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"channelpass/internal/config"
	"channelpass/internal/cryptopay"
	"channelpass/internal/database"
	"channelpass/internal/handlers"
	"channelpass/internal/logging"
	"channelpass/internal/repository"
	"channelpass/internal/security"
	"channelpass/internal/service"
	"channelpass/internal/telegram"
)

const drainTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()

	logger, err := logging.New(cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Refusing to start", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database with config (supports sqlite, postgres, mysql)
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connection established", zap.String("type", cfg.DatabaseType))

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	logger.Info("Migrations completed successfully")

	// External collaborators
	bot, err := telegram.NewBot(cfg.BotToken, cfg.RequestTimeout)
	if err != nil {
		logger.Fatal("Failed to connect to Telegram", zap.Error(err))
	}
	logger.Info("Authorized on Telegram", zap.String("bot", bot.Self.UserName))

	gateway := telegram.NewGateway(bot, cfg.StarsProviderToken)
	cryptoPay := cryptopay.NewClient(cfg.CryptoPayAPIURL, cfg.CryptoPayToken, cfg.RequestTimeout)

	emailService, err := service.NewEmailService(ctx, cfg.AWSRegion, cfg.SESFromEmail, cfg.SESFromName, logger)
	if err != nil {
		logger.Fatal("Failed to initialize email service", zap.Error(err))
	}

	// Initialize services
	catalog := cfg.Catalog()
	alerts := service.NewAlertService(emailService, cfg.OperatorEmail, gateway, cfg.AdminID, logger)
	ledger := service.NewLedgerService(db, logger)
	subscriptions := service.NewSubscriptionService(db, catalog, logger)
	invites := service.NewInviteService(db, gateway, cfg.PrivateChannelID, logger)
	fulfiller := service.NewFulfiller(invites, gateway, alerts, catalog, logger)

	registry := service.NewInvoiceRegistry(repository.NewInvoiceRepository(db))
	restored, err := registry.Load(ctx)
	if err != nil {
		logger.Fatal("Failed to load pending invoices", zap.Error(err))
	}
	logger.Info("Pending invoices restored", zap.Int("count", restored))

	rates := service.NewRateTable(cfg.FiatCurrency, service.DefaultRates())
	limiter := security.NewRateLimiter(cfg.InvoiceRateLimit, cfg.InvoiceRateWindow)

	payments := service.NewPaymentService(db, ledger, subscriptions, fulfiller, registry, cryptoPay, gateway,
		rates, limiter, catalog,
		service.PaymentConfig{AdminID: cfg.AdminID, InvoiceExpiresIn: cfg.InvoiceExpiresIn},
		logger)

	reconciler := service.NewReconciler(db, registry, cryptoPay, subscriptions, fulfiller,
		cfg.ReconcileInterval, cfg.InvoiceTTL, logger)
	refresher := service.NewRatesRefresher(cryptoPay, rates, cfg.RatesRefreshInterval, logger)

	botHandler := handlers.NewBotHandler(payments, ledger, subscriptions, invites, gateway, catalog, logger)
	dispatcher := handlers.NewDispatcher(botHandler, 2*cfg.RequestTimeout, logger)

	// Background loops
	go reconciler.Run(ctx)
	go refresher.Run(ctx)
	go limiter.Run(ctx, time.Minute)

	// HTTP surface
	webhookSecret := cfg.WebhookSecret
	if webhookSecret == "" && cfg.SelfURL != "" {
		webhookSecret = security.DeriveWebhookSecret(cfg.BotToken)
	}
	router := handlers.NewRouter(dispatcher, webhookSecret, registry, logger)
	server := handlers.NewHTTPServer(":"+cfg.ServerPort, router)
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Update transport
	if cfg.SelfURL != "" {
		if err := setWebhook(bot, cfg.SelfURL, webhookSecret); err != nil {
			logger.Fatal("Failed to set webhook", zap.Error(err))
		}
		logger.Info("Webhook mode", zap.String("url", cfg.SelfURL+"/webhook/..."))
		<-ctx.Done()
	} else {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn("Failed to delete webhook", zap.Error(err))
		}
		handlers.Poll(ctx, bot, dispatcher, logger)
	}

	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if !dispatcher.Wait(drainTimeout) {
		logger.Warn("Timed out waiting for in-flight updates")
	}
	logger.Info("Shutdown complete", zap.Int("pending_invoices", registry.Len()))
}

func setWebhook(bot *tgbotapi.BotAPI, selfURL, secret string) error {
	wh, err := tgbotapi.NewWebhook(fmt.Sprintf("%s/webhook/%s", selfURL, secret))
	if err != nil {
		return err
	}
	wh.AllowedUpdates = handlers.AllowedUpdates
	if _, err := bot.Request(wh); err != nil {
		return err
	}
	return nil
}
