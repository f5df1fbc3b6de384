package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-otp-bridge/internal/application/dispatch"
	"github.com/go-otp-bridge/internal/application/otp"
	"github.com/go-otp-bridge/internal/application/webhook"
	"github.com/go-otp-bridge/internal/config"
	"github.com/go-otp-bridge/internal/infrastructure/dynamo"
	"github.com/go-otp-bridge/internal/infrastructure/redisstore"
	"github.com/go-otp-bridge/internal/infrastructure/smsgw"
	"github.com/go-otp-bridge/internal/infrastructure/sns"
	"github.com/go-otp-bridge/internal/infrastructure/telegram"
	transporthttp "github.com/go-otp-bridge/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg := config.Load()
	if cfg.AppEnv == "production" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}

	ctx := context.Background()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	sessions := dynamo.NewVerificationSessionRepo(dynamoClient, cfg.DynamoTables.VerificationSessions, cfg.DynamoTables.VerificationGuards)
	identities := dynamo.NewMessagingIdentityRepo(dynamoClient, cfg.DynamoTables.MessagingIdentities)
	accounts := dynamo.NewAccountRepo(dynamoClient, cfg.DynamoTables.Accounts)

	// Redis is optional: without it the SMS cooldown lives in the guard table
	// and the gateway token lives only in memory.
	var (
		cooldown   otp.Cooldown = dynamo.NewCooldownRepo(dynamoClient, cfg.DynamoTables.VerificationGuards)
		tokenCache smsgw.TokenCache
	)
	redisClient, err := redisstore.NewClient(ctx, cfg)
	switch {
	case err != nil:
		slog.Warn("redis not available", "err", err)
	case redisClient != nil:
		defer redisClient.Close()
		cooldown = redisstore.NewCooldown(redisClient, "")
		tokenCache = redisstore.NewTokenCache(redisClient, "")
	}

	var smsSender dispatch.SMSSender
	switch cfg.SMSProvider {
	case "sns":
		sender, err := sns.NewSender(ctx, cfg)
		if err != nil {
			slog.Error("sns sender not available", "err", err)
			os.Exit(1)
		}
		smsSender = sender
	default:
		smsSender = smsgw.NewClient(cfg, tokenCache)
	}

	if cfg.TelegramBotToken == "" {
		slog.Warn("TELEGRAM_BOT_TOKEN is empty; bot delivery will fail")
	}
	if cfg.TelegramWebhookSecret == "" {
		if cfg.AppEnv == "production" {
			slog.Error("TELEGRAM_WEBHOOK_SECRET is required in production")
			os.Exit(1)
		}
		slog.Warn("TELEGRAM_WEBHOOK_SECRET is empty; webhook deliveries will be rejected")
	}
	if cfg.TelegramBotUsername == "" {
		slog.Warn("TELEGRAM_BOT_USERNAME is empty; clients get no bot link when the identity is missing")
	}
	bot := telegram.NewClient(cfg)

	otpSvc := otp.NewService(otp.ServiceDeps{
		Sessions:   sessions,
		Identities: identities,
		Accounts:   accounts,
		Bot:        dispatch.NewBot(bot),
		SMS:        dispatch.NewSMS(smsSender),
		Cooldown:   cooldown,
		Config: otp.Config{
			TTL:             cfg.OTP.TTL,
			MaxAttempts:     cfg.OTP.MaxAttempts,
			SMSCooldown:     cfg.OTP.SMSCooldown,
			DispatchTimeout: cfg.OTP.DispatchTimeout,
			CountryCode:     cfg.OTP.DefaultCountryCode,
		},
	})

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		OTP:     otpSvc,
		Webhook: webhook.NewIngester(identities, bot),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "sms_provider", cfg.SMSProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "err", err)
		return
	}
	slog.Info("server stopped")
}
