package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebridge/appointment-service/internal/config"
	"github.com/carebridge/appointment-service/internal/db"
	"github.com/carebridge/appointment-service/internal/integrations"
	"github.com/carebridge/appointment-service/internal/outbox"
	redisclient "github.com/carebridge/appointment-service/internal/redis"
	"github.com/carebridge/appointment-service/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "outbox-worker").Logger()
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("outbox-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisClinicianLocker(rdb, cfg.LockTTL)

	video := integrations.NewHTTPVideoProvider(cfg.VideoAPIURL, cfg.IntegrationTimeout)
	payments := integrations.NewHTTPPaymentProvider(cfg.PaymentAPIURL, cfg.PaymentAmountCents, cfg.PaymentCurrency, cfg.IntegrationTimeout)
	svc := scheduling.NewService(repo, locker, video, payments, cfg, logger)

	sender := buildSender(cfg, logger)
	store := outbox.NewPgStore(pgPool)
	dispatcher := outbox.NewDispatcher(store, svc, sender, outbox.DispatcherConfig{
		AdminEmails: cfg.AdminEmails,
		MaxAttempts: cfg.OutboxMaxAttempts,
		BaseBackoff: cfg.OutboxBaseBackoff,
	}, logger)

	dispatcher.Run(rootCtx, cfg.WorkerInterval)
}

// buildSender wires the email channel to SendGrid when configured and logs
// everything else.
func buildSender(cfg config.Config, logger zerolog.Logger) integrations.NotificationSender {
	mux := integrations.NewChannelMux(integrations.NewLogSender(logger))
	if sg := integrations.NewSendGridSender(integrations.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFrom,
	}, logger); sg != nil {
		mux.Register(integrations.ChannelEmail, sg)
	}
	return mux
}
