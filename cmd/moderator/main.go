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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/whisper/spamguard/internal/ban"
	"github.com/whisper/spamguard/internal/config"
	"github.com/whisper/spamguard/internal/logging"
	"github.com/whisper/spamguard/internal/messaging"
	"github.com/whisper/spamguard/internal/metrics"
	"github.com/whisper/spamguard/internal/moderation"
	"github.com/whisper/spamguard/internal/moderator"
	"github.com/whisper/spamguard/internal/ratelimit"
	"github.com/whisper/spamguard/internal/report"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "moderator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting spamguard moderation service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	// PostgreSQL setup.
	if cfg.PostgresMigrate {
		if err := report.Migrate(cfg.PostgresDSN); err != nil {
			return err
		}
		log.Info("schema migrations applied")
	}
	openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	db, err := report.Open(openCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return err
	}
	defer db.Close()

	// Handlers outlive the signal context. natsClient.Close blocks until
	// the drain has finished them, and it is deferred after the stores so
	// it runs first.
	handlerCtx, cancelHandlers := context.WithCancel(context.Background())
	defer cancelHandlers()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = cfg.NATSName
	natsClient, err := messaging.NewNATSClient(natsConfig, log)
	if err != nil {
		return err
	}
	defer natsClient.Close()

	// Moderation engine.
	tracker := moderation.NewRepetitionTracker()
	go tracker.Run(ctx, cfg.SweepInterval)

	classifier := moderation.NewClassifier(moderation.NewPatternLibrary(), tracker)
	workflow := moderation.NewWorkflow(report.NewStore(db),
		moderation.WithSystemReporterID(cfg.SystemReporterID),
		moderation.WithLogger(log.Named("workflow")),
	)
	svc := moderator.NewService(classifier, workflow, natsClient,
		moderator.WithMutes(ban.NewStore(rdb)),
		moderator.WithLimiter(ratelimit.NewLimiter(rdb, log)),
		moderator.WithLogger(log),
		moderator.WithStoreTimeout(cfg.StoreTimeout),
		moderator.WithBatchTimeout(cfg.BatchTimeout),
	)

	if err := natsClient.SubscribeModerationCheck(func(data []byte) {
		svc.HandleCheck(handlerCtx, data)
	}); err != nil {
		return fmt.Errorf("subscribe to moderation checks: %w", err)
	}
	if err := natsClient.SubscribeModerationAction(func(data []byte) []byte {
		return svc.HandleAction(handlerCtx, data)
	}); err != nil {
		return fmt.Errorf("subscribe to moderation actions: %w", err)
	}

	// Metrics.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	log.Info("spamguard moderation service running",
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("nats_url", cfg.NATSURL),
		zap.String("metrics_addr", cfg.MetricsAddr),
		zap.String("system_reporter_id", cfg.SystemReporterID))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", zap.Error(err))
	}
	return nil
}
