package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/plumeng/evalbatch/internal/config"
	"github.com/plumeng/evalbatch/internal/infra/postgresql"
	"github.com/plumeng/evalbatch/internal/infra/postgresql/migrations"
	infraredis "github.com/plumeng/evalbatch/internal/infra/redis"
	"github.com/plumeng/evalbatch/internal/judge"
	"github.com/plumeng/evalbatch/internal/notification"
	"github.com/plumeng/evalbatch/internal/observability"
	"github.com/plumeng/evalbatch/internal/report"
	"github.com/plumeng/evalbatch/internal/repository"
	"github.com/plumeng/evalbatch/internal/service"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.JudgeRateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	judgeClient, err := judge.NewHTTPClient(cfg.JudgeURL, cfg.JudgeModel)
	if err != nil {
		logger.Fatal("judge client initialization failed", zap.Error(err))
	}
	judgeService, err := judge.NewService(
		judgeClient, limiter, cfg.JudgeModel,
		cfg.SubBatchSize, cfg.WorkerConcurrency, cfg.MaxRetries, logger,
	)
	if err != nil {
		logger.Fatal("judge service initialization failed", zap.Error(err))
	}

	reports, err := report.NewCSVGenerator(cfg.ReportDir, logger)
	if err != nil {
		logger.Fatal("report generator initialization failed", zap.Error(err))
	}

	recipients := splitRecipients(cfg.AlertEmail)
	notifier, err := notification.NewSMTPNotifier(notification.SMTPConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.FromEmail,
		Recipients: recipients,
	}, logger)
	if err != nil {
		logger.Fatal("notifier initialization failed", zap.Error(err))
	}

	states := repository.NewGormStateRepo(db, cfg.MaxRetries)
	pairs := repository.NewGormPairRepo(db)
	evaluations := repository.NewGormEvaluationRepo(db)

	metrics := observability.NewMetrics()
	judgeService.SetMetrics(metrics)

	orchestrator, err := service.NewOrchestrator(
		states, pairs, evaluations, judgeService, reports, notifier, logger,
		cfg.AccuracyThreshold, cfg.MaxRetries, recipients,
	)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}
	orchestrator.SetMetrics(metrics)

	recovery, err := service.NewRecoveryManager(
		orchestrator, states, pairs, notifier, logger, cfg.RecoveryLookbackDays,
	)
	if err != nil {
		logger.Fatal("recovery manager initialization failed", zap.Error(err))
	}
	recovery.SetMetrics(metrics)

	hour, minute, err := cfg.ParseRunTime()
	if err != nil {
		logger.Fatal("invalid run time", zap.Error(err))
	}
	location, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid timezone", zap.Error(err))
	}

	scheduler, err := service.NewScheduler(
		orchestrator, recovery, states, notifier, logger,
		hour, minute, location, cfg.RetentionDays,
	)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsPort, metrics, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("evalbatch scheduler started",
		zap.String("run_time", cfg.RunTime),
		zap.String("timezone", cfg.Timezone),
		zap.Int("metrics_port", cfg.MetricsPort),
	)

	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("scheduler stopped with error", zap.Error(err))
	}
	logger.Info("evalbatch scheduler stopped")
}

func startMetricsServer(port int, metrics *observability.Metrics, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
