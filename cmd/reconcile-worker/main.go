package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/app"
	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/config"
	"github.com/hackgods/doctor-appointment-booking/internal/logging"
	"github.com/hackgods/doctor-appointment-booking/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := logging.Must(cfg.Env, cfg.LogLevel).Named("reconcile-worker")
	defer func() { _ = logger.Sync() }()

	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Fatal("reconcile-worker needs a shared store; STORE_DRIVER=memory is process-local")
	}

	logger.Info("reconcile worker starting",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("grace", cfg.ReconcileGrace))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the worker never claims slots, so it runs without the Redis lock
	cfg.RedisEnabled = false
	infra, err := app.OpenInfra(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer infra.Close()

	svc := appointment.NewService(infra.Repo, nil, cfg, logger, metrics.NewBookingMetrics(prometheus.NewRegistry()))

	// Run once at startup
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	repaired, err := svc.ReconcileAvailability(runCtx)
	if err != nil {
		logger.Error("reconcile run failed", zap.Error(err))
		return
	}
	logger.Info("reconcile run complete",
		zap.Int("repaired", repaired),
		zap.Duration("took", time.Since(start)))
}
