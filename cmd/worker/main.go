package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"campaign-engine/internal/app"
	"campaign-engine/internal/cancellation"
	"campaign-engine/internal/config"
	"campaign-engine/internal/scheduler"
	"campaign-engine/pkg/logger"
	"campaign-engine/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
)

// The worker runs the cron jobs and drains provider hangups. Webhooks and
// the operator API live in cmd/api; both processes share the datastores.
func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	svc, err := app.Build(rootCtx, cfg, db, rdb, log)
	if err != nil {
		log.Error("service init failed", "err", err)
		os.Exit(1)
	}

	sched, err := scheduler.New(scheduler.Deps{
		Campaigns: svc.Campaigns,
		Queue:     svc.Queue,
		Liveness:  svc.Presence,
		Dialer:    svc.Dialer,
		Log:       logger.Component(log, "scheduler"),
	}, scheduler.Options{
		Specs: scheduler.Specs{
			Activation: cfg.Scheduler.ActivationSpec,
			StaleSweep: cfg.Scheduler.StaleSweepSpec,
			IVR:        cfg.Scheduler.IVRSpec,
		},
		IVRBatch:   cfg.Scheduler.IVRBatch,
		IVRWorkers: cfg.Dialer.Workers,
	})
	if err != nil {
		log.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}
	drainer := cancellation.NewDrainer(svc.Hangups, svc.Providers, cfg.Dialer.HangupMaxAttempts, logger.Component(log, "hangups"))

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		sched.Start()
		log.Info("scheduler started", "jobs", sched.Entries())
		<-ctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		return drainer.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "err", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
