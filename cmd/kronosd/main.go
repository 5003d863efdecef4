package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kronos-sched/core/internal/alert"
	"github.com/kronos-sched/core/internal/config"
	"github.com/kronos-sched/core/internal/metrics"
	"github.com/kronos-sched/core/internal/queue/natsqueue"
	"github.com/kronos-sched/core/internal/scheduler"
	"github.com/kronos-sched/core/internal/store/sqlitestore"
	"github.com/kronos-sched/core/internal/task"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	q, err := natsqueue.New(natsqueue.Options{
		URL:            cfg.NATS.URL,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectTimeout: cfg.NATS.ConnectTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to nats", zap.Error(err))
	}

	db, err := sqlitestore.Open(logger, cfg.Store.Path)
	if err != nil {
		logger.Fatal("failed to open task store", zap.Error(err))
	}
	defer db.Close()

	sched := scheduler.New(scheduler.Config{
		StatusQueueName: cfg.Scheduler.StatusQueueName,
		PollInterval:    cfg.Scheduler.PollInterval,
		PurgeInterval:   cfg.Scheduler.PurgeInterval,
		PurgeMinAge:     cfg.Scheduler.PurgeMinAge,
		ShutdownGrace:   cfg.Scheduler.ShutdownGrace,
	}, logger, q, q, db, db)

	alertManager := alert.New(q, sched, cfg.Alert.BacklogThreshold, cfg.Alert.EvalInterval, logger)
	sched.OnFail(func(id task.TaskID, status task.Status, statusMessage string) {
		alertManager.OnStatusUpdate(id, status, statusMessage)
	})

	metricsCollector := metrics.New(q, sched, cfg.Metrics.Interval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	alertManager.Start(ctx)
	metricsCollector.Start(ctx)

	submitExampleTasks(sched, logger)

	<-ctx.Done()

	logger.Info("shutting down")
	alertManager.Stop()
	metricsCollector.Stop()
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop returned an error", zap.Error(err))
	}
}

// submitExampleTasks submits a small demo workflow: an independent
// task and a dependent one that reads its context via interpolation.
func submitExampleTasks(sched *scheduler.Scheduler, logger *zap.Logger) {
	now := time.Now().UnixMilli()

	upstream := &task.Task{
		TaskID:             task.TaskID{Namespace: "default", Workflow: "demo", Job: "demo-1", Name: "extract"},
		Type:               "example",
		CreatedAt:          now,
		MaxExecutionTimeMs: 30_000,
		Properties:         map[string]any{"source": "warehouse"},
	}
	if !sched.Submit(upstream) {
		logger.Warn("demo task already submitted", zap.String("task", upstream.ID().String()))
	}

	downstream := &task.Task{
		TaskID:             task.TaskID{Namespace: "default", Workflow: "demo", Job: "demo-1", Name: "load"},
		Type:               "example",
		CreatedAt:          now + 1,
		MaxExecutionTimeMs: 30_000,
		DependsOn: []task.Dependency{
			{Name: "extract", Mode: task.ModeLast, LookbackWindow: time.Minute},
		},
		Properties: map[string]any{"input": "${extract.rows}"},
	}
	if !sched.Submit(downstream) {
		logger.Warn("demo task already submitted", zap.String("task", downstream.ID().String()))
	}
}
