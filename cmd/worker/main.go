package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/archive-qa/internal/bootstrap"
	"github.com/kirillkom/archive-qa/internal/config"
	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/observability/logging"
	"github.com/kirillkom/archive-qa/internal/observability/metrics"
)

const (
	serviceName  = "worker"
	eventTimeout = 2 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    serviceName,
		WithQueue:  true,
		Registerer: workerMetrics.Registerer(),
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", workerMetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !app.Queue.Connected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "group", cfg.NATSGroup)
	err = app.Queue.SubscribeIndexEvents(ctx, func(handlerCtx context.Context, event domain.IndexEvent) error {
		eventCtx, cancel := context.WithTimeout(handlerCtx, eventTimeout)
		defer cancel()

		workerMetrics.StartEvent()
		start := time.Now()
		err := app.IndexSync.Handle(eventCtx, event)
		workerMetrics.FinishEvent(serviceName, string(event.Operation), time.Since(start), err)
		return err
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
