package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/archive-qa/internal/adapters/http"
	"github.com/kirillkom/archive-qa/internal/bootstrap"
	"github.com/kirillkom/archive-qa/internal/config"
	"github.com/kirillkom/archive-qa/internal/observability/logging"
	"github.com/kirillkom/archive-qa/internal/observability/metrics"
)

const serviceName = "api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    serviceName,
		WithQueue:  true,
		Registerer: httpMetrics.Registerer(),
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router, err := httpadapter.NewRouter(cfg, app.Pipeline, app.IndexSync, httpMetrics)
	if err != nil {
		slog.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	pipelineTimeout := cfg.Pipeline.Limits().Timeout
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      pipelineTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
