package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/archive-qa/internal/adapters/mcp"
	"github.com/kirillkom/archive-qa/internal/bootstrap"
	"github.com/kirillkom/archive-qa/internal/config"
	"github.com/kirillkom/archive-qa/internal/observability/logging"
)

const (
	serviceName = "mcp"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stderr, serviceName, cfg.LogLevel))

	app, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{Service: serviceName})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := server.ServeStdio(mcpadapter.NewServer(version, app.Pipeline)); err != nil {
		slog.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
