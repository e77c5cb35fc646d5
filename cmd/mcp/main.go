// The MCP server: exposes search, container, and job tools over stdio so
// agent runtimes can use the service without the REST surface.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/app"
	"github.com/llcontext/llcd/internal/config"
	mcpiface "github.com/llcontext/llcd/internal/interfaces/mcp"
	"github.com/llcontext/llcd/internal/observability"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close(context.Background())

	srv := mcpiface.NewServer(a.Search, a.Lifecycle, a.Queue, version, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("mcp server exited", zap.Error(err))
	}
}
