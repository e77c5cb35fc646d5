// The worker: claims jobs from the registry queue and executes ingest,
// graph extraction, refresh, and export. Runs alongside any number of API
// server instances.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/app"
	"github.com/llcontext/llcd/internal/config"
	"github.com/llcontext/llcd/internal/domain"
	"github.com/llcontext/llcd/internal/graphrag"
	"github.com/llcontext/llcd/internal/ingest"
	"github.com/llcontext/llcd/internal/jobs"
	"github.com/llcontext/llcd/internal/observability"
)

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

	fetcher := ingest.NewFetcher(a.Blobs, 30*time.Second, cfg.Ingest.MaxSizeBytes, logger)
	pipeline := ingest.NewPipeline(
		a.Resolver,
		a.Store.Documents(),
		a.Store.Documents(),
		a.Store.Chunks(),
		a.Store.Containers(),
		a.Vectors,
		a.Blobs,
		a.Embedder,
		a.Queue,
		fetcher,
		ingest.Config{
			ChunkSize:    cfg.Ingest.ChunkSize,
			ChunkOverlap: cfg.Ingest.ChunkOverlap,
		},
		logger,
	)

	extractor := graphrag.NewModelExtractor(graphrag.ModelExtractorOptions{
		BaseURL:     cfg.Translator.BaseURL,
		APIKey:      cfg.Translator.APIKey,
		Model:       cfg.Translator.Model,
		Timeout:     cfg.Translator.Timeout,
		BreakerTrip: cfg.Translator.BreakerTrips,
		BreakerCool: cfg.Translator.BreakerCool,
	}, logger)
	builder := graphrag.NewBuilder(extractor, a.Graphs, logger)

	pool := jobs.NewPool(a.Queue, jobs.Config{
		Workers:      cfg.Worker.PoolSize,
		Lease:        cfg.Worker.Lease,
		PollInterval: cfg.Worker.PollInterval,
		ReapInterval: cfg.Worker.ReapInterval,
	}, a.Metrics, logger)
	pool.Register(domain.JobIngest, jobs.NewIngestExecutor(pipeline))
	pool.Register(domain.JobGraphExtract, jobs.NewGraphExtractExecutor(builder, a.Store.Chunks()))
	pool.Register(domain.JobRefresh, jobs.NewRefreshExecutor(a.Lifecycle))
	pool.Register(domain.JobExport, jobs.NewExportExecutor(a.Lifecycle))

	logger.Info("worker starting", zap.Int("pool_size", cfg.Worker.PoolSize))
	if err := pool.Run(ctx); err != nil {
		logger.Error("worker exited", zap.Error(err))
	}
	logger.Info("worker stopped")
}
