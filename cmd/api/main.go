// The API server: REST surface, policy manifest watcher, and status probes.
// Jobs enqueued here are executed by the worker binary.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/llcontext/llcd/internal/app"
	"github.com/llcontext/llcd/internal/config"
	httpiface "github.com/llcontext/llcd/internal/interfaces/http"
	"github.com/llcontext/llcd/internal/interfaces/http/handlers"
	"github.com/llcontext/llcd/internal/middleware"
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

	var verifier middleware.TokenVerifier
	switch {
	case cfg.Auth.TokenHookURL != "":
		verifier = middleware.NewHookVerifier(cfg.Auth.TokenHookURL, 2*time.Second)
	case cfg.Auth.StaticToken != "":
		verifier = middleware.NewStaticVerifier(cfg.Auth.StaticToken)
	}

	router := httpiface.NewRouter(httpiface.Handlers{
		Search:     handlers.NewSearchHandler(a.Search, logger),
		Containers: handlers.NewContainerHandler(a.Lifecycle, a.Queue, a.Resolver, logger),
		Documents:  handlers.NewDocumentHandler(a.Documents, a.Lifecycle, logger),
		Jobs:       handlers.NewJobHandler(a.Queue, logger),
		Graph:      handlers.NewGraphHandler(a.Lifecycle, a.Resolver, a.Graphs, a.Retriever, logger),
		System:     handlers.NewSystemHandler(a.Status, logger),
	}, a.Store.Collaboration(), a.Metrics, httpiface.Options{
		MaxInFlight:   cfg.HTTP.MaxInFlight,
		AdmissionWait: cfg.HTTP.AdmissionWait,
		Deadline:      cfg.HTTP.ReadTimeout,
		Verifier:      verifier,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return a.WatchManifests(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api exited", zap.Error(err))
	}
	logger.Info("api stopped")
}
