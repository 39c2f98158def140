// Package main wires together the letter generation service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/proexhq/letterforge/internal/api"
	"github.com/proexhq/letterforge/internal/clock/system"
	"github.com/proexhq/letterforge/internal/config"
	"github.com/proexhq/letterforge/internal/dispatcher"
	"github.com/proexhq/letterforge/internal/extract"
	"github.com/proexhq/letterforge/internal/id/uuid"
	"github.com/proexhq/letterforge/internal/letters"
	"github.com/proexhq/letterforge/internal/llm"
	"github.com/proexhq/letterforge/internal/logging"
	"github.com/proexhq/letterforge/internal/logos"
	"github.com/proexhq/letterforge/internal/metrics"
	"github.com/proexhq/letterforge/internal/progress"
	"github.com/proexhq/letterforge/internal/progress/sinks"
	memorypublisher "github.com/proexhq/letterforge/internal/publisher/memory"
	pubsubpublisher "github.com/proexhq/letterforge/internal/publisher/pubsub"
	queuememory "github.com/proexhq/letterforge/internal/queue/memory"
	"github.com/proexhq/letterforge/internal/render"
	"github.com/proexhq/letterforge/internal/storage/gcs"
	"github.com/proexhq/letterforge/internal/storage/local"
	memorystorage "github.com/proexhq/letterforge/internal/storage/memory"
	"github.com/proexhq/letterforge/internal/storage/postgres"
	"github.com/proexhq/letterforge/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blobStore, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	subStore, err := newSubmissionStore(ctx, cfg)
	if err != nil {
		logger.Fatal("submission store init failed", zap.Error(err))
	}

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	tracker := progress.NewTracker(
		progress.Config{BaseContext: ctx, Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
		sinks.NewStoreSink(subStore, logger.Named("store-sink")),
	)

	llmClient, err := llm.New(llm.Config{
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		BaseURL:    cfg.LLM.BaseURL,
		Timeout:    time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger.Named("llm"))
	if err != nil {
		logger.Fatal("llm client init failed", zap.Error(err))
	}

	var logoFinder letters.LogoFinder
	if cfg.Logos.Enabled {
		logoFinder = logos.New(logos.Config{
			UserAgent:     cfg.Logos.UserAgent,
			RatePerSecond: cfg.Logos.RatePerSecond,
			Timeout:       time.Duration(cfg.Logos.TimeoutSeconds) * time.Second,
		}, blobStore, logger.Named("logos"))
	}

	renderer, err := render.New(render.Config{
		HeadlessPDF: cfg.Render.HeadlessPDF,
		MaxParallel: cfg.Render.MaxParallel,
		NavTimeout:  time.Duration(cfg.Render.NavTimeoutSec) * time.Second,
	}, logger.Named("render"))
	if err != nil {
		logger.Fatal("renderer init failed", zap.Error(err))
	}

	queue := queuememory.NewQueue(cfg.Worker.QueueDepth)
	extractor := extract.NewPDFExtractor()
	clock := system.New()
	idGen := uuid.New()

	workerCfg := worker.Config{
		Topic:      cfg.PubSub.TopicName,
		MaxRetries: cfg.Worker.MaxRetries,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			subStore,
			blobStore,
			publisher,
			tracker,
			extractor,
			llmClient,
			llmClient,
			llmClient,
			llmClient,
			renderer,
			logoFinder,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(subStore, blobStore, dispatch, tracker, idGen, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	if err := tracker.Close(shutdownCtx); err != nil {
		logger.Error("tracker shutdown error", zap.Error(err))
	}
	if err := renderer.Close(shutdownCtx); err != nil {
		logger.Error("renderer shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newBlobStore(ctx context.Context, cfg config.Config) (letters.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func newSubmissionStore(ctx context.Context, cfg config.Config) (letters.SubmissionStore, error) {
	if cfg.DB.DSN == "" {
		return memorystorage.NewSubmissionStore(), nil
	}
	return postgres.NewSubmissionStore(ctx, postgres.SubmissionStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
		MinConns: int32(cfg.DB.MaxIdleConns),
	})
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (letters.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Info("pubsub not configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName)), nil
}
