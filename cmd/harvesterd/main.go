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

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/api"
	"github.com/JakeFAU/content-harvester/internal/clock/system"
	"github.com/JakeFAU/content-harvester/internal/config"
	"github.com/JakeFAU/content-harvester/internal/fetcher"
	"github.com/JakeFAU/content-harvester/internal/harvest"
	"github.com/JakeFAU/content-harvester/internal/harvester"
	"github.com/JakeFAU/content-harvester/internal/id/uuid"
	"github.com/JakeFAU/content-harvester/internal/logging"
	"github.com/JakeFAU/content-harvester/internal/metrics"
	"github.com/JakeFAU/content-harvester/internal/notify"
	"github.com/JakeFAU/content-harvester/internal/parser"
	pubsubpublisher "github.com/JakeFAU/content-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/content-harvester/internal/scheduler"
	gcsstorage "github.com/JakeFAU/content-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/content-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/content-harvester/internal/storage/memory"
	"github.com/JakeFAU/content-harvester/internal/storage/postgres"
)

const cleanupInterval = time.Hour

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

	clock := system.New()
	idGen := uuid.NewUUIDGenerator()

	var (
		entityStore harvest.EntityStore
		jobStore    harvest.JobStore
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pool.Close()
		if entityStore, err = postgres.NewEntityStore(pool); err != nil {
			logger.Fatal("entity store init failed", zap.Error(err))
		}
		if jobStore, err = postgres.NewJobStore(pool); err != nil {
			logger.Fatal("job store init failed", zap.Error(err))
		}
	} else {
		logger.Warn("db.dsn not set, using in-memory stores")
		entityStore = memorystorage.NewEntityStore()
		jobStore = memorystorage.NewJobStore()
	}

	blobStore, err := buildBlobStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	hub := notify.NewHub(logger.Named("notify"))
	defer hub.Close()
	if cfg.PubSub.ProjectID != "" {
		publisher, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
			ProjectID: cfg.PubSub.ProjectID,
			TopicName: cfg.PubSub.TopicName,
		})
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		bridge := notify.NewBridge(hub, publisher, cfg.PubSub.TopicName, logger.Named("bridge"))
		defer bridge.Stop()
	}

	jitterMin, jitterMax := cfg.JitterRange()
	orchestrator := harvester.New(
		fetcher.New(logger.Named("fetcher")),
		parser.New(clock),
		entityStore,
		blobStore,
		clock,
		nil,
		harvester.Config{
			BaseURL:        cfg.Upstream.BaseURL,
			DefaultCookie:  cfg.Upstream.DefaultCookie,
			UserAgents:     cfg.Upstream.UserAgents,
			CookieMode:     fetcher.CookieMode(cfg.Upstream.CookieMode),
			FetchTimeout:   cfg.FetchTimeout(),
			JitterMin:      jitterMin,
			JitterMax:      jitterMax,
			SnapshotPrefix: cfg.Storage.Prefix,
		},
		logger.Named("harvester"),
	)

	sched := scheduler.New(jobStore, hub, clock, idGen, scheduler.Config{
		Concurrency:    cfg.Scheduler.Concurrency,
		PollInterval:   time.Duration(cfg.Scheduler.PollIntervalMs) * time.Millisecond,
		BaseDelay:      time.Duration(cfg.Scheduler.BaseDelayMs) * time.Millisecond,
		DelayCap:       time.Duration(cfg.Scheduler.MaxDelayMs) * time.Millisecond,
		MaxAttempts:    cfg.Scheduler.MaxAttempts,
		BootstrapLimit: cfg.Scheduler.BootstrapLimit,
	}, logger.Named("scheduler"))
	handlers := scheduler.NewHandlers(
		orchestrator,
		jobStore,
		clock,
		sched.ActiveIDs,
		cfg.Retention(),
		logger.Named("handlers"),
	)
	handlers.RegisterAll(sched)

	if err := sched.Bootstrap(ctx); err != nil {
		logger.Error("bootstrap failed", zap.Error(err))
	}

	apiServer := api.NewServer(sched, orchestrator, cfg.Crawler.MaxRetries, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("scheduler started", zap.Int("concurrency", cfg.Scheduler.Concurrency))
		sched.Run(ctx)
	}()

	go runCleanupLoop(ctx, sched, logger)

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
	logger.Info("shutdown complete")
}

// runCleanupLoop periodically submits a cleanup job that reconciles
// stranded work and prunes old terminal jobs.
func runCleanupLoop(ctx context.Context, sched *scheduler.Scheduler, logger *zap.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sched.Submit(ctx, harvest.JobCleanup, harvest.JobPayload{}, scheduler.SubmitOptions{}); err != nil {
				logger.Warn("submit cleanup job failed", zap.Error(err))
			}
		}
	}
}

func buildBlobStore(ctx context.Context, cfg config.StorageConfig) (harvest.BlobStore, error) {
	switch cfg.Backend {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket})
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}
