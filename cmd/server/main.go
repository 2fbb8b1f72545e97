package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cost-sentinel/cost-sentinel/internal/api"
	"github.com/cost-sentinel/cost-sentinel/internal/config"
	"github.com/cost-sentinel/cost-sentinel/internal/delivery"
	"github.com/cost-sentinel/cost-sentinel/internal/insight"
	"github.com/cost-sentinel/cost-sentinel/internal/logging"
	"github.com/cost-sentinel/cost-sentinel/internal/pipeline"
	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/internal/provider/costexplorer"
	"github.com/cost-sentinel/cost-sentinel/internal/provider/datadog"
	"github.com/cost-sentinel/cost-sentinel/internal/provider/gemini"
	"github.com/cost-sentinel/cost-sentinel/internal/provider/smtp"
	"github.com/cost-sentinel/cost-sentinel/internal/storage"
	"github.com/cost-sentinel/cost-sentinel/internal/storage/objectstore"
)

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize logging
	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("starting cost sentinel server",
		slog.String("version", "0.1.0"),
		slog.Int("port", cfg.Server.Port),
		slog.String("source", cfg.Providers.Source))

	// Initialize database
	db, err := storage.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize object storage
	var objects provider.ObjectStore
	switch cfg.Storage.Backend {
	case "s3":
		objects, err = objectstore.NewS3(ctx, cfg.Storage.Bucket, cfg.Storage.Region)
		if err != nil {
			logger.Error("failed to initialize S3 storage", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("initialized S3 object store", slog.String("bucket", cfg.Storage.Bucket))
	default:
		objects, err = objectstore.NewLocal(cfg.Storage.Path)
		if err != nil {
			logger.Error("failed to initialize local storage", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("initialized local object store", slog.String("path", cfg.Storage.Path))
	}
	store := storage.New(objects)

	// Initialize the cost source
	var source provider.MetricsSource
	switch cfg.Providers.Source {
	case "costexplorer":
		source, err = costexplorer.New(ctx)
		if err != nil {
			logger.Error("failed to initialize Cost Explorer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("initialized Cost Explorer source", slog.String("region", cfg.Providers.CostExplorer.Region))
	default:
		apiKey, appKey := cfg.Providers.Datadog.APIKey, cfg.Providers.Datadog.AppKey
		if cfg.Providers.Datadog.DemoMode {
			apiKey, appKey = "", ""
		}
		ddClient := datadog.NewClient(apiKey, appKey)
		if ddClient.DemoMode() {
			logger.Warn("datadog credentials missing, serving synthetic demo data")
		} else {
			logger.Info("initialized Datadog source")
		}
		source = ddClient
	}

	// Initialize the AI narrative generator
	var narrator provider.NarrativeGenerator
	if cfg.Providers.Gemini.APIKey != "" {
		narrator = gemini.NewClient(cfg.Providers.Gemini.APIKey,
			gemini.WithModel(cfg.Providers.Gemini.Model))
		logger.Info("initialized Gemini provider", slog.String("model", cfg.Providers.Gemini.Model))
	} else {
		logger.Warn("GEMINI_API_KEY not set, reports will use numeric fallback narratives")
	}
	insights := insight.New(narrator, narrator != nil,
		insight.WithTimeout(cfg.Pipeline.AITimeout),
		insight.WithRateLimit(cfg.Pipeline.AIRatePerSecond, 2),
		insight.WithLogger(logger))

	// Initialize delivery
	deliveryOpts := []delivery.Option{delivery.WithLogger(logger)}
	if !cfg.SMTP.Enabled {
		logger.Warn("SMTP disabled, reports will be composed but not sent")
		deliveryOpts = append(deliveryOpts, delivery.WithPreview(true))
	}
	mailer := smtp.New(smtp.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	deliverer := delivery.New(mailer, db, deliveryOpts...)

	// Initialize the pipeline
	orch := pipeline.New(source, store, db, insights, deliverer,
		pipeline.WithLogger(logger),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithRetryPolicy(cfg.Pipeline.RetryAttempts, cfg.Pipeline.RetryBaseDelay, cfg.Pipeline.RetryMaxDelay))

	// Release periods locked by runs a previous process left mid-flight,
	// before the scheduler or API can trigger anything new.
	if err := orch.Recover(ctx); err != nil {
		logger.Error("failed to recover interrupted runs", slog.String("error", err.Error()))
		os.Exit(1)
	}

	scheduler := pipeline.NewScheduler(orch, store, logger)
	if cfg.Pipeline.SchedulerEnabled {
		scheduler.Start(ctx)
	} else {
		logger.Info("scheduler disabled, runs must be triggered via the API")
	}

	// Initialize API server
	server := api.New(store, db, orch,
		api.WithLogger(logger),
		api.WithHost(cfg.Server.Host),
		api.WithPort(cfg.Server.Port))
	server.SetReady(true)

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")

		// Stop accepting new requests and new scheduled runs
		server.SetReady(false)
		scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}

		// Let in-flight runs reach a terminal state
		orch.Wait()
	}()

	// Start server
	if err := server.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
