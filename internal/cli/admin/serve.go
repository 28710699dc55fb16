package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/recall/internal/api/handlers"
	"github.com/cloo-solutions/recall/internal/config"
	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/extract"
	"github.com/cloo-solutions/recall/internal/jobs"
	"github.com/cloo-solutions/recall/internal/openai"
	"github.com/cloo-solutions/recall/internal/repository"
	"github.com/cloo-solutions/recall/internal/server"
	"github.com/cloo-solutions/recall/internal/service"
	"github.com/cloo-solutions/recall/internal/storage"
	"github.com/cloo-solutions/recall/internal/telemetry"
	"github.com/cloo-solutions/recall/internal/vectorstore/memory"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"

	shutdownTimeout = 30 * time.Second
)

// Version is reported as the Sentry release. Set with -ldflags at build time.
var Version = "dev"

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the recall API server and the background ingest worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides RECALL_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("store", storePostgres, "Vector store backend (postgres or memory)")
	cmd.Flags().String("migrations", defaultMigrationsSource, "Migration source URL")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if portFlag, _ := cmd.Flags().GetString("port"); portFlag != "" {
		cfg.Port = portFlag
	}
	storeKind, _ := cmd.Flags().GetString("store")
	if storeKind != storePostgres && storeKind != storeMemory {
		return fmt.Errorf("unknown store %q (expected postgres or memory)", storeKind)
	}
	if !cfg.HasOpenAI() {
		return fmt.Errorf("RECALL_OPENAI_API_KEY is required to embed text")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.SentryDSN != "" {
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			Release:          Version,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
			Logger:           logger,
		})
		if err != nil {
			logger.Warn("telemetry init failed (continuing without tracing)", zap.Error(err))
		} else {
			defer shutdownTelemetry()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		source, _ := cmd.Flags().GetString("migrations")
		if err := runMigrations(cfg.DatabaseURL, source, logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	jobRepo := repository.NewIngestJobRepository(pool)
	authSvc := service.NewAuthService(apiKeyRepo, &service.DefaultUUIDGenerator{})

	if cfg.HasBootstrap() {
		if err := bootstrapAPIKey(ctx, cfg, authSvc, logger); err != nil {
			return fmt.Errorf("failed to bootstrap API key: %w", err)
		}
	}

	var store service.VectorStore
	switch storeKind {
	case storeMemory:
		store = memory.NewStore(cfg.EmbeddingDimensions)
		logger.Warn("using in-memory vector store; records are lost on restart")
	default:
		store = repository.NewEmbeddingRecordRepository(pool, cfg.EmbeddingDimensions)
	}

	// A nil *S3Client must not reach the services as a non-nil interface.
	var objects service.ObjectStore
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		logger.Info("S3 bucket ready", zap.String("bucket", cfg.S3Bucket))
		objects = s3Client
	}

	embedder := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})

	retrievalSvc := service.NewRetrievalService(embedder, store,
		service.WithRetryPolicy(service.RetryPolicy{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
			Multiplier:      2,
		}),
		service.WithIngestConcurrency(cfg.IngestConcurrency),
		service.WithLogger(logger),
	)
	jobSvc := service.NewIngestJobService(jobRepo, objects, extract.NewRegistry(), &service.DefaultUUIDGenerator{}, logger)
	sourceSvc := service.NewSourceService(retrievalSvc, objects)

	var publisher jobs.Publisher = jobs.NoopPublisher{}
	if cfg.HasKafka() {
		kafkaPublisher, err := jobs.NewKafkaPublisher(jobs.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		publisher = kafkaPublisher
		logger.Info("publishing job events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close job event publisher", zap.Error(err))
		}
	}()

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	ingestWorker := jobs.NewIngestWorker(jobRepo, retrievalSvc, jobSvc, publisher, cfg.WorkerBatchSize, logger,
		jobs.WithTxRunner(repository.NewTxRunner(pool)))
	worker := jobs.NewWorker(ingestWorker, cfg.WorkerPollInterval, logger)
	go worker.Start(workerCtx)

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:    authSvc,
		RetrievalHandler: handlers.NewRetrievalHandler(retrievalSvc, sourceSvc, jobSvc, cfg.MaxChunkSize),
		JobHandler:       handlers.NewJobHandler(jobSvc, cfg.MaxChunkSize),
		Logger:           logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port), zap.String("store", storeKind))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-serverErr:
		if err != nil {
			cancelWorker()
			worker.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// In-flight jobs observe the cancellation and go back to pending.
	cancelWorker()
	worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

func bootstrapAPIKey(ctx context.Context, cfg *config.Config, authSvc *service.AuthService, logger *zap.Logger) error {
	key, created, err := authSvc.EnsureAPIKey(ctx, cfg.InitScope, "bootstrap", cfg.InitAPIKey)
	if errors.Is(err, domain.ErrMalformedAPIToken) {
		return fmt.Errorf("invalid RECALL_INIT_API_KEY: %w", err)
	}
	if err != nil {
		return err
	}
	if created {
		logger.Info("bootstrap: created API key", zap.String("key_id", key.ID), zap.String("owner_scope", key.OwnerScope))
	} else {
		logger.Info("bootstrap: API key already exists", zap.String("key_id", key.ID), zap.String("owner_scope", key.OwnerScope))
	}
	return nil
}
