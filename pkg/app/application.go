package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/osvaldoandrade/captionq/internal/events"
	"github.com/osvaldoandrade/captionq/internal/metrics"
	"github.com/osvaldoandrade/captionq/internal/middleware"
	"github.com/osvaldoandrade/captionq/internal/providers"
	"github.com/osvaldoandrade/captionq/internal/ratelimit"
	"github.com/osvaldoandrade/captionq/internal/repository"
	"github.com/osvaldoandrade/captionq/internal/services"
	"github.com/osvaldoandrade/captionq/internal/tracing"
	"github.com/osvaldoandrade/captionq/pkg/auth"
	_ "github.com/osvaldoandrade/captionq/pkg/auth/hs256" // Register session token provider
	"github.com/osvaldoandrade/captionq/pkg/config"
	"github.com/osvaldoandrade/captionq/pkg/persistence"
	_ "github.com/osvaldoandrade/captionq/pkg/persistence/memory" // Register memory store
	_ "github.com/osvaldoandrade/captionq/pkg/persistence/redis"  // Register redis store

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type Application struct {
	Config *config.Config
	Engine *gin.Engine
	Logger *slog.Logger

	Redis       *redis.Client
	Store       persistence.PluginPersistence
	Repo        repository.ResultRepository
	RateLimiter ratelimit.Limiter
	Publisher   events.Publisher
	HTTPClient  providers.HTTPDoer
	ObjectStore providers.ObjectStore

	Validator auth.Validator
	Issuer    auth.Issuer

	Sessions services.SessionService
	Pipeline services.PipelineService
	Export   services.ExportService

	TracingShutdown func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithRedisClient uses rdb instead of dialing cfg.RedisAddr.
func WithRedisClient(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.Redis = rdb
		return nil
	}
}

// WithHTTPClient sets the client used for every outbound call.
func WithHTTPClient(client providers.HTTPDoer) ApplicationOption {
	return func(app *Application) error {
		app.HTTPClient = client
		return nil
	}
}

// WithPublisher replaces the configured event publisher.
func WithPublisher(p events.Publisher) ApplicationOption {
	return func(app *Application) error {
		app.Publisher = p
		return nil
	}
}

// WithLogger replaces the logger built from config.
func WithLogger(logger *slog.Logger) ApplicationOption {
	return func(app *Application) error {
		app.Logger = logger
		return nil
	}
}

func NewLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "captionq", "env", cfg.Env)
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.Logger == nil {
		app.Logger = NewLogger(cfg)
		slog.SetDefault(app.Logger)
	}
	logger := app.Logger

	ctx := context.Background()
	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	app.TracingShutdown = shutdown

	if err := app.buildStorage(); err != nil {
		return nil, err
	}
	metrics.RegisterSessionCollector(app.Repo, logger)

	if app.HTTPClient == nil {
		app.HTTPClient = providers.NewHTTPClient(time.Duration(cfg.HTTPTimeoutSeconds) * time.Second)
	}
	if app.ObjectStore == nil {
		store, err := providers.NewObjectStore(ctx, objectStoreConfig(cfg), app.HTTPClient)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		app.ObjectStore = store
	}
	if app.Publisher == nil {
		app.Publisher = events.NewNopPublisher()
		if brokers := events.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
			app.Publisher = events.NewKafkaPublisher(brokers, cfg.KafkaTopic)
			logger.Info("publishing caption events to kafka", "brokers", brokers, "topic", cfg.KafkaTopic)
		}
	}

	if err := app.buildAuth(); err != nil {
		return nil, err
	}

	converter := providers.NewCloudConvertClient(providers.CloudConvertConfig{
		BaseURL:          cfg.CloudConvertBaseURL,
		SyncBaseURL:      cfg.CloudConvertSyncBaseURL,
		APIToken:         cfg.CloudConvertAPIToken,
		MaxFileSizeBytes: cfg.MaxFileSizeBytes,
	}, app.HTTPClient)
	predictor := providers.NewReplicateClient(providers.ReplicateConfig{
		BaseURL:          cfg.ReplicateBaseURL,
		APIToken:         cfg.ReplicateAPIToken,
		ModelVersion:     cfg.ReplicateModelVersion,
		MaxFileSizeBytes: cfg.MaxFileSizeBytes,
	}, app.HTTPClient)
	poller := services.NewPollerService(predictor, services.PollerConfig{
		MaxRetries: cfg.PollMaxRetries,
		RetryDelay: time.Duration(cfg.PollRetryDelayMs) * time.Millisecond,
		Policy:     cfg.PollBackoffPolicy,
		MaxDelay:   time.Duration(cfg.PollMaxDelayMs) * time.Millisecond,
	}, logger)
	callback := services.NewResultCallbackService(
		logger,
		app.HTTPClient,
		cfg.WebhookHmacSecret,
		cfg.ResultWebhookMaxAttempts,
		time.Duration(cfg.ResultWebhookBaseBackoffSeconds)*time.Second,
		time.Duration(cfg.ResultWebhookMaxBackoffSeconds)*time.Second,
		app.RateLimiter,
		ratelimit.Bucket(cfg.RateLimit.Webhook),
	)

	app.Sessions = services.NewSessionService(app.Repo, app.Issuer, time.Duration(cfg.SessionTTLHours)*time.Hour, logger, time.Now)
	app.Export = services.NewExportService(app.Repo)
	app.Pipeline = services.NewPipelineService(services.PipelineDeps{
		Repo:             app.Repo,
		Store:            app.ObjectStore,
		Converter:        converter,
		Predictor:        predictor,
		Poller:           poller,
		Callback:         callback,
		Publisher:        app.Publisher,
		Limiter:          app.RateLimiter,
		PredictionBucket: ratelimit.Bucket(cfg.RateLimit.Predictions),
		MaxFileSizeBytes: cfg.MaxFileSizeBytes,
		MaxConcurrent:    cfg.MaxConcurrentPipelines,
		Logger:           logger,
		Now:              time.Now,
	})

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.MaxMultipartMemory = cfg.MaxFileSizeBytes + 1<<20
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
		middleware.LoggerMiddleware(logger),
	)
	app.Engine = engine

	return app, nil
}

func (app *Application) buildStorage() error {
	cfg := app.Config
	backend := strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	raw, _ := json.Marshal(map[string]any{
		"addr":     cfg.RedisAddr,
		"password": cfg.RedisPassword,
		"db":       cfg.RedisDB,
		"poolSize": 2 * cfg.MaxConcurrentPipelines,
	})
	store, err := persistence.NewPersistence(
		persistence.ProviderConfig{Type: backend, Config: raw},
		persistence.PluginConfig{Now: time.Now, Redis: app.Redis},
	)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if backend == "memory" {
		app.Logger.Warn("using in-memory result store; sessions are lost on restart")
	}
	app.Store = store
	app.Repo = store.ResultStorage()
	app.RateLimiter = store.Limiter()
	return nil
}

func (app *Application) buildAuth() error {
	raw, _ := json.Marshal(map[string]string{"secret": app.Config.SessionSecret})
	pc := auth.ProviderConfig{Type: "hs256", Config: raw}
	issuer, err := auth.NewIssuer(pc)
	if err != nil {
		return fmt.Errorf("session tokens: %w", err)
	}
	validator, err := auth.NewValidator(pc)
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	app.Issuer = issuer
	app.Validator = validator
	return nil
}

func objectStoreConfig(cfg *config.Config) providers.ObjectStoreConfig {
	return providers.ObjectStoreConfig{
		Backend:                cfg.ObjectStore,
		CloudinaryBaseURL:      cfg.CloudinaryBaseURL,
		CloudinaryCloudID:      cfg.CloudinaryCloudID,
		CloudinaryUploadPreset: cfg.CloudinaryUploadPreset,
		Minio: providers.MinioConfig{
			Endpoint:        cfg.Minio.Endpoint,
			AccessKeyID:     cfg.Minio.AccessKeyID,
			SecretAccessKey: cfg.Minio.SecretAccessKey,
			Bucket:          cfg.Minio.Bucket,
			UseSSL:          cfg.Minio.UseSSL,
			PublicBaseURL:   cfg.Minio.PublicBaseURL,
			PresignTTL:      time.Duration(cfg.Minio.PresignTTLSeconds) * time.Second,
		},
		LocalDir: cfg.LocalArtifactsDir,
	}
}

func (app *Application) healthz(c *gin.Context) {
	if err := app.Store.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "store": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Close drains background pipelines and releases clients.
func (app *Application) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if app.Pipeline != nil {
		keep(app.Pipeline.Close(ctx))
	}
	if app.Publisher != nil {
		keep(app.Publisher.Close())
	}
	if app.TracingShutdown != nil {
		keep(app.TracingShutdown(ctx))
	}
	if app.Store != nil {
		keep(app.Store.Close())
	}
	return firstErr
}
