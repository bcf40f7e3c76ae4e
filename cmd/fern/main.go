package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/oauth"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/remote"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/syncer"
	"github.com/Ramsey-B/fern/pkg/tokens"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
	"github.com/Ramsey-B/fern/pkg/vault"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces on shutdown")
	}
}

func run(ctx context.Context, cfg config.Config, logger ectologger.Logger) error {
	// Database
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword,
		cfg.DatabaseName, cfg.DatabaseSSLMode)

	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer sqlxDB.Close()

	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	db := database.NewDatabaseInstance(sqlxDB, logger)

	driver, err := postgres.WithInstance(sqlxDB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// Redis
	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	streams := redis.NewStreams(redisClient)
	locker := redis.NewLocker(redisClient, "fern:lock:")
	rateLimiter := redis.NewRateLimiter(redisClient, "fern:ratelimit:")
	dlq := redis.NewDeadLetterQueue(redisClient, "", logger)

	// Kafka
	producer := kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaEventsTopic), logger)
	defer producer.Close()

	// Repositories
	connectorRepo := repositories.NewConnectorRepository(db, logger)
	secretRepo := repositories.NewSecretRepository(db, logger)
	credentialRepo := repositories.NewCredentialRepository(db, logger)
	schemaRepo := repositories.NewRemoteSchemaRepository(db, logger)
	mappingRepo := repositories.NewMappingRepository(db, logger)
	valueRuleRepo := repositories.NewValueRuleRepository(db, logger)
	syncRepo := repositories.NewSyncRepository(db, logger)
	recordRepo := repositories.NewRecordRepository(db, logger)
	auditRepo := repositories.NewAuditRepository(db, logger)

	// Providers
	httpClient := httpclient.NewClient(httpclient.DefaultConfig(), logger)
	registry := providers.NewRegistry(
		providers.NewKintoneAdapter(httpClient),
		providers.NewSalesforceAdapter(httpClient),
	)

	// OAuth and token lifecycle
	codec, err := vault.NewCodec(cfg.VaultMasterKey, cfg.VaultMockMode)
	if err != nil {
		return fmt.Errorf("vault codec: %w", err)
	}
	signer, err := oauth.NewStateSigner(cfg.OAuthStateSecret)
	if err != nil {
		return fmt.Errorf("state signer: %w", err)
	}
	flow := oauth.NewFlowController(connectorRepo, secretRepo, credentialRepo, auditRepo,
		registry, codec, signer, producer, cfg.AppBaseURL, logger)
	tokenManager := tokens.NewManager(connectorRepo, secretRepo, credentialRepo, auditRepo,
		registry, codec, locker, logger)

	// Sync pipeline
	remoteLimiter := remote.NewRedisLimiter(rateLimiter, int64(cfg.ProviderRateLimit), cfg.ProviderRateWindow)
	remoteClient := remote.NewClient(connectorRepo, tokenManager, registry, remoteLimiter, logger)
	orchestrator := syncer.NewOrchestrator(connectorRepo, mappingRepo, valueRuleRepo,
		syncRepo, recordRepo, remoteClient, producer, logger)

	processorConfig := queue.DefaultProcessorConfig()
	processorConfig.Stream = cfg.RedisStreamsJobQueue
	processorConfig.ConsumerGroup = cfg.RedisStreamsConsumerGroup
	if cfg.RedisStreamsConsumerName != "" {
		processorConfig.ConsumerName = cfg.RedisStreamsConsumerName
	}
	processor := queue.NewProcessor(streams, dlq, orchestrator, processorConfig, logger)

	schedulerRepo := scheduler.NewSchedulerRepository(db, logger)
	schedulerConfig := scheduler.DefaultConfig()
	schedulerConfig.PollInterval = cfg.SchedulerPollInterval
	schedulerConfig.JobQueue = cfg.RedisStreamsJobQueue
	sched := scheduler.NewScheduler(schedulerRepo, streams, locker, schedulerConfig, logger)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	api := e.Group("/api/v1")
	if cfg.AuthEnabled {
		api.Use(middleware.Authentication(logger, cfg.AuthIssuerURL, cfg.AuthClientID))
	} else {
		logger.Warn("Auth is disabled, trusting X-Tenant-ID headers")
		api.Use(middleware.TestAuth())
	}

	secureCookies := cfg.AuthEnabled
	oauthHandler := handlers.NewOAuthHandler(flow, secureCookies)

	handlers.NewConnectorHandler(connectorRepo, auditRepo, flow, registry).RegisterRoutes(api)
	oauthHandler.RegisterRoutes(api)
	oauthHandler.RegisterCallbackRoutes(e)
	handlers.NewSchemaHandler(schemaRepo, remoteClient).RegisterRoutes(api)
	handlers.NewMappingHandler(mappingRepo, valueRuleRepo, schemaRepo).RegisterRoutes(api)
	handlers.NewSyncHandler(orchestrator, streams, cfg.RedisStreamsJobQueue, syncRepo, recordRepo).RegisterRoutes(api)
	handlers.NewDLQHandler(dlq, streams, cfg.RedisStreamsJobQueue, logger).RegisterRoutes(api)
	handlers.NewTenantHandler(connectorRepo, logger).RegisterRoutes(api)
	handlers.NewCronHandler(sched, cfg.CronSecret).RegisterRoutes(e)

	checker := health.NewChecker(sqlxDB, redisClient.Redis(), version)
	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Long-running components start in dependency order and stop in reverse
	boot := startup.NewStartup[any](logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&component{
		name: "queue-processor",
		start: func(ctx context.Context) error {
			return processor.Start(ctx)
		},
		stop: func(ctx context.Context) error {
			return processor.Stop(ctx)
		},
	})
	if cfg.SchedulerEnabled {
		boot.AddDependency(&component{
			name:      "scheduler",
			dependsOn: []string{"queue-processor"},
			start: func(ctx context.Context) error {
				return sched.Start(ctx)
			},
			stop: func(ctx context.Context) error {
				return sched.Stop(ctx)
			},
		})
	}
	boot.AddDependency(&component{
		name: "http-server",
		start: func(ctx context.Context) error {
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Port)
				logger.Infof("HTTP server listening on %s", addr)
				if err := e.Start(addr); err != nil {
					logger.WithError(err).Info("HTTP server stopped")
				}
			}()
			return nil
		},
		stop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})

	if err := boot.Start(ctx); err != nil {
		return err
	}
	checker.SetReady(true)
	logger.Infof("%s started on port %d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	checker.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return boot.Stop(stopCtx)
}

// component adapts start/stop funcs to the startup dependency interface
type component struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (c *component) GetName() string     { return c.name }
func (c *component) DependsOn() []string { return c.dependsOn }

func (c *component) Start(ctx context.Context) error {
	return c.start(ctx)
}

func (c *component) Stop(ctx context.Context) error {
	return c.stop(ctx)
}

// newLogger builds an ectologger backed by zap so log output is structured
// JSON in production and readable in development
func newLogger(cfg config.Config) ectologger.Logger {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	zlog, err := zapCfg.Build(zap.WithCaller(false))
	if err != nil {
		panic(err)
	}

	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		b, err := json.Marshal(msg)
		if err != nil {
			zlog.Error(fmt.Sprintf("%+v", msg))
			return
		}
		zlog.Info(string(b))
	})
}

// initTracing configures the tracer, exporting to an OTLP collector when
// enabled and dropping spans otherwise
func initTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter = &exporters.ConsoleExporter{}
	if cfg.OTLPEnabled {
		var err error
		exporter, err = exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
	}

	res := sdkresource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.AppName))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracing.SetTracer(otel.Tracer(cfg.AppName))

	return tp.Shutdown, nil
}
