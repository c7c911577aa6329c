package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"ErrandDispatchPlatform/pkg/config"
	"ErrandDispatchPlatform/pkg/database"
	"ErrandDispatchPlatform/pkg/errors"
	pkggrpc "ErrandDispatchPlatform/pkg/grpc"
	"ErrandDispatchPlatform/pkg/health"
	"ErrandDispatchPlatform/pkg/logger"
	pkgmetrics "ErrandDispatchPlatform/pkg/metrics"
	"ErrandDispatchPlatform/pkg/rabbitmq"
	"ErrandDispatchPlatform/pkg/ratelimit"
	pkgredis "ErrandDispatchPlatform/pkg/redis"
	"ErrandDispatchPlatform/services/dispatch-service/internal/auth"
	dispatchhttp "ErrandDispatchPlatform/services/dispatch-service/internal/handler/http"
	"ErrandDispatchPlatform/services/dispatch-service/internal/metrics"
	"ErrandDispatchPlatform/services/dispatch-service/internal/producer"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository/postgres"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository/redis"
	"ErrandDispatchPlatform/services/dispatch-service/internal/service"
	"ErrandDispatchPlatform/services/dispatch-service/internal/usecase"
	"ErrandDispatchPlatform/services/dispatch-service/migrations"
)

const (
	serviceName    = "dispatch-service"
	serviceVersion = "1.0.0"
	metricsPrefix  = "dispatch_service"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// Инициализация конфигурации
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, serviceName)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("Service stopped with error", logger.Error(err))
		os.Exit(1)
	}
	appLogger.Info("Service stopped")
}

func run(cfg *config.Config, appLogger logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := pkgmetrics.InitializeOpenTelemetry(serviceName, serviceVersion)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// PostgreSQL + миграции
	dbConfig := database.NewConfig()
	dbConfig.Host = cfg.Database.Host
	dbConfig.Port = cfg.Database.Port
	dbConfig.User = cfg.Database.User
	dbConfig.Password = cfg.Database.Password
	dbConfig.Database = cfg.Database.Name
	dbConfig.SSLMode = cfg.Database.SSLMode
	dbConfig.MaxConns = cfg.Database.MaxConns
	dbConfig.Retry.OnRetry = retryLogger(appLogger, "postgres")

	postgresDB, err := database.Connect(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer postgresDB.Close()

	if err := postgresDB.Migrate(ctx, migrations.FS, "."); err != nil {
		return err
	}

	// Redis: местоположения и rate limiting
	redisConfig := pkgredis.NewConfig()
	redisConfig.Addr = cfg.Redis.Addr
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB
	redisConfig.PoolSize = cfg.Redis.PoolSize
	redisConfig.MinIdleConn = cfg.Redis.MinIdleConn
	redisConfig.Retry.OnRetry = retryLogger(appLogger, "redis")

	redisClient, err := pkgredis.Connect(ctx, redisConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	checker := health.NewChecker(serviceVersion, 2*time.Second).
		Register("postgres", postgresDB.HealthCheck).
		Register("redis", redisClient.HealthCheck)

	// RabbitMQ подключается только если канал уведомлений включен
	var events producer.EventPublisher = producer.NewNoopProducer(appLogger)
	if cfg.RabbitMQ.Enabled {
		mqConfig := rabbitmq.NewConfig()
		mqConfig.URL = cfg.RabbitMQ.URL
		mqConfig.Exchange = cfg.RabbitMQ.Exchange
		mqConfig.Retry.OnRetry = retryLogger(appLogger, "rabbitmq")

		mqConn, err := rabbitmq.Connect(ctx, mqConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer mqConn.Close()

		events = producer.NewTaskEventProducer(rabbitmq.NewProducer(mqConn, mqConfig), appLogger)
		checker.Register("rabbitmq", mqConn.HealthCheck)
	}

	// Репозитории
	taskRepo := postgres.NewTaskRepository(postgresDB.Pool)
	appRepo := postgres.NewApplicationRepository(postgresDB.Pool)
	profileRepo := postgres.NewWorkerProfileRepository(postgresDB.Pool)
	locationRepo := redis.NewLocationRepository(redisClient.Client, cfg.Redis.KeyPrefix)
	limiter := ratelimit.NewRedisRateLimiter(redisClient.Client, cfg.Redis.KeyPrefix+":ratelimit")

	// Сервисы и фасад
	taskService := service.NewTaskService(taskRepo, appRepo, service.NewApplicationPolicy(cfg.Dispatch), appLogger)
	locationService := service.NewLocationService(locationRepo, profileRepo, cfg.Dispatch, appLogger)

	dispatchMetrics := metrics.NewDispatchMetrics(metricsPrefix, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	dispatchUseCase := usecase.NewDispatchUseCase(taskService, locationService, events, limiter, dispatchMetrics, cfg, appLogger)

	tokens := auth.NewManager(cfg.JWT.AccessSecret, cfg.JWT.Issuer, cfg.JWT.AccessTokenDuration.Std())
	authn := auth.NewMiddleware(tokens, appLogger).Authenticate

	// HTTP
	mux := http.NewServeMux()
	dispatchhttp.NewDispatchHandler(dispatchUseCase, appLogger).Register(mux, authn, dispatchMetrics.Base())
	mux.HandleFunc("GET /health", health.Handler(checker))
	mux.HandleFunc("GET /ready", health.ReadyHandler(checker))
	mux.HandleFunc("GET /live", health.LiveHandler())
	mux.Handle("GET /metrics", dispatchMetrics.Base().GetHandler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      errors.Middleware(appLogger)(corsHandler.Handler(mux)),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	// gRPC health
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(pkggrpc.UnaryServerInterceptor(appLogger)))
	healthServer := health.NewGRPCServer(serviceName, checker)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("failed to listen grpc port: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server", logger.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		appLogger.Info("Starting gRPC server", logger.Int("port", cfg.GRPC.Port))
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down servers...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()

		grpcServer.GracefulStop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func retryLogger(log logger.Logger, target string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		log.Warn("Connection attempt failed, retrying",
			logger.String("target", target),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
	}
}
