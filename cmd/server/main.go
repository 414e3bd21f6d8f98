package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/order-pipeline/configs"
	"github.com/rl1809/order-pipeline/internal/adapter/handler"
	"github.com/rl1809/order-pipeline/internal/adapter/notify"
	"github.com/rl1809/order-pipeline/internal/adapter/storage"
	"github.com/rl1809/order-pipeline/internal/core/service"
	"github.com/rl1809/order-pipeline/internal/metrics"
	"github.com/rl1809/order-pipeline/internal/observability"
	"github.com/rl1809/order-pipeline/internal/port"
)

const (
	version             = "0.1.0"
	healthCheckInterval = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("order-pipeline: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := configs.Load("configs", os.Getenv("APP_ENV"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Tracing and log export
	otelCfg := observability.OtelConfig{
		Service:    cfg.App.Name,
		Version:    version,
		Endpoint:   cfg.Otel.Endpoint,
		AuthHeader: cfg.Otel.AuthHeader,
		Insecure:   cfg.Otel.Insecure,
	}
	var (
		shutdowns   []func(context.Context) error
		logProvider otellog.LoggerProvider
	)
	if otelCfg.Enabled() {
		shutdownTracing, err := observability.SetupTracingSDK(ctx, otelCfg)
		if err != nil {
			return err
		}
		lp, err := observability.SetupLoggingSDK(ctx, otelCfg)
		if err != nil {
			return err
		}
		logProvider = lp
		shutdowns = append(shutdowns, shutdownTracing, lp.Shutdown)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Service:    cfg.App.Name,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}, logProvider)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Storage
	db, err := storage.Open(ctx, storage.DBConfig{
		Driver:          storage.Dialect(cfg.Storage.Driver),
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("storage ready", zap.String("driver", cfg.Storage.Driver))

	sqlAdapter := storage.NewSQLAdapter(db)
	checks := handler.NewHealthChecks()
	checks.Add("storage", db.PingContext)

	// Redis is optional: without it purchases are not tracked and
	// idempotency keys are ignored.
	var (
		tracker port.PurchaseTracker
		opts    []service.Option
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()

		redisAdapter := storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL)
		if err := redisAdapter.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

		tracker = redisAdapter
		opts = append(opts, service.WithIdempotency(redisAdapter))
		checks.Add("redis", redisAdapter.Ping)
	}

	// Notifiers
	notifiers := []port.Notifier{
		notify.NewHTTPNotifier(cfg.Notification.BaseURL, cfg.Notification.Token, cfg.Processor.NotifyTimeout),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kn := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer kn.Close()
		notifiers = append(notifiers, kn)
		logger.Info("kafka notifications enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, cfg.Storage.Driver),
	)

	orderService := service.NewOrderService(sqlAdapter, sqlAdapter, tracker, logger, opts...)
	processor := service.NewOrdersProcessor(orderService, notifiers, service.ProcessorConfig{
		Enabled:       cfg.Processor.Enabled,
		Interval:      cfg.Processor.Interval,
		InitialDelay:  cfg.Processor.InitialDelay,
		OrderTimeout:  cfg.Processor.OrderTimeout,
		NotifyTimeout: cfg.Processor.NotifyTimeout,
	}, logger, metrics.NewProcessorMetrics(reg), nil)

	// HTTP
	if cfg.App.Env != "dev" && cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpHandler := handler.NewHTTPHandler(orderService, checks, logger)
	router := handler.NewRouter(httpHandler, logger, metrics.NewHTTPMetrics(reg), reg)
	httpServer := &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// gRPC health
	grpcHandler := handler.NewGRPCHandler(checks, logger)
	var lis net.Listener
	if cfg.App.GRPCAddr != "" {
		lis, err = net.Listen("tcp", cfg.App.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if lis != nil {
		g.Go(func() error {
			logger.Info("gRPC server listening", zap.String("addr", cfg.App.GRPCAddr))
			return grpcHandler.Server().Serve(lis)
		})
		g.Go(func() error {
			grpcHandler.Watch(gctx, healthCheckInterval)
			return nil
		})
	}

	g.Go(func() error {
		return processor.Run(gctx)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		logger.Info("HTTP server stopped")

		grpcHandler.Shutdown()
		logger.Info("gRPC server stopped")
		return err
	})

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if serr := observability.Shutdown(shutdownCtx, shutdowns...); serr != nil {
		logger.Warn("telemetry shutdown", zap.Error(serr))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}
