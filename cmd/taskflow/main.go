package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/taskflow/internal/analytics"
	"github.com/prohmpiriya/taskflow/internal/di"
	"github.com/prohmpiriya/taskflow/internal/directory"
	"github.com/prohmpiriya/taskflow/pkg/config"
	"github.com/prohmpiriya/taskflow/pkg/database"
	"github.com/prohmpiriya/taskflow/pkg/kafka"
	"github.com/prohmpiriya/taskflow/pkg/logger"
	pkgredis "github.com/prohmpiriya/taskflow/pkg/redis"
	"github.com/prohmpiriya/taskflow/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "taskflow: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:        cfg.App.LogLevel,
		ServiceName:  cfg.App.Name,
		Development:  cfg.IsDevelopment(),
		OutputPath:   "stdout",
		OTLPEnabled:  cfg.OTel.Enabled,
		OTLPEndpoint: cfg.OTel.CollectorAddr,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		log.Warn("telemetry disabled", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	// Master directory
	masterCfg := di.PostgresConfig(cfg.MasterDatabase, cfg.TenantPool)
	master, err := database.NewPostgres(ctx, masterCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to master database: %w", err)
	}
	defer master.Close()

	applied, err := database.Migrate(ctx, master.Pool(), directory.Migrations())
	if err != nil {
		return fmt.Errorf("failed to migrate master database: %w", err)
	}
	if len(applied) > 0 {
		log.Info("master database migrated", zap.Strings("versions", applied))
	}

	// The maintenance database issues CREATE DATABASE for new tenants
	var admin *database.PostgresDB
	if cfg.MasterDatabase.AdminDBName != "" {
		adminCfg := masterCfg.WithDatabase(cfg.MasterDatabase.AdminDBName)
		adminCfg.MaxConns, adminCfg.MinConns = 2, 0
		admin, err = database.NewPostgres(ctx, adminCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to admin database: %w", err)
		}
		defer admin.Close()
	}

	var redis *pkgredis.Client
	if cfg.Redis.Host != "" {
		redis, err = pkgredis.NewClient(ctx, &pkgredis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   3,
		})
		if err != nil {
			log.Warn("redis unavailable, using in-process rate limits and tracker",
				zap.String("addr", cfg.Redis.Addr()),
				zap.Error(err),
			)
			redis = nil
		} else {
			defer redis.Close()
		}
	}

	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafka.NewProducer(&kafka.ProducerConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		defer producer.Close()
	}

	container, err := di.NewContainer(ctx, &di.ContainerConfig{
		Config:   cfg,
		Log:      log,
		MasterDB: master,
		AdminDB:  admin,
		Redis:    redis,
		Producer: producer,
	})
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	// Snapshot recomputes arrive on the analytics topic when Kafka is in use
	workerDone := make(chan struct{})
	if producer != nil {
		consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			ClientID:      cfg.Kafka.ClientID,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
			Topics:        []string{cfg.Kafka.AnalyticsTopic},
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		defer consumer.Close()
		consumer.OnError = analytics.LogErrors(log.WithService("analytics"))

		go func() {
			defer close(workerDone)
			worker := analytics.NewWorker(consumer, container.Analytics, log.WithService("analytics")).WithRetry(analytics.RetryConfig{
				MaxRetries: cfg.Lifecycle.DispatchMaxRetries,
				Backoff:    cfg.Lifecycle.DispatchBackoff,
				MaxBackoff: cfg.Lifecycle.DispatchMaxBackoff,
			})
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("analytics worker failed", zap.Error(err))
			}
		}()
	} else {
		close(workerDone)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      container.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("taskflow listening",
		zap.String("addr", srv.Addr),
		zap.String("environment", cfg.App.Environment),
		zap.Bool("kafka", producer != nil),
		zap.Bool("redis", redis != nil),
		zap.Bool("admin", cfg.Admin.APIKey != "" && admin != nil),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	log.Info("taskflow shutting down")

	wait := cfg.Lifecycle.AnalyticsConsumerWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	select {
	case <-workerDone:
	case <-time.After(wait):
		log.Warn("analytics worker did not stop in time")
	}

	container.Close(10 * time.Second)
	return nil
}
