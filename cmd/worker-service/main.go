package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dtbui/signpush/internal/config"
	"github.com/dtbui/signpush/internal/intake"
	"github.com/dtbui/signpush/internal/portal"
	"github.com/dtbui/signpush/internal/worker"
	"github.com/dtbui/signpush/shared/logger"
	"github.com/dtbui/signpush/shared/postgresql"
	"github.com/dtbui/signpush/shared/rabbitmq"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:            cfg.RabbitMQ.Host,
		Port:            cfg.RabbitMQ.Port,
		User:            cfg.RabbitMQ.User,
		Password:        cfg.RabbitMQ.Password,
		VHost:           cfg.RabbitMQ.VHost,
		ExchangeName:    cfg.RabbitMQ.ExchangeName,
		ExchangeType:    cfg.RabbitMQ.ExchangeType,
		ExchangeDurable: cfg.RabbitMQ.ExchangeDurable,
		QueueName:       cfg.RabbitMQ.QueueName,
		QueueDurable:    cfg.RabbitMQ.QueueDurable,
		RoutingKey:      cfg.RabbitMQ.RoutingKey,
		RetryAttempts:   cfg.RabbitMQ.RetryAttempts,
		RetryInterval:   cfg.RabbitMQ.RetryInterval,
		Heartbeat:       cfg.RabbitMQ.Heartbeat,
		PrefetchCount:   cfg.RabbitMQ.PrefetchCount,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	workerInstance := worker.New(&worker.Config{
		Logger:       appLogger.Logger,
		DBClient:     dbClient,
		PollInterval: cfg.Worker.PollInterval,
		Uploader: worker.UploaderConfig{
			PortalURL:                cfg.Portal.BaseURL,
			LoginTimeout:             cfg.Worker.LoginTimeout,
			SelectorTimeout:          cfg.Worker.SelectorTimeout,
			UploadEnableTimeout:      cfg.Worker.UploadEnableTimeout,
			ConfirmationTimeout:      cfg.Worker.ConfirmationTimeout,
			ConfirmationSettleDelay:  cfg.Worker.ConfirmationSettleDelay,
			ConfirmationPollInterval: cfg.Worker.ConfirmationPollInterval,
			ClickRetryAttempts:       cfg.Worker.ClickRetryAttempts,
			ClickRetryInterval:       cfg.Worker.ClickRetryInterval,
		},
		Chrome: portal.ChromeConfig{
			Headless:      cfg.Portal.Headless,
			ActionTimeout: cfg.Portal.ActionTimeout,
		},
	})

	intakeConsumer := intake.NewConsumer(appLogger.Logger, rabbitClient, workerInstance.Storage())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 2)
	workerDone := make(chan struct{})
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
		close(workerDone)
	}()
	go func() {
		if err := intakeConsumer.Run(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context; the dispatcher waits for in-flight jobs before
	// Start returns.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-workerDone:
		// Start returns once the dispatcher has drained in-flight jobs.
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
