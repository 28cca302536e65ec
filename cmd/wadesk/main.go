package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wadesk/internal/config"
	"wadesk/internal/constants"
	"wadesk/internal/database"
	"wadesk/internal/notify"
	"wadesk/internal/realtime"
	"wadesk/internal/retry"
	"wadesk/internal/service"
	"wadesk/internal/tracing"
	"wadesk/pkg/gateway"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wadesk %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wadesk")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		if level > logrus.InfoLevel {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// The database can lose a startup race against volume mounts; retry with
	// backoff before giving up.
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultRetryBackoffMs * time.Millisecond,
		MaxDelay:     constants.DefaultMaxBackoffMs * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	hub := realtime.NewHub(logger)
	defer hub.Close()

	if cfg.AMQP.Enabled {
		publisher, err := notify.NewPublisher(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return fmt.Errorf("failed to connect broker publisher: %w", err)
		}
		defer publisher.Close()

		brokerSub := hub.Subscribe()
		go notify.Bridge(ctx, brokerSub, publisher, logger)
		logger.WithField("exchange", cfg.AMQP.Exchange).Info("Broker event mirror started")
	}

	gatewayClient := gateway.NewClient(gateway.ClientConfig{
		BaseURL:    cfg.Gateway.BaseURL,
		APIKey:     cfg.Gateway.APIKey,
		TimeoutSec: cfg.Gateway.TimeoutSec,
		RetryCount: cfg.Gateway.RetryCount,
	})

	webhookService, err := service.NewWebhookService(db, hub, logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook service: %w", err)
	}
	sendService, err := service.NewSendService(db, gatewayClient, hub, logger)
	if err != nil {
		return fmt.Errorf("failed to create send service: %w", err)
	}
	conversationService, err := service.NewConversationService(db, hub, logger)
	if err != nil {
		return fmt.Errorf("failed to create conversation service: %w", err)
	}
	instanceService, err := service.NewInstanceService(db, gatewayClient, hub, logger)
	if err != nil {
		return fmt.Errorf("failed to create instance service: %w", err)
	}

	router := service.NewRouter(logger)
	webhookService.Register(router)

	if cfg.Monitor.Enabled {
		interval := time.Duration(cfg.Monitor.IntervalSec) * time.Second
		monitor, err := service.NewInstanceMonitor(db, gatewayClient, hub, logger, interval)
		if err != nil {
			return fmt.Errorf("failed to create instance monitor: %w", err)
		}
		monitor.Start(ctx)
		defer monitor.Stop()
	}

	server := NewServer(cfg, router, hub, sendService, conversationService, instanceService, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}
