package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wadispatch/internal/config"
	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/models"
	"wadispatch/internal/realtime"
	"wadispatch/internal/retry"
	"wadispatch/internal/service"
	"wadispatch/internal/tracing"
	"wadispatch/pkg/whatsapp"

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

// batchRetention is how long finished batch handles stay queryable.
const batchRetention = time.Hour

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wadispatch %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func applyLogLevel(logger *logrus.Logger, level string) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if level == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	logger.SetLevel(parsed)
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wadispatch")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyLogLevel(logger, cfg.LogLevel)
	if *verbose {
		logger.Info("Verbose logging enabled: phone numbers will be logged unmasked")
	}

	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = Version
	}
	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Start(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	err = retry.Do(ctx, config.StartupRetryPolicy(cfg.Retry), func(context.Context) error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		return initErr
	}, func(attempt int, err error, next time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"retry":   next.String(),
		}).Warn("Failed to initialize database")
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	quotaLoc, err := config.QuotaLocation(cfg.Dispatch)
	if err != nil {
		return fmt.Errorf("invalid quota timezone: %w", err)
	}

	factory, err := whatsapp.NewFactory(cfg.WhatsApp.SessionsDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize provider factory: %w", err)
	}

	registry := service.NewSessionRegistry(factory, logger)
	hub := realtime.NewHub(logger, realtime.Options{
		BufferSize:   constants.DefaultSubscriberBufferSize,
		WriteTimeout: constants.DefaultWebsocketWriteSec * time.Second,
		PingInterval: constants.DefaultWebsocketPingSec * time.Second,
	})
	lifecycle := service.NewLifecycleController(db, registry, hub, logger)
	registry.SetEventHandler(lifecycle.HandleEvent)

	accounts := service.NewAccountService(db, db, cfg.Accounts, logger)
	devices := service.NewDeviceService(db, db, registry, factory, logger)
	ledger := service.NewQuotaLedger(db, quotaLoc, logger)
	dispatcher := service.NewDispatcher(db, db, db, ledger, registry,
		service.NewBatchTracker(batchRetention), config.DispatchPacing(cfg.Dispatch), logger)
	dispatcher.SetVerboseLogging(*verbose)

	retention := service.NewRetentionScheduler(db, cfg.Retention.Days, cfg.Retention.Schedule, quotaLoc, logger)
	if err := retention.Start(ctx); err != nil {
		return fmt.Errorf("failed to start retention scheduler: %w", err)
	}
	defer retention.Stop()

	watcher := config.NewWatcher(*configPath, cfg, logger)
	watcher.OnChange(func(old, next *models.Config) {
		dispatcher.ApplyPacing(config.DispatchPacing(next.Dispatch))
		applyLogLevel(logger, next.LogLevel)
	})
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.WithError(err).Warn("Config watcher stopped; changes need a restart")
		}
	}()

	if cfg.WhatsApp.RestoreOnStartup {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(constants.DefaultSessionRestoreDelaySec * time.Second):
			}
			if _, err := devices.RestoreSessions(ctx); err != nil {
				logger.WithError(err).Error("Failed to restore device sessions")
			}
		}()
	}

	server := NewServer(cfg.Server, Dependencies{
		Accounts:      accounts,
		Devices:       devices,
		Dispatcher:    dispatcher,
		Quota:         ledger,
		Notifications: hub,
		Health:        db,
		Sessions:      registry,
	}, logger, cfg.Server.DebugHTTP || *verbose)
	server.SetVerboseLogging(*verbose)

	serverErr := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Bulk batches did not stop in time")
	}
	hub.Close()
	registry.Shutdown()

	logger.Info("Server stopped")
	return nil
}
