package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsrelay/internal/config"
	"whatsrelay/internal/constants"
	"whatsrelay/internal/database"
	apperrors "whatsrelay/internal/errors"
	"whatsrelay/internal/ingest"
	"whatsrelay/internal/metrics"
	"whatsrelay/internal/models"
	"whatsrelay/internal/privacy"
	"whatsrelay/internal/retry"
	"whatsrelay/internal/service"
	"whatsrelay/internal/store"
	"whatsrelay/internal/tracing"
	"whatsrelay/pkg/whatsapp"
	"whatsrelay/pkg/whatsapp/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes destinations and message text)")
	configPath = flag.String("config", "config.json", "Path to configuration file (.json or .yaml)")
	version    = flag.Bool("version", false, "Show version information")
	issueToken = flag.Duration("issue-admin-token", 0, "Print an admin bearer token valid for the given duration and exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("WhatsRelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	if *issueToken > 0 {
		if err := printAdminToken(*configPath, *issueToken); err != nil {
			logrus.Fatalf("Failed to issue admin token: %v", err)
		}
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(parent context.Context) error {
	ctx, cancelRun := context.WithCancel(parent)
	defer cancelRun()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting WhatsRelay")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel, *verbose)

	tracingCfg := cfg.Tracing
	if tracingCfg.ServiceVersion == "" {
		tracingCfg.ServiceVersion = Version
	}
	tracingManager := tracing.NewTracingManager(tracingCfg, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promCollectors := metrics.NewCollectors(registry)

	stateStore, deliveryLog, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return apperrors.NewStartupError("open state store", err)
	}
	defer closeStore()

	loc, err := loadLocation(cfg.Forwarding.Timezone)
	if err != nil {
		return apperrors.NewStartupError("load forwarding timezone", err)
	}

	waClient := whatsapp.NewClientWithLogger(types.ClientConfig{
		BaseURL:     cfg.WhatsApp.APIBaseURL,
		APIKey:      cfg.WhatsApp.APIKey,
		SessionName: cfg.WhatsApp.SessionName,
		Timeout:     time.Duration(cfg.WhatsApp.TimeoutMs) * time.Millisecond,
	}, logger)

	hub := service.NewHub(constants.DefaultSubscriberBufferSize, promCollectors, logger)
	defer hub.Close()

	engine := service.NewEngine(service.NewWAHATransport(waClient), stateStore, hub, service.EngineOptions{
		DestinationDelay: time.Duration(cfg.Forwarding.DestinationDelayMs) * time.Millisecond,
		MessageDelay:     time.Duration(cfg.Forwarding.MessageDelayMs) * time.Millisecond,
		MaxPending:       cfg.Forwarding.MaxPendingMessages,
		Location:         loc,
		Collectors:       promCollectors,
	}, logger)
	engine.Load(ctx)
	hub.SetSnapshotSource(engine.Status)

	logStartupBanner(logger, cfg, engine.GetConfig())

	ctxWithVerbose := service.WithVerbose(ctx, *verbose)

	signals := make(chan service.LifecycleSignal, 16)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(ctxWithVerbose, signals)
	}()

	monitor := service.NewReadinessMonitor(waClient, signals, service.ReadinessOptions{
		Interval:       time.Duration(cfg.WhatsApp.StatusPollSec) * time.Second,
		AutoStart:      cfg.WhatsApp.AutoStartSession,
		RestartSettle:  time.Duration(cfg.Forwarding.RestartSettleMs) * time.Millisecond,
		RestartBackoff: retry.FromRetryConfig(cfg.Retry, 0),
	}, logger)
	monitor.Start(ctxWithVerbose)
	defer monitor.Stop()

	var cleaner service.RecordCleaner
	if deliveryLog != nil {
		cleaner = deliveryLog
	}
	scheduler := service.NewScheduler(engine, cleaner, cfg.Storage.RetentionDays, cfg.Storage.CleanupIntervalHours, loc, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	watcher := config.NewConfigWatcher(*configPath, logger)
	watcher.OnConfigChange(func(newCfg *models.Config) {
		applyRuntimeConfig(logger, engine, newCfg, *verbose)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	if cfg.Ingest.Kafka.Enabled {
		reader := ingest.NewKafkaReader(cfg.Ingest.Kafka, logger)
		consumer := ingest.NewConsumer(reader, engine, promCollectors, logger)
		go func() {
			if err := consumer.Run(ctxWithVerbose); err != nil {
				logger.WithError(err).Error("Kafka consumer stopped")
			}
		}()
		logger.WithFields(logrus.Fields{
			"topic":   cfg.Ingest.Kafka.Topic,
			"group":   cfg.Ingest.Kafka.GroupID,
			"brokers": len(cfg.Ingest.Kafka.Brokers),
		}).Info("Kafka ingestion enabled")
	}

	server := NewServer(cfg, ServerDeps{
		Engine:      engine,
		Transport:   monitor,
		Events:      hub,
		DeliveryLog: deliveryLog,
		Gatherer:    registry,
		Verbose:     *verbose,
	}, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serverErrCh:
		logger.Error(runErr)
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shutdown server gracefully")
		runErr = errors.Join(runErr, err)
	}

	<-engineDone
	if err := engine.Flush(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to save forwarding state on shutdown")
		runErr = errors.Join(runErr, err)
	}

	logger.WithField(service.LogFieldPending, engine.PendingCount()).Info("Shutdown completed")
	return runErr
}

func printAdminToken(path string, ttl time.Duration) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	token, err := IssueAdminToken(cfg.Server.AdminJWTSecret, "cli", ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

type pacingSetter interface {
	SetPacing(destinationDelay, messageDelay time.Duration)
}

// applyRuntimeConfig applies the settings that take effect without a restart
func applyRuntimeConfig(logger *logrus.Logger, engine pacingSetter, cfg *models.Config, verbose bool) {
	applyLogLevel(logger, cfg.LogLevel, verbose)
	engine.SetPacing(
		time.Duration(cfg.Forwarding.DestinationDelayMs)*time.Millisecond,
		time.Duration(cfg.Forwarding.MessageDelayMs)*time.Millisecond,
	)
}

// applyLogLevel sets the level from config. Levels more verbose than info
// need -verbose.
func applyLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - destinations and message text will be logged")
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
	if parsed > logrus.InfoLevel {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// openStore builds the configured state store. The sqlite backend also
// serves as the delivery log.
func openStore(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (service.StateStore, *database.Database, func(), error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := database.OpenWithRetry(ctx, cfg.Storage.SQLitePath,
			retry.FromRetryConfig(cfg.Retry, constants.DefaultDatabaseRetries), logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize database after retries: %w", err)
		}
		logger.WithField("path", cfg.Storage.SQLitePath).Info("Using sqlite state store")
		closeFn := func() {
			if err := db.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close database")
			}
		}
		return db, db, closeFn, nil
	default:
		fs, err := store.NewFileStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize file store: %w", err)
		}
		logger.WithField("dir", fs.Dir()).Info("Using file state store")
		return fs, nil, func() {}, nil
	}
}

func logStartupBanner(logger *logrus.Logger, cfg *models.Config, fwd models.ForwardingConfig) {
	logger.WithFields(logrus.Fields{
		"port":                       cfg.Server.Port,
		"session":                    cfg.WhatsApp.SessionName,
		"storage":                    cfg.Storage.Backend,
		"forwarding_enabled":         fwd.Enabled,
		service.LogFieldDestinations: len(fwd.Destinations),
		"source_channels":            len(fwd.SourceChannels),
		"destination_delay_ms":       cfg.Forwarding.DestinationDelayMs,
		"message_delay_ms":           cfg.Forwarding.MessageDelayMs,
		"admin_auth":                 cfg.Server.AdminJWTSecret != "",
	}).Info("WhatsRelay ready to forward")
	logger.WithField("destination_list", privacy.MaskDestinations(fwd.Destinations)).Debug("Configured destinations")
}
