package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/hive-corporation/guardian/internal/adapter/exporter"
	"github.com/hive-corporation/guardian/internal/adapter/handler"
	"github.com/hive-corporation/guardian/internal/adapter/metrics"
	"github.com/hive-corporation/guardian/internal/adapter/notifier"
	"github.com/hive-corporation/guardian/internal/adapter/provider"
	"github.com/hive-corporation/guardian/internal/adapter/publisher"
	"github.com/hive-corporation/guardian/internal/adapter/repository"
	"github.com/hive-corporation/guardian/internal/adapter/resilient"
	"github.com/hive-corporation/guardian/internal/adapter/sysinfo"
	"github.com/hive-corporation/guardian/internal/adapter/watcher"
	"github.com/hive-corporation/guardian/internal/adapter/wazuh"
	"github.com/hive-corporation/guardian/internal/config"
	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/ports"
	"github.com/hive-corporation/guardian/internal/core/service"
	"github.com/hive-corporation/guardian/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to guardian.yaml")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("guardian stopped", zap.Error(err))
		_ = logger.Sync()
		log.Fatal(err)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.InitMetrics()

	credStore := repository.NewCredentialsFile(cfg.CredentialsFile)
	hub, err := service.LoadConfigHub(credStore, logging.Component(logger, "config"))
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	acks := repository.NewAckFile(cfg.AckFile, logging.Component(logger, "acks"))
	if err := acks.LoadFromDisk(); err != nil {
		return fmt.Errorf("failed to load acknowledgments: %w", err)
	}

	creds := hub.Get()
	if !creds.IsConfigured {
		logger.Warn("console is not configured yet", zap.String("credentials_file", cfg.CredentialsFile))
	}

	wazuhLogger := logging.Component(logger, "wazuh")
	sessionCfg := sessionConfig(cfg)
	session := wazuh.NewSessionManager(sessionCfg, creds, wazuhLogger)
	client := wazuh.NewClient(session, creds.AgentID, cfg.FetchLimit, wazuhLogger)

	var archive ports.AlertArchive
	var opts []service.AlertServiceOption
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		pg := repository.NewPostgresArchive(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		archive = pg
		opts = append(opts, service.WithArchive(pg))
		logger.Info("alert archive enabled")
	}

	alerts := service.NewAlertService(client, acks, hub, cfg.PollInterval, logging.Component(logger, "alerts"), opts...)
	dashboard := service.NewDashboardService(alerts, client, cfg.Wazuh.HealthTTL, logging.Component(logger, "dashboard"))

	shuffle := provider.NewShuffleClient(resilient.New(resilient.DefaultConfig("shuffle-api"), logger), creds.Workflow)
	incidents := service.NewIncidentService(shuffle, creds.Workflow, logging.Component(logger, "incidents"))

	console := service.NewConsole(service.ConsoleDeps{
		Hub:       hub,
		Source:    client,
		Alerts:    alerts,
		Dashboard: dashboard,
		Incidents: incidents,
	}, logger)

	announcer, closeNotifiers, err := buildAnnouncer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifiers()
	if announcer != nil {
		console.OnAlertsChanged(announcer)
	}

	console.Start(ctx)
	logger.Info("console started",
		zap.String("version", version),
		zap.Duration("poll_interval", cfg.PollInterval))

	if creds.Workflow.IsConfigured() {
		go func() {
			if err := incidents.Sync(ctx); err != nil {
				logger.Warn("initial incident sync failed", zap.Error(err))
			}
		}()
	}

	if cfg.WatchCredentials {
		w := watcher.NewCredentialsWatcher(credStore, hub, 0, logging.Component(logger, "watcher"))
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Warn("credentials watcher stopped", zap.Error(err))
			}
		}()
	}

	go flushLoop(ctx, acks, cfg.FlushInterval, logger)

	var system handler.SystemReporter
	if collector, err := sysinfo.NewCollector(); err != nil {
		logger.Warn("system metrics disabled", zap.Error(err))
	} else {
		system = collector
	}

	validate := func(ctx context.Context, c domain.Credentials) error {
		return wazuh.ValidateConnection(ctx, sessionCfg, c, wazuhLogger)
	}

	feed := exporter.NewCEFExporter(archive, alerts, version)
	restHandler := handler.NewRestHandler(console, feed, system, validate, logging.Component(logger, "api"))
	router := handler.NewRouter(restHandler, handler.RouterConfig{
		AuthToken: cfg.API.AuthToken,
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
	})
	if cfg.API.AuthToken == "" {
		logger.Warn("REST API auth disabled (no api.auth_token)")
	}

	srv := &http.Server{
		Addr:         cfg.API.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("REST API listening", zap.String("addr", cfg.API.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("REST API failed: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPC.ListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.ListenAddr, err)
		}
		grpcServer = grpc.NewServer()
		reporter := handler.NewHealthReporter(dashboard, logging.Component(logger, "grpc"))
		reporter.Register(grpcServer)
		go reporter.Run(ctx, cfg.PollInterval)
		go func() {
			logger.Info("gRPC health listening", zap.String("addr", cfg.GRPC.ListenAddr))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("gRPC server failed: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("REST API forced to shut down", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	console.Stop()
	if announcer != nil {
		announcer.Close()
	}
	if err := acks.FlushToDisk(); err != nil {
		logger.Warn("final acknowledgment flush failed", zap.Error(err))
	}

	logger.Info("stopped gracefully")
	return runErr
}

func sessionConfig(cfg *config.Config) wazuh.SessionConfig {
	sc := wazuh.DefaultSessionConfig()
	sc.TokenWindow = cfg.Wazuh.TokenWindow
	sc.AuthTimeout = cfg.Wazuh.AuthTimeout
	sc.DataTimeout = cfg.Wazuh.DataTimeout
	sc.HealthTimeout = cfg.Wazuh.HealthTimeout
	sc.HTTP.InsecureTLS = cfg.Wazuh.InsecureTLS
	sc.HTTP.EnableCircuitBreaker = cfg.Breaker.Enabled
	sc.HTTP.MaxFailures = cfg.Breaker.MaxFailures
	sc.HTTP.CircuitTimeout = cfg.Breaker.Timeout
	return sc
}

// buildAnnouncer returns nil when no notifier is configured.
func buildAnnouncer(cfg *config.Config, logger *zap.Logger) (*service.Announcer, func(), error) {
	var notifiers []ports.Notifier
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Slack.BotToken != "" {
		slackClient := resilient.New(resilient.DefaultConfig("slack-api"), logger)
		notifiers = append(notifiers, notifier.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.Channel, cfg.Slack.MentionTeam, slackClient))
		logger.Info("Slack notifier enabled", zap.String("channel", cfg.Slack.Channel))
	}

	if cfg.NATS.URL != "" {
		pub, err := publisher.Connect(cfg.NATS.URL, cfg.NATS.Subject, logging.Component(logger, "nats"))
		if err != nil {
			logger.Warn("NATS publisher disabled", zap.Error(err))
		} else {
			closers = append(closers, pub.Close)
			notifiers = append(notifiers, pub)
			logger.Info("NATS publisher enabled", zap.String("subject", cfg.NATS.Subject))
		}
	}

	if len(notifiers) == 0 {
		return nil, closeAll, nil
	}

	minSeverity := domain.Severity(strings.ToLower(strings.TrimSpace(cfg.Notify.MinSeverity)))
	announcer, err := service.NewAnnouncer(notifiers, minSeverity, cfg.Notify.CacheSize, logging.Component(logger, "announcer"))
	if err != nil {
		closeAll()
		return nil, func() {}, fmt.Errorf("failed to create announcer: %w", err)
	}
	return announcer, closeAll, nil
}

func flushLoop(ctx context.Context, acks *repository.AckFile, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := acks.FlushToDisk(); err != nil {
				logger.Warn("acknowledgment flush failed", zap.Error(err))
			}
		}
	}
}
