package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/adapter/repository"
	"github.com/hive-corporation/guardian/internal/adapter/wazuh"
	"github.com/hive-corporation/guardian/internal/config"
	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/service"
	"github.com/hive-corporation/guardian/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "Path to guardian.yaml")
	validate := flag.Bool("validate", false, "Check the saved credentials against the Wazuh manager")
	listAlerts := flag.Bool("alerts", false, "Poll once and print unacknowledged alerts")
	ackID := flag.String("ack", "", "Acknowledge the alert with this identity")
	dashboard := flag.Bool("dashboard", false, "Poll once and print the dashboard summary")
	timeout := flag.Duration("timeout", 30*time.Second, "Deadline for the whole operation")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("❌ failed to load config: %v", err)
	}
	logger := zap.NewNop()
	if *verbose {
		logger = logging.New("debug", "console")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var runErr error
	switch {
	case *validate:
		runErr = runValidate(ctx, cfg, logger)
	case *ackID != "":
		runErr = runAck(cfg, *ackID, logger)
	case *listAlerts:
		runErr = runAlerts(ctx, cfg, logger)
	case *dashboard:
		runErr = runDashboard(ctx, cfg, logger)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if runErr != nil {
		fmt.Printf("❌ %v\n", runErr)
		os.Exit(1)
	}
}

// core is the subset of the console a one-shot command needs.
type core struct {
	alerts *service.AlertService
	client *wazuh.Client
}

func openCore(cfg *config.Config, logger *zap.Logger) (*core, error) {
	hub, err := service.LoadConfigHub(repository.NewCredentialsFile(cfg.CredentialsFile), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	acks := repository.NewAckFile(cfg.AckFile, logger)
	if err := acks.LoadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load acknowledgments: %w", err)
	}

	creds := hub.Get()
	session := wazuh.NewSessionManager(sessionConfig(cfg), creds, logger)
	client := wazuh.NewClient(session, creds.AgentID, cfg.FetchLimit, logger)
	alerts := service.NewAlertService(client, acks, hub, cfg.PollInterval, logger)

	return &core{alerts: alerts, client: client}, nil
}

func runValidate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	hub, err := service.LoadConfigHub(repository.NewCredentialsFile(cfg.CredentialsFile), logger)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	creds := hub.Get()

	fmt.Printf("🔍 validating connection to %s as %s...\n", creds.Endpoint, creds.Username)
	if err := wazuh.ValidateConnection(ctx, sessionConfig(cfg), creds, logger); err != nil {
		return fmt.Errorf("connection failed (%s): %w", domain.ErrorKind(err), err)
	}
	fmt.Println("✅ connection OK")
	return nil
}

func runAck(cfg *config.Config, identity string, logger *zap.Logger) error {
	if !domain.IsValidIdentity(identity) {
		return fmt.Errorf("%q: %w", identity, domain.ErrInvalidIdentity)
	}
	acks := repository.NewAckFile(cfg.AckFile, logger)
	if err := acks.LoadFromDisk(); err != nil {
		return fmt.Errorf("failed to load acknowledgments: %w", err)
	}
	if acks.IsAcknowledged(identity) {
		fmt.Printf("✅ %s was already acknowledged\n", identity)
		return nil
	}
	if err := acks.Acknowledge(identity); err != nil {
		return err
	}
	fmt.Printf("✅ acknowledged %s\n", identity)
	return nil
}

func runAlerts(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	c, err := openCore(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.alerts.Refresh(ctx); err != nil {
		return fmt.Errorf("poll failed (%s): %w", domain.ErrorKind(err), err)
	}

	alerts := c.alerts.Alerts()
	for _, a := range alerts {
		marker := "•"
		if a.Severity == domain.SeverityHigh {
			marker = "🚨"
		}
		fmt.Printf("%s [%s] %s %s %s (%s)\n", marker, a.Severity, a.OccurredAt.Local().Format(time.DateTime), a.EventType, a.FilePath, a.Identity)
	}

	fmt.Println("------------------------------------------------")
	if st := c.alerts.Status(); st.Skipped > 0 {
		fmt.Printf("⚠️  %d malformed events skipped\n", st.Skipped)
	}
	fmt.Printf("%d unacknowledged alerts\n", len(alerts))
	return nil
}

func runDashboard(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	c, err := openCore(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.alerts.Refresh(ctx); err != nil {
		fmt.Printf("⚠️  poll failed (%s): %v\n", domain.ErrorKind(err), err)
	}

	dash := service.NewDashboardService(c.alerts, c.client, 0, logger)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(dash.Summary(ctx))
}

func sessionConfig(cfg *config.Config) wazuh.SessionConfig {
	sc := wazuh.DefaultSessionConfig()
	sc.TokenWindow = cfg.Wazuh.TokenWindow
	sc.AuthTimeout = cfg.Wazuh.AuthTimeout
	sc.DataTimeout = cfg.Wazuh.DataTimeout
	sc.HealthTimeout = cfg.Wazuh.HealthTimeout
	sc.HTTP.InsecureTLS = cfg.Wazuh.InsecureTLS
	sc.HTTP.EnableCircuitBreaker = false
	return sc
}
