package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/ports"
)

// Console is the surface views talk to. It owns no state of its own and
// routes every call to the service that does.
type Console struct {
	Hub       *ConfigHub
	Alerts    *AlertService
	Dashboard *DashboardService
	Incidents *IncidentService
	logger    *zap.Logger
}

// ConsoleDeps lists the pieces a Console is assembled from. Source is the
// monitoring client; it is subscribed to the hub first so that later
// subscribers already see the new session. Incidents may be nil.
type ConsoleDeps struct {
	Hub       *ConfigHub
	Source    ports.ConfigSubscriber
	Alerts    *AlertService
	Dashboard *DashboardService
	Incidents *IncidentService
}

func NewConsole(deps ConsoleDeps, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}

	if deps.Source != nil {
		deps.Hub.Subscribe(deps.Source)
	}
	deps.Hub.Subscribe(deps.Alerts)
	deps.Hub.Subscribe(deps.Dashboard)
	if deps.Incidents != nil {
		deps.Hub.Subscribe(deps.Incidents)
	}

	return &Console{
		Hub:       deps.Hub,
		Alerts:    deps.Alerts,
		Dashboard: deps.Dashboard,
		Incidents: deps.Incidents,
		logger:    logger,
	}
}

func (c *Console) Start(ctx context.Context) {
	c.Alerts.Start(ctx)
}

func (c *Console) Stop() {
	c.Alerts.Stop()
}

// GetAlerts returns the unacknowledged alerts, most severe and newest first.
func (c *Console) GetAlerts() []domain.Alert {
	return c.Alerts.Alerts()
}

func (c *Console) Acknowledge(identity string) error {
	return c.Alerts.Acknowledge(identity)
}

// OnAlertsChanged registers obs for alert-list updates.
func (c *Console) OnAlertsChanged(obs ports.AlertsObserver) {
	c.Alerts.Subscribe(obs)
}

// OnConfigChanged registers sub after the built-in subscribers.
func (c *Console) OnConfigChanged(sub ports.ConfigSubscriber) {
	c.Hub.Subscribe(sub)
}

func (c *Console) GetDashboardSummary(ctx context.Context) domain.Summary {
	return c.Dashboard.Summary(ctx)
}
