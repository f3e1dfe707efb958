package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/ports"
)

func TestConsole_WiresSubscribersInOrder(t *testing.T) {
	hub := NewConfigHub(&memoryStore{}, configured(), nil)

	var (
		mu  sync.Mutex
		log []string
	)
	source := &recordingSubscriber{name: "source", log: &log, mu: &mu}
	alerts := newTestAlertService(t, &fakeSource{}, filepath.Join(t.TempDir(), "acks.txt"))
	dashboard := NewDashboardService(alerts, &fakeChecker{health: allRunning()}, time.Minute, nil)
	incidents := NewIncidentService(&fakeIncidentProvider{}, domain.WorkflowSettings{}, nil)

	console := NewConsole(ConsoleDeps{
		Hub:       hub,
		Source:    source,
		Alerts:    alerts,
		Dashboard: dashboard,
		Incidents: incidents,
	}, nil)

	view := &recordingSubscriber{name: "view", log: &log, mu: &mu}
	console.OnConfigChanged(view)

	assert.Equal(t, []ports.ConfigSubscriber{source, alerts, dashboard, incidents, view}, hub.subscribers)

	require.NoError(t, hub.Update(configured()))
	assert.Equal(t, []string{"source", "view"}, log)
}

func TestConsole_ViewOperations(t *testing.T) {
	hub := NewConfigHub(&memoryStore{}, configured(), nil)
	source := &fakeSource{events: hundredEvents()[:6]}
	alerts := newTestAlertService(t, source, filepath.Join(t.TempDir(), "acks.txt"))
	dashboard := NewDashboardService(alerts, &fakeChecker{health: allRunning()}, time.Minute, nil)

	console := NewConsole(ConsoleDeps{Hub: hub, Alerts: alerts, Dashboard: dashboard}, nil)

	obs := &recordingObserver{}
	console.OnAlertsChanged(obs)
	require.NoError(t, alerts.Refresh(context.Background()))

	got := console.GetAlerts()
	require.Len(t, got, 6)
	assert.Equal(t, got, obs.last())

	summary := console.GetDashboardSummary(context.Background())
	assert.Equal(t, 3, summary.ActiveThreats)
	assert.Equal(t, 6, summary.TotalAlerts)
	assert.Equal(t, domain.StatusSecure, summary.SystemStatus)

	err := console.Acknowledge("not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)

	require.NoError(t, console.Acknowledge(got[0].Identity))
	assert.Len(t, console.GetAlerts(), 5)
	assert.Equal(t, 2, console.GetDashboardSummary(context.Background()).ActiveThreats)
}
