package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func healthy() ServiceHealth {
	h := ServiceHealth{"wazuh-clusterd": "stopped"}
	for _, svc := range CriticalServices {
		h[svc] = "running"
	}
	return h
}

func TestSummarize(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	alerts := []Alert{
		{Severity: SeverityHigh},
		{Severity: SeverityHigh},
		{Severity: SeverityMedium},
		{Severity: SeverityLow},
	}

	s := Summarize(alerts, healthy(), nil, now)
	assert.Equal(t, 2, s.ActiveThreats)
	assert.Equal(t, 4, s.TotalAlerts)
	assert.Equal(t, now, s.LastCheckedAt)
	assert.Equal(t, StatusSecure, s.SystemStatus)

	empty := Summarize(nil, healthy(), nil, now)
	assert.Zero(t, empty.ActiveThreats)
	assert.Zero(t, empty.TotalAlerts)
}

func TestStatusForHealth(t *testing.T) {
	degraded := healthy()
	degraded["wazuh-syscheckd"] = "stopped"

	missing := healthy()
	delete(missing, "wazuh-apid")

	tests := []struct {
		name   string
		health ServiceHealth
		err    error
		want   SystemStatus
	}{
		{"all running", healthy(), nil, StatusSecure},
		{"one stopped", degraded, nil, StatusWarning},
		{"one missing", missing, nil, StatusWarning},
		{"health check failed", healthy(), errors.New("timeout"), StatusUnknown},
		{"no data", nil, nil, StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForHealth(tt.health, tt.err))
		})
	}
}
