package domain

import "time"

type SystemStatus string

const (
	StatusSecure  SystemStatus = "Secure"
	StatusWarning SystemStatus = "Warning"
	StatusUnknown SystemStatus = "Unknown"
)

// CriticalServices must all report "running" for the system to be Secure.
var CriticalServices = []string{
	"wazuh-analysisd",
	"wazuh-execd",
	"wazuh-remoted",
	"wazuh-syscheckd",
	"wazuh-modulesd",
	"wazuh-db",
	"wazuh-apid",
}

// ServiceHealth maps a service name to its reported state.
type ServiceHealth map[string]string

type Summary struct {
	ActiveThreats int          `json:"active_threats"`
	TotalAlerts   int          `json:"total_alerts"`
	LastCheckedAt time.Time    `json:"last_checked_at"`
	SystemStatus  SystemStatus `json:"system_status"`
}

// Summarize derives dashboard statistics. A failed health check yields
// Unknown; a successful check with any critical service not running yields
// Warning.
func Summarize(alerts []Alert, health ServiceHealth, healthErr error, now time.Time) Summary {
	s := Summary{
		TotalAlerts:   len(alerts),
		LastCheckedAt: now,
		SystemStatus:  StatusForHealth(health, healthErr),
	}
	for _, a := range alerts {
		if a.Severity == SeverityHigh {
			s.ActiveThreats++
		}
	}
	return s
}

func StatusForHealth(health ServiceHealth, healthErr error) SystemStatus {
	if healthErr != nil || health == nil {
		return StatusUnknown
	}
	for _, svc := range CriticalServices {
		if health[svc] != "running" {
			return StatusWarning
		}
	}
	return StatusSecure
}
