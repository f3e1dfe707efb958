package ports

import (
	"context"

	"github.com/hive-corporation/guardian/internal/core/domain"
)

// Notifier delivers new high-severity alerts to an external system
// (chat, message bus, desktop notification).
type Notifier interface {
	NotifyAlert(ctx context.Context, alert domain.Alert) error
	Name() string
}

// ConfigSubscriber is notified synchronously after every configuration
// update, in subscription order. Implementations must be comparable
// (pointer receivers) so that subscription stays idempotent.
type ConfigSubscriber interface {
	OnConfigChange(creds domain.Credentials) error
}

// AlertsObserver receives the current, already filtered alert list
// whenever it changes.
type AlertsObserver interface {
	OnAlertsChanged(alerts []domain.Alert)
}

// AckObserver is told about each identity that became acknowledged.
type AckObserver interface {
	OnAcknowledged(identity string)
}
