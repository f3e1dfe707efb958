package ports

import (
	"context"
	"time"

	"github.com/hive-corporation/guardian/internal/core/domain"
)

// EventSource fetches the latest raw FIM events for the monitored agent.
// Skipped counts malformed records dropped while decoding.
type EventSource interface {
	FetchEvents(ctx context.Context) (events []domain.RawEvent, skipped int, err error)
}

// HealthChecker reports the state of the remote service's own components.
type HealthChecker interface {
	ManagerStatus(ctx context.Context) (domain.ServiceHealth, error)
}

// CredentialStore persists the credentials document.
type CredentialStore interface {
	Load() (domain.Credentials, error)
	Save(creds domain.Credentials) error
}

// AckStore is the durable set of acknowledged alert identities.
type AckStore interface {
	IsAcknowledged(identity string) bool
	Acknowledge(identity string) error
	Subscribe(obs AckObserver)
	Unsubscribe(obs AckObserver)
}

// AlertArchive keeps every classified alert for later export.
type AlertArchive interface {
	SaveBatch(ctx context.Context, alerts []domain.Alert) error
	FindSince(ctx context.Context, since time.Time, limit int) ([]domain.Alert, error)
}

// IncidentProvider fetches incident history from the workflow service.
type IncidentProvider interface {
	FetchIncidents(ctx context.Context) ([]domain.Incident, error)
	Reset(settings domain.WorkflowSettings)
}
