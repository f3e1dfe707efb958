package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities so that escalation can be checked numerically.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

const (
	CategoryFileChange = "File Change"
	CategoryRansomware = "Potential Ransomware Activity"
	CategoryRansomNote = "Ransomware Note Detected"
)

// RawEvent is a single FIM change record as reported by the monitoring service.
type RawEvent struct {
	FilePath   string
	EventType  EventType
	OccurredAt time.Time
}

type Alert struct {
	Identity   string    `json:"identity"`
	Severity   Severity  `json:"severity"`
	Category   string    `json:"category"`
	FilePath   string    `json:"file_path"`
	EventType  EventType `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
}

// alertNamespace scopes name-based alert identities.
var alertNamespace = uuid.MustParse("6f1c3a52-9d1e-4b8a-a3c4-5e0f2b7d9c11")

// AlertIdentity derives the deduplication key of an event from its timestamp
// and file path. Equal inputs always produce the same identity.
func AlertIdentity(occurredAt time.Time, filePath string) string {
	key := occurredAt.UTC().Format(time.RFC3339Nano) + "\x00" + filePath
	return uuid.NewSHA1(alertNamespace, []byte(key)).String()
}

// IsValidIdentity reports whether s has the shape of an alert identity.
func IsValidIdentity(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
