package exporter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/ports"
)

// maxExport bounds one archive read.
const maxExport = 10000

// AlertSource supplies the live alerts when no archive is configured.
type AlertSource interface {
	Alerts() []domain.Alert
}

// CEFExporter exports alerts in Common Event Format for SIEM ingestion
type CEFExporter struct {
	archive ports.AlertArchive
	live    AlertSource
	version string
}

// NewCEFExporter reads from archive when it is non-nil and from live
// otherwise.
func NewCEFExporter(archive ports.AlertArchive, live AlertSource, version string) *CEFExporter {
	if version == "" {
		version = "1.0"
	}
	return &CEFExporter{archive: archive, live: live, version: version}
}

// Export generates a CEF feed of the alerts that occurred after since.
// Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(ctx context.Context, since time.Time) (string, error) {
	// Default to last 24 hours if no time specified
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	var alerts []domain.Alert
	if e.archive != nil {
		archived, err := e.archive.FindSince(ctx, since, maxExport)
		if err != nil {
			return "", fmt.Errorf("failed to fetch alerts: %w", err)
		}
		alerts = archived
	} else if e.live != nil {
		for _, a := range e.live.Alerts() {
			if a.OccurredAt.After(since) {
				alerts = append(alerts, a)
			}
		}
	}

	var output strings.Builder
	for _, a := range alerts {
		output.WriteString(e.FormatCEF(a))
		output.WriteString("\n")
	}
	return output.String(), nil
}

// FormatCEF renders one alert as a CEF line.
func (e *CEFExporter) FormatCEF(a domain.Alert) string {
	vendor := "Guardian"
	product := "RansomwareConsole"
	signatureID := signatureFor(a.Category)
	name := escapeHeader(a.Category)
	severity := cefSeverity(a)

	extensions := []string{
		fmt.Sprintf("rt=%d", a.OccurredAt.UnixMilli()),
		fmt.Sprintf("filePath=%s", escapeField(a.FilePath)),
		fmt.Sprintf("act=%s", escapeField(string(a.EventType))),
		"cs1Label=AlertIdentity",
		fmt.Sprintf("cs1=%s", escapeField(a.Identity)),
		"cs2Label=Severity",
		fmt.Sprintf("cs2=%s", escapeField(string(a.Severity))),
	}

	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		vendor, product, escapeHeader(e.version), signatureID, name, severity, strings.Join(extensions, " "))
}

func signatureFor(category string) string {
	switch category {
	case domain.CategoryRansomNote:
		return "fim-ransom-note"
	case domain.CategoryRansomware:
		return "fim-ransomware-extension"
	default:
		return "fim-file-change"
	}
}

// cefSeverity maps alert severity onto the 0-10 CEF scale.
func cefSeverity(a domain.Alert) int {
	if a.Category == domain.CategoryRansomNote {
		return 10
	}
	switch a.Severity {
	case domain.SeverityHigh:
		return 8
	case domain.SeverityMedium:
		return 5
	default:
		return 2
	}
}

func escapeHeader(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	return s
}

func escapeField(s string) string {
	// Escape special characters in CEF extension values
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}
