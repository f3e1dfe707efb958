package exporter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hive-corporation/guardian/internal/core/domain"
)

type liveAlerts []domain.Alert

func (l liveAlerts) Alerts() []domain.Alert { return l }

type fakeArchive struct {
	alerts []domain.Alert
	err    error
	since  time.Time
}

func (f *fakeArchive) SaveBatch(context.Context, []domain.Alert) error { return nil }

func (f *fakeArchive) FindSince(_ context.Context, since time.Time, _ int) ([]domain.Alert, error) {
	f.since = since
	return f.alerts, f.err
}

var noteAlert = domain.Alert{
	Identity:   "0b7c6f1e-2a55-5c59-9a41-3d2b7f9e6a10",
	Severity:   domain.SeverityHigh,
	Category:   domain.CategoryRansomNote,
	FilePath:   `C:\Users\bob\Desktop\README=RANSOM.txt`,
	EventType:  domain.EventCreated,
	OccurredAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
}

func TestFormatCEF(t *testing.T) {
	e := NewCEFExporter(nil, nil, "")
	line := e.FormatCEF(noteAlert)

	wantPrefix := "CEF:0|Guardian|RansomwareConsole|1.0|fim-ransom-note|Ransomware Note Detected|10|"
	if !strings.HasPrefix(line, wantPrefix) {
		t.Errorf("unexpected header:\n%s", line)
	}
	if !strings.Contains(line, `filePath=C:\\Users\\bob\\Desktop\\README\=RANSOM.txt`) {
		t.Errorf("file path not escaped: %s", line)
	}
	if !strings.Contains(line, "rt=1714557600000") {
		t.Errorf("missing receipt time: %s", line)
	}
}

func TestCEFSeverity(t *testing.T) {
	tests := []struct {
		alert domain.Alert
		want  int
	}{
		{domain.Alert{Severity: domain.SeverityHigh, Category: domain.CategoryRansomNote}, 10},
		{domain.Alert{Severity: domain.SeverityHigh, Category: domain.CategoryRansomware}, 8},
		{domain.Alert{Severity: domain.SeverityMedium}, 5},
		{domain.Alert{Severity: domain.SeverityLow}, 2},
	}
	for _, tt := range tests {
		if got := cefSeverity(tt.alert); got != tt.want {
			t.Errorf("cefSeverity(%+v) = %d, want %d", tt.alert, got, tt.want)
		}
	}
}

func TestExport_PrefersArchive(t *testing.T) {
	archive := &fakeArchive{alerts: []domain.Alert{noteAlert, noteAlert}}
	e := NewCEFExporter(archive, liveAlerts{noteAlert}, "2.0")

	out, err := e.Export(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if n := strings.Count(out, "\n"); n != 2 {
		t.Errorf("Expected 2 lines from the archive, got %d", n)
	}
	if archive.since.IsZero() {
		t.Error("Expected a default lookback window")
	}

	archive.err = errors.New("db down")
	if _, err := e.Export(context.Background(), time.Time{}); err == nil {
		t.Error("Expected archive error to be returned")
	}
}

func TestExport_LiveAlertsFilteredBySince(t *testing.T) {
	older := noteAlert
	older.OccurredAt = noteAlert.OccurredAt.Add(-48 * time.Hour)
	e := NewCEFExporter(nil, liveAlerts{noteAlert, older}, "")

	out, err := e.Export(context.Background(), noteAlert.OccurredAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if n := strings.Count(out, "\n"); n != 1 {
		t.Errorf("Expected 1 line, got %d: %s", n, out)
	}
}
