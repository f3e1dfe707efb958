package domain

import (
	"fmt"
	"testing"
	"time"
)

var base = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func defaultRules() Rules {
	return DefaultCredentials().Rules()
}

func TestClassify_Rules(t *testing.T) {
	tests := []struct {
		name     string
		event    RawEvent
		severity Severity
		category string
	}{
		{
			name:     "plain file created",
			event:    RawEvent{FilePath: `C:\data\notes.txt`, EventType: EventCreated, OccurredAt: base},
			severity: SeverityLow,
			category: CategoryFileChange,
		},
		{
			name:     "suspicious path",
			event:    RawEvent{FilePath: `C:\Users\ana\Documents\plan.docx`, EventType: EventCreated, OccurredAt: base},
			severity: SeverityMedium,
			category: CategoryFileChange,
		},
		{
			name:     "suspicious path is case-insensitive",
			event:    RawEvent{FilePath: `C:\USERS\ANA\DESKTOP\a.txt`, EventType: EventCreated, OccurredAt: base},
			severity: SeverityMedium,
			category: CategoryFileChange,
		},
		{
			name:     "ransomware extension",
			event:    RawEvent{FilePath: `C:\data\ledger.xlsx.locked`, EventType: EventCreated, OccurredAt: base},
			severity: SeverityHigh,
			category: CategoryRansomware,
		},
		{
			name:     "modified is high",
			event:    RawEvent{FilePath: `C:\data\notes.txt`, EventType: EventModified, OccurredAt: base},
			severity: SeverityHigh,
			category: CategoryFileChange,
		},
		{
			name:     "deleted is high",
			event:    RawEvent{FilePath: `C:\data\notes.txt`, EventType: EventDeleted, OccurredAt: base},
			severity: SeverityHigh,
			category: CategoryFileChange,
		},
		{
			name:     "ransom note",
			event:    RawEvent{FilePath: `C:\data\README_RANSOM.txt`, EventType: EventCreated, OccurredAt: base},
			severity: SeverityHigh,
			category: CategoryRansomNote,
		},
		{
			name:     "ransom note wins over extension category",
			event:    RawEvent{FilePath: `C:\data\readme-ransom.encrypted`, EventType: EventCreated, OccurredAt: base},
			severity: SeverityHigh,
			category: CategoryRansomNote,
		},
		{
			name:     "extension text inside a name is not an extension",
			event:    RawEvent{FilePath: `C:\data\notes.writeup.txt`, EventType: EventCreated, OccurredAt: base},
			severity: SeverityLow,
			category: CategoryFileChange,
		},
		{
			name:     "extension match is case-insensitive",
			event:    RawEvent{FilePath: `C:\data\ledger.XLSX.WNCRY`, EventType: EventCreated, OccurredAt: base},
			severity: SeverityHigh,
			category: CategoryRansomware,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Classify([]RawEvent{tt.event}, defaultRules())
			if len(result.Alerts) != 1 {
				t.Fatalf("Expected 1 alert, got %d", len(result.Alerts))
			}
			a := result.Alerts[0]
			if a.Severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, a.Severity)
			}
			if a.Category != tt.category {
				t.Errorf("Expected category %q, got %q", tt.category, a.Category)
			}
			if a.Identity != AlertIdentity(tt.event.OccurredAt, tt.event.FilePath) {
				t.Errorf("Identity does not match the event")
			}
		})
	}
}

func TestClassify_SeverityOnlyEscalates(t *testing.T) {
	events := []RawEvent{
		{FilePath: `C:\data\a.txt`, EventType: EventCreated, OccurredAt: base},
		{FilePath: `C:\Users\x\Documents\b.txt`, EventType: EventModified, OccurredAt: base},
		{FilePath: `C:\Users\x\Downloads\c.wncry`, EventType: EventCreated, OccurredAt: base},
		{FilePath: `C:\Windows\readme_ransom.hta`, EventType: EventDeleted, OccurredAt: base},
		{FilePath: `D:\backup\d.bak`, EventType: EventDeleted, OccurredAt: base},
	}

	bare := Classify(events, Rules{})
	full := Classify(events, defaultRules())

	rank := make(map[string]int)
	for _, a := range bare.Alerts {
		rank[a.Identity] = a.Severity.Rank()
	}
	for _, a := range full.Alerts {
		if a.Severity.Rank() < rank[a.Identity] {
			t.Errorf("%s: adding rules lowered severity to %s", a.FilePath, a.Severity)
		}
	}
}

func TestClassify_SkipsIncompleteEvents(t *testing.T) {
	events := []RawEvent{
		{FilePath: "", EventType: EventCreated, OccurredAt: base},
		{FilePath: "   ", EventType: EventCreated, OccurredAt: base},
		{FilePath: `C:\data\a.txt`, EventType: EventCreated},
		{FilePath: `C:\data\b.txt`, EventType: EventCreated, OccurredAt: base},
	}

	result := Classify(events, defaultRules())
	if result.Skipped != 3 {
		t.Errorf("Expected 3 skipped, got %d", result.Skipped)
	}
	if len(result.Alerts) != 1 {
		t.Errorf("Expected 1 alert, got %d", len(result.Alerts))
	}
}

func TestClassify_DeduplicatesByIdentity(t *testing.T) {
	events := []RawEvent{
		{FilePath: `C:\data\a.txt`, EventType: EventCreated, OccurredAt: base},
		{FilePath: `C:\data\a.txt`, EventType: EventModified, OccurredAt: base},
		{FilePath: `C:\data\a.txt`, EventType: EventCreated, OccurredAt: base},
		{FilePath: `C:\data\a.txt`, EventType: EventCreated, OccurredAt: base.Add(time.Second)},
	}

	result := Classify(events, defaultRules())
	if len(result.Alerts) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(result.Alerts))
	}
	first := result.Alerts[0]
	if first.Severity != SeverityHigh || first.EventType != EventModified {
		t.Errorf("Expected the duplicate to keep the modified/high record, got %s/%s", first.EventType, first.Severity)
	}
}

func TestClassify_HundredEvents(t *testing.T) {
	var events []RawEvent
	for i := 0; i < 100; i++ {
		ev := RawEvent{EventType: EventCreated, OccurredAt: base.Add(time.Duration(i) * time.Minute)}
		switch {
		case i < 3:
			ev.FilePath = fmt.Sprintf(`C:\Users\bob\Documents\report%d.docx`, i)
		case i < 5:
			ev.FilePath = fmt.Sprintf(`C:\data\old%d.txt`, i)
			ev.EventType = EventDeleted
		case i == 5:
			ev.FilePath = `C:\data\readme_ransom_note.txt`
		default:
			ev.FilePath = fmt.Sprintf(`C:\data\file%03d.txt`, i)
		}
		events = append(events, ev)
	}

	result := Classify(events, defaultRules())
	if len(result.Alerts) != 100 {
		t.Fatalf("Expected 100 alerts, got %d", len(result.Alerts))
	}

	counts := map[Severity]int{}
	notes := 0
	for _, a := range result.Alerts {
		counts[a.Severity]++
		if a.Category == CategoryRansomNote {
			notes++
		}
	}
	if counts[SeverityHigh] != 3 || counts[SeverityMedium] != 3 || counts[SeverityLow] != 94 {
		t.Errorf("Unexpected distribution: %v", counts)
	}
	if notes != 1 {
		t.Errorf("Expected 1 ransom note, got %d", notes)
	}
}

func TestSortAlerts(t *testing.T) {
	alerts := []Alert{
		{FilePath: "old-low", Severity: SeverityLow, OccurredAt: base},
		{FilePath: "old-high", Severity: SeverityHigh, OccurredAt: base},
		{FilePath: "new-low", Severity: SeverityLow, OccurredAt: base.Add(time.Hour)},
		{FilePath: "medium", Severity: SeverityMedium, OccurredAt: base},
		{FilePath: "new-high", Severity: SeverityHigh, OccurredAt: base.Add(time.Hour)},
	}
	SortAlerts(alerts)

	want := []string{"new-high", "old-high", "medium", "new-low", "old-low"}
	for i, w := range want {
		if alerts[i].FilePath != w {
			t.Errorf("position %d: expected %s, got %s", i, w, alerts[i].FilePath)
		}
	}
}

func TestAlertIdentity(t *testing.T) {
	id := AlertIdentity(base, `C:\data\a.txt`)
	if !IsValidIdentity(id) {
		t.Fatalf("Expected a valid identity, got %q", id)
	}
	if id != AlertIdentity(base, `C:\data\a.txt`) {
		t.Error("Expected identity to be deterministic")
	}
	if id != AlertIdentity(base.In(time.FixedZone("BRT", -3*3600)), `C:\data\a.txt`) {
		t.Error("Expected the same instant in another zone to share the identity")
	}
	if id == AlertIdentity(base, `C:\data\b.txt`) {
		t.Error("Expected different paths to differ")
	}
	if id == AlertIdentity(base.Add(time.Nanosecond), `C:\data\a.txt`) {
		t.Error("Expected different timestamps to differ")
	}
}

func TestIsValidIdentity(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"6f1c3a52-9d1e-4b8a-a3c4-5e0f2b7d9c11", true},
		{"", false},
		{"not-an-id", false},
		{"{6f1c3a52-9d1e-4b8a-a3c4-5e0f2b7d9c11}", false},
		{"urn:uuid:6f1c3a52-9d1e-4b8a-a3c4-5e0f2b7d9c11", false},
		{"6f1c3a529d1e4b8aa3c45e0f2b7d9c11", false},
	}
	for _, tt := range tests {
		if got := IsValidIdentity(tt.in); got != tt.want {
			t.Errorf("IsValidIdentity(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
