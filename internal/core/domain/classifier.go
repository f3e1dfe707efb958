package domain

import (
	"sort"
	"strings"
)

// Rules holds the rule lists the classifier evaluates.
type Rules struct {
	SuspiciousPaths      []string
	RansomwareExtensions []string
}

// ClassifyResult is the outcome of classifying one batch of raw events.
type ClassifyResult struct {
	Alerts  []Alert
	Skipped int
}

// Classify turns raw FIM events into alerts.
//
// Rules are evaluated in a fixed order and may only escalate severity:
// baseline low, suspicious path -> medium, ransomware extension -> high,
// modified/deleted -> high, ransom note name -> high with its own category.
// Events without a path or timestamp are skipped and counted. Events sharing
// an identity collapse into one alert keeping the highest severity.
func Classify(events []RawEvent, rules Rules) ClassifyResult {
	paths := lowerAll(rules.SuspiciousPaths)
	exts := lowerAll(rules.RansomwareExtensions)

	result := ClassifyResult{}
	index := make(map[string]int, len(events))

	for _, ev := range events {
		if strings.TrimSpace(ev.FilePath) == "" || ev.OccurredAt.IsZero() {
			result.Skipped++
			continue
		}

		alert := Alert{
			Identity:   AlertIdentity(ev.OccurredAt, ev.FilePath),
			Severity:   SeverityLow,
			Category:   CategoryFileChange,
			FilePath:   ev.FilePath,
			EventType:  ev.EventType,
			OccurredAt: ev.OccurredAt,
		}
		evaluate(&alert, paths, exts)

		if i, ok := index[alert.Identity]; ok {
			if alert.Severity.Rank() > result.Alerts[i].Severity.Rank() {
				result.Alerts[i] = alert
			}
			continue
		}
		index[alert.Identity] = len(result.Alerts)
		result.Alerts = append(result.Alerts, alert)
	}

	SortAlerts(result.Alerts)
	return result
}

func evaluate(alert *Alert, paths, exts []string) {
	lowerPath := strings.ToLower(alert.FilePath)

	for _, p := range paths {
		if p != "" && strings.Contains(lowerPath, p) {
			escalate(alert, SeverityMedium)
			break
		}
	}

	for _, ext := range exts {
		if ext != "" && strings.HasSuffix(lowerPath, ext) {
			escalate(alert, SeverityHigh)
			alert.Category = CategoryRansomware
			break
		}
	}

	if alert.EventType == EventModified || alert.EventType == EventDeleted {
		escalate(alert, SeverityHigh)
	}

	if strings.Contains(lowerPath, "readme") && strings.Contains(lowerPath, "ransom") {
		escalate(alert, SeverityHigh)
		alert.Category = CategoryRansomNote
	}
}

func escalate(alert *Alert, to Severity) {
	if to.Rank() > alert.Severity.Rank() {
		alert.Severity = to
	}
}

// SortAlerts orders alerts by severity (high first), then newest first.
func SortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return alerts[i].OccurredAt.After(alerts[j].OccurredAt)
	})
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
