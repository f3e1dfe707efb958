package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/guardian/internal/adapter/repository"
	"github.com/hive-corporation/guardian/internal/core/domain"
)

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// hundredEvents builds a batch where events 0-2 hit a suspicious path,
// 3-4 are deletions and 5 is a ransom note. The rest are plain creations.
func hundredEvents() []domain.RawEvent {
	events := make([]domain.RawEvent, 0, 100)
	for i := 0; i < 100; i++ {
		ev := domain.RawEvent{
			FilePath:   fmt.Sprintf(`C:\data\file%03d.txt`, i),
			EventType:  domain.EventCreated,
			OccurredAt: baseTime.Add(time.Duration(i) * time.Minute),
		}
		switch {
		case i < 3:
			ev.FilePath = fmt.Sprintf(`C:\Users\bob\Documents\report%d.docx`, i)
		case i < 5:
			ev.EventType = domain.EventDeleted
		case i == 5:
			ev.FilePath = `C:\data\readme_ransom_note.txt`
		}
		events = append(events, ev)
	}
	return events
}

func newAckFile(t *testing.T, path string) *repository.AckFile {
	t.Helper()
	acks := repository.NewAckFile(path, nil)
	require.NoError(t, acks.LoadFromDisk())
	return acks
}

func newTestAlertService(t *testing.T, source *fakeSource, ackPath string) *AlertService {
	t.Helper()
	return NewAlertService(source, newAckFile(t, ackPath), staticCreds{creds: configured()}, time.Hour, nil)
}

func countBy(alerts []domain.Alert) map[domain.Severity]int {
	out := map[domain.Severity]int{}
	for _, a := range alerts {
		out[a.Severity]++
	}
	return out
}

func TestAlertService_HundredEventScenario(t *testing.T) {
	source := &fakeSource{events: hundredEvents()}
	svc := newTestAlertService(t, source, filepath.Join(t.TempDir(), "acks.txt"))

	require.NoError(t, svc.Refresh(context.Background()))

	alerts := svc.Alerts()
	require.Len(t, alerts, 100)

	notes := 0
	for _, a := range alerts {
		if a.Category == domain.CategoryRansomNote {
			notes++
			assert.Equal(t, domain.SeverityHigh, a.Severity)
		}
	}
	assert.Equal(t, 1, notes)

	counts := countBy(alerts)
	assert.Equal(t, 3, counts[domain.SeverityHigh])
	assert.Equal(t, 3, counts[domain.SeverityMedium])
	assert.Equal(t, 94, counts[domain.SeverityLow])

	// High first, newest first within a severity.
	assert.Equal(t, domain.CategoryRansomNote, alerts[0].Category)
	assert.Equal(t, domain.SeverityLow, alerts[len(alerts)-1].Severity)
}

func TestAlertService_AcknowledgeSurvivesRestart(t *testing.T) {
	ackPath := filepath.Join(t.TempDir(), "acknowledged_alerts.txt")
	source := &fakeSource{events: hundredEvents()}

	svc := newTestAlertService(t, source, ackPath)
	require.NoError(t, svc.Refresh(context.Background()))
	target := svc.Alerts()[0]
	require.NoError(t, svc.Acknowledge(target.Identity))

	for _, a := range svc.Alerts() {
		require.NotEqual(t, target.Identity, a.Identity)
	}

	// A fresh process reloads the store from disk and polls the same batch.
	restarted := newTestAlertService(t, source, ackPath)
	require.NoError(t, restarted.Refresh(context.Background()))

	alerts := restarted.Alerts()
	assert.Len(t, alerts, 99)
	for _, a := range alerts {
		assert.NotEqual(t, target.Identity, a.Identity)
	}
	_, found := restarted.Find(target.Identity)
	assert.True(t, found, "acknowledged alerts stay in the unfiltered snapshot")
}

func TestAlertService_FailedCycleKeepsSnapshot(t *testing.T) {
	source := &fakeSource{events: hundredEvents()}
	svc := newTestAlertService(t, source, filepath.Join(t.TempDir(), "acks.txt"))
	require.NoError(t, svc.Refresh(context.Background()))

	source.set(nil, &domain.TransientError{Op: "syscheck", Err: context.DeadlineExceeded})
	err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	assert.Len(t, svc.Alerts(), 100)
	st := svc.Status()
	assert.Equal(t, "transient", st.ErrorKind)
	assert.NotEmpty(t, st.LastError)

	source.set(hundredEvents()[:10], nil)
	require.NoError(t, svc.Refresh(context.Background()))
	assert.Len(t, svc.Alerts(), 10)
	assert.Empty(t, svc.Status().ErrorKind)
}

func TestAlertService_ConfigChangeDiscardsInFlightResult(t *testing.T) {
	source := &fakeSource{events: hundredEvents()}
	svc := newTestAlertService(t, source, filepath.Join(t.TempDir(), "acks.txt"))

	obs := &recordingObserver{}
	svc.Subscribe(obs)

	source.during = func() {
		_ = svc.OnConfigChange(configured())
	}

	err := svc.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrStaleSession)
	assert.Empty(t, svc.Alerts())
	assert.Equal(t, uint64(1), svc.Status().Epoch)

	// The config change itself publishes the cleared list; the stale cycle
	// publishes nothing.
	assert.Equal(t, 1, obs.count())
	assert.Empty(t, obs.last())
}

func TestAlertService_PublishesFilteredCopies(t *testing.T) {
	ackPath := filepath.Join(t.TempDir(), "acks.txt")
	source := &fakeSource{events: hundredEvents()[:4]}
	acks := newAckFile(t, ackPath)
	svc := NewAlertService(source, acks, staticCreds{creds: configured()}, time.Hour, nil)

	obs := &recordingObserver{}
	svc.Subscribe(obs)
	svc.Subscribe(obs)
	svc.Subscribe(panickingObserver{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	waitFor(t, func() bool { return len(obs.last()) == 4 }, "first publish")
	first := obs.count()

	published := obs.last()
	published[0].FilePath = "tampered"
	assert.NotEqual(t, "tampered", svc.Alerts()[0].FilePath)

	require.NoError(t, svc.Acknowledge(svc.Alerts()[0].Identity))
	waitFor(t, func() bool { return len(obs.last()) == 3 }, "publish after acknowledge")
	assert.Equal(t, first+1, obs.count())
}

func TestAlertService_NotConfiguredIsRecorded(t *testing.T) {
	source := &fakeSource{err: domain.ErrNotConfigured}
	svc := newTestAlertService(t, source, filepath.Join(t.TempDir(), "acks.txt"))

	err := svc.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
	assert.Equal(t, "not_configured", svc.Status().ErrorKind)
	assert.Empty(t, svc.Alerts())
}

func TestAlertService_ConfigChangeRestartsRunningPoller(t *testing.T) {
	source := &fakeSource{events: hundredEvents()[:2]}
	svc := newTestAlertService(t, source, filepath.Join(t.TempDir(), "acks.txt"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	waitFor(t, func() bool { return source.callCount() == 1 }, "first poll")
	require.NoError(t, svc.OnConfigChange(configured()))
	waitFor(t, func() bool { return source.callCount() == 2 }, "poll after config change")
	waitFor(t, func() bool { return len(svc.Alerts()) == 2 }, "alerts repopulated")
}
