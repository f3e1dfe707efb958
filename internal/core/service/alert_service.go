package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/adapter/metrics"
	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/ports"
)

// CredentialsReader is the read side of the configuration hub.
type CredentialsReader interface {
	Get() domain.Credentials
}

// PollStatus describes the outcome of the most recent poll cycle.
type PollStatus struct {
	LastPolledAt time.Time `json:"last_polled_at"`
	LastError    string    `json:"last_error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Skipped      int       `json:"skipped"`
	Epoch        uint64    `json:"epoch"`
}

// AlertService owns the classified alert snapshot. The acknowledged filter
// is applied on every read and every publish, never cached.
type AlertService struct {
	source  ports.EventSource
	acks    ports.AckStore
	config  CredentialsReader
	archive ports.AlertArchive
	logger  *zap.Logger
	now     func() time.Time
	poller  *Poller

	mu        sync.RWMutex
	snapshot  []domain.Alert
	epoch     uint64
	lastPoll  time.Time
	lastError error
	skipped   int

	// pubMu keeps observer deliveries in publish order.
	pubMu     sync.Mutex
	obsMu     sync.Mutex
	observers []ports.AlertsObserver
}

// AlertServiceOption configures an AlertService.
type AlertServiceOption func(*AlertService)

// WithArchive stores every classified batch in archive.
func WithArchive(archive ports.AlertArchive) AlertServiceOption {
	return func(s *AlertService) { s.archive = archive }
}

func NewAlertService(source ports.EventSource, acks ports.AckStore, config CredentialsReader, interval time.Duration, logger *zap.Logger, opts ...AlertServiceOption) *AlertService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AlertService{
		source: source,
		acks:   acks,
		config: config,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.poller = NewPoller(interval, func(ctx context.Context) { _ = s.poll(ctx) }, logger)
	return s
}

// Start subscribes to acknowledgments and begins polling.
func (s *AlertService) Start(ctx context.Context) {
	s.acks.Subscribe(s)
	s.poller.Start(ctx)
}

// Stop halts polling and drops the acknowledgment subscription.
func (s *AlertService) Stop() {
	s.poller.Stop()
	s.acks.Unsubscribe(s)
}

// Alerts returns the current snapshot minus acknowledged alerts, sorted by
// severity and recency.
func (s *AlertService) Alerts() []domain.Alert {
	s.mu.RLock()
	snapshot := s.snapshot
	s.mu.RUnlock()

	out := make([]domain.Alert, 0, len(snapshot))
	for _, a := range snapshot {
		if !s.acks.IsAcknowledged(a.Identity) {
			out = append(out, a)
		}
	}
	return out
}

// Find returns the alert with identity from the unfiltered snapshot.
func (s *AlertService) Find(identity string) (domain.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.snapshot, func(a domain.Alert) bool { return a.Identity == identity })
	if i < 0 {
		return domain.Alert{}, false
	}
	return s.snapshot[i], true
}

func (s *AlertService) Status() PollStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := PollStatus{LastPolledAt: s.lastPoll, Skipped: s.skipped, Epoch: s.epoch}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
		st.ErrorKind = domain.ErrorKind(s.lastError)
	}
	return st
}

// Acknowledge marks identity as handled. Observers are told through the
// acknowledgment store's callback.
func (s *AlertService) Acknowledge(identity string) error {
	return s.acks.Acknowledge(identity)
}

// Refresh runs one poll cycle synchronously and reports its error.
func (s *AlertService) Refresh(ctx context.Context) error {
	return s.poll(ctx)
}

// Subscribe registers obs for alert-list changes; repeated calls are ignored.
func (s *AlertService) Subscribe(obs ports.AlertsObserver) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	if !slices.Contains(s.observers, obs) {
		s.observers = append(s.observers, obs)
	}
}

func (s *AlertService) Unsubscribe(obs ports.AlertsObserver) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = slices.DeleteFunc(s.observers, func(o ports.AlertsObserver) bool { return o == obs })
}

// OnAcknowledged republishes so views drop the alert at once.
func (s *AlertService) OnAcknowledged(string) {
	s.publish()
}

// OnConfigChange invalidates the snapshot and restarts polling against the
// new settings. Cycles still running under the old epoch are discarded.
func (s *AlertService) OnConfigChange(domain.Credentials) error {
	s.mu.Lock()
	s.epoch++
	s.snapshot = nil
	s.lastError = nil
	s.skipped = 0
	s.mu.Unlock()

	s.publish()
	if s.poller.Running() {
		s.poller.Restart()
	}
	return nil
}

func (s *AlertService) poll(ctx context.Context) error {
	timer := metrics.StartTimer()

	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()

	rules := s.config.Get().Rules()
	events, decodeSkipped, err := s.source.FetchEvents(ctx)

	s.mu.Lock()
	if s.epoch != epoch || errors.Is(err, domain.ErrStaleSession) || (err != nil && ctx.Err() != nil) {
		s.mu.Unlock()
		metrics.RecordPollCycle("stale", timer.Elapsed())
		s.logger.Debug("discarding stale poll result")
		return domain.ErrStaleSession
	}
	if err != nil {
		s.lastError = err
		s.lastPoll = s.now()
		s.mu.Unlock()
		metrics.RecordPollCycle(domain.ErrorKind(err), timer.Elapsed())
		if errors.Is(err, domain.ErrNotConfigured) {
			s.logger.Debug("poll skipped", zap.Error(err))
		} else {
			s.logger.Warn("poll failed", zap.String("kind", domain.ErrorKind(err)), zap.Error(err))
		}
		return err
	}

	result := domain.Classify(events, rules)
	s.snapshot = result.Alerts
	s.lastError = nil
	s.lastPoll = s.now()
	s.skipped = decodeSkipped + result.Skipped
	s.mu.Unlock()

	metrics.RecordSkipped("decode", decodeSkipped)
	metrics.RecordSkipped("classify", result.Skipped)
	recordSeverities(result.Alerts)
	metrics.RecordPollCycle("success", timer.Elapsed())

	s.logger.Debug("poll completed",
		zap.Int("events", len(events)),
		zap.Int("alerts", len(result.Alerts)),
		zap.Int("skipped", decodeSkipped+result.Skipped))

	s.archiveBatch(ctx, result.Alerts)
	s.publish()
	return nil
}

func (s *AlertService) archiveBatch(ctx context.Context, alerts []domain.Alert) {
	if s.archive == nil || len(alerts) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.archive.SaveBatch(ctx, alerts); err != nil {
		s.logger.Warn("failed to archive alerts", zap.Error(err))
	}
}

// publish filters through the acknowledgment store and hands each observer
// its own copy.
func (s *AlertService) publish() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	alerts := s.Alerts()

	active := 0
	for _, a := range alerts {
		if a.Severity == domain.SeverityHigh {
			active++
		}
	}
	metrics.SetActiveThreats(active)

	s.obsMu.Lock()
	observers := slices.Clone(s.observers)
	s.obsMu.Unlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("alerts observer panicked", zap.Any("panic", r))
				}
			}()
			obs.OnAlertsChanged(slices.Clone(alerts))
		}()
	}
}

func recordSeverities(alerts []domain.Alert) {
	counts := map[domain.Severity]int{}
	for _, a := range alerts {
		counts[a.Severity]++
	}
	for sev, n := range counts {
		metrics.RecordClassified(string(sev), n)
	}
}
