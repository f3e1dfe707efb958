package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricsOnce ensures metrics are registered only once
	metricsOnce sync.Once

	// pollCyclesTotal tracks poll cycles by outcome
	pollCyclesTotal *prometheus.CounterVec

	// pollDuration tracks latency of a full fetch-classify-publish cycle
	pollDuration prometheus.Histogram

	// authAttemptsTotal tracks authentication calls by outcome
	authAttemptsTotal *prometheus.CounterVec

	// alertsClassifiedTotal tracks classified alerts by severity
	alertsClassifiedTotal *prometheus.CounterVec

	// eventsSkippedTotal tracks malformed events dropped by reason
	eventsSkippedTotal *prometheus.CounterVec

	// acknowledgmentsTotal tracks acknowledge calls by outcome
	acknowledgmentsTotal *prometheus.CounterVec

	// configNotifyErrorsTotal tracks subscribers that failed a config change
	configNotifyErrorsTotal *prometheus.CounterVec

	// breakerTransitionsTotal tracks circuit breaker state changes
	breakerTransitionsTotal *prometheus.CounterVec

	// activeThreats is the number of unacknowledged high-severity alerts
	activeThreats prometheus.Gauge

	// notificationsTotal tracks outbound alert notifications by notifier and status
	notificationsTotal *prometheus.CounterVec
)

// InitMetrics registers all Prometheus metrics for the console.
// This should be called once at application startup
func InitMetrics() {
	metricsOnce.Do(func() {
		pollCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_poll_cycles_total",
				Help: "Total number of poll cycles by outcome",
			},
			[]string{"outcome"},
		)

		pollDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "guardian_poll_duration_seconds",
				Help:    "Duration of poll cycles in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
		)

		authAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_auth_attempts_total",
				Help: "Total number of authentication attempts by outcome",
			},
			[]string{"outcome"},
		)

		alertsClassifiedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_alerts_classified_total",
				Help: "Total number of classified alerts by severity",
			},
			[]string{"severity"},
		)

		eventsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_events_skipped_total",
				Help: "Total number of malformed events skipped by stage",
			},
			[]string{"stage"},
		)

		acknowledgmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_acknowledgments_total",
				Help: "Total number of acknowledge calls by outcome",
			},
			[]string{"outcome"},
		)

		configNotifyErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_config_notify_errors_total",
				Help: "Total number of configuration subscribers that failed by kind",
			},
			[]string{"kind"},
		)

		breakerTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_breaker_transitions_total",
				Help: "Total number of circuit breaker state changes",
			},
			[]string{"name", "to"},
		)

		activeThreats = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "guardian_active_threats",
				Help: "Number of unacknowledged high-severity alerts",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_notifications_total",
				Help: "Total number of alert notifications by notifier and status",
			},
			[]string{"notifier", "status"},
		)
	})
}

// RecordPollCycle records a finished poll cycle.
// outcome: "success", "stale", "auth", "transient", "remote", "not_configured", ...
func RecordPollCycle(outcome string, duration time.Duration) {
	if pollCyclesTotal != nil {
		pollCyclesTotal.WithLabelValues(outcome).Inc()
	}
	if pollDuration != nil {
		pollDuration.Observe(duration.Seconds())
	}
}

// RecordAuthAttempt records an authentication call: "success", "rejected", "error"
func RecordAuthAttempt(outcome string) {
	if authAttemptsTotal != nil {
		authAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

func RecordClassified(severity string, n int) {
	if alertsClassifiedTotal != nil && n > 0 {
		alertsClassifiedTotal.WithLabelValues(severity).Add(float64(n))
	}
}

// RecordSkipped records events dropped at stage "decode" or "classify".
func RecordSkipped(stage string, n int) {
	if eventsSkippedTotal != nil && n > 0 {
		eventsSkippedTotal.WithLabelValues(stage).Add(float64(n))
	}
}

// RecordAcknowledgment records an acknowledge call: "new", "duplicate", "persist_failed"
func RecordAcknowledgment(outcome string) {
	if acknowledgmentsTotal != nil {
		acknowledgmentsTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordConfigNotifyError records a subscriber failure: "error" or "panic"
func RecordConfigNotifyError(kind string) {
	if configNotifyErrorsTotal != nil {
		configNotifyErrorsTotal.WithLabelValues(kind).Inc()
	}
}

func RecordBreakerTransition(name, to string) {
	if breakerTransitionsTotal != nil {
		breakerTransitionsTotal.WithLabelValues(name, to).Inc()
	}
}

func SetActiveThreats(n int) {
	if activeThreats != nil {
		activeThreats.Set(float64(n))
	}
}

func RecordNotification(notifier, status string) {
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(notifier, status).Inc()
	}
}

// Timer is a helper for timing poll cycles
type Timer struct {
	start time.Time
}

// StartTimer creates a new timer
func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started
func (t *Timer) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.start)
}
