package service

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/adapter/metrics"
	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/ports"
)

const (
	notifyTimeout = 10 * time.Second
	queueSize     = 64
)

// Announcer forwards each alert at or above the minimum severity to the
// configured notifiers exactly once per identity. A single worker delivers
// batches in the order they were published.
type Announcer struct {
	notifiers   []ports.Notifier
	minSeverity domain.Severity
	seen        *lru.Cache[string, struct{}]
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan []domain.Alert
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewAnnouncer(notifiers []ports.Notifier, minSeverity domain.Severity, cacheSize int, logger *zap.Logger) (*Announcer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	seen, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Announcer{
		notifiers:   notifiers,
		minSeverity: minSeverity,
		seen:        seen,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan []domain.Alert, queueSize),
		done:        make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// OnAlertsChanged queues alerts not announced before. It never blocks; a
// full queue drops the batch.
func (a *Announcer) OnAlertsChanged(alerts []domain.Alert) {
	if len(a.notifiers) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	var fresh []domain.Alert
	for _, alert := range alerts {
		if alert.Severity.Rank() < a.minSeverity.Rank() {
			continue
		}
		if ok, _ := a.seen.ContainsOrAdd(alert.Identity, struct{}{}); ok {
			continue
		}
		fresh = append(fresh, alert)
	}
	if len(fresh) == 0 {
		return
	}

	select {
	case a.queue <- fresh:
	default:
		for _, alert := range fresh {
			a.seen.Remove(alert.Identity)
		}
		a.logger.Warn("notification queue full, dropping batch", zap.Int("alerts", len(fresh)))
	}
}

func (a *Announcer) run() {
	defer close(a.done)
	for batch := range a.queue {
		a.deliver(batch)
	}
}

func (a *Announcer) deliver(alerts []domain.Alert) {
	for _, alert := range alerts {
		for _, n := range a.notifiers {
			ctx, cancel := context.WithTimeout(a.ctx, notifyTimeout)
			err := n.NotifyAlert(ctx, alert)
			cancel()
			if err != nil {
				metrics.RecordNotification(n.Name(), "error")
				a.logger.Warn("alert notification failed",
					zap.String("notifier", n.Name()),
					zap.String("identity", alert.Identity),
					zap.Error(err))
				continue
			}
			metrics.RecordNotification(n.Name(), "sent")
		}
	}
}

// Close stops accepting alerts and waits for queued batches to be delivered.
func (a *Announcer) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	a.cancel()
}
