package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/ports"
)

// AlertLister returns the current, already filtered alerts.
type AlertLister interface {
	Alerts() []domain.Alert
}

// DashboardService combines the live alert list with manager health. Health
// results are reused for healthTTL so several views can refresh together.
type DashboardService struct {
	alerts    AlertLister
	checker   ports.HealthChecker
	healthTTL time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	health    domain.ServiceHealth
	healthErr error
	checkedAt time.Time
	// gen changes on every configuration change; a health check started under an
	// older gen does not fill the cache.
	gen uint64
}

func NewDashboardService(alerts AlertLister, checker ports.HealthChecker, healthTTL time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		alerts:    alerts,
		checker:   checker,
		healthTTL: healthTTL,
		logger:    logger,
		now:       time.Now,
	}
}

func (d *DashboardService) Summary(ctx context.Context) domain.Summary {
	health, err := d.Health(ctx)
	return domain.Summarize(d.alerts.Alerts(), health, err, d.now())
}

// Health returns the manager service states, probing when the cached
// result is older than the TTL.
func (d *DashboardService) Health(ctx context.Context) (domain.ServiceHealth, error) {
	d.mu.Lock()
	if !d.checkedAt.IsZero() && d.now().Sub(d.checkedAt) < d.healthTTL {
		health, err := d.health, d.healthErr
		d.mu.Unlock()
		return health, err
	}
	gen := d.gen
	d.mu.Unlock()

	health, err := d.checker.ManagerStatus(ctx)
	if err != nil {
		d.logger.Debug("health check failed", zap.String("kind", domain.ErrorKind(err)), zap.Error(err))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen {
		d.logger.Debug("dropping health result from previous configuration")
		return health, err
	}
	d.health, d.healthErr, d.checkedAt = health, err, d.now()
	return health, err
}

// OnConfigChange forgets the cached health of the previous endpoint.
func (d *DashboardService) OnConfigChange(domain.Credentials) error {
	d.mu.Lock()
	d.health, d.healthErr, d.checkedAt = nil, nil, time.Time{}
	d.gen++
	d.mu.Unlock()
	return nil
}
