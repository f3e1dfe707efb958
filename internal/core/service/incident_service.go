package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/ports"
)

// IncidentService caches the incident history read from the workflow
// service. Sync replaces the cache; List filters it.
type IncidentService struct {
	provider ports.IncidentProvider
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	workflow  domain.WorkflowSettings
	incidents []domain.Incident
	syncedAt  time.Time
	lastErr   error
	epoch     uint64
}

func NewIncidentService(provider ports.IncidentProvider, workflow domain.WorkflowSettings, logger *zap.Logger) *IncidentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IncidentService{
		provider: provider,
		logger:   logger,
		now:      time.Now,
		workflow: workflow,
	}
}

// Sync fetches the full history. On failure the previous cache is kept. A
// fetch that straddles a workflow change is discarded with ErrStaleSession.
func (s *IncidentService) Sync(ctx context.Context) error {
	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()

	incidents, err := s.provider.FetchIncidents(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		s.logger.Debug("dropping incidents fetched for previous workflow")
		return domain.ErrStaleSession
	}
	s.lastErr = err
	if err != nil {
		s.logger.Warn("incident sync failed", zap.String("kind", domain.ErrorKind(err)), zap.Error(err))
		return err
	}
	s.incidents = incidents
	s.syncedAt = s.now()
	s.logger.Debug("incidents synced", zap.Int("count", len(incidents)))
	return nil
}

// List returns the cached incidents matching f.
func (s *IncidentService) List(f domain.IncidentFilter) []domain.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.FilterIncidents(s.incidents, f)
}

// SyncedAt returns the time of the last successful sync and the error of
// the last attempt.
func (s *IncidentService) SyncedAt() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncedAt, s.lastErr
}

// OnConfigChange drops the cache when the workflow settings change.
func (s *IncidentService) OnConfigChange(creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if creds.Workflow == s.workflow {
		return nil
	}
	s.workflow = creds.Workflow
	s.epoch++
	s.incidents = nil
	s.syncedAt = time.Time{}
	s.lastErr = nil
	s.provider.Reset(creds.Workflow)
	return nil
}
