package service

import (
	"context"
	"errors"
	"sync"

	"github.com/hive-corporation/guardian/internal/core/domain"
)

type memoryStore struct {
	mu      sync.Mutex
	saved   []domain.Credentials
	failErr error
}

func (m *memoryStore) Load() (domain.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return domain.DefaultCredentials(), nil
	}
	return m.saved[len(m.saved)-1], nil
}

func (m *memoryStore) Save(c domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.saved = append(m.saved, c)
	return nil
}

func (m *memoryStore) saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

type fakeSource struct {
	mu     sync.Mutex
	events []domain.RawEvent
	err    error
	calls  int
	during func()
}

func (f *fakeSource) FetchEvents(ctx context.Context) ([]domain.RawEvent, int, error) {
	f.mu.Lock()
	events, err, during := f.events, f.err, f.during
	f.calls++
	f.mu.Unlock()

	if during != nil {
		during()
	}
	return append([]domain.RawEvent(nil), events...), 0, err
}

func (f *fakeSource) set(events []domain.RawEvent, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events, f.err = events, err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type staticCreds struct {
	creds domain.Credentials
}

func (s staticCreds) Get() domain.Credentials { return s.creds.Clone() }

type recordingObserver struct {
	mu    sync.Mutex
	lists [][]domain.Alert
}

func (r *recordingObserver) OnAlertsChanged(alerts []domain.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = append(r.lists, alerts)
}

func (r *recordingObserver) last() []domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lists) == 0 {
		return nil
	}
	return r.lists[len(r.lists)-1]
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lists)
}

type panickingObserver struct{}

func (panickingObserver) OnAlertsChanged([]domain.Alert) { panic("observer exploded") }

// recordingSubscriber appends its name to a shared log on every change.
type recordingSubscriber struct {
	name string
	log  *[]string
	mu   *sync.Mutex
	err  error
	seen []domain.Credentials
}

func (r *recordingSubscriber) OnConfigChange(c domain.Credentials) error {
	r.mu.Lock()
	*r.log = append(*r.log, r.name)
	r.mu.Unlock()
	r.seen = append(r.seen, c)
	return r.err
}

type panickingSubscriber struct{ id int }

func (*panickingSubscriber) OnConfigChange(domain.Credentials) error { panic("subscriber exploded") }

type fakeChecker struct {
	mu     sync.Mutex
	health domain.ServiceHealth
	err    error
	calls  int
}

func (f *fakeChecker) ManagerStatus(context.Context) (domain.ServiceHealth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.health, f.err
}

var errBoom = errors.New("boom")

func allRunning() domain.ServiceHealth {
	h := domain.ServiceHealth{}
	for _, svc := range domain.CriticalServices {
		h[svc] = "running"
	}
	return h
}
