package service

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/adapter/metrics"
	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/ports"
)

// NotifyError records a subscriber that failed to apply a configuration change.
type NotifyError struct {
	Subscriber string
	Err        error
}

// ConfigHub is the single source of truth for the active credentials. Every
// Update is persisted, swapped in, then pushed to subscribers in the order
// they subscribed.
type ConfigHub struct {
	store  ports.CredentialStore
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	creds domain.Credentials

	// notifyMu serializes Update so subscribers see changes in order.
	notifyMu    sync.Mutex
	subMu       sync.Mutex
	subscribers []ports.ConfigSubscriber
	lastErrors  []NotifyError
}

func NewConfigHub(store ports.CredentialStore, initial domain.Credentials, logger *zap.Logger) *ConfigHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigHub{
		store:  store,
		logger: logger,
		now:    time.Now,
		creds:  initial.Normalize().Clone(),
	}
}

// LoadConfigHub reads the stored credentials and builds a hub around them.
func LoadConfigHub(store ports.CredentialStore, logger *zap.Logger) (*ConfigHub, error) {
	creds, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return NewConfigHub(store, creds, logger), nil
}

// Get returns a copy of the current credentials.
func (h *ConfigHub) Get() domain.Credentials {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.creds.Clone()
}

// Update validates, persists and publishes creds. Only a ConfigError or a
// persistence failure is returned; subscriber failures are recorded in
// LastNotifyErrors.
func (h *ConfigHub) Update(creds domain.Credentials) error {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()
	return h.apply(creds)
}

// Patch applies fn to the current credentials and publishes the result. The
// read and the write happen under the update lock, so concurrent edits are
// not lost.
func (h *ConfigHub) Patch(fn func(c *domain.Credentials)) error {
	_, err := h.mutate(func(c *domain.Credentials) bool {
		fn(c)
		return true
	})
	return err
}

// mutate edits the current credentials under the update lock. fn reports
// whether anything changed.
func (h *ConfigHub) mutate(fn func(c *domain.Credentials) bool) (bool, error) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	creds := h.Get()
	if !fn(&creds) {
		return false, nil
	}
	return true, h.apply(creds)
}

// apply runs with notifyMu held.
func (h *ConfigHub) apply(creds domain.Credentials) error {
	creds = creds.Normalize().Clone()
	if creds.Endpoint != "" {
		if _, err := domain.ParseEndpoint(creds.Endpoint); err != nil {
			return err
		}
	}

	creds.LastModified = h.now().UTC()
	if err := h.store.Save(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	h.mu.Lock()
	h.creds = creds
	h.mu.Unlock()

	h.logger.Info("configuration updated",
		zap.Bool("configured", creds.IsConfigured),
		zap.Int("suspicious_paths", len(creds.SuspiciousPaths)))

	h.notify(creds)
	return nil
}

func (h *ConfigHub) notify(creds domain.Credentials) {
	h.subMu.Lock()
	subs := slices.Clone(h.subscribers)
	h.subMu.Unlock()

	var failures []NotifyError
	for _, sub := range subs {
		if err := h.deliver(sub, creds.Clone()); err != nil {
			name := fmt.Sprintf("%T", sub)
			h.logger.Error("config subscriber failed", zap.String("subscriber", name), zap.Error(err))
			failures = append(failures, NotifyError{Subscriber: name, Err: err})
		}
	}

	h.subMu.Lock()
	h.lastErrors = failures
	h.subMu.Unlock()
}

func (h *ConfigHub) deliver(sub ports.ConfigSubscriber, creds domain.Credentials) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordConfigNotifyError("panic")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := sub.OnConfigChange(creds); err != nil {
		metrics.RecordConfigNotifyError("error")
		return err
	}
	return nil
}

// LastNotifyErrors returns the subscriber failures of the most recent Update.
func (h *ConfigHub) LastNotifyErrors() []NotifyError {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	return slices.Clone(h.lastErrors)
}

// Subscribe registers sub once; a second call with the same subscriber is
// ignored.
func (h *ConfigHub) Subscribe(sub ports.ConfigSubscriber) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	if slices.Contains(h.subscribers, sub) {
		return
	}
	h.subscribers = append(h.subscribers, sub)
}

func (h *ConfigHub) Unsubscribe(sub ports.ConfigSubscriber) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.subscribers = slices.DeleteFunc(h.subscribers, func(s ports.ConfigSubscriber) bool { return s == sub })
}

// AddSuspiciousPath appends path to the rule list. Adding an existing path
// changes nothing and returns false.
func (h *ConfigHub) AddSuspiciousPath(path string) (bool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return false, &domain.ConfigError{Field: "suspicious path", Err: fmt.Errorf("cannot be empty")}
	}
	return h.mutate(func(c *domain.Credentials) bool {
		if slices.Contains(c.SuspiciousPaths, path) {
			return false
		}
		c.SuspiciousPaths = append(c.SuspiciousPaths, path)
		return true
	})
}

// RemoveSuspiciousPath drops path from the rule list, returning false when
// it was not present.
func (h *ConfigHub) RemoveSuspiciousPath(path string) (bool, error) {
	path = strings.TrimSpace(path)
	return h.mutate(func(c *domain.Credentials) bool {
		if !slices.Contains(c.SuspiciousPaths, path) {
			return false
		}
		c.SuspiciousPaths = slices.DeleteFunc(c.SuspiciousPaths, func(p string) bool { return p == path })
		return true
	})
}

// ResetToDefaults clears the connection settings and restores default rules.
func (h *ConfigHub) ResetToDefaults() error {
	return h.Update(domain.DefaultCredentials())
}
