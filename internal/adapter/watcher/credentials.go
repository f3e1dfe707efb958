package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/core/domain"
)

// Loader reads the credentials document from disk.
type Loader interface {
	Path() string
	Load() (domain.Credentials, error)
}

// Updater is the configuration hub.
type Updater interface {
	Get() domain.Credentials
	Update(creds domain.Credentials) error
}

// CredentialsWatcher applies edits made to the credentials file by other
// processes. Writes are debounced; a document equal to the active settings
// is ignored, so the hub's own saves do not loop.
type CredentialsWatcher struct {
	loader   Loader
	hub      Updater
	debounce time.Duration
	logger   *zap.Logger
}

func NewCredentialsWatcher(loader Loader, hub Updater, debounce time.Duration, logger *zap.Logger) *CredentialsWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &CredentialsWatcher{loader: loader, hub: hub, debounce: debounce, logger: logger}
}

// Run watches until ctx is done. The directory is watched rather than the
// file because saves replace it by rename.
func (w *CredentialsWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	path := filepath.Clean(w.loader.Path())
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	w.logger.Info("watching credentials file", zap.String("path", path))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("credentials watcher error", zap.Error(err))

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *CredentialsWatcher) reload() {
	creds, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("ignoring unreadable credentials file", zap.Error(err))
		return
	}
	if creds.Normalize().SameSettings(w.hub.Get()) {
		return
	}
	if err := w.hub.Update(creds); err != nil {
		w.logger.Error("failed to apply edited credentials", zap.Error(err))
		return
	}
	w.logger.Info("credentials reloaded from disk")
}
