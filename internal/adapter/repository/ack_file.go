package repository

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/adapter/metrics"
	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/ports"
)

// maxLineLen bounds one line of the file. Longer lines cannot hold an
// identity and are skipped as corrupt.
const maxLineLen = 4096

// AckFile is the durable set of acknowledged alert identities, stored as
// one identity per line. The set only grows and the file is only appended
// to, so several processes may share it.
type AckFile struct {
	path   string
	logger *zap.Logger

	mu  sync.RWMutex
	set map[string]struct{}

	// writeMu serializes appends and observer notification.
	writeMu   sync.Mutex
	observers []ports.AckObserver
	pending   []string

	corrupt int
}

func NewAckFile(path string, logger *zap.Logger) *AckFile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AckFile{
		path:   path,
		logger: logger,
		set:    make(map[string]struct{}),
	}
}

// LoadFromDisk merges the file into the in-memory set. A missing file is an
// empty set; lines that are not identities are skipped.
func (a *AckFile) LoadFromDisk() error {
	f, err := os.Open(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.path, err)
	}
	defer f.Close()

	ids, corrupt, err := readIdentities(bufio.NewReaderSize(f, maxLineLen))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", a.path, err)
	}

	a.mu.Lock()
	for _, id := range ids {
		a.set[id] = struct{}{}
	}
	a.corrupt = corrupt
	total := len(a.set)
	a.mu.Unlock()

	if corrupt > 0 {
		a.logger.Warn("skipped corrupt acknowledgment lines", zap.String("path", a.path), zap.Int("lines", corrupt))
	}
	a.logger.Info("loaded acknowledgments", zap.Int("count", total))
	return nil
}

func readIdentities(r *bufio.Reader) (ids []string, corrupt int, err error) {
	for {
		line, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			corrupt++
			if err := discardLine(r); err == io.EOF {
				return ids, corrupt, nil
			} else if err != nil {
				return ids, corrupt, err
			}
			continue
		}
		if err != nil && err != io.EOF {
			return ids, corrupt, err
		}

		if id := strings.TrimSpace(string(line)); id != "" {
			if domain.IsValidIdentity(id) {
				ids = append(ids, strings.ToLower(id))
			} else {
				corrupt++
			}
		}
		if err == io.EOF {
			return ids, corrupt, nil
		}
	}
}

// discardLine consumes the rest of an oversized line.
func discardLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// CorruptLines reports how many lines the last load skipped.
func (a *AckFile) CorruptLines() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.corrupt
}

func (a *AckFile) IsAcknowledged(identity string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.set[strings.ToLower(identity)]
	return ok
}

func (a *AckFile) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.set)
}

// Acknowledge adds identity to the set and appends it to the file. A repeat
// is a no-op. If the append fails the identity stays acknowledged in memory,
// observers are still told, and a *domain.PersistenceError is returned; the
// next FlushToDisk retries the append.
func (a *AckFile) Acknowledge(identity string) error {
	if !domain.IsValidIdentity(identity) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidIdentity, identity)
	}
	identity = strings.ToLower(identity)

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if _, ok := a.set[identity]; ok {
		a.mu.Unlock()
		metrics.RecordAcknowledgment("duplicate")
		return nil
	}
	a.set[identity] = struct{}{}
	a.mu.Unlock()

	var persistErr error
	if err := a.appendLine(identity); err != nil {
		a.logger.Error("failed to persist acknowledgment", zap.String("identity", identity), zap.Error(err))
		metrics.RecordAcknowledgment("persist_failed")
		a.pending = append(a.pending, identity)
		persistErr = &domain.PersistenceError{Identity: identity, Err: err}
	} else {
		metrics.RecordAcknowledgment("new")
	}

	a.notify(identity)
	return persistErr
}

func (a *AckFile) appendLine(identity string) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(identity + "\n"); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Pending reports how many acknowledgments are held only in memory.
func (a *AckFile) Pending() int {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return len(a.pending)
}

// FlushToDisk retries the appends that failed earlier. Lines written by
// other processes are never touched.
func (a *AckFile) FlushToDisk() error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	var errs []error
	var still []string
	for _, id := range a.pending {
		if err := a.appendLine(id); err != nil {
			still = append(still, id)
			errs = append(errs, &domain.PersistenceError{Identity: id, Err: err})
			continue
		}
		metrics.RecordAcknowledgment("new")
	}
	if flushed := len(a.pending) - len(still); flushed > 0 {
		a.logger.Info("flushed pending acknowledgments", zap.Int("count", flushed))
	}
	a.pending = still
	return errors.Join(errs...)
}

// Subscribe registers obs once; repeated calls with the same observer are
// ignored.
func (a *AckFile) Subscribe(obs ports.AckObserver) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if slices.Contains(a.observers, obs) {
		return
	}
	a.observers = append(a.observers, obs)
}

func (a *AckFile) Unsubscribe(obs ports.AckObserver) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.observers = slices.DeleteFunc(a.observers, func(o ports.AckObserver) bool { return o == obs })
}

// notify runs with writeMu held.
func (a *AckFile) notify(identity string) {
	for _, obs := range a.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("acknowledgment observer panicked", zap.Any("panic", r))
				}
			}()
			obs.OnAcknowledged(identity)
		}()
	}
}
