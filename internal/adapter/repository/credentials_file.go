package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/hive-corporation/guardian/internal/core/domain"
)

// CredentialsFile stores the credentials document as indented JSON.
type CredentialsFile struct {
	path string
	mu   sync.Mutex
}

func NewCredentialsFile(path string) *CredentialsFile {
	return &CredentialsFile{path: path}
}

func (c *CredentialsFile) Path() string { return c.path }

// Load returns the stored credentials, or defaults when the file is missing.
// Rule lists absent from the file fall back to the defaults.
func (c *CredentialsFile) Load() (domain.Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.DefaultCredentials(), nil
	}
	if err != nil {
		return domain.Credentials{}, &domain.PersistenceError{Err: fmt.Errorf("failed to read %s: %w", c.path, err)}
	}

	var creds domain.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return domain.Credentials{}, &domain.ConfigError{Field: "credentials file", Value: c.path, Err: err}
	}
	if creds.SuspiciousPaths == nil {
		creds.SuspiciousPaths = slices.Clone(domain.DefaultSuspiciousPaths)
	}
	if creds.RansomwareExtensions == nil {
		creds.RansomwareExtensions = slices.Clone(domain.DefaultRansomwareExtensions)
	}
	return creds.Normalize(), nil
}

// Save writes creds atomically with owner-only permissions.
func (c *CredentialsFile) Save(creds domain.Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(creds.Normalize(), "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &domain.PersistenceError{Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return &domain.PersistenceError{Err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &domain.PersistenceError{Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &domain.PersistenceError{Err: err}
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return &domain.PersistenceError{Err: err}
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return &domain.PersistenceError{Err: fmt.Errorf("failed to replace %s: %w", c.path, err)}
	}
	return nil
}
