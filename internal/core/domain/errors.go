package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no endpoint or credentials are set.
	ErrNotConfigured = errors.New("monitoring service is not configured")

	// ErrStaleSession marks a response produced under credentials that have
	// since been replaced. Its data must be discarded.
	ErrStaleSession = errors.New("response belongs to a stale session")

	// ErrNoAgent is returned when no monitored agent could be resolved.
	ErrNoAgent = errors.New("no monitored agent found")

	// ErrInvalidIdentity rejects acknowledgment of a malformed alert identity.
	ErrInvalidIdentity = errors.New("invalid alert identity")
)

// AuthError means the service rejected the credentials. It is not
// recoverable without user action.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError covers timeouts and network failures. The next poll cycle
// may succeed.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RemoteError is an unexpected non-2xx response carrying a body.
type RemoteError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// ParseError describes one malformed event inside a batch.
type ParseError struct {
	Index  int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("event %d: %s", e.Index, e.Reason)
}

// PersistenceError means an acknowledgment was recorded in memory but could
// not be written to durable storage.
type PersistenceError struct {
	Identity string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("acknowledgment %s not persisted: %v", e.Identity, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigError is a configuration value the user has to correct.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsAuth, IsTransient and IsRemote classify an error chain.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

func IsRemote(err error) bool {
	var target *RemoteError
	return errors.As(err, &target)
}

// ErrorKind names the error class for metrics labels and API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrStaleSession):
		return "stale"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case IsAuth(err):
		return "auth"
	case IsTransient(err):
		return "transient"
	case IsRemote(err):
		return "remote"
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return "persistence"
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return "config"
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return "parse"
	}
	return "unknown"
}
