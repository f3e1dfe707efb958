package wazuh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/adapter/metrics"
	"github.com/hive-corporation/guardian/internal/adapter/resilient"
	"github.com/hive-corporation/guardian/internal/core/domain"
)

// CallClass selects the timeout applied to a request.
type CallClass int

const (
	ClassData CallClass = iota
	ClassHealth
	ClassAuth
)

// SessionConfig holds timeouts and HTTP resilience settings for one manager.
type SessionConfig struct {
	TokenWindow   time.Duration
	AuthTimeout   time.Duration
	DataTimeout   time.Duration
	HealthTimeout time.Duration
	HTTP          resilient.Config
}

// DefaultSessionConfig matches the manager's default token lifetime minus a
// margin, with short timeouts so a dead manager never blocks a poll cycle.
func DefaultSessionConfig() SessionConfig {
	httpCfg := resilient.DefaultConfig("wazuh-api")
	httpCfg.MaxRetries = 0
	httpCfg.Timeout = 0
	return SessionConfig{
		TokenWindow:   3000 * time.Second,
		AuthTimeout:   5 * time.Second,
		DataTimeout:   10 * time.Second,
		HealthTimeout: 2 * time.Second,
		HTTP:          httpCfg,
	}
}

// Option configures a SessionManager.
type Option func(*SessionManager)

// WithClock replaces time.Now, for tests that need to move past the token window.
func WithClock(now func() time.Time) Option {
	return func(s *SessionManager) { s.now = now }
}

// SessionManager owns the bearer token for one manager endpoint and applies
// a single re-authentication policy to every call.
type SessionManager struct {
	http   *resilient.Client
	cfg    SessionConfig
	now    func() time.Time
	logger *zap.Logger

	// authMu serializes authentication so concurrent callers share one token.
	authMu sync.Mutex

	mu           sync.Mutex
	creds        domain.Credentials
	token        string
	acquiredAt   time.Time
	expiresAfter time.Duration
	epoch        uint64
}

func NewSessionManager(cfg SessionConfig, creds domain.Credentials, logger *zap.Logger, opts ...Option) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SessionManager{
		http:   resilient.New(cfg.HTTP, logger),
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
		creds:  creds.Clone(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Epoch increases on every configuration change.
func (s *SessionManager) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// OnConfigChange drops the cached token and pooled connections. Calls that
// are still in flight finish with ErrStaleSession.
func (s *SessionManager) OnConfigChange(creds domain.Credentials) error {
	s.mu.Lock()
	s.creds = creds.Clone()
	s.token = ""
	s.acquiredAt = time.Time{}
	s.expiresAfter = 0
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	s.http.CloseIdleConnections()
	s.logger.Info("session reset after configuration change", zap.Uint64("epoch", epoch))
	return nil
}

// BreakerState exposes the circuit breaker state for diagnostics.
func (s *SessionManager) BreakerState() string {
	return s.http.BreakerState()
}

// FetchJSON performs a data-class GET and returns the decoded response body.
func (s *SessionManager) FetchJSON(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	return s.Fetch(ctx, ClassData, endpoint, params)
}

// Fetch performs an authenticated GET. A 401/403 triggers exactly one
// re-authentication and one repeat of the call.
func (s *SessionManager) Fetch(ctx context.Context, class CallClass, endpoint string, params url.Values) (json.RawMessage, error) {
	base, epoch, err := s.target()
	if err != nil {
		return nil, err
	}

	token, err := s.ensureToken(ctx, epoch)
	if err != nil {
		return nil, err
	}

	body, err := s.get(ctx, class, base, endpoint, params, token)
	if isUnauthorized(err) {
		s.logger.Info("token rejected, re-authenticating", zap.String("endpoint", endpoint))
		s.invalidate(token)
		if token, err = s.ensureToken(ctx, epoch); err != nil {
			return nil, err
		}
		body, err = s.get(ctx, class, base, endpoint, params, token)
		if isUnauthorized(err) {
			var se *resilient.StatusError
			errors.As(err, &se)
			return nil, &domain.AuthError{StatusCode: se.StatusCode, Err: fmt.Errorf("%s rejected a fresh token", endpoint)}
		}
	}

	if s.Epoch() != epoch {
		return nil, domain.ErrStaleSession
	}
	if err != nil {
		return nil, classify(endpoint, err)
	}
	return body, nil
}

// Authenticate forces a fresh token, replacing any cached one.
func (s *SessionManager) Authenticate(ctx context.Context) error {
	_, epoch, err := s.target()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	_, err = s.ensureToken(ctx, epoch)
	return err
}

func (s *SessionManager) target() (*url.URL, uint64, error) {
	s.mu.Lock()
	creds, epoch := s.creds, s.epoch
	s.mu.Unlock()

	if !creds.IsConfigured {
		return nil, epoch, domain.ErrNotConfigured
	}
	base, err := creds.BaseURL()
	if err != nil {
		return nil, epoch, err
	}
	return base, epoch, nil
}

// ensureToken returns the cached token when it is younger than its window,
// authenticating otherwise.
func (s *SessionManager) ensureToken(ctx context.Context, epoch uint64) (string, error) {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return "", domain.ErrStaleSession
	}
	if s.token != "" && s.now().Sub(s.acquiredAt) < s.expiresAfter {
		token := s.token
		s.mu.Unlock()
		return token, nil
	}
	s.token = ""
	creds := s.creds
	s.mu.Unlock()

	token, err := s.authenticate(ctx, creds)
	if err != nil {
		return "", err
	}

	acquired := s.now()
	window := s.tokenWindow(token, acquired)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return "", domain.ErrStaleSession
	}
	s.token = token
	s.acquiredAt = acquired
	s.expiresAfter = window
	return token, nil
}

func (s *SessionManager) invalidate(token string) {
	s.mu.Lock()
	if s.token == token {
		s.token = ""
	}
	s.mu.Unlock()
}

type authResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

func (s *SessionManager) authenticate(ctx context.Context, creds domain.Credentials) (string, error) {
	base, err := creds.BaseURL()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.JoinPath("security", "user", "authenticate").String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build auth request: %w", err)
	}
	req.SetBasicAuth(creds.Username, creds.Secret)

	resp, err := s.http.Do(req)
	if err != nil {
		var se *resilient.StatusError
		if errors.As(err, &se) {
			metrics.RecordAuthAttempt("rejected")
			return "", &domain.AuthError{StatusCode: se.StatusCode, Err: errors.New(se.Body)}
		}
		metrics.RecordAuthAttempt("error")
		return "", &domain.TransientError{Op: "authenticate", Err: err}
	}
	defer resp.Body.Close()

	var result authResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.RecordAuthAttempt("error")
		return "", &domain.AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode token: %w", err)}
	}
	if result.Data.Token == "" {
		metrics.RecordAuthAttempt("rejected")
		return "", &domain.AuthError{StatusCode: resp.StatusCode, Err: errors.New("response carried no token")}
	}

	metrics.RecordAuthAttempt("success")
	s.logger.Debug("authenticated", zap.String("user", creds.Username))
	return result.Data.Token, nil
}

// tokenWindow shortens the configured window when the token's own exp
// claim expires sooner. The signature is not checked; the manager does that.
func (s *SessionManager) tokenWindow(token string, acquired time.Time) time.Duration {
	window := s.cfg.TokenWindow
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return window
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return window
	}
	if left := exp.Sub(acquired); left < window {
		if left < 0 {
			return 0
		}
		return left
	}
	return window
}

func (s *SessionManager) timeout(class CallClass) time.Duration {
	switch class {
	case ClassHealth:
		return s.cfg.HealthTimeout
	case ClassAuth:
		return s.cfg.AuthTimeout
	default:
		return s.cfg.DataTimeout
	}
}

func (s *SessionManager) get(ctx context.Context, class CallClass, base *url.URL, endpoint string, params url.Values, token string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout(class))
	defer cancel()

	u := base.JoinPath(strings.Split(strings.Trim(endpoint, "/"), "/")...)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &domain.ParseError{Index: -1, Reason: fmt.Sprintf("%s: invalid JSON: %v", endpoint, err)}
	}
	return raw, nil
}

func isUnauthorized(err error) bool {
	var se *resilient.StatusError
	return errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden)
}

// classify maps transport failures onto the domain error taxonomy.
func classify(endpoint string, err error) error {
	var se *resilient.StatusError
	if errors.As(err, &se) {
		return &domain.RemoteError{Endpoint: endpoint, StatusCode: se.StatusCode, Body: se.Body}
	}
	var pe *domain.ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.TransientError{Op: endpoint, Err: err}
}
