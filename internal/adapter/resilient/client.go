package resilient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/adapter/metrics"
)

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 4096

// ErrCircuitOpen is returned without touching the network while the breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StatusError is a completed exchange with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// Client wraps an HTTP client with circuit breaker and retry logic
type Client struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	config  Config
	logger  *zap.Logger
}

// Config holds configuration for the resilient client
type Config struct {
	// Name labels the breaker in logs and metrics.
	Name string

	// Timeout bounds a single attempt. Callers may set tighter deadlines
	// through the request context.
	Timeout     time.Duration
	InsecureTLS bool

	// Circuit breaker settings
	EnableCircuitBreaker bool
	MaxFailures          uint32
	CircuitTimeout       time.Duration

	// Retry settings. Zero MaxRetries means a single attempt.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig returns default configuration values
func DefaultConfig(name string) Config {
	return Config{
		Name:                 name,
		Timeout:              10 * time.Second,
		EnableCircuitBreaker: true,
		MaxFailures:          5,
		CircuitTimeout:       30 * time.Second,
		MaxRetries:           3,
		InitialInterval:      500 * time.Millisecond,
		MaxInterval:          5 * time.Second,
	}
}

// New creates a new resilient HTTP client
func New(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed manager certificates
	}

	client := &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}

	var breaker *gobreaker.CircuitBreaker
	if config.EnableCircuitBreaker {
		settings := gobreaker.Settings{
			Name:        config.Name,
			MaxRequests: 1,
			Interval:    0, // Don't reset counts automatically
			Timeout:     config.CircuitTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.MaxFailures
			},
			// A 4xx means the service is up; only network errors and 5xx count.
			IsSuccessful: func(err error) bool {
				var se *StatusError
				if errors.As(err, &se) {
					return se.StatusCode < 500
				}
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
				metrics.RecordBreakerTransition(name, to.String())
			},
		}
		breaker = gobreaker.NewCircuitBreaker(settings)
	}

	return &Client{
		client:  client,
		breaker: breaker,
		config:  config,
		logger:  logger,
	}
}

// Do executes an HTTP request with circuit breaker and retry logic. A
// non-2xx response is returned as *StatusError with its body already read
// and closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.doWithRetry(req)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doWithRetry(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w", c.config.Name, ErrCircuitOpen)
		}
		return nil, err
	}

	return result.(*http.Response), nil
}

// CloseIdleConnections drops pooled connections so the next request dials
// fresh.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

// BreakerState reports the breaker state, or "disabled".
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// doWithRetry executes an HTTP request with exponential backoff retry logic
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	attempt := func() (*http.Response, error) {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, readStatusError(resp)
		}
		return resp, nil
	}

	if c.config.MaxRetries == 0 {
		return attempt()
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.config.InitialInterval
	expBackoff.MaxInterval = c.config.MaxInterval
	expBackoff.Multiplier = 2.0
	expBackoff.MaxElapsedTime = 0 // No max elapsed time, only max retries

	retryBackoff := backoff.WithContext(
		backoff.WithMaxRetries(expBackoff, uint64(c.config.MaxRetries)),
		req.Context(),
	)

	var resp *http.Response
	var lastErr error
	operation := func() error {
		r, err := attempt()
		if err != nil {
			lastErr = err
			if c.shouldRetry(err) {
				c.logger.Debug("retrying request", zap.String("client", c.config.Name), zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, retryBackoff); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		if ctxErr := req.Context().Err(); ctxErr != nil && !errors.Is(lastErr, ctxErr) {
			return nil, fmt.Errorf("request failed after retries: %w (%v)", lastErr, ctxErr)
		}
		return nil, fmt.Errorf("request failed after retries: %w", lastErr)
	}

	return resp, nil
}

// shouldRetry determines if an error should trigger a retry
func (c *Client) shouldRetry(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusTooManyRequests, // 429
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout,      // 504
			http.StatusBadGateway,          // 502
			http.StatusInternalServerError: // 500
			return true
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

func readStatusError(resp *http.Response) *StatusError {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(data)),
	}
}

// IsTimeout reports whether err came from a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
