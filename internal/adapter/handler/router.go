package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const healthPath = "/api/v1/health"

// RouterConfig controls the middleware stack.
type RouterConfig struct {
	// AuthToken enables bearer authentication when non-empty.
	AuthToken string
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// NewRouter registers every console endpoint on a gorilla/mux router.
func NewRouter(h *RestHandler, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc(healthPath, h.Health).Methods("GET")

	// Alerts
	router.HandleFunc("/api/v1/alerts", h.ListAlerts).Methods("GET")
	router.HandleFunc("/api/v1/alerts/refresh", h.RefreshAlerts).Methods("POST")
	router.HandleFunc("/api/v1/alerts/feed", h.GetAlertFeed).Methods("GET")
	router.HandleFunc("/api/v1/alerts/{id}/ack", h.AcknowledgeAlert).Methods("POST")

	// Dashboard and process status
	router.HandleFunc("/api/v1/dashboard", h.Dashboard).Methods("GET")
	router.HandleFunc("/api/v1/system", h.System).Methods("GET")

	// Configuration
	router.HandleFunc("/api/v1/config", h.GetConfig).Methods("GET")
	router.HandleFunc("/api/v1/config", h.UpdateConfig).Methods("PUT")
	router.HandleFunc("/api/v1/config/paths", h.AddSuspiciousPath).Methods("POST")
	router.HandleFunc("/api/v1/config/paths", h.RemoveSuspiciousPath).Methods("DELETE")
	router.HandleFunc("/api/v1/config/reset", h.ResetConfig).Methods("POST")
	router.HandleFunc("/api/v1/config/validate", h.ValidateConfig).Methods("POST")

	// Incident history
	router.HandleFunc("/api/v1/incidents", h.ListIncidents).Methods("GET")
	router.HandleFunc("/api/v1/incidents/sync", h.SyncIncidents).Methods("POST")

	// Metrics endpoint (requires authentication)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Middleware
	router.Use(loggingMiddleware(h.logger))
	if cfg.RateLimit > 0 {
		router.Use(rateLimitMiddleware(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	}
	router.Use(authMiddleware(cfg.AuthToken, h.logger))

	return router
}

func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// rateLimitMiddleware applies one token bucket to every caller; the API only
// listens locally.
func rateLimitMiddleware(limit rate.Limit, burst int) mux.MiddlewareFunc {
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authMiddleware(expectedToken string, logger *zap.Logger) mux.MiddlewareFunc {
	if expectedToken == "" {
		logger.Warn("API auth token not set - auth disabled")
	}
	expected := []byte("Bearer " + expectedToken)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for health check
			if r.URL.Path == healthPath || expectedToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Validate Bearer token
			token := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(token, expected) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
