package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/adapter/exporter"
	"github.com/hive-corporation/guardian/internal/adapter/sysinfo"
	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/service"
)

// SystemReporter samples process resource usage.
type SystemReporter interface {
	Collect(ctx context.Context) (sysinfo.Snapshot, error)
}

// ConnectionValidator checks that creds can reach the monitoring service.
type ConnectionValidator func(ctx context.Context, creds domain.Credentials) error

type RestHandler struct {
	console  *service.Console
	feed     *exporter.CEFExporter
	system   SystemReporter
	validate ConnectionValidator
	logger   *zap.Logger
}

func NewRestHandler(console *service.Console, feed *exporter.CEFExporter, system SystemReporter, validate ConnectionValidator, logger *zap.Logger) *RestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RestHandler{
		console:  console,
		feed:     feed,
		system:   system,
		validate: validate,
		logger:   logger,
	}
}

// Health check endpoint
func (h *RestHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "guardian",
		"poll":      h.console.Alerts.Status(),
	}
	writeJSON(w, http.StatusOK, response)
}

// ListAlerts returns the unacknowledged alerts, optionally narrowed to one
// severity.
func (h *RestHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := h.console.GetAlerts()

	if sev := r.URL.Query().Get("severity"); sev != "" {
		filtered := alerts[:0]
		for _, a := range alerts {
			if string(a.Severity) == sev {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(alerts),
		"alerts": alerts,
		"poll":   h.console.Alerts.Status(),
	})
}

func (h *RestHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !domain.IsValidIdentity(id) {
		writeError(w, http.StatusBadRequest, "invalid alert identity")
		return
	}
	if _, ok := h.console.Alerts.Find(id); !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	err := h.console.Acknowledge(id)
	var pe *domain.PersistenceError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"identity": id, "acknowledged": true, "persisted": true})
	case errors.As(err, &pe):
		h.logger.Error("acknowledgment not persisted", zap.String("identity", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"identity":     id,
			"acknowledged": true,
			"persisted":    false,
			"error":        "acknowledgment could not be saved",
		})
	default:
		writeError(w, statusForError(err), err.Error())
	}
}

// RefreshAlerts runs one poll cycle immediately.
func (h *RestHandler) RefreshAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.console.Alerts.Refresh(ctx); err != nil {
		writeKindError(w, err)
		return
	}
	alerts := h.console.GetAlerts()
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": len(alerts), "alerts": alerts})
}

// GetAlertFeed exports alerts for SIEM ingestion
func (h *RestHandler) GetAlertFeed(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	since := r.URL.Query().Get("since") // e.g., "24h", "90m"

	var sinceTime time.Time
	if since != "" {
		duration, err := time.ParseDuration(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'since' parameter (use format like '24h', '90m')")
			return
		}
		sinceTime = time.Now().Add(-duration)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	switch format {
	case "cef", "":
		data, err := h.feed.Export(ctx, sinceTime)
		if err != nil {
			h.logger.Error("CEF export failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to export CEF feed")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(data)); err != nil {
			h.logger.Warn("failed to write CEF feed", zap.Error(err))
		}
	default:
		writeError(w, http.StatusBadRequest, "unsupported format (use 'cef')")
	}
}

func (h *RestHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, h.console.GetDashboardSummary(ctx))
}

func (h *RestHandler) System(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		writeError(w, http.StatusServiceUnavailable, "system metrics unavailable")
		return
	}
	snap, err := h.system.Collect(r.Context())
	if err != nil {
		h.logger.Warn("system sample failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to sample system metrics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeKindError reports a monitoring failure along with its class.
func writeKindError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), map[string]string{
		"error": err.Error(),
		"kind":  domain.ErrorKind(err),
	})
}

func statusForError(err error) int {
	switch domain.ErrorKind(err) {
	case "config":
		return http.StatusBadRequest
	case "not_configured", "stale":
		return http.StatusConflict
	case "auth", "transient", "remote", "parse":
		return http.StatusBadGateway
	}
	if errors.Is(err, domain.ErrInvalidIdentity) {
		return http.StatusBadRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
