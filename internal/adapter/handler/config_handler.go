package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/core/domain"
)

// configView is the credentials document with secrets withheld.
type configView struct {
	URL                  string    `json:"url"`
	Username             string    `json:"username"`
	HasPassword          bool      `json:"hasPassword"`
	SuspiciousPaths      []string  `json:"suspiciousPaths"`
	RansomwareExtensions []string  `json:"ransomwareExtensions"`
	AgentID              string    `json:"agentId,omitempty"`
	WorkflowURL          string    `json:"workflowUrl,omitempty"`
	WorkflowName         string    `json:"workflowName,omitempty"`
	HasWorkflowKey       bool      `json:"hasWorkflowKey"`
	LastModified         time.Time `json:"lastModified"`
	IsConfigured         bool      `json:"isConfigured"`
}

func viewOf(c domain.Credentials) configView {
	return configView{
		URL:                  c.Endpoint,
		Username:             c.Username,
		HasPassword:          c.Secret != "",
		SuspiciousPaths:      c.SuspiciousPaths,
		RansomwareExtensions: c.RansomwareExtensions,
		AgentID:              c.AgentID,
		WorkflowURL:          c.Workflow.URL,
		WorkflowName:         c.Workflow.Name,
		HasWorkflowKey:       c.Workflow.APIKey != "",
		LastModified:         c.LastModified,
		IsConfigured:         c.IsConfigured,
	}
}

// configUpdate is a partial document: nil fields keep their current value.
type configUpdate struct {
	URL                  *string                  `json:"url"`
	Username             *string                  `json:"username"`
	Password             *string                  `json:"password"`
	SuspiciousPaths      []string                 `json:"suspiciousPaths"`
	RansomwareExtensions []string                 `json:"ransomwareExtensions"`
	AgentID              *string                  `json:"agentId"`
	Workflow             *domain.WorkflowSettings `json:"workflow"`
}

func (u configUpdate) apply(c domain.Credentials) domain.Credentials {
	if u.URL != nil {
		c.Endpoint = *u.URL
	}
	if u.Username != nil {
		c.Username = *u.Username
	}
	if u.Password != nil && *u.Password != "" {
		c.Secret = *u.Password
	}
	if u.SuspiciousPaths != nil {
		c.SuspiciousPaths = u.SuspiciousPaths
	}
	if u.RansomwareExtensions != nil {
		c.RansomwareExtensions = u.RansomwareExtensions
	}
	if u.AgentID != nil {
		c.AgentID = *u.AgentID
	}
	if u.Workflow != nil {
		key := c.Workflow.APIKey
		c.Workflow = *u.Workflow
		if c.Workflow.APIKey == "" {
			c.Workflow.APIKey = key
		}
	}
	return c
}

func (h *RestHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(h.console.Hub.Get()))
}

func (h *RestHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var update configUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	err := h.console.Hub.Patch(func(c *domain.Credentials) { *c = update.apply(*c) })
	if err != nil {
		h.writeConfigError(w, err)
		return
	}
	h.writeConfigResult(w)
}

type pathRequest struct {
	Path string `json:"path"`
}

func (h *RestHandler) AddSuspiciousPath(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	added, err := h.console.Hub.AddSuspiciousPath(req.Path)
	if err != nil {
		h.writeConfigError(w, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"added":           added,
		"suspiciousPaths": h.console.Hub.Get().SuspiciousPaths,
	})
}

func (h *RestHandler) RemoveSuspiciousPath(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		var req pathRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			path = req.Path
		}
	}
	if path == "" {
		writeError(w, http.StatusBadRequest, "missing 'path'")
		return
	}

	removed, err := h.console.Hub.RemoveSuspiciousPath(path)
	if err != nil {
		h.writeConfigError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "path not in rule list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed":         true,
		"suspiciousPaths": h.console.Hub.Get().SuspiciousPaths,
	})
}

func (h *RestHandler) ResetConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.console.Hub.ResetToDefaults(); err != nil {
		h.writeConfigError(w, err)
		return
	}
	h.writeConfigResult(w)
}

// ValidateConfig tests a connection without saving anything. An empty body
// tests the current settings.
func (h *RestHandler) ValidateConfig(w http.ResponseWriter, r *http.Request) {
	if h.validate == nil {
		writeError(w, http.StatusServiceUnavailable, "validation unavailable")
		return
	}

	creds := h.console.Hub.Get()
	if r.ContentLength != 0 {
		var update configUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		creds = update.apply(creds)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	err := h.validate(ctx, creds.Normalize())
	var ce *domain.ConfigError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"valid": false, "kind": "config", "field": ce.Field, "error": err.Error(),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid": false, "kind": domain.ErrorKind(err), "error": err.Error(),
		})
	}
}

func (h *RestHandler) writeConfigResult(w http.ResponseWriter) {
	var failures []map[string]string
	for _, ne := range h.console.Hub.LastNotifyErrors() {
		failures = append(failures, map[string]string{"subscriber": ne.Subscriber, "error": ne.Err.Error()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"config":        viewOf(h.console.Hub.Get()),
		"notify_errors": failures,
	})
}

func (h *RestHandler) writeConfigError(w http.ResponseWriter, err error) {
	var ce *domain.ConfigError
	if errors.As(err, &ce) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "field": ce.Field})
		return
	}
	h.logger.Error("configuration update failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to save configuration")
}

func (h *RestHandler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	if h.console.Incidents == nil {
		writeError(w, http.StatusServiceUnavailable, "incident history not configured")
		return
	}
	filter := domain.IncidentFilter{
		Field: r.URL.Query().Get("field"),
		Value: r.URL.Query().Get("value"),
	}
	incidents := h.console.Incidents.List(filter)
	syncedAt, lastErr := h.console.Incidents.SyncedAt()

	response := map[string]interface{}{
		"count":     len(incidents),
		"incidents": incidents,
		"synced_at": syncedAt,
	}
	if lastErr != nil {
		response["last_error"] = lastErr.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *RestHandler) SyncIncidents(w http.ResponseWriter, r *http.Request) {
	if h.console.Incidents == nil {
		writeError(w, http.StatusServiceUnavailable, "incident history not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.console.Incidents.Sync(ctx); err != nil {
		writeKindError(w, err)
		return
	}
	incidents := h.console.Incidents.List(domain.IncidentFilter{})
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": len(incidents), "incidents": incidents})
}
