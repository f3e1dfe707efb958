package provider

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

	"github.com/hive-corporation/guardian/internal/adapter/resilient"
	"github.com/hive-corporation/guardian/internal/core/domain"
)

// incidentMarker prefixes the JSON payload the response workflow logs.
const incidentMarker = "Generated incident:"

// ErrWorkflowNotFound is returned when no workflow has the configured name.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ShuffleClient reads incident history from the executions of one Shuffle
// workflow.
type ShuffleClient struct {
	client *resilient.Client
	loc    *time.Location

	mu         sync.Mutex
	settings   domain.WorkflowSettings
	workflowID string
}

func NewShuffleClient(client *resilient.Client, settings domain.WorkflowSettings) *ShuffleClient {
	if client == nil {
		client = resilient.New(resilient.DefaultConfig("shuffle-api"), nil)
	}
	return &ShuffleClient{
		client:   client,
		loc:      time.Local,
		settings: settings,
	}
}

func (p *ShuffleClient) Name() string {
	return "shuffle"
}

// SetLocation sets the zone incident dates are rendered in.
func (p *ShuffleClient) SetLocation(loc *time.Location) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loc = loc
}

// Reset switches to new settings and forgets the resolved workflow id.
func (p *ShuffleClient) Reset(settings domain.WorkflowSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = settings
	p.workflowID = ""
}

type shuffleWorkflow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type shuffleExecution struct {
	Results []struct {
		Result json.RawMessage `json:"result"`
	} `json:"results"`
}

type shuffleIncident struct {
	Timestamp   float64 `json:"timestamp"`
	Type        string  `json:"type"`
	ActionTaken string  `json:"action_taken"`
}

// FetchIncidents resolves the workflow id if needed and extracts incidents
// from its executions.
func (p *ShuffleClient) FetchIncidents(ctx context.Context) ([]domain.Incident, error) {
	p.mu.Lock()
	settings, workflowID, loc := p.settings, p.workflowID, p.loc
	p.mu.Unlock()

	if !settings.IsConfigured() {
		return nil, domain.ErrNotConfigured
	}

	if workflowID == "" {
		id, err := p.ResolveWorkflowID(ctx)
		if err != nil {
			return nil, err
		}
		workflowID = id
	}

	var executions []shuffleExecution
	endpoint := "/api/v1/workflows/" + url.PathEscape(workflowID) + "/executions"
	if err := p.getJSON(ctx, settings, endpoint, &executions); err != nil {
		return nil, fmt.Errorf("failed to fetch executions: %w", err)
	}

	incidents, _ := extractIncidents(executions, loc)
	return incidents, nil
}

// ResolveWorkflowID looks up the configured workflow name.
func (p *ShuffleClient) ResolveWorkflowID(ctx context.Context) (string, error) {
	p.mu.Lock()
	settings := p.settings
	p.mu.Unlock()

	if !settings.IsConfigured() {
		return "", domain.ErrNotConfigured
	}

	var workflows []shuffleWorkflow
	if err := p.getJSON(ctx, settings, "/api/v1/workflows", &workflows); err != nil {
		return "", fmt.Errorf("failed to list workflows: %w", err)
	}

	for _, wf := range workflows {
		if wf.Name == settings.Name {
			p.mu.Lock()
			if p.settings == settings {
				p.workflowID = wf.ID
			}
			p.mu.Unlock()
			return wf.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrWorkflowNotFound, settings.Name)
}

func (p *ShuffleClient) getJSON(ctx context.Context, settings domain.WorkflowSettings, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, settings.BaseURL()+endpoint, nil)
	if err != nil {
		return &domain.ConfigError{Field: "workflow url", Value: settings.URL, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+settings.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		var se *resilient.StatusError
		if errors.As(err, &se) {
			if se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden {
				return &domain.AuthError{StatusCode: se.StatusCode, Err: errors.New("workflow API key rejected")}
			}
			return &domain.RemoteError{Endpoint: endpoint, StatusCode: se.StatusCode, Body: se.Body}
		}
		return &domain.TransientError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ParseError{Index: -1, Reason: fmt.Sprintf("%s: %v", endpoint, err)}
	}
	return nil
}

// extractIncidents pulls "Generated incident:" payloads out of execution
// results. A result may hold an object or a JSON-encoded string. Results
// that cannot be decoded are counted and skipped.
func extractIncidents(executions []shuffleExecution, loc *time.Location) ([]domain.Incident, int) {
	if loc == nil {
		loc = time.Local
	}
	var incidents []domain.Incident
	skipped := 0

	for _, exec := range executions {
		for _, r := range exec.Results {
			message, ok := resultMessage(r.Result)
			if !ok {
				continue
			}
			_, payload, found := strings.Cut(message, incidentMarker)
			if !found {
				continue
			}

			var inc shuffleIncident
			if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &inc); err != nil {
				skipped++
				continue
			}

			sec := int64(inc.Timestamp)
			nsec := int64((inc.Timestamp - float64(sec)) * 1e9)
			incidents = append(incidents, domain.Incident{
				Date:   time.Unix(sec, nsec).In(loc).Format("2006-01-02 15:04"),
				Type:   inc.Type,
				Action: inc.ActionTaken,
			})
		}
	}
	return incidents, skipped
}

func resultMessage(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	// Results are sometimes double-encoded.
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = json.RawMessage(encoded)
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	return obj.Message, obj.Message != ""
}
