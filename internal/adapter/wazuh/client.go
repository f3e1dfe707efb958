package wazuh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/core/domain"
)

// envelope is the common shape of manager API responses.
type envelope[T any] struct {
	Data struct {
		AffectedItems      []T `json:"affected_items"`
		TotalAffectedItems int `json:"total_affected_items"`
	} `json:"data"`
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// SyscheckItem is one FIM record from /syscheck/{agent}.
type SyscheckItem struct {
	File string `json:"file"`
	Type string `json:"type"`
	Date string `json:"date"`
}

type agentItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	OS   struct {
		Platform string `json:"platform"`
		Name     string `json:"name"`
	} `json:"os"`
}

// agentQueries are tried in order until a Windows agent turns up.
var agentQueries = []url.Values{
	{"q": {"os.platform=windows"}, "select": {"id,name,os"}},
	{"q": {"os.name=windows"}, "select": {"id,name,os"}},
	nil,
}

// Client reads FIM events and manager health through a SessionManager.
type Client struct {
	session *SessionManager
	limit   int
	logger  *zap.Logger

	mu         sync.Mutex
	pinned     string
	agentID    string
	agentEpoch uint64
}

func NewClient(session *SessionManager, pinnedAgent string, limit int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 100
	}
	return &Client{
		session: session,
		limit:   limit,
		logger:  logger,
		pinned:  strings.TrimSpace(pinnedAgent),
	}
}

// Session exposes the underlying session manager.
func (c *Client) Session() *SessionManager { return c.session }

// OnConfigChange resets the session and forgets the discovered agent.
func (c *Client) OnConfigChange(creds domain.Credentials) error {
	c.mu.Lock()
	c.pinned = creds.AgentID
	c.agentID = ""
	c.mu.Unlock()
	return c.session.OnConfigChange(creds)
}

// FetchEvents returns the latest FIM events of the monitored agent.
func (c *Client) FetchEvents(ctx context.Context) ([]domain.RawEvent, int, error) {
	agentID, err := c.ResolveAgentID(ctx)
	if err != nil {
		return nil, 0, err
	}

	params := url.Values{
		"limit": {strconv.Itoa(c.limit)},
		"sort":  {"date"},
	}
	raw, err := c.session.FetchJSON(ctx, "syscheck/"+url.PathEscape(agentID), params)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch syscheck events: %w", err)
	}

	var resp envelope[SyscheckItem]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, 0, &domain.ParseError{Index: -1, Reason: fmt.Sprintf("syscheck response: %v", err)}
	}

	events, skipped := ParseSyscheckItems(resp.Data.AffectedItems)
	for _, perr := range skipped {
		c.logger.Debug("skipping malformed syscheck item", zap.Error(perr))
	}
	return events, len(skipped), nil
}

// ParseSyscheckItems decodes wire records into RawEvents. Records with an
// unknown type or unparsable date are returned as ParseErrors instead.
func ParseSyscheckItems(items []SyscheckItem) ([]domain.RawEvent, []error) {
	events := make([]domain.RawEvent, 0, len(items))
	var skipped []error

	for i, item := range items {
		eventType, ok := parseEventType(item.Type)
		if !ok {
			skipped = append(skipped, &domain.ParseError{Index: i, Reason: fmt.Sprintf("unknown event type %q", item.Type)})
			continue
		}
		occurredAt, err := parseDate(item.Date)
		if err != nil {
			skipped = append(skipped, &domain.ParseError{Index: i, Reason: fmt.Sprintf("bad date %q", item.Date)})
			continue
		}
		events = append(events, domain.RawEvent{
			FilePath:   item.File,
			EventType:  eventType,
			OccurredAt: occurredAt,
		})
	}
	return events, skipped
}

func parseEventType(s string) (domain.EventType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "added", "created":
		return domain.EventCreated, true
	case "modified":
		return domain.EventModified, true
	case "deleted":
		return domain.EventDeleted, true
	}
	return "", false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ResolveAgentID returns the pinned agent, or discovers a Windows agent and
// caches it until the session epoch changes.
func (c *Client) ResolveAgentID(ctx context.Context) (string, error) {
	epoch := c.session.Epoch()

	c.mu.Lock()
	if c.pinned != "" {
		id := c.pinned
		c.mu.Unlock()
		return id, nil
	}
	if c.agentID != "" && c.agentEpoch == epoch {
		id := c.agentID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	for _, query := range agentQueries {
		raw, err := c.session.FetchJSON(ctx, "agents", query)
		if err != nil {
			return "", fmt.Errorf("failed to list agents: %w", err)
		}

		var resp envelope[agentItem]
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", &domain.ParseError{Index: -1, Reason: fmt.Sprintf("agents response: %v", err)}
		}

		for _, agent := range resp.Data.AffectedItems {
			if isWindows(agent) {
				c.mu.Lock()
				c.agentID = agent.ID
				c.agentEpoch = epoch
				c.mu.Unlock()
				c.logger.Info("monitoring windows agent", zap.String("agent_id", agent.ID), zap.String("name", agent.Name))
				return agent.ID, nil
			}
		}
	}
	return "", domain.ErrNoAgent
}

func isWindows(a agentItem) bool {
	return strings.EqualFold(a.OS.Platform, "windows") || strings.EqualFold(a.OS.Name, "windows")
}

// ManagerStatus reports the state of each manager daemon.
func (c *Client) ManagerStatus(ctx context.Context) (domain.ServiceHealth, error) {
	raw, err := c.session.Fetch(ctx, ClassHealth, "manager/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manager status: %w", err)
	}

	var resp envelope[map[string]string]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &domain.ParseError{Index: -1, Reason: fmt.Sprintf("manager status response: %v", err)}
	}
	if len(resp.Data.AffectedItems) == 0 {
		return nil, &domain.ParseError{Index: -1, Reason: "manager status response has no items"}
	}
	return domain.ServiceHealth(resp.Data.AffectedItems[0]), nil
}

// ValidateConnection checks creds with a throwaway session: authenticate,
// then read manager/info. The live session is not touched.
func ValidateConnection(ctx context.Context, cfg SessionConfig, creds domain.Credentials, logger *zap.Logger) error {
	creds = creds.Normalize()
	if err := creds.Validate(); err != nil {
		return err
	}

	cfg.HTTP.EnableCircuitBreaker = false
	session := NewSessionManager(cfg, creds, logger)
	if err := session.Authenticate(ctx); err != nil {
		return err
	}
	if _, err := session.FetchJSON(ctx, "manager/info", nil); err != nil {
		return err
	}
	return nil
}
