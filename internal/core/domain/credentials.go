package domain

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"
)

// DefaultAPIPort is appended to endpoints that do not name a port.
const DefaultAPIPort = "55000"

var DefaultSuspiciousPaths = []string{
	"system32",
	"program files",
	"windows",
	"desktop",
	"documents",
	"downloads",
	"pictures",
	"appdata\\local",
	"appdata\\roaming",
}

var DefaultRansomwareExtensions = []string{
	".encrypted", ".crypto", ".locked", ".crypted", ".crypt",
	".wallet", ".ransom", ".write", ".wcry", ".wncry", ".wnry",
	".tesla", ".locky", ".zepto", ".cerber", ".sage",
}

// WorkflowSettings points at the incident-history workflow service.
type WorkflowSettings struct {
	URL    string `json:"url"`
	APIKey string `json:"apiKey"`
	Name   string `json:"name"`
}

// IsConfigured reports whether every workflow field is set.
func (w WorkflowSettings) IsConfigured() bool {
	return strings.TrimSpace(w.URL) != "" &&
		strings.TrimSpace(w.APIKey) != "" &&
		strings.TrimSpace(w.Name) != ""
}

// BaseURL returns the workflow URL with a scheme, defaulting to http.
func (w WorkflowSettings) BaseURL() string {
	u := strings.TrimRight(strings.TrimSpace(w.URL), "/")
	if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return u
}

// Credentials is the connection and rule configuration shared by every
// consumer of monitoring data.
type Credentials struct {
	Endpoint             string           `json:"url"`
	Username             string           `json:"username"`
	Secret               string           `json:"password"`
	SuspiciousPaths      []string         `json:"suspiciousPaths"`
	RansomwareExtensions []string         `json:"ransomwareExtensions,omitempty"`
	AgentID              string           `json:"agentId,omitempty"`
	Workflow             WorkflowSettings `json:"workflow"`
	LastModified         time.Time        `json:"lastModified"`
	IsConfigured         bool             `json:"isConfigured"`
}

// DefaultCredentials returns an unconfigured value carrying the default rules.
func DefaultCredentials() Credentials {
	c := Credentials{
		SuspiciousPaths:      slices.Clone(DefaultSuspiciousPaths),
		RansomwareExtensions: slices.Clone(DefaultRansomwareExtensions),
	}
	return c.Normalize()
}

// Normalize trims fields and recomputes the derived IsConfigured flag.
func (c Credentials) Normalize() Credentials {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Username = strings.TrimSpace(c.Username)
	c.AgentID = strings.TrimSpace(c.AgentID)
	c.Workflow.URL = strings.TrimSpace(c.Workflow.URL)
	c.Workflow.APIKey = strings.TrimSpace(c.Workflow.APIKey)
	c.Workflow.Name = strings.TrimSpace(c.Workflow.Name)
	c.SuspiciousPaths = compact(c.SuspiciousPaths)
	c.RansomwareExtensions = compact(c.RansomwareExtensions)
	c.IsConfigured = c.Endpoint != "" && c.Username != "" && c.Secret != ""
	return c
}

// Clone returns a copy that shares no slices with c.
func (c Credentials) Clone() Credentials {
	c.SuspiciousPaths = slices.Clone(c.SuspiciousPaths)
	c.RansomwareExtensions = slices.Clone(c.RansomwareExtensions)
	return c
}

// Rules extracts the classifier rule lists.
func (c Credentials) Rules() Rules {
	return Rules{
		SuspiciousPaths:      slices.Clone(c.SuspiciousPaths),
		RansomwareExtensions: slices.Clone(c.RansomwareExtensions),
	}
}

// SameSettings compares everything except LastModified and the derived flag.
func (c Credentials) SameSettings(o Credentials) bool {
	return c.Endpoint == o.Endpoint &&
		c.Username == o.Username &&
		c.Secret == o.Secret &&
		c.AgentID == o.AgentID &&
		c.Workflow == o.Workflow &&
		slices.Equal(c.SuspiciousPaths, o.SuspiciousPaths) &&
		slices.Equal(c.RansomwareExtensions, o.RansomwareExtensions)
}

// BaseURL resolves the endpoint into an https URL with an explicit port.
// An empty endpoint yields ErrNotConfigured.
func (c Credentials) BaseURL() (*url.URL, error) {
	return ParseEndpoint(c.Endpoint)
}

// ParseEndpoint accepts "host", "host:port" or a full URL and returns the
// API base URL. Missing schemes default to https and missing ports to 55000.
func ParseEndpoint(endpoint string) (*url.URL, error) {
	raw := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if raw == "" {
		return nil, ErrNotConfigured
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ConfigError{Field: "url", Value: endpoint, Err: err}
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, &ConfigError{Field: "url", Value: endpoint, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Hostname() == "" {
		return nil, &ConfigError{Field: "url", Value: endpoint, Err: fmt.Errorf("missing host")}
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), DefaultAPIPort)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// Validate checks the fields a connection needs, naming the first bad one.
func (c Credentials) Validate() error {
	if c.Endpoint == "" {
		return &ConfigError{Field: "url", Err: fmt.Errorf("cannot be empty")}
	}
	if _, err := ParseEndpoint(c.Endpoint); err != nil {
		return err
	}
	if c.Username == "" {
		return &ConfigError{Field: "username", Err: fmt.Errorf("cannot be empty")}
	}
	if strings.TrimSpace(c.Secret) == "" {
		return &ConfigError{Field: "password", Err: fmt.Errorf("cannot be empty")}
	}
	return nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}
