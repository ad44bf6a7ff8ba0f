package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public model hub API.
const DefaultBaseURL = "https://huggingface.co"

// ClientConfig holds registry client settings.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{BaseURL: DefaultBaseURL, Timeout: 10 * time.Second}
}

// ModelInfo is the subset of registry metadata carried through validation.
type ModelInfo struct {
	ID           string    `json:"id"`
	SHA          string    `json:"sha,omitempty"`
	PipelineTag  string    `json:"pipeline_tag,omitempty"`
	Private      bool      `json:"private"`
	Disabled     bool      `json:"disabled"`
	Gated        any       `json:"gated,omitempty"` // false, or "auto"/"manual"
	Downloads    int       `json:"downloads,omitempty"`
	LastModified time.Time `json:"lastModified,omitempty"`
}

// IsGated reports whether access requires accepting terms or a token.
func (m *ModelInfo) IsGated() bool {
	switch g := m.Gated.(type) {
	case nil:
		return false
	case bool:
		return g
	case string:
		return g != "" && g != "false"
	}
	return true
}

// HTTPError is a non-200 registry response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsNotFound returns true if err is a 404 from the registry.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

// IsForbidden returns true if the registry refused anonymous access, which
// is how private and gated repositories answer.
func IsForbidden(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) &&
		(httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden)
}

// Client reads public model metadata. It never sends credentials, so
// private or gated models are never readable through it.
type Client struct {
	httpClient *http.Client
	config     ClientConfig
	logger     *slog.Logger
}

// NewClient creates a registry client.
func NewClient(config ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		logger:     logger.With("component", "registry-client"),
	}
}

// GetModel fetches metadata for a model id of the form owner/name.
func (c *Client) GetModel(ctx context.Context, id string) (*ModelInfo, error) {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/api/models/" + escapeID(id)
	c.logger.Debug("lookup", "model", id, "url", endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var info ModelInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &info, nil
}

// escapeID escapes each path segment but keeps the owner/name separator.
func escapeID(id string) string {
	parts := strings.Split(id, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
