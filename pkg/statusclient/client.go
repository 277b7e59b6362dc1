// Package statusclient is a client for the tailnode status API.
package statusclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// APIError is returned for non-2xx replies.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to one status API
type Client struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL
}

// NewClient creates a new status API client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, errors.New("ServerURL is required")
	}
	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid ServerURL: unsupported scheme %q", baseURL.Scheme)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// GetHealth returns the node health. An unhealthy node is reported in the
// response, not as an error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, "/api/v1/health", &resp, false, http.StatusServiceUnavailable)
	if err != nil {
		return nil, fmt.Errorf("failed to get health: %w", err)
	}
	return &resp, nil
}

// GetStatus returns the node status. It requires a token.
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	if c.config.Token == "" {
		return nil, errors.New("no token configured")
	}

	var resp StatusResponse
	if err := c.doRequest(ctx, "/api/v1/status", &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return &resp, nil
}

// doRequest GETs path and decodes the JSON reply into respBody. Status
// codes in accept are decoded like a 200.
func (c *Client) doRequest(ctx context.Context, path string, respBody any, requireAuth bool, accept ...int) error {
	fullURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if requireAuth {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 && !accepted(resp.StatusCode, accept) {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Message == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
	}

	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func accepted(code int, accept []int) bool {
	for _, c := range accept {
		if c == code {
			return true
		}
	}
	return false
}
