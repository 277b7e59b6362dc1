package statusclient

import "time"

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the status API (e.g., "http://127.0.0.1:8080")
	ServerURL string

	// Token is the bearer token sent to authenticated endpoints
	Token string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// StatusResponse describes a running node
type StatusResponse struct {
	Hostname  string    `json:"hostname"`
	State     string    `json:"state"`
	Network   string    `json:"network"`
	Listen    string    `json:"listen"`
	Mode      string    `json:"mode"`
	Accepted  int64     `json:"accepted"`
	Active    int64     `json:"active"`
	StartedAt time.Time `json:"started_at"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	State   string `json:"state"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
