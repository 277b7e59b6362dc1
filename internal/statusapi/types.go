package statusapi

import "time"

// Status describes the running node and its server.
type Status struct {
	Hostname  string    `json:"hostname"`
	State     string    `json:"state"`
	Network   string    `json:"network"`
	Listen    string    `json:"listen"`
	Mode      string    `json:"mode"`
	Accepted  int64     `json:"accepted"`
	Active    int64     `json:"active"`
	StartedAt time.Time `json:"started_at"`
}

// StatusFunc reports the current status.
type StatusFunc func() Status

// HealthResponse is returned by the unauthenticated health endpoint.
type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	State   string `json:"state"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
