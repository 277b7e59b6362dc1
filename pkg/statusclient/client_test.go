package statusclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://127.0.0.1:8080"})
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, client.config.Timeout)
	})

	t.Run("missing_server_url", func(t *testing.T) {
		client, err := NewClient(Config{})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "ServerURL is required")
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "://invalid-url"})
		assert.Nil(t, client)
		assert.Error(t, err)
	})

	t.Run("unsupported_scheme", func(t *testing.T) {
		_, err := NewClient(Config{ServerURL: "ftp://127.0.0.1"})
		assert.ErrorContains(t, err, "unsupported scheme")
	})
}

func TestClient_GetHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		if healthy.Load() {
			_ = json.NewEncoder(w).Encode(HealthResponse{Healthy: true, State: "up"})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{Healthy: false, State: "starting"})
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL})
	require.NoError(t, err)

	resp, err := client.GetHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Healthy)

	healthy.Store(false)
	resp, err = client.GetHealth(context.Background())
	require.NoError(t, err)
	assert.False(t, resp.Healthy)
	assert.Equal(t, "starting", resp.State)
}

func TestClient_GetStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "Unauthorized", Message: "Invalid token", Code: 401})
			return
		}
		_ = json.NewEncoder(w).Encode(StatusResponse{Hostname: "echo", State: "up", Accepted: 2})
	}))
	defer server.Close()

	t.Run("no_token", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: server.URL})
		require.NoError(t, err)
		_, err = client.GetStatus(context.Background())
		assert.ErrorContains(t, err, "no token")
	})

	t.Run("bad_token", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: server.URL, Token: "bad"})
		require.NoError(t, err)
		_, err = client.GetStatus(context.Background())

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "Invalid token", apiErr.Message)
	})

	t.Run("good_token", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: server.URL, Token: "good"})
		require.NoError(t, err)
		resp, err := client.GetStatus(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "echo", resp.Hostname)
		assert.Equal(t, int64(2), resp.Accepted)
	})
}
