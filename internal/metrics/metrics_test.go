package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.ConnectionsAccepted.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ConnectionsAccepted))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ConnectionsAccepted))
}

func TestMetrics_Recorders(t *testing.T) {
	m := New()

	m.SetNodeUp(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeUp))
	m.SetNodeUp(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NodeUp))

	m.RecordReap("idle", 10)
	m.RecordReap("idle", 12)
	m.RecordReap("closed", 0.5)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkersReaped.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkersReaped.WithLabelValues("closed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.WorkerLifetime))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.BytesReceived.Add(6)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tailnode_received_bytes_total 6")
	assert.Contains(t, string(body), "go_goroutines")
}
