package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/tailnode/internal/engine/memengine"
)

func TestConfig_Validate(t *testing.T) {
	fd := func(v int) *int { return &v }

	tests := []struct {
		name      string
		config    Config
		errorType error
	}{
		{name: "empty config", config: Config{}},
		{name: "full config", config: Config{
			Ephemeral:  true,
			AuthKey:    "tskey-auth",
			Hostname:   "echo",
			Dir:        "/var/lib/tailnode",
			ControlURL: "https://controlplane.example.com",
			LogFD:      fd(-1),
		}},
		{name: "relative control url", config: Config{ControlURL: "controlplane"}, errorType: ErrInvalidControlURL},
		{name: "non http control url", config: Config{ControlURL: "ftp://controlplane"}, errorType: ErrInvalidControlURL},
		{name: "negative log fd", config: Config{LogFD: fd(-2)}, errorType: ErrInvalidLogFD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errorType == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.errorType)
		})
	}
}

func TestConfig_Apply(t *testing.T) {
	nw := memengine.NewNetwork()
	n, err := New(nw)
	require.NoError(t, err)
	defer n.Close()

	cfg := &Config{
		Ephemeral:  true,
		AuthKey:    "tskey-auth",
		Hostname:   "echo",
		Dir:        "/var/lib/tailnode",
		ControlURL: "http://127.0.0.1:9911",
	}
	cfg.WithLogFD(-1)
	require.NoError(t, cfg.Apply(n))

	inst := nw.Instances()[0]
	assert.True(t, inst.Ephemeral())
	assert.Equal(t, "tskey-auth", inst.AuthKey())
	assert.Equal(t, "echo", inst.Hostname())
	assert.Equal(t, "/var/lib/tailnode", inst.Dir())
	assert.Equal(t, "http://127.0.0.1:9911", inst.ControlURL())
}

func TestConfig_ApplyInvalid(t *testing.T) {
	n, err := New(memengine.NewNetwork())
	require.NoError(t, err)
	defer n.Close()

	err = (&Config{ControlURL: "::bad"}).Apply(n)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, ErrInvalidControlURL)
}

func TestConfig_ApplyAfterBringUp(t *testing.T) {
	n := newUpNode(t, memengine.NewNetwork(), "echo")

	err := (&Config{Hostname: "renamed"}).Apply(n)
	assert.ErrorIs(t, err, ErrConfiguration)
}
