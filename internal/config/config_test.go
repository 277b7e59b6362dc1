package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/tailnode/internal/node"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")

	c, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "tcp", c.Listen.Network)
	assert.Equal(t, ":1999", c.Listen.Address)
	assert.Equal(t, ModeSequential, c.Server.Mode)
	assert.Equal(t, HandlerPrint, c.Server.Handler)
	assert.Equal(t, 10*time.Second, c.Server.IdleWait)
	assert.Equal(t, 2048, c.Server.ChunkSize)
	assert.Equal(t, "info", c.Log.Level)
	assert.False(t, c.Status.Enabled)
	assert.NoError(t, c.Validate())
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tailnode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node:
  hostname: from-file
  ephemeral: true
  state_dir: /var/lib/tailnode
listen:
  address: ":2000"
server:
  mode: pool
  idle_wait: 250ms
status:
  enabled: true
  jwt_secret: file-secret
`), 0o600))

	t.Setenv("TS_AUTHKEY", "tskey-from-env")
	t.Setenv("TAILNODE_SERVER_HANDLER", "echo")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("hostname", "", "")
	flags.String("listen", ":1999", "")
	require.NoError(t, flags.Parse([]string{"--hostname", "from-flag"}))

	c, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "from-flag", c.Node.Hostname)
	assert.True(t, c.Node.Ephemeral)
	assert.Equal(t, "/var/lib/tailnode", c.Node.StateDir)
	assert.Equal(t, "tskey-from-env", c.Node.AuthKey)
	// An unchanged flag does not override the file.
	assert.Equal(t, ":2000", c.Listen.Address)
	assert.Equal(t, ModePool, c.Server.Mode)
	assert.Equal(t, HandlerEcho, c.Server.Handler)
	assert.Equal(t, 250*time.Millisecond, c.Server.IdleWait)
	assert.Equal(t, "file-secret", c.Status.JWTSecret)
	assert.NoError(t, c.Validate())
}

func TestLoad_PrefixedAuthKeyWins(t *testing.T) {
	t.Setenv("TAILNODE_NODE_AUTH_KEY", "tskey-prefixed")
	t.Setenv("TS_AUTHKEY", "tskey-conventional")

	c, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "tskey-prefixed", c.Node.AuthKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errorType error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad network", mutate: func(c *Config) { c.Listen.Network = "sctp" }, errorType: ErrInvalidNetwork},
		{name: "bad listen address", mutate: func(c *Config) { c.Listen.Address = "1999" }, errorType: ErrInvalidAddress},
		{name: "bad mode", mutate: func(c *Config) { c.Server.Mode = "forking" }, errorType: ErrInvalidMode},
		{name: "bad handler", mutate: func(c *Config) { c.Server.Handler = "upper" }, errorType: ErrInvalidHandler},
		{name: "status without secret", mutate: func(c *Config) { c.Status.Enabled = true }, errorType: ErrMissingSecret},
		{name: "status without auth", mutate: func(c *Config) {
			c.Status.Enabled = true
			c.Status.NoAuth = true
		}},
		{name: "bad health address", mutate: func(c *Config) {
			c.Health.Enabled = true
			c.Health.Address = "nowhere"
		}, errorType: ErrInvalidAddress},
		{name: "bad control url", mutate: func(c *Config) { c.Node.ControlURL = "controlplane" }, errorType: node.ErrInvalidControlURL},
		{name: "bad log fd", mutate: func(c *Config) { c.Node.LogFD = -3 }, errorType: node.ErrInvalidLogFD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.errorType == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.errorType)
		})
	}
}

func TestConfig_NodeConfig(t *testing.T) {
	c := Default()
	c.Node = NodeConfig{
		Ephemeral:  true,
		AuthKey:    "tskey",
		Hostname:   "echo",
		StateDir:   "/state",
		ControlURL: "https://control.example.com",
	}

	nc := c.NodeConfig()
	assert.True(t, nc.Ephemeral)
	assert.Equal(t, "tskey", nc.AuthKey)
	assert.Equal(t, "echo", nc.Hostname)
	assert.Equal(t, "/state", nc.Dir)
	assert.Equal(t, "https://control.example.com", nc.ControlURL)
	assert.Nil(t, nc.LogFD)

	c.Node.LogFD = -1
	nc = c.NodeConfig()
	require.NotNil(t, nc.LogFD)
	assert.Equal(t, -1, *nc.LogFD)
}
