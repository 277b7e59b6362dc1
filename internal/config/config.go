// Package config loads tailnode settings from a YAML file, the environment
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rmacdonaldsmith/tailnode/internal/node"
)

// EnvPrefix prefixes every environment variable, e.g. TAILNODE_NODE_HOSTNAME.
const EnvPrefix = "TAILNODE"

// Server modes.
const (
	ModeSequential = "sequential"
	ModePool       = "pool"
)

// Connection handlers.
const (
	HandlerPrint = "print"
	HandlerEcho  = "echo"
)

var (
	ErrInvalidNetwork = errors.New("listen network must be tcp or udp")
	ErrInvalidAddress = errors.New("address must be host:port or :port")
	ErrInvalidMode    = errors.New("server mode must be sequential or pool")
	ErrInvalidHandler = errors.New("server handler must be print or echo")
	ErrMissingSecret  = errors.New("status API requires a JWT secret")
)

// Config is the full tailnode configuration.
type Config struct {
	Node   NodeConfig   `mapstructure:"node"`
	Listen ListenConfig `mapstructure:"listen"`
	Server ServerConfig `mapstructure:"server"`
	Status StatusConfig `mapstructure:"status"`
	Health HealthConfig `mapstructure:"health"`
	Log    LogConfig    `mapstructure:"log"`
}

// NodeConfig configures the embedded node.
type NodeConfig struct {
	Ephemeral  bool   `mapstructure:"ephemeral"`
	AuthKey    string `mapstructure:"auth_key"`
	Hostname   string `mapstructure:"hostname"`
	StateDir   string `mapstructure:"state_dir"`
	ControlURL string `mapstructure:"control_url"`
	// LogFD routes engine logs to a descriptor. 0 leaves them on the
	// application logger and -1 disables them.
	LogFD int `mapstructure:"log_fd"`
}

// ListenConfig is the overlay address the server binds.
type ListenConfig struct {
	Network string `mapstructure:"network"`
	Address string `mapstructure:"address"`
}

// ServerConfig selects how connections are served.
type ServerConfig struct {
	Mode      string        `mapstructure:"mode"`
	Handler   string        `mapstructure:"handler"`
	IdleWait  time.Duration `mapstructure:"idle_wait"`
	ChunkSize int           `mapstructure:"chunk_size"`
	Encoding  string        `mapstructure:"encoding"`
}

// StatusConfig configures the local HTTP status API.
type StatusConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Address   string        `mapstructure:"address"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	NoAuth    bool          `mapstructure:"no_auth"`
}

// HealthConfig configures the local gRPC health service.
type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.Listen.Network == "" {
		c.Listen.Network = "tcp"
	}
	if c.Listen.Address == "" {
		c.Listen.Address = ":1999"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = ModeSequential
	}
	if c.Server.Handler == "" {
		c.Server.Handler = HandlerPrint
	}
	if c.Server.IdleWait <= 0 {
		c.Server.IdleWait = 10 * time.Second
	}
	if c.Server.ChunkSize <= 0 {
		c.Server.ChunkSize = 2048
	}
	if c.Server.Encoding == "" {
		c.Server.Encoding = "utf-8"
	}
	if c.Status.Address == "" {
		c.Status.Address = "127.0.0.1:8080"
	}
	if c.Status.TokenTTL <= 0 {
		c.Status.TokenTTL = time.Hour
	}
	if c.Health.Address == "" {
		c.Health.Address = "127.0.0.1:9090"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.NodeConfig().Validate(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if c.Listen.Network != "tcp" && c.Listen.Network != "udp" {
		return fmt.Errorf("%w: %q", ErrInvalidNetwork, c.Listen.Network)
	}
	if err := validateAddress(c.Listen.Address); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if c.Server.Mode != ModeSequential && c.Server.Mode != ModePool {
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Server.Mode)
	}
	if c.Server.Handler != HandlerPrint && c.Server.Handler != HandlerEcho {
		return fmt.Errorf("%w: %q", ErrInvalidHandler, c.Server.Handler)
	}
	if c.Status.Enabled {
		if err := validateAddress(c.Status.Address); err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if c.Status.JWTSecret == "" && !c.Status.NoAuth {
			return ErrMissingSecret
		}
	}
	if c.Health.Enabled {
		if err := validateAddress(c.Health.Address); err != nil {
			return fmt.Errorf("health: %w", err)
		}
	}
	return nil
}

// NodeConfig converts the node section into the form the node package
// applies.
func (c *Config) NodeConfig() *node.Config {
	nc := &node.Config{
		Ephemeral:  c.Node.Ephemeral,
		AuthKey:    c.Node.AuthKey,
		Hostname:   c.Node.Hostname,
		Dir:        c.Node.StateDir,
		ControlURL: c.Node.ControlURL,
	}
	if c.Node.LogFD != 0 {
		nc.WithLogFD(c.Node.LogFD)
	}
	return nc
}

func validateAddress(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"ephemeral":   "node.ephemeral",
	"authkey":     "node.auth_key",
	"hostname":    "node.hostname",
	"state-dir":   "node.state_dir",
	"control-url": "node.control_url",
	"log-fd":      "node.log_fd",
	"network":     "listen.network",
	"listen":      "listen.address",
	"mode":        "server.mode",
	"handler":     "server.handler",
	"idle-wait":   "server.idle_wait",
	"chunk-size":  "server.chunk_size",
	"encoding":    "server.encoding",
	"status":      "status.enabled",
	"status-addr": "status.address",
	"jwt-secret":  "status.jwt_secret",
	"health":      "health.enabled",
	"health-addr": "health.address",
	"log-level":   "log.level",
	"log-format":  "log.format",
}

// Load reads the config file at path (if non-empty), then the environment,
// then any of the known flags present in flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setViperDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// TS_AUTHKEY is the conventional variable for tailnet auth keys.
	if err := v.BindEnv("node.auth_key", EnvPrefix+"_NODE_AUTH_KEY", "TS_AUTHKEY"); err != nil {
		return nil, fmt.Errorf("failed to bind auth key env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %q: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.SetDefaults()
	return &c, nil
}

// setViperDefaults registers every key so that environment variables are
// seen by Unmarshal.
func setViperDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("node.ephemeral", false)
	v.SetDefault("node.auth_key", "")
	v.SetDefault("node.hostname", "")
	v.SetDefault("node.state_dir", "")
	v.SetDefault("node.control_url", "")
	v.SetDefault("node.log_fd", 0)
	v.SetDefault("listen.network", d.Listen.Network)
	v.SetDefault("listen.address", d.Listen.Address)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.handler", d.Server.Handler)
	v.SetDefault("server.idle_wait", d.Server.IdleWait)
	v.SetDefault("server.chunk_size", d.Server.ChunkSize)
	v.SetDefault("server.encoding", d.Server.Encoding)
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.address", d.Status.Address)
	v.SetDefault("status.jwt_secret", "")
	v.SetDefault("status.token_ttl", d.Status.TokenTTL)
	v.SetDefault("status.no_auth", false)
	v.SetDefault("health.enabled", false)
	v.SetDefault("health.address", d.Health.Address)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
