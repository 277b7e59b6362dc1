package node

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrInvalidControlURL is returned when the control URL is not an
	// absolute http(s) URL.
	ErrInvalidControlURL = errors.New("control URL must be an absolute http or https URL")
	// ErrInvalidLogFD is returned for log descriptors below -1.
	ErrInvalidLogFD = errors.New("log descriptor must be -1 or a valid file descriptor")
)

// Config is the pre-bring-up configuration of a node. Empty strings and a
// nil LogFD mean "leave the engine default".
type Config struct {
	// Ephemeral removes the node from the tailnet once it disconnects.
	Ephemeral bool

	// AuthKey authenticates the node without user interaction. When empty
	// the engine logs an authorization URL and Up waits for it to be
	// visited.
	AuthKey string

	// Hostname is the name the node registers under.
	Hostname string

	// Dir holds the node's identity and keys between runs.
	Dir string

	// ControlURL overrides the coordination server.
	ControlURL string

	// LogFD receives engine logs; -1 disables engine logging.
	LogFD *int
}

// Validate checks the values that can be checked before the engine sees them.
func (c *Config) Validate() error {
	if c.ControlURL != "" {
		u, err := url.Parse(c.ControlURL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidControlURL, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidControlURL
		}
	}
	if c.LogFD != nil && *c.LogFD < -1 {
		return ErrInvalidLogFD
	}
	return nil
}

// WithAuthKey sets the auth key
func (c *Config) WithAuthKey(key string) *Config {
	c.AuthKey = key
	return c
}

// WithHostname sets the hostname
func (c *Config) WithHostname(hostname string) *Config {
	c.Hostname = hostname
	return c
}

// WithLogFD sets the log descriptor
func (c *Config) WithLogFD(fd int) *Config {
	c.LogFD = &fd
	return c
}

// Apply validates c and invokes the node setter for every configured value.
// It stops at the first rejected setter.
func (c *Config) Apply(n *Node) error {
	if err := c.Validate(); err != nil {
		return newError("configure", ErrConfiguration, err)
	}

	if c.Ephemeral {
		if err := n.SetEphemeral(true); err != nil {
			return err
		}
	}
	if c.AuthKey != "" {
		if err := n.SetAuthKey(c.AuthKey); err != nil {
			return err
		}
	}
	if c.Hostname != "" {
		if err := n.SetHostname(c.Hostname); err != nil {
			return err
		}
	}
	if c.Dir != "" {
		if err := n.SetDir(c.Dir); err != nil {
			return err
		}
	}
	if c.ControlURL != "" {
		if err := n.SetControlURL(c.ControlURL); err != nil {
			return err
		}
	}
	if c.LogFD != nil {
		if err := n.SetLogDescriptor(*c.LogFD); err != nil {
			return err
		}
	}
	return nil
}
