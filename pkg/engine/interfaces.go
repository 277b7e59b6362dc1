package engine

import (
	"context"
	"io"
	"net"
)

// Logf is a printf-style log sink.
type Logf func(format string, args ...any)

// Discard is a Logf that drops everything.
func Discard(string, ...any) {}

// Engine allocates embedded node instances.
type Engine interface {
	// Create allocates a new, unconfigured instance.
	Create() (Instance, error)
}

// Instance is a single embedded node.
//
// The setters are only meaningful before Up is first called. Callers are
// expected to enforce that; implementations may reject late calls too.
type Instance interface {
	io.Closer

	// SetEphemeral marks the node for removal from the tailnet once it
	// disconnects.
	SetEphemeral(ephemeral bool) error

	// SetAuthKey sets the key used for unattended authentication.
	SetAuthKey(key string) error

	// SetHostname sets the name the node registers under.
	SetHostname(hostname string) error

	// SetDir sets the directory holding node identity and keys.
	SetDir(dir string) error

	// SetControlURL overrides the coordination server URL.
	SetControlURL(url string) error

	// SetLogf sets where engine log lines go, including the interactive
	// authorization URL when no auth key was configured.
	SetLogf(logf Logf) error

	// Up blocks until the node is authenticated and connected to the
	// control plane, or ctx is done.
	Up(ctx context.Context) error

	// Listen announces on the overlay network. network is "tcp" or "udp".
	Listen(network, addr string) (net.Listener, error)

	// Dial connects to addr on the overlay network.
	Dial(ctx context.Context, network, addr string) (net.Conn, error)
}
