// Package tsnetengine runs tailnode nodes on tailscale.com/tsnet.
package tsnetengine

import (
	"context"
	"errors"
	"net"
	"sync"

	"tailscale.com/hostinfo"
	"tailscale.com/tsnet"
	"tailscale.com/types/logger"

	"github.com/rmacdonaldsmith/tailnode/pkg/engine"
)

// DefaultApp is the host info app tag reported to the control plane.
const DefaultApp = "tailnode"

var (
	_ engine.Engine   = (*Engine)(nil)
	_ engine.Instance = (*instance)(nil)
)

var setAppOnce sync.Once

// Engine allocates tsnet servers.
type Engine struct {
	// App is reported as the host info app; DefaultApp when empty.
	App string
}

// New returns an Engine with the default app tag.
func New() *Engine {
	return &Engine{App: DefaultApp}
}

// Create allocates an unstarted tsnet server. Nothing touches the network
// or the state directory until Up.
func (e *Engine) Create() (engine.Instance, error) {
	app := e.App
	if app == "" {
		app = DefaultApp
	}
	setAppOnce.Do(func() { hostinfo.SetApp(app) })
	return &instance{s: &tsnet.Server{}}, nil
}

type instance struct {
	s *tsnet.Server
}

func (i *instance) SetEphemeral(ephemeral bool) error {
	i.s.Ephemeral = ephemeral
	return nil
}

func (i *instance) SetAuthKey(key string) error {
	i.s.AuthKey = key
	return nil
}

func (i *instance) SetHostname(hostname string) error {
	i.s.Hostname = hostname
	return nil
}

func (i *instance) SetDir(dir string) error {
	i.s.Dir = dir
	return nil
}

func (i *instance) SetControlURL(url string) error {
	i.s.ControlURL = url
	return nil
}

// SetLogf sends backend logs to logf. UserLogf is left unset so that
// user-facing messages, such as the authorization URL, still reach stderr
// when logf discards everything.
func (i *instance) SetLogf(logf engine.Logf) error {
	if logf == nil {
		return errors.New("nil logf")
	}
	i.s.Logf = logger.Logf(logf)
	return nil
}

func (i *instance) Up(ctx context.Context) error {
	_, err := i.s.Up(ctx)
	return err
}

func (i *instance) Listen(network, addr string) (net.Listener, error) {
	return i.s.Listen(network, addr)
}

func (i *instance) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	return i.s.Dial(ctx, network, addr)
}

func (i *instance) Close() error {
	return i.s.Close()
}
