package memengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/rmacdonaldsmith/tailnode/pkg/engine"
)

var _ engine.Instance = (*Instance)(nil)

// Instance is one in-memory node.
type Instance struct {
	nw *Network

	mu         sync.Mutex
	ephemeral  bool
	authKey    string
	hostname   string
	dir        string
	controlURL string
	logf       engine.Logf

	authorized chan struct{}
	authDone   bool

	ip         netip.Addr
	up         bool
	closed     bool
	closeCalls int
	listeners  map[*listener]struct{}
}

// SetEphemeral records the ephemeral flag.
func (i *Instance) SetEphemeral(ephemeral bool) error {
	return i.set(func() { i.ephemeral = ephemeral })
}

// SetAuthKey records the auth key checked by Up.
func (i *Instance) SetAuthKey(key string) error {
	return i.set(func() { i.authKey = key })
}

// SetHostname sets the name peers dial.
func (i *Instance) SetHostname(hostname string) error {
	return i.set(func() { i.hostname = hostname })
}

// SetDir records the state directory.
func (i *Instance) SetDir(dir string) error {
	return i.set(func() { i.dir = dir })
}

// SetControlURL sets the URL shown in the authorization message.
func (i *Instance) SetControlURL(url string) error {
	return i.set(func() { i.controlURL = url })
}

// SetLogf sets the log sink.
func (i *Instance) SetLogf(logf engine.Logf) error {
	if logf == nil {
		return errors.New("nil logf")
	}
	return i.set(func() { i.logf = logf })
}

func (i *Instance) set(apply func()) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}
	apply()
	return nil
}

// Up authenticates the instance. Without an auth key it logs an
// authorization URL and waits for Network.Authorize or ctx.
func (i *Instance) Up(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	if i.up {
		i.mu.Unlock()
		return nil
	}
	key, logf, authorized := i.authKey, i.logf, i.authorized
	control := i.controlURL
	if control == "" {
		control = "https://controlplane.invalid"
	}
	name := i.hostname
	i.mu.Unlock()

	if key == "" {
		logf("To authenticate, visit:\n\n\t%s/a/%s\n", control, name)
		select {
		case <-authorized:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		i.nw.mu.Lock()
		rejected := i.nw.rejected[key]
		i.nw.mu.Unlock()
		if rejected {
			return fmt.Errorf("authenticate %q: %w", name, ErrInvalidAuthKey)
		}
	}

	ip := i.nw.allocAddr()

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}
	i.ip = ip
	i.up = true
	logf("tailnet up as %s (%s)", ip, name)
	return nil
}

// Listen binds network/addr. An empty host binds the instance address.
func (i *Instance) Listen(network, addr string) (net.Listener, error) {
	if network != "tcp" && network != "udp" {
		return nil, fmt.Errorf("unsupported network type %q", network)
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", portStr)
	}

	i.mu.Lock()
	closed, up, ip := i.closed, i.up, i.ip
	i.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !up {
		return nil, ErrNotUp
	}

	if host != "" {
		parsed, err := netip.ParseAddr(host)
		if err != nil {
			return nil, fmt.Errorf("listen on %q: host must be an IP address", addr)
		}
		if parsed != ip && !parsed.IsUnspecified() {
			return nil, fmt.Errorf("listen on %q: cannot assign requested address", addr)
		}
	}

	key := bindKey{network, netip.AddrPortFrom(ip, uint16(port))}
	l := &listener{
		inst:    i,
		key:     key,
		addr:    addrFor(network, key.addr),
		backlog: make(chan net.Conn, backlog),
		done:    make(chan struct{}),
	}
	// The network lock is never taken while holding the instance lock.
	if err := i.nw.bind(key, l); err != nil {
		return nil, err
	}

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		_ = l.Close()
		return nil, ErrClosed
	}
	i.listeners[l] = struct{}{}
	i.mu.Unlock()
	return l, nil
}

// Dial connects to addr from this instance's address.
func (i *Instance) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	i.mu.Lock()
	closed, up, ip := i.closed, i.up, i.ip
	i.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !up {
		return nil, ErrNotUp
	}
	return i.nw.dial(ctx, ip, network, addr)
}

// Close shuts the instance down. Unlike the node layer, a second Close
// reports ErrClosed.
func (i *Instance) Close() error {
	i.mu.Lock()
	i.closeCalls++
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	i.closed = true
	i.up = false
	listeners := i.listeners
	i.listeners = make(map[*listener]struct{})
	i.mu.Unlock()

	for l := range listeners {
		_ = l.Close()
	}
	return nil
}

func (i *Instance) forget(l *listener) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.listeners, l)
}

// Addr returns the overlay address assigned by Up.
func (i *Instance) Addr() netip.Addr {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ip
}

// Hostname returns the configured hostname.
func (i *Instance) Hostname() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.hostname
}

// Ephemeral reports whether the instance was marked ephemeral.
func (i *Instance) Ephemeral() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ephemeral
}

// Dir returns the configured state directory.
func (i *Instance) Dir() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dir
}

// ControlURL returns the configured control URL.
func (i *Instance) ControlURL() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.controlURL
}

// AuthKey returns the configured auth key.
func (i *Instance) AuthKey() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.authKey
}

// CloseCalls counts calls to Close, including repeated ones.
func (i *Instance) CloseCalls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closeCalls
}
