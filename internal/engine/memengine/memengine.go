// Package memengine is an in-memory overlay network for tests.
//
// A Network hands out instances that behave like embedded tailnet nodes:
// they authenticate with an auth key (or wait for Authorize when none is
// set), get a 100.64.0.0/10 address, bind listeners and dial each other by
// address or hostname. Streams are net.Pipe pairs, so deadlines work and
// closing one end is seen as EOF by the other. UDP listeners carry streams
// too; datagram semantics are not modeled.
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

const backlog = 16

var (
	// ErrAddrInUse is returned by Listen when the address is already bound.
	ErrAddrInUse = errors.New("address already in use")
	// ErrConnRefused is returned by Dial when nothing listens on the address.
	ErrConnRefused = errors.New("connection refused")
	// ErrInvalidAuthKey is returned by Up for keys rejected with RejectAuthKey.
	ErrInvalidAuthKey = errors.New("invalid auth key")
	// ErrNotUp is returned by Listen and Dial before Up succeeds.
	ErrNotUp = errors.New("node is not up")
	// ErrClosed is returned by operations on a closed instance.
	ErrClosed = errors.New("instance is closed")
)

var _ engine.Engine = (*Network)(nil)

type bindKey struct {
	network string
	addr    netip.AddrPort
}

// Network is a shared in-memory tailnet.
type Network struct {
	mu        sync.Mutex
	nextHost  int
	nextPort  int
	createErr error
	rejected  map[string]bool
	bound     map[bindKey]*listener
	instances []*Instance
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		rejected: make(map[string]bool),
		bound:    make(map[bindKey]*listener),
	}
}

// FailCreate makes every following Create return err. A nil err restores
// normal behavior.
func (nw *Network) FailCreate(err error) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	nw.createErr = err
}

// RejectAuthKey makes Up fail for instances configured with key.
func (nw *Network) RejectAuthKey(key string) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	nw.rejected[key] = true
}

// Create allocates a new instance.
func (nw *Network) Create() (engine.Instance, error) {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	if nw.createErr != nil {
		return nil, nw.createErr
	}
	inst := &Instance{
		nw:         nw,
		logf:       engine.Discard,
		authorized: make(chan struct{}),
		listeners:  make(map[*listener]struct{}),
	}
	nw.instances = append(nw.instances, inst)
	return inst, nil
}

// Instances returns every instance created so far, in creation order.
func (nw *Network) Instances() []*Instance {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	return append([]*Instance(nil), nw.instances...)
}

// Authorize completes interactive authorization for every instance
// registered under hostname that is waiting in Up without an auth key.
func (nw *Network) Authorize(hostname string) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	for _, inst := range nw.instances {
		inst.mu.Lock()
		if inst.hostname == hostname && !inst.authDone {
			inst.authDone = true
			close(inst.authorized)
		}
		inst.mu.Unlock()
	}
}

// Bound reports whether something listens on network/addr.
func (nw *Network) Bound(network, addr string) bool {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return false
	}
	nw.mu.Lock()
	defer nw.mu.Unlock()
	_, ok := nw.bound[bindKey{network, ap}]
	return ok
}

// Dial connects to addr as an anonymous peer outside any instance.
func (nw *Network) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	return nw.dial(ctx, netip.MustParseAddr("100.100.100.100"), network, addr)
}

func (nw *Network) allocAddr() netip.Addr {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	nw.nextHost++
	return netip.AddrFrom4([4]byte{100, 64, byte(nw.nextHost >> 8), byte(nw.nextHost)})
}

func (nw *Network) bind(key bindKey, l *listener) error {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	if _, ok := nw.bound[key]; ok {
		return fmt.Errorf("listen %s %s: %w", key.network, key.addr, ErrAddrInUse)
	}
	nw.bound[key] = l
	return nil
}

func (nw *Network) unbind(key bindKey, l *listener) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	if nw.bound[key] == l {
		delete(nw.bound, key)
	}
}

// resolve turns a host into an instance address, accepting IP literals and
// the hostnames of up instances.
func (nw *Network) resolve(host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip, nil
	}
	nw.mu.Lock()
	defer nw.mu.Unlock()
	for _, inst := range nw.instances {
		inst.mu.Lock()
		name, ip, up := inst.hostname, inst.ip, inst.up
		inst.mu.Unlock()
		if up && name == host {
			return ip, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("lookup %s: no such host", host)
}

func (nw *Network) dial(ctx context.Context, from netip.Addr, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", portStr)
	}
	ip, err := nw.resolve(host)
	if err != nil {
		return nil, err
	}
	key := bindKey{network, netip.AddrPortFrom(ip, uint16(port))}

	nw.mu.Lock()
	l := nw.bound[key]
	nw.mu.Unlock()
	if l == nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, ErrConnRefused)
	}

	nw.mu.Lock()
	nw.nextPort++
	ephemeralPort := uint16(40000 + nw.nextPort%20000)
	nw.mu.Unlock()

	local := addrFor(network, netip.AddrPortFrom(from, ephemeralPort))
	remote := addrFor(network, key.addr)
	client, server := net.Pipe()

	select {
	case l.backlog <- &pipeConn{Conn: server, local: remote, remote: local}:
		return &pipeConn{Conn: client, local: local, remote: remote}, nil
	case <-l.done:
		_ = client.Close()
		_ = server.Close()
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, ErrConnRefused)
	case <-ctx.Done():
		_ = client.Close()
		_ = server.Close()
		return nil, ctx.Err()
	}
}

func addrFor(network string, ap netip.AddrPort) net.Addr {
	if network == "udp" {
		return net.UDPAddrFromAddrPort(ap)
	}
	return net.TCPAddrFromAddrPort(ap)
}

// pipeConn gives a net.Pipe end overlay addresses.
type pipeConn struct {
	net.Conn
	local, remote net.Addr
}

func (c *pipeConn) LocalAddr() net.Addr  { return c.local }
func (c *pipeConn) RemoteAddr() net.Addr { return c.remote }

type listener struct {
	inst    *Instance
	key     bindKey
	addr    net.Addr
	backlog chan net.Conn

	once sync.Once
	done chan struct{}
}

func (l *listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.backlog:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *listener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.inst.nw.unbind(l.key, l)
		l.inst.forget(l)
		for {
			select {
			case c := <-l.backlog:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return nil
}

func (l *listener) Addr() net.Addr { return l.addr }
