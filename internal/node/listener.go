package node

import (
	"errors"
	"net"
	"sync"
)

// Listener is a bound overlay-network listener leased from a Node.
type Listener struct {
	node    *Node
	network string
	ln      net.Listener

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newListener(n *Node, network string, ln net.Listener) *Listener {
	return &Listener{
		node:    n,
		network: network,
		ln:      ln,
		closed:  make(chan struct{}),
	}
}

// Network returns "tcp" or "udp".
func (l *Listener) Network() string { return l.network }

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept blocks until a peer connects or the listener is closed. Once the
// listener is closed it returns ErrListenerClosed without blocking.
func (l *Listener) Accept() (*Conn, error) {
	if l.isClosed() {
		return nil, newError("accept", ErrListenerClosed, nil)
	}

	c, err := l.ln.Accept()
	if err != nil {
		if l.isClosed() || errors.Is(err, net.ErrClosed) {
			return nil, newError("accept", ErrListenerClosed, nil)
		}
		return nil, newError("accept", ErrAccept, err)
	}

	// A connection that raced with Close is never handed out.
	if l.isClosed() {
		_ = c.Close()
		return nil, newError("accept", ErrListenerClosed, nil)
	}

	conn := newConn(l.node, c)
	if !l.node.track(conn) {
		_ = c.Close()
		return nil, newError("accept", ErrListenerClosed, errNodeClosed)
	}
	return conn, nil
}

// Close releases the binding and wakes any blocked Accept. Only the first
// call reaches the engine; later calls return nil.
func (l *Listener) Close() error {
	first := false
	l.closeOnce.Do(func() {
		first = true
		close(l.closed)
		l.closeErr = l.ln.Close()
		l.node.forgetListener(l)
	})
	if !first {
		return nil
	}
	return l.closeErr
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}
