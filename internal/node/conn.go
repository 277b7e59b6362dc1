package node

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var _ net.Conn = (*Conn)(nil)

// Conn is one accepted or dialed byte stream.
//
// Read follows io.Reader: (0, io.EOF) means the peer closed and nothing is
// left. Deadline expiry is returned unwrapped so callers can test for
// os.ErrDeadlineExceeded. Any other failure, and any use after Close, is
// an ErrStream.
type Conn struct {
	node *Node
	c    net.Conn

	closeOnce sync.Once
	closed    atomic.Bool
}

func newConn(n *Node, c net.Conn) *Conn {
	return &Conn{node: n, c: c}
}

// Read reads at most len(p) bytes.
func (c *Conn) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, newError("read", ErrStream, net.ErrClosed)
	}

	n, err := c.c.Read(p)
	if err == nil || errors.Is(err, io.EOF) || isTimeout(err) {
		return n, err
	}
	if c.closed.Load() {
		return n, newError("read", ErrStream, net.ErrClosed)
	}
	return n, newError("read", ErrStream, err)
}

// ReadChunk returns between 0 and max bytes. An empty chunk with io.EOF
// means the peer closed.
func (c *Conn) ReadChunk(max int) ([]byte, error) {
	if max <= 0 {
		return nil, newError("read", ErrStream, fmt.Errorf("invalid chunk size %d", max))
	}
	buf := make([]byte, max)
	n, err := c.Read(buf)
	return buf[:n], err
}

// Write writes p to the peer.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, newError("write", ErrStream, net.ErrClosed)
	}

	n, err := c.c.Write(p)
	if err != nil && !isTimeout(err) {
		return n, newError("write", ErrStream, err)
	}
	return n, err
}

// Close closes the stream. Calling it again is a no-op.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.c.Close()
		if c.node != nil {
			c.node.forgetConn(c)
		}
	})
	return err
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }

// LocalAddr returns this end's overlay address.
func (c *Conn) LocalAddr() net.Addr { return c.c.LocalAddr() }

// RemoteAddr returns the peer's overlay address.
func (c *Conn) RemoteAddr() net.Addr { return c.c.RemoteAddr() }

// SetDeadline sets the read and write deadlines.
func (c *Conn) SetDeadline(t time.Time) error { return c.c.SetDeadline(t) }

// SetReadDeadline sets the read deadline. An expired deadline fails Read
// with os.ErrDeadlineExceeded and leaves the stream open.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.c.SetReadDeadline(t) }

// SetWriteDeadline sets the write deadline.
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.c.SetWriteDeadline(t) }

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
