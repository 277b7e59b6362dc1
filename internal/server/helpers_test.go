package server

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/tailnode/internal/engine/memengine"
	"github.com/rmacdonaldsmith/tailnode/internal/node"
)

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// listen brings up a node called "echo" on a fresh network and listens on
// tcp :1999.
func listen(t *testing.T) (*memengine.Network, *node.Listener) {
	t.Helper()

	nw := memengine.NewNetwork()
	n, err := node.New(nw)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	require.NoError(t, (&node.Config{}).WithAuthKey("tskey-test").WithHostname("echo").Apply(n))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Up(ctx))

	ln, err := n.Listen("tcp", ":1999")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return nw, ln
}

func dial(t *testing.T, nw *memengine.Network) net.Conn {
	t.Helper()

	c, err := nw.Dial(context.Background(), "tcp", "echo:1999")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// serve runs fn in the background and returns a channel with its result.
func serve(fn func() error) <-chan error {
	errs := make(chan error, 1)
	go func() { errs <- fn() }()
	return errs
}

func waitErr(t *testing.T, errs <-chan error) error {
	t.Helper()

	select {
	case err := <-errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("server did not return")
		return nil
	}
}
