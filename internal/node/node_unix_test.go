//go:build unix

package node

import (
	"context"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/tailnode/internal/engine/memengine"
)

func TestNode_SetLogDescriptor(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	// The node takes ownership of the descriptor it is given.
	fd, err := syscall.Dup(int(w.Fd()))
	require.NoError(t, err)

	n, err := New(memengine.NewNetwork())
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.SetHostname("logger"))
	require.NoError(t, n.SetAuthKey("tskey-test"))
	require.NoError(t, n.SetLogDescriptor(fd))
	require.NoError(t, n.Up(context.Background()))

	buf := make([]byte, 256)
	k, err := r.Read(buf)
	require.NoError(t, err)
	line := string(buf[:k])
	assert.Contains(t, line, "tailnet up as")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestNode_CloseReleasesLogDescriptor(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	fd, err := syscall.Dup(int(w.Fd()))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	n, err := New(memengine.NewNetwork())
	require.NoError(t, err)
	require.NoError(t, n.SetHostname("logger"))
	require.NoError(t, n.SetAuthKey("tskey-test"))
	require.NoError(t, n.SetLogDescriptor(fd))
	require.NoError(t, n.Up(context.Background()))
	require.NoError(t, n.Close())

	// With the node's copy closed no writer is left, so the pipe drains to EOF.
	require.NoError(t, r.SetReadDeadline(time.Now().Add(2*time.Second)))
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), "tailnet up as")
}
