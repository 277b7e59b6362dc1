package memengine

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upInstance(t *testing.T, nw *Network, hostname string) *Instance {
	t.Helper()

	created, err := nw.Create()
	require.NoError(t, err)
	inst := created.(*Instance)
	t.Cleanup(func() { _ = inst.Close() })

	require.NoError(t, inst.SetHostname(hostname))
	require.NoError(t, inst.SetAuthKey("tskey-test"))
	require.NoError(t, inst.Up(context.Background()))
	return inst
}

func TestNetwork_AssignsDistinctAddresses(t *testing.T) {
	nw := NewNetwork()
	a := upInstance(t, nw, "a")
	b := upInstance(t, nw, "b")

	assert.Equal(t, "100.64.0.1", a.Addr().String())
	assert.Equal(t, "100.64.0.2", b.Addr().String())
	assert.Len(t, nw.Instances(), 2)
}

func TestNetwork_FailCreate(t *testing.T) {
	nw := NewNetwork()
	boom := errors.New("boom")
	nw.FailCreate(boom)

	_, err := nw.Create()
	assert.ErrorIs(t, err, boom)

	nw.FailCreate(nil)
	_, err = nw.Create()
	assert.NoError(t, err)
}

func TestInstance_RejectedAuthKey(t *testing.T) {
	nw := NewNetwork()
	nw.RejectAuthKey("tskey-revoked")

	created, err := nw.Create()
	require.NoError(t, err)
	inst := created.(*Instance)
	require.NoError(t, inst.SetAuthKey("tskey-revoked"))

	assert.ErrorIs(t, inst.Up(context.Background()), ErrInvalidAuthKey)
	_, err = inst.Listen("tcp", ":80")
	assert.ErrorIs(t, err, ErrNotUp)
}

func TestInstance_AuthorizeReleasesUp(t *testing.T) {
	nw := NewNetwork()
	created, err := nw.Create()
	require.NoError(t, err)
	inst := created.(*Instance)
	require.NoError(t, inst.SetHostname("kiosk"))

	done := make(chan error, 1)
	go func() { done <- inst.Up(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("Up returned before authorization: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	nw.Authorize("kiosk")
	// A second Authorize for the same host is harmless.
	nw.Authorize("kiosk")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Up did not return after Authorize")
	}
}

func TestInstance_ListenBindsUntilClosed(t *testing.T) {
	nw := NewNetwork()
	inst := upInstance(t, nw, "echo")

	ln, err := inst.Listen("tcp", ":1999")
	require.NoError(t, err)
	assert.True(t, nw.Bound("tcp", "100.64.0.1:1999"))
	assert.False(t, nw.Bound("udp", "100.64.0.1:1999"))

	_, err = inst.Listen("tcp", "100.64.0.1:1999")
	assert.ErrorIs(t, err, ErrAddrInUse)

	require.NoError(t, ln.Close())
	assert.False(t, nw.Bound("tcp", "100.64.0.1:1999"))

	_, err = ln.Accept()
	assert.Error(t, err)
}

func TestNetwork_DialByHostname(t *testing.T) {
	nw := NewNetwork()
	server := upInstance(t, nw, "server")
	client := upInstance(t, nw, "client")

	ln, err := server.Listen("tcp", ":8080")
	require.NoError(t, err)
	defer ln.Close()

	out, err := client.Dial(context.Background(), "tcp", "server:8080")
	require.NoError(t, err)

	in, err := ln.Accept()
	require.NoError(t, err)
	assert.Equal(t, "100.64.0.1:8080", in.LocalAddr().String())
	assert.Equal(t, out.LocalAddr().String(), in.RemoteAddr().String())

	go func() {
		_, _ = out.Write([]byte("hello"))
		_ = out.Close()
	}()
	got, err := io.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestNetwork_DialRefused(t *testing.T) {
	nw := NewNetwork()
	upInstance(t, nw, "server")

	_, err := nw.Dial(context.Background(), "tcp", "server:1")
	assert.ErrorIs(t, err, ErrConnRefused)

	_, err = nw.Dial(context.Background(), "tcp", "nobody:1")
	assert.Error(t, err)
}

func TestInstance_CloseTwice(t *testing.T) {
	nw := NewNetwork()
	inst := upInstance(t, nw, "echo")

	ln, err := inst.Listen("tcp", ":1999")
	require.NoError(t, err)

	require.NoError(t, inst.Close())
	assert.ErrorIs(t, inst.Close(), ErrClosed)
	assert.Equal(t, 2, inst.CloseCalls())
	assert.False(t, nw.Bound("tcp", "100.64.0.1:1999"))

	_, err = ln.Accept()
	assert.Error(t, err)
	assert.ErrorIs(t, inst.SetHostname("late"), ErrClosed)
}
