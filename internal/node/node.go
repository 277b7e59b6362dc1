package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/tailnode/pkg/engine"
)

// State is the lifecycle state of a Node.
type State int

const (
	// StateCreated is the only state in which setters are accepted.
	StateCreated State = iota
	// StateStarting means bring-up has begun; configuration is frozen.
	StateStarting
	// StateUp means the node is authenticated and can listen.
	StateUp
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateUp:
		return "up"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Node owns one embedded engine instance and everything leased from it.
//
// Listeners and connections obtained from a Node are closed when the Node
// is closed. Closing them earlier is the caller's job.
type Node struct {
	mu       sync.Mutex
	inst     engine.Instance
	state    State
	upCancel context.CancelFunc // non-nil while Up is in flight

	listeners map[*Listener]struct{}
	conns     map[*Conn]struct{}

	logFile *os.File // owned; closed by Close
	logger  *zap.Logger
}

// Option configures a Node
type Option func(*Node)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// New allocates a node from eng. The node starts in StateCreated.
func New(eng engine.Engine, opts ...Option) (*Node, error) {
	if eng == nil {
		return nil, newError("create", ErrCreationFailed, errors.New("engine cannot be nil"))
	}

	inst, err := eng.Create()
	if err != nil {
		return nil, newError("create", ErrCreationFailed, err)
	}
	if inst == nil {
		return nil, newError("create", ErrCreationFailed, errors.New("engine returned no instance"))
	}

	n := &Node{
		inst:      inst,
		state:     StateCreated,
		listeners: make(map[*Listener]struct{}),
		conns:     make(map[*Conn]struct{}),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// State returns the current lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// configure runs set while holding the lock, only if the node has not
// started bring-up.
func (n *Node) configure(op string, set func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateCreated {
		return newError(op, ErrConfiguration, fmt.Errorf("node is %s", n.state))
	}
	if err := set(); err != nil {
		return newError(op, ErrConfiguration, err)
	}
	return nil
}

// SetEphemeral marks the node for removal once it disconnects.
func (n *Node) SetEphemeral(ephemeral bool) error {
	return n.configure("set_ephemeral", func() error { return n.inst.SetEphemeral(ephemeral) })
}

// SetAuthKey sets the key used for unattended authentication.
func (n *Node) SetAuthKey(key string) error {
	return n.configure("set_authkey", func() error { return n.inst.SetAuthKey(key) })
}

// SetHostname sets the name the node registers under.
func (n *Node) SetHostname(hostname string) error {
	return n.configure("set_hostname", func() error { return n.inst.SetHostname(hostname) })
}

// SetDir sets the state directory.
func (n *Node) SetDir(dir string) error {
	return n.configure("set_dir", func() error { return n.inst.SetDir(dir) })
}

// SetControlURL overrides the coordination server URL.
func (n *Node) SetControlURL(url string) error {
	return n.configure("set_control_url", func() error { return n.inst.SetControlURL(url) })
}

// SetLogf routes engine logs to logf.
func (n *Node) SetLogf(logf engine.Logf) error {
	return n.configure("set_logf", func() error {
		if logf == nil {
			return errors.New("log sink cannot be nil")
		}
		return n.inst.SetLogf(logf)
	})
}

// SetLogDescriptor routes engine logs to the open file descriptor fd.
// fd -1 disables engine logging. The node takes ownership of fd and closes
// it in Close.
func (n *Node) SetLogDescriptor(fd int) error {
	return n.configure("set_log_fd", func() error {
		if fd == -1 {
			if err := n.inst.SetLogf(engine.Discard); err != nil {
				return err
			}
			n.replaceLogFile(nil)
			return nil
		}
		if fd < 0 {
			return ErrInvalidLogFD
		}
		f := os.NewFile(uintptr(fd), "logfd")
		if f == nil {
			return fmt.Errorf("invalid log descriptor %d", fd)
		}
		var mu sync.Mutex
		err := n.inst.SetLogf(func(format string, args ...any) {
			line := fmt.Sprintf(format, args...)
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			mu.Lock()
			defer mu.Unlock()
			_, _ = f.WriteString(line)
		})
		if err != nil {
			_ = f.Close()
			return err
		}
		n.replaceLogFile(f)
		return nil
	})
}

// replaceLogFile swaps the owned log file, closing the previous one.
// Callers hold n.mu.
func (n *Node) replaceLogFile(f *os.File) {
	if n.logFile != nil {
		_ = n.logFile.Close()
	}
	n.logFile = f
}

// Up blocks until the node has authenticated and connected to the control
// plane. There is no internal timeout: without an auth key this waits for
// a human to visit the authorization URL. Cancel ctx or Close the node to
// give up. Failures are never retried here.
func (n *Node) Up(ctx context.Context) error {
	n.mu.Lock()
	switch {
	case n.state == StateUp:
		n.mu.Unlock()
		return nil
	case n.state == StateClosed:
		n.mu.Unlock()
		return newError("up", ErrBringUpFailed, errNodeClosed)
	case n.upCancel != nil:
		n.mu.Unlock()
		return newError("up", ErrBringUpFailed, errors.New("bring-up already in progress"))
	}
	ctx, cancel := context.WithCancel(ctx)
	n.upCancel = cancel
	n.state = StateStarting
	n.mu.Unlock()

	n.logger.Info("bringing node up")
	err := n.inst.Up(ctx)
	cancel()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.upCancel = nil

	if n.state == StateClosed {
		return newError("up", ErrBringUpFailed, errNodeClosed)
	}
	if err != nil {
		n.logger.Warn("bring-up failed", zap.Error(err))
		return newError("up", ErrBringUpFailed, err)
	}
	n.state = StateUp
	n.logger.Info("node is up")
	return nil
}

// Listen binds a listener on the overlay network. network is "tcp" or
// "udp"; addr is "host:port" or ":port".
func (n *Node) Listen(network, addr string) (*Listener, error) {
	if err := validateAddr(network, addr); err != nil {
		return nil, newError("listen", ErrListen, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateUp {
		return nil, newError("listen", ErrListen, fmt.Errorf("node is %s", n.state))
	}

	ln, err := n.inst.Listen(network, addr)
	if err != nil {
		return nil, newError("listen", ErrListen, err)
	}

	l := newListener(n, network, ln)
	n.listeners[l] = struct{}{}
	n.logger.Info("listening", zap.String("network", network), zap.String("addr", addr))
	return l, nil
}

// Dial opens an outbound connection to addr over the overlay network.
func (n *Node) Dial(ctx context.Context, network, addr string) (*Conn, error) {
	if err := validateAddr(network, addr); err != nil {
		return nil, newError("dial", ErrDial, err)
	}
	if s := n.State(); s != StateUp {
		return nil, newError("dial", ErrDial, fmt.Errorf("node is %s", s))
	}

	c, err := n.inst.Dial(ctx, network, addr)
	if err != nil {
		return nil, newError("dial", ErrDial, err)
	}

	conn := newConn(n, c)
	if !n.track(conn) {
		_ = c.Close()
		return nil, newError("dial", ErrDial, errNodeClosed)
	}
	return conn, nil
}

// Close releases the engine instance and closes every listener and
// connection derived from the node. It cancels an in-flight Up. Calling
// Close again is a no-op.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return nil
	}
	n.state = StateClosed
	if n.upCancel != nil {
		n.upCancel()
	}
	listeners := n.listeners
	conns := n.conns
	logFile := n.logFile
	n.listeners = nil
	n.conns = nil
	n.logFile = nil
	n.mu.Unlock()

	for l := range listeners {
		_ = l.Close()
	}
	for c := range conns {
		_ = c.Close()
	}

	n.logger.Info("closing node")
	err := n.inst.Close()
	if logFile != nil {
		_ = logFile.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to close engine instance: %w", err)
	}
	return nil
}

// track registers c so that Close can reach it. It reports false if the
// node is already closed.
func (n *Node) track(c *Conn) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateClosed {
		return false
	}
	n.conns[c] = struct{}{}
	return true
}

func (n *Node) forgetConn(c *Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, c)
}

func (n *Node) forgetListener(l *Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.listeners, l)
}

// validateAddr rejects unsupported networks and malformed addresses before
// they reach the engine.
func validateAddr(network, addr string) error {
	switch network {
	case "tcp", "udp":
	default:
		return fmt.Errorf("unsupported network %q", network)
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("malformed address %q: %w", addr, err)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("malformed port %q in %q", port, addr)
	}
	return nil
}
