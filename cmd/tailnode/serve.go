package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/tailnode/internal/config"
	"github.com/rmacdonaldsmith/tailnode/internal/health"
	"github.com/rmacdonaldsmith/tailnode/internal/logging"
	"github.com/rmacdonaldsmith/tailnode/internal/metrics"
	"github.com/rmacdonaldsmith/tailnode/internal/node"
	"github.com/rmacdonaldsmith/tailnode/internal/server"
	"github.com/rmacdonaldsmith/tailnode/internal/statusapi"
	"github.com/rmacdonaldsmith/tailnode/internal/textcodec"
	"github.com/rmacdonaldsmith/tailnode/pkg/engine"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bring the node up and serve connections",
		Long: `Bring the node up and serve connections on its overlay address.

Without an auth key (--authkey, TS_AUTHKEY or node.auth_key) the node logs
an authorization URL and waits until it is visited.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer syncLogger(logger)
			return runServe(cmd.Context(), cfg, newEngine(), logger, cmd.OutOrStdout())
		},
	}

	addNodeFlags(cmd)
	f := cmd.Flags()
	f.String("network", "tcp", "Overlay network to listen on (tcp, udp)")
	f.String("listen", ":1999", "Overlay address to listen on")
	f.String("mode", config.ModeSequential, "Serving strategy (sequential, pool)")
	f.String("handler", config.HandlerPrint, "What to do with received bytes (print, echo)")
	f.Duration("idle-wait", server.DefaultIdleWait, "Pool mode: drop a connection after this long without data")
	f.Int("chunk-size", server.DefaultChunkSize, "Maximum bytes per read")
	f.String("encoding", textcodec.DefaultEncoding, "Text encoding used by the print handler")
	f.Bool("status", false, "Serve the local status API")
	f.String("status-addr", "127.0.0.1:8080", "Status API listen address")
	f.String("jwt-secret", "", "Secret for status API tokens")
	f.Bool("health", false, "Serve the gRPC health service")
	f.String("health-addr", "127.0.0.1:9090", "gRPC health service listen address")

	return cmd
}

// addNodeFlags registers the flags shared by every command that runs a node.
func addNodeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("hostname", "", "Hostname to register on the tailnet")
	f.String("authkey", "", "Auth key (default $TS_AUTHKEY)")
	f.String("state-dir", "", "Directory holding the node identity")
	f.String("control-url", "", "Coordination server URL")
	f.Bool("ephemeral", false, "Remove the node from the tailnet when it goes away")
	f.Int("log-fd", 0, "Send engine logs to this file descriptor, -1 to disable")
}

// counters is the part of a server the status API reports.
type counters interface {
	Stats() server.Stats
}

// serveState is what the status API observes.
type serveState struct {
	cfg     *config.Config
	node    *node.Node
	started time.Time
	srv     atomic.Pointer[counters]
}

func (r *serveState) status() statusapi.Status {
	st := statusapi.Status{
		Hostname:  r.cfg.Node.Hostname,
		State:     r.node.State().String(),
		Network:   r.cfg.Listen.Network,
		Listen:    r.cfg.Listen.Address,
		Mode:      r.cfg.Server.Mode,
		StartedAt: r.started,
	}
	if srv := r.srv.Load(); srv != nil {
		stats := (*srv).Stats()
		st.Accepted = stats.Accepted
		st.Active = stats.Active
	}
	return st
}

// runServe runs the node, its connection server and the optional local
// services until ctx is canceled or one of them fails.
func runServe(ctx context.Context, cfg *config.Config, eng engine.Engine, logger *zap.Logger, out io.Writer) error {
	printf(out, "🚀 Starting %s v%s\n", appName, appVersion)

	n, err := node.New(eng, node.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Warn("error closing node", zap.Error(err))
		}
	}()

	if cfg.Node.LogFD == 0 {
		if err := n.SetLogf(logging.Logf(logger)); err != nil {
			return err
		}
	}
	if err := cfg.NodeConfig().Apply(n); err != nil {
		return err
	}

	rt := &serveState{cfg: cfg, node: n, started: time.Now()}
	m := metrics.New()

	g, gctx := errgroup.WithContext(ctx)

	var hs *health.Server
	if cfg.Health.Enabled {
		l, err := net.Listen("tcp", cfg.Health.Address)
		if err != nil {
			return fmt.Errorf("health service: %w", err)
		}
		hs = health.NewServer(logger)
		g.Go(func() error { return hs.Serve(l) })
		g.Go(func() error {
			<-gctx.Done()
			hs.Stop()
			return nil
		})
	}

	if cfg.Status.Enabled {
		l, err := net.Listen("tcp", cfg.Status.Address)
		if err != nil {
			return fmt.Errorf("status API: %w", err)
		}
		api, err := statusapi.NewServer(rt.status, statusapi.Config{
			SecretKey: cfg.Status.JWTSecret,
			NoAuth:    cfg.Status.NoAuth,
			Logger:    logger,
			Metrics:   m,
		})
		if err != nil {
			_ = l.Close()
			return err
		}
		printf(out, "📊 Status API on http://%s\n", l.Addr())
		g.Go(func() error { return api.Serve(l) })
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return api.Stop(stopCtx)
		})
	}

	g.Go(func() error {
		defer m.SetNodeUp(false)
		if hs != nil {
			defer hs.SetServing(false)
		}
		return serveNode(gctx, rt, m, hs, logger, out)
	})

	return g.Wait()
}

// serveNode brings the node up, listens and runs the configured server.
func serveNode(ctx context.Context, rt *serveState, m *metrics.Metrics, hs *health.Server, logger *zap.Logger, out io.Writer) error {
	cfg := rt.cfg

	printf(out, "🔧 Bringing node up...\n")
	if err := rt.node.Up(ctx); err != nil {
		return err
	}
	m.SetNodeUp(true)

	ln, err := rt.node.Listen(cfg.Listen.Network, cfg.Listen.Address)
	if err != nil {
		return err
	}
	defer ln.Close()
	printf(out, "✅ Listening on %s %s\n", ln.Network(), ln.Addr())

	dec, err := textcodec.NewDecoder(cfg.Server.Encoding)
	if err != nil {
		return err
	}

	var proc interface {
		server.Handler
		server.Processor
	}
	switch cfg.Server.Handler {
	case config.HandlerEcho:
		proc = server.EchoHandler{}
	default:
		proc = server.NewPrintHandler(out, dec)
	}

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithIdleWait(cfg.Server.IdleWait),
		server.WithChunkSize(cfg.Server.ChunkSize),
	}

	var serve func(context.Context) error
	switch cfg.Server.Mode {
	case config.ModePool:
		p := server.NewPool(ln, proc, serverOpts...)
		var c counters = p
		rt.srv.Store(&c)
		serve = p.Serve
	default:
		s := server.NewSequential(ln, proc, serverOpts...)
		var c counters = s
		rt.srv.Store(&c)
		serve = s.Serve
	}

	if hs != nil {
		hs.SetServing(true)
	}
	logger.Info("serving", zap.String("mode", cfg.Server.Mode), zap.String("handler", cfg.Server.Handler))

	return serve(ctx)
}
