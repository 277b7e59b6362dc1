package main

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/tailnode/internal/config"
	"github.com/rmacdonaldsmith/tailnode/internal/logging"
	"github.com/rmacdonaldsmith/tailnode/internal/node"
	"github.com/rmacdonaldsmith/tailnode/pkg/engine"
)

func newDialCommand(opts *rootOptions) *cobra.Command {
	var network string

	cmd := &cobra.Command{
		Use:   "dial <host:port>",
		Short: "Connect to a tailnet peer and pipe stdin/stdout through it",
		Example: `  echo hello | tailnode dial --hostname probe echo:1999
  tailnode dial --network udp 100.64.0.7:5353`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer syncLogger(logger)
			return runDial(cmd.Context(), cfg, newEngine(), logger, network, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	addNodeFlags(cmd)
	cmd.Flags().StringVar(&network, "network", "tcp", "Network to dial (tcp, udp)")
	return cmd
}

// runDial brings a node up, connects to addr and copies in to the peer and
// the peer to out. It returns once the peer closes the stream.
func runDial(ctx context.Context, cfg *config.Config, eng engine.Engine, logger *zap.Logger, network, addr string, in io.Reader, out io.Writer) error {
	n, err := node.New(eng, node.WithLogger(logger))
	if err != nil {
		return err
	}
	defer n.Close()

	if cfg.Node.LogFD == 0 {
		if err := n.SetLogf(logging.Logf(logger)); err != nil {
			return err
		}
	}
	if err := cfg.NodeConfig().Apply(n); err != nil {
		return err
	}
	if err := n.Up(ctx); err != nil {
		return err
	}

	conn, err := n.Dial(ctx, network, addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logger.Info("connected", zap.Stringer("local", conn.LocalAddr()), zap.Stringer("remote", conn.RemoteAddr()))

	// Reading stdin may block past the peer closing; it is not waited for.
	go func() {
		if _, err := io.Copy(conn, in); err != nil && !errors.Is(err, node.ErrStream) {
			logger.Debug("stdin copy ended", zap.Error(err))
		}
	}()

	if _, err := io.Copy(out, conn); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
