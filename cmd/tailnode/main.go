package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/tailnode/internal/config"
	"github.com/rmacdonaldsmith/tailnode/internal/engine/tsnetengine"
	"github.com/rmacdonaldsmith/tailnode/internal/logging"
	"github.com/rmacdonaldsmith/tailnode/pkg/engine"
)

const appName = "tailnode"

// appVersion is overridden at build time with -ldflags "-X main.appVersion=...".
var appVersion = "0.1.0"

// newEngine returns the engine nodes are created from.
var newEngine = func() engine.Engine { return tsnetengine.New() }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	code := exitCode(ctx, err, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// exitCode reports how the process ends. A signal is a clean shutdown
// whatever the command returned.
func exitCode(ctx context.Context, err error, stdout, stderr io.Writer) int {
	if ctx.Err() != nil {
		printf(stdout, "Shutting down...\n")
		return 0
	}
	if err != nil {
		printf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Join a tailnet as an embedded node and serve connections",
		Long: `tailnode joins a private tailnet as its own node, without a system-wide
client, and serves inbound TCP or UDP streams on its overlay address.
It can also dial peers, report status and mint status API tokens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "Log format (console, json)")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newDialCommand(opts))
	rootCmd.AddCommand(newTokenCommand(opts))
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// load reads the configuration for cmd and builds the logger it asks for.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// syncLogger flushes logger, ignoring the error stderr gives on some
// platforms.
func syncLogger(logger *zap.Logger) {
	if err := logger.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
