package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/tailnode/internal/metrics"
)

const (
	// DefaultChunkSize bounds a single read.
	DefaultChunkSize = 2048
	// DefaultIdleWait is how long a pool worker waits for data before it
	// assumes the peer is gone.
	DefaultIdleWait = 10 * time.Second
)

type options struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	idleWait  time.Duration
	chunkSize int
}

func defaultOptions() options {
	return options{
		logger:    zap.NewNop(),
		idleWait:  DefaultIdleWait,
		chunkSize: DefaultChunkSize,
	}
}

// Option configures a Sequential or Pool server.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records server activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithIdleWait sets the pool worker read wait. Sequential ignores it.
// Non-positive values keep the default.
func WithIdleWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleWait = d
		}
	}
}

// WithChunkSize sets the maximum bytes per read. Non-positive values keep
// the default.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}
