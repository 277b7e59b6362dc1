package server

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/tailnode/internal/node"
)

// Stats is a snapshot of server counters.
type Stats struct {
	Accepted int64 `json:"accepted"`
	Active   int64 `json:"active"`
}

// Sequential serves one connection at a time. Connection N+1 is not
// accepted until the handler for connection N has returned, so a slow
// peer holds up every other peer.
type Sequential struct {
	ln      Listener
	handler Handler
	opts    options

	accepted atomic.Int64
	active   atomic.Int64
}

// NewSequential returns a server that hands each connection accepted on ln
// to handler. A handler that is also a Processor is drained in chunks of
// WithChunkSize bytes instead of through its ServeConn. WithIdleWait only
// applies to Pool.
func NewSequential(ln Listener, handler Handler, opts ...Option) *Sequential {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if p, ok := handler.(Processor); ok {
		handler = Drain(p, o.chunkSize)
	}
	return &Sequential{ln: ln, handler: handler, opts: o}
}

// Serve runs the accept loop until ctx is canceled or Accept fails.
// Cancellation closes the listener and the connection being served, so a
// blocked Accept or Read returns promptly. On cancellation Serve returns
// ctx.Err().
func (s *Sequential) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if m := s.opts.metrics; m != nil {
				m.AcceptErrors.Inc()
			}
			return fmt.Errorf("accept: %w", err)
		}

		if err := s.handle(ctx, conn); err != nil {
			s.opts.logger.Warn("connection handler failed",
				zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Sequential) handle(ctx context.Context, conn *node.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	s.accepted.Add(1)
	s.active.Add(1)
	defer s.active.Add(-1)
	if m := s.opts.metrics; m != nil {
		m.ConnectionsAccepted.Inc()
		m.ConnectionsActive.Inc()
		defer m.ConnectionsActive.Dec()
	}

	remote := conn.RemoteAddr()
	s.opts.logger.Info("connection accepted", zap.Stringer("remote", remote))
	defer s.opts.logger.Info("connection closed", zap.Stringer("remote", remote))

	err := s.handler.ServeConn(ctx, conn)
	if err != nil && ctx.Err() == nil {
		if m := s.opts.metrics; m != nil {
			m.HandlerErrors.Inc()
		}
		return err
	}
	return nil
}

// Stats returns the current counters.
func (s *Sequential) Stats() Stats {
	return Stats{Accepted: s.accepted.Load(), Active: s.active.Load()}
}
