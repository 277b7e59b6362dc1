package server

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/tailnode/internal/node"
)

// Pool serves every connection on its own worker goroutine.
//
// Finished workers are reaped once per loop iteration, right before Accept,
// so under bursty arrivals Tracked can run ahead of the number of workers
// still alive until the next pass.
type Pool struct {
	ln     Listener
	proc   Processor
	opts   options
	reaper *Reaper

	nextID   atomic.Uint64
	accepted atomic.Int64
}

// NewPool returns a server that spawns a worker running proc for each
// connection accepted on ln.
func NewPool(ln Listener, proc Processor, opts ...Option) *Pool {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool{ln: ln, proc: proc, opts: o, reaper: NewReaper()}
}

// Serve runs the accept loop until ctx is canceled or Accept fails. Before
// returning it stops every worker, waits for them and reaps them.
func (p *Pool) Serve(ctx context.Context) error {
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer func() {
		cancelWorkers()
		p.reaper.Wait()
		p.Reap()
	}()

	stop := context.AfterFunc(ctx, func() { _ = p.ln.Close() })
	defer stop()

	for {
		p.Reap()

		conn, err := p.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if m := p.opts.metrics; m != nil {
				m.AcceptErrors.Inc()
			}
			return fmt.Errorf("accept: %w", err)
		}
		p.spawn(workerCtx, conn)
	}
}

func (p *Pool) spawn(ctx context.Context, conn *node.Conn) {
	w := &worker{
		id:        p.nextID.Add(1),
		conn:      conn,
		remote:    conn.RemoteAddr().String(),
		proc:      p.proc,
		idleWait:  p.opts.idleWait,
		chunkSize: p.opts.chunkSize,
		logger:    p.opts.logger,
		metrics:   p.opts.metrics,
		started:   time.Now(),
		done:      make(chan struct{}),
	}
	p.reaper.track(w)
	p.accepted.Add(1)

	if m := p.opts.metrics; m != nil {
		m.ConnectionsAccepted.Inc()
		m.ConnectionsActive.Inc()
		m.WorkersTracked.Set(float64(p.reaper.Tracked()))
	}
	p.opts.logger.Info("worker spawned", zap.Uint64("worker", w.id), zap.String("remote", w.remote))

	go w.run(ctx)
}

// Reap collects finished workers without blocking and returns their exits.
func (p *Pool) Reap() []Exit {
	exits := p.reaper.Reap()
	if m := p.opts.metrics; m != nil {
		for _, e := range exits {
			m.RecordReap(e.Reason.String(), e.Lifetime().Seconds())
		}
		m.WorkersTracked.Set(float64(p.reaper.Tracked()))
	}
	for _, e := range exits {
		p.opts.logger.Debug("worker reaped",
			zap.Uint64("worker", e.WorkerID),
			zap.Stringer("reason", e.Reason),
			zap.Duration("lifetime", e.Lifetime()))
	}
	return exits
}

// Tracked returns the number of workers not yet reaped.
func (p *Pool) Tracked() int { return p.reaper.Tracked() }

// Stats returns the current counters. Active counts tracked workers.
func (p *Pool) Stats() Stats {
	return Stats{Accepted: p.accepted.Load(), Active: int64(p.reaper.Tracked())}
}
