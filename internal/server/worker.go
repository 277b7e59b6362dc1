package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/tailnode/internal/metrics"
	"github.com/rmacdonaldsmith/tailnode/internal/node"
)

// worker owns one accepted connection.
type worker struct {
	id        uint64
	conn      *node.Conn
	remote    string
	proc      Processor
	idleWait  time.Duration
	chunkSize int
	logger    *zap.Logger
	metrics   *metrics.Metrics

	started time.Time
	done    chan struct{}

	// Written before done is closed.
	reason ExitReason
	err    error
	ended  time.Time
}

func (w *worker) run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = w.conn.Close() })
	defer func() {
		stop()
		_ = w.conn.Close()
		if w.metrics != nil {
			w.metrics.ConnectionsActive.Dec()
		}
		w.ended = time.Now()
		close(w.done)
	}()

	w.reason, w.err = w.loop(ctx)
	w.logger.Debug("worker exiting",
		zap.Uint64("worker", w.id),
		zap.String("remote", w.remote),
		zap.Stringer("reason", w.reason),
		zap.Error(w.err))
}

// loop waits up to idleWait for each chunk. Silence for that long is taken
// as the end of the stream even if the peer is still connected.
func (w *worker) loop(ctx context.Context) (ExitReason, error) {
	buf := make([]byte, w.chunkSize)
	for {
		// A stream the peer has already closed may refuse a deadline. Read
		// still reports how it ended.
		if err := w.conn.SetReadDeadline(time.Now().Add(w.idleWait)); err != nil {
			w.logger.Debug("read deadline not set", zap.Uint64("worker", w.id), zap.Error(err))
		}

		n, err := w.conn.Read(buf)
		if n > 0 {
			if w.metrics != nil {
				w.metrics.BytesReceived.Add(float64(n))
			}
			if perr := w.proc.Process(w.conn, buf[:n]); perr != nil {
				if ctx.Err() != nil {
					return ExitCanceled, nil
				}
				return ExitError, perr
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return ExitClosed, nil
		case ctx.Err() != nil:
			return ExitCanceled, nil
		case isTimeout(err):
			return ExitIdle, nil
		default:
			return ExitError, err
		}
	}
}

func (w *worker) exit() Exit {
	return Exit{
		WorkerID: w.id,
		Remote:   w.remote,
		Reason:   w.reason,
		Err:      w.err,
		Started:  w.started,
		Ended:    w.ended,
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
