package server

import (
	"sort"
	"sync"
	"time"
)

// ExitReason says why a pool worker stopped.
type ExitReason int

const (
	// ExitClosed means the peer closed the stream.
	ExitClosed ExitReason = iota
	// ExitIdle means no data arrived within the idle wait. The peer may
	// still be connected; it is dropped anyway.
	ExitIdle
	// ExitError means a read or the processor failed.
	ExitError
	// ExitCanceled means the server shut down.
	ExitCanceled
)

func (r ExitReason) String() string {
	switch r {
	case ExitClosed:
		return "closed"
	case ExitIdle:
		return "idle"
	case ExitError:
		return "error"
	case ExitCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Exit is the recorded outcome of one worker.
type Exit struct {
	WorkerID uint64
	Remote   string
	Reason   ExitReason
	Err      error
	Started  time.Time
	Ended    time.Time
}

// Lifetime is how long the worker ran.
func (e Exit) Lifetime() time.Duration { return e.Ended.Sub(e.Started) }

// Reaper tracks running workers and collects the ones that have finished.
type Reaper struct {
	mu      sync.Mutex
	workers map[uint64]*worker
}

// NewReaper returns an empty registry.
func NewReaper() *Reaper {
	return &Reaper{workers: make(map[uint64]*worker)}
}

func (r *Reaper) track(w *worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.id] = w
}

// Reap removes every finished worker and returns their exits ordered by
// worker id. It never waits for a running worker.
func (r *Reaper) Reap() []Exit {
	r.mu.Lock()
	defer r.mu.Unlock()

	var exits []Exit
	for id, w := range r.workers {
		select {
		case <-w.done:
			exits = append(exits, w.exit())
			delete(r.workers, id)
		default:
		}
	}
	sort.Slice(exits, func(i, j int) bool { return exits[i].WorkerID < exits[j].WorkerID })
	return exits
}

// Tracked returns the number of workers not yet reaped, finished or not.
func (r *Reaper) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Wait blocks until every tracked worker has finished. It does not reap.
func (r *Reaper) Wait() {
	r.mu.Lock()
	pending := make([]*worker, 0, len(r.workers))
	for _, w := range r.workers {
		pending = append(pending, w)
	}
	r.mu.Unlock()

	for _, w := range pending {
		<-w.done
	}
}
