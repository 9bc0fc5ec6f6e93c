package sched

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/script-host/errors"
)

// Scheduler owns the two execution contexts the operation machinery runs on:
// the runtime thread, a single goroutine that serializes every touch of
// script-visible and registry state, and a worker pool that executes job
// bodies. Both feed from unbounded FIFO queues; callers own flow control.
type Scheduler struct {
	runq     *queue
	workq    *queue
	workers  int
	closed   atomic.Bool
	runDone  chan struct{}
	poolDone chan struct{}
}

// New starts a scheduler with the given number of pool workers.
// workers <= 0 selects GOMAXPROCS.
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	s := &Scheduler{
		runq:     newQueue(),
		workq:    newQueue(),
		workers:  workers,
		runDone:  make(chan struct{}),
		poolDone: make(chan struct{}),
	}

	go s.runLoop()

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			s.workLoop()
		}()
	}
	go func() {
		wg.Wait()
		close(s.poolDone)
	}()

	Logger().Debug("scheduler started", zap.Int("workers", workers))
	return s
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int {
	return s.workers
}

// Post enqueues fn to run on the runtime thread. Calls observe FIFO order
// relative to other Posts. Post never blocks; after Close the function is
// dropped.
func (s *Scheduler) Post(fn func()) {
	if !s.runq.push(fn) {
		Logger().Debug("post after close dropped")
	}
}

// Do posts fn to the runtime thread and waits until it has run or ctx is
// done. The function still runs even if ctx expires first; only the wait is
// abandoned.
func (s *Scheduler) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.runq.push(func() {
		fn()
		close(done)
	}) {
		return errors.Closed(errors.PhaseSchedule, "scheduler")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit hands a job body to the worker pool.
func (s *Scheduler) submit(fn func()) bool {
	return s.workq.push(fn)
}

// Close stops intake and drains both queues: first the pool, so that every
// accepted body gets to post its completion, then the runtime thread. ctx
// bounds each wait; on expiry the remaining work is abandoned and the error
// says which stage timed out. Close is idempotent.
func (s *Scheduler) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	s.workq.close()
	select {
	case <-s.poolDone:
	case <-ctx.Done():
		err = multierr.Append(err, errors.Wrap(errors.PhaseClose, errors.KindTimeout, ctx.Err(), "worker pool drain"))
	}

	s.runq.close()
	select {
	case <-s.runDone:
	case <-ctx.Done():
		err = multierr.Append(err, errors.Wrap(errors.PhaseClose, errors.KindTimeout, ctx.Err(), "runtime thread drain"))
	}

	Logger().Debug("scheduler closed", zap.Error(err))
	return err
}

func (s *Scheduler) runLoop() {
	defer close(s.runDone)
	for {
		fn, ok := s.runq.pop()
		if !ok {
			return
		}
		fn()
	}
}

func (s *Scheduler) workLoop() {
	for {
		fn, ok := s.workq.pop()
		if !ok {
			return
		}
		fn()
	}
}

// queue is an unbounded FIFO of functions with close-and-drain semantics.
// pop blocks while the queue is open and empty; after close it keeps
// returning queued items until the queue is drained.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, fn)
	q.cond.Signal()
	return true
}

func (q *queue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
