// Package sched provides the execution substrate the operation scheduler
// runs on: a single runtime thread plus a worker pool, tied together by the
// Job primitive.
//
// # Runtime thread
//
// One goroutine drains an unbounded FIFO of functions. Everything that
// touches registry, record, or script-visible state runs here, in Post
// order, with no other synchronization:
//
//	s := sched.New(4)
//	s.Post(func() { /* runtime-thread state is safe to touch */ })
//
// # Jobs
//
// A Job carries a body (native work, runs on a pool worker) and a
// completion (bookkeeping, runs on the runtime thread):
//
//	job := s.NewJob(
//		func() { /* worker: do the slow part */ },
//		func() { /* runtime thread: publish results, advance queues */ },
//	)
//	job.Start()
//
// The body happens-before the completion; each runs at most once. Bodies of
// different jobs race freely, so per-resource ordering is the caller's
// concern (the resource package provides it).
//
// # Queues
//
// Both queues are unbounded. The scheduler never applies backpressure;
// callers that need flow control build it above this layer.
//
// # Teardown
//
// Close stops intake, lets the pool finish accepted bodies, then drains the
// runtime thread. Posts and Starts that race with Close are dropped whole
// rather than half-run.
package sched
