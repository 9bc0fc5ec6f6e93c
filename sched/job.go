package sched

import "sync/atomic"

// Job pairs a body with a completion. Start runs the body on a pool worker
// and then posts the completion to the runtime thread, so the body always
// happens-before its completion and the completion always runs serialized
// with every other runtime-thread function.
//
// A nil body skips the pool: the completion is posted directly. Synthetic
// work that exists only for its completion-side effects uses this.
type Job struct {
	s        *Scheduler
	body     func()
	complete func()
	started  atomic.Bool
}

// NewJob binds body and complete to this scheduler. Neither runs until
// Start.
func (s *Scheduler) NewJob(body, complete func()) *Job {
	return &Job{s: s, body: body, complete: complete}
}

// Start begins execution. It is one-shot; a second Start panics. If the
// scheduler is already closed the job is dropped whole: the body does not
// run, and neither does the completion, preserving the body-before-complete
// guarantee.
func (j *Job) Start() {
	if !j.started.CompareAndSwap(false, true) {
		panic("sched: job started twice")
	}
	if j.body == nil {
		if j.complete != nil {
			j.s.Post(j.complete)
		}
		return
	}
	if !j.s.submit(func() {
		j.body()
		if j.complete != nil {
			j.s.Post(j.complete)
		}
	}) {
		Logger().Debug("job start after close dropped")
	}
}
