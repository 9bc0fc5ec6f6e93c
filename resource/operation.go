package resource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/script-host/sched"
)

// PerformFunc is an operation body. It runs on a pool worker with the
// record's cancellation token and must not touch registry, record, or
// script-visible state; results travel through the cleanup hook or the
// payload the closure captures.
type PerformFunc[W any] func(ctx context.Context, op *Operation[W])

// CleanupFunc is the type-specific completion hook. It runs on the runtime
// thread, exactly once, before the generic completion accounting, regardless
// of whether the body succeeded, failed, or observed cancellation.
type CleanupFunc[W any] func(op *Operation[W])

// Operation is one unit of asynchronous work bound to a record. For its
// whole lifetime it holds the script wrapper and completion callback
// strongly, pins the runtime, and counts against its record, so the record
// cannot be retired out from under it.
type Operation[W any] struct {
	record   *Record[W]
	wrapper  *W
	callback any
	job      *sched.Job
	deps     map[*Operation[W]]struct{}
	perform  PerformFunc[W]
	cleanup  CleanupFunc[W]
}

// NewOperation creates an operation against this record. callback is the
// script-side completion handler, retained until the operation completes;
// perform and cleanup may each be nil. Creation pins the runtime and
// captures a strong wrapper reference; an operation on a record whose
// wrapper is already collected panics, because callers must be holding the
// wrapper to schedule against it.
//
// The operation does not run until Schedule or ScheduleWhenIdle.
func (rec *Record[W]) NewOperation(callback any, perform PerformFunc[W], cleanup CleanupFunc[W]) *Operation[W] {
	wrapper := rec.wrapper.Value()
	if wrapper == nil {
		panic(fmt.Sprintf("resource: operation on %v after its wrapper was collected", rec.handle))
	}

	op := &Operation[W]{
		record:   rec,
		wrapper:  wrapper,
		callback: callback,
		perform:  perform,
		cleanup:  cleanup,
	}
	rec.registry.pins.Pin()

	var body func()
	if perform != nil {
		body = func() { op.perform(rec.ctx, op) }
	}
	op.job = rec.registry.sched.NewJob(body, op.complete)
	return op
}

// Record returns the record the operation is bound to.
func (op *Operation[W]) Record() *Record[W] {
	return op.record
}

// Wrapper returns the strong wrapper reference held for the operation's
// lifetime. Nil after completion.
func (op *Operation[W]) Wrapper() *W {
	return op.wrapper
}

// Callback returns the retained completion handler. Nil after completion.
func (op *Operation[W]) Callback() any {
	return op.callback
}

// Context returns the record's cancellation token, the same one the body
// receives.
func (op *Operation[W]) Context() context.Context {
	return op.record.ctx
}

// Schedule starts the operation unconditionally: the record's active count
// is incremented and the job begins. Callers use it when the record is known
// idle; the completion path uses it to start popped successors. Exclusivity
// is the caller's bargain here, which is why ScheduleWhenIdle exists.
func (op *Operation[W]) Schedule() {
	op.record.active++
	op.record.registry.scheduled++
	op.job.Start()
}

// ScheduleWhenIdle starts the operation once every record in deps has been
// idle at least once and the operation's own record is idle.
//
// Each busy dependency gets a synthetic wait operation scheduled onto it in
// ordinary FIFO position; when that wait operation runs, the dependency has
// drained once, and the blocked operation re-checks its eligibility. A
// dependency that is already idle is satisfied immediately. A dependency
// equal to the operation's own record panics: it could never come true and
// would park the operation forever.
//
// Being idle once is the whole contract. Dependencies may be busy again by
// the time the operation runs; this is a barrier, not a lock.
func (op *Operation[W]) ScheduleWhenIdle(deps ...*Record[W]) {
	for _, dep := range deps {
		if dep == op.record {
			panic(fmt.Sprintf("resource: operation on %v depends on its own record", op.record.handle))
		}
		if dep.active == 0 {
			continue
		}
		wait := dep.newWaitOperation(op)
		if op.deps == nil {
			op.deps = make(map[*Operation[W]]struct{})
		}
		op.deps[wait] = struct{}{}
		wait.ScheduleWhenIdle()
	}
	op.tryScheduleWhenIdle()
}

// newWaitOperation builds the synthetic operation that represents "rec went
// idle once" for blocked. It has no body and no callback; all its effect is
// in the cleanup hook, which unblocks the dependent operation before the
// generic completion runs.
func (rec *Record[W]) newWaitOperation(blocked *Operation[W]) *Operation[W] {
	var wait *Operation[W]
	wait = rec.NewOperation(nil, nil, func(*Operation[W]) {
		delete(blocked.deps, wait)
		blocked.tryScheduleWhenIdle()
	})
	Logger().Debug("wait operation created",
		zap.Any("dependency", rec.handle),
		zap.Any("blocked", blocked.record.handle))
	return wait
}

// tryScheduleWhenIdle is the exclusivity gate. While dependencies are
// outstanding it does nothing; each resolving dependency calls it again.
// Once free of dependencies the operation either starts (record idle) or
// parks at the tail of the record's FIFO, from where completion of the
// predecessor will start it.
func (op *Operation[W]) tryScheduleWhenIdle() {
	if len(op.deps) > 0 {
		return
	}
	rec := op.record
	if rec.active == 0 {
		op.Schedule()
	} else {
		rec.pending = append(rec.pending, op)
		Logger().Debug("operation queued",
			zap.Any("handle", rec.handle),
			zap.Int("depth", len(rec.pending)))
	}
}

// complete is the generic completion path, posted to the runtime thread by
// the job after the body returns. Exactly once per scheduled operation:
//
//  1. unresolved dependencies here mean the scheduling logic is broken, so
//     assert loudly;
//  2. the type-specific cleanup hook runs while the wrapper and callback are
//     still held;
//  3. the strong references drop, making the wrapper collectable again if
//     this was the last operation and the script has let go;
//  4. the record's active count falls, and the FIFO head (if any) starts;
//  5. the runtime unpins.
func (op *Operation[W]) complete() {
	if len(op.deps) != 0 {
		panic(fmt.Sprintf("resource: operation on %v completed with %d unresolved dependencies",
			op.record.handle, len(op.deps)))
	}

	if op.cleanup != nil {
		op.cleanup(op)
	}

	op.wrapper = nil
	op.callback = nil
	op.perform = nil
	op.cleanup = nil

	rec := op.record
	rec.active--
	if rec.active == 0 && len(rec.pending) > 0 {
		next := rec.pending[0]
		rec.pending[0] = nil
		rec.pending = rec.pending[1:]
		next.Schedule()
	}

	rec.registry.completed++
	rec.registry.pins.Unpin()
}
