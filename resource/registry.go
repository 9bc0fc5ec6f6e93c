package resource

import (
	"context"
	"fmt"
	"runtime"
	"weak"

	"go.uber.org/zap"

	"github.com/wippyai/script-host/pin"
	"github.com/wippyai/script-host/sched"
)

// Registry tracks the records of script-visible resources of one wrapper
// type W. It maps opaque native handles to records, owns the registry-wide
// cancellation token consumed by module operations, and retires records when
// their wrappers become unreachable.
//
// Registry state is confined to the runtime thread. Every method except
// Context must be called there; external callers reach it through
// sched.Scheduler.Post or Do. No locks guard the map.
type Registry[W any] struct {
	sched     *sched.Scheduler
	pins      *pin.Counter
	ctx       context.Context
	cancel    context.CancelFunc
	records   map[any]*Record[W]
	onDestroy DestroyFunc
	closed    bool

	scheduled uint64 // record-bound operations started, including synthetic ones
	completed uint64 // record-bound operations finished
}

// DestroyFunc releases the native resource behind a destroyed record.
type DestroyFunc func(handle any, owner any)

// NewRegistry creates an empty registry bound to the scheduler and pin
// counter it will run operations against.
func NewRegistry[W any](s *sched.Scheduler, pins *pin.Counter) *Registry[W] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry[W]{
		sched:   s,
		pins:    pins,
		ctx:     ctx,
		cancel:  cancel,
		records: make(map[any]*Record[W]),
	}
}

// OnDestroy registers fn to run on the runtime thread whenever a record is
// destroyed, whether by wrapper collection or by Close, after the record's
// idle invariants have been checked. Owners use it to free the native
// resource behind the handle.
func (r *Registry[W]) OnDestroy(fn DestroyFunc) {
	r.onDestroy = fn
}

// Add registers a record for handle, owned by owner, wrapping the
// script-visible wrapper. The record holds wrapper weakly; when the GC finds
// it unreachable the record is retired on the runtime thread. The record
// gets a fresh independent cancellation token and starts idle with an empty
// queue.
//
// handle must be comparable and not currently registered; a duplicate live
// handle panics, as does a nil wrapper. Both are caller bugs.
func (r *Registry[W]) Add(wrapper *W, handle any, owner any) *Record[W] {
	if r.closed {
		panic("resource: Add on closed registry")
	}
	if wrapper == nil {
		panic("resource: Add with nil wrapper")
	}
	if _, ok := r.records[handle]; ok {
		panic(fmt.Sprintf("resource: handle %v already registered", handle))
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &Record[W]{
		registry: r,
		handle:   handle,
		owner:    owner,
		wrapper:  weak.Make(wrapper),
		ctx:      ctx,
		cancel:   cancel,
	}
	// The cleanup closure must not capture wrapper, only the key needed to
	// find the record again.
	rec.release = runtime.AddCleanup(wrapper, func(h any) {
		r.sched.Post(func() { r.retire(h) })
	}, handle)

	r.records[handle] = rec
	Logger().Debug("record added", zap.Any("handle", handle))
	return rec
}

// Lookup returns the record for handle. Unknown handles are an explicit
// not-found, never a panic.
func (r *Registry[W]) Lookup(handle any) (*Record[W], bool) {
	rec, ok := r.records[handle]
	return rec, ok
}

// Cancel signals the record's cancellation token. It does not remove queued
// operations or interrupt a running one; bodies observe the token and wind
// down on their own. Cancel reports false for an unknown handle.
func (r *Registry[W]) Cancel(handle any) bool {
	rec, ok := r.records[handle]
	if !ok {
		Logger().Debug("cancel of unknown handle", zap.Any("handle", handle))
		return false
	}
	rec.cancel()
	return true
}

// Flush signals every record's token and then the registry-wide token.
// Records stay registered and queued operations still run; this is the
// "stop soon" half of teardown, not the destructive half.
func (r *Registry[W]) Flush() {
	for _, rec := range r.records {
		rec.cancel()
	}
	r.cancel()
	Logger().Debug("registry flushed", zap.Int("records", len(r.records)))
}

// Close destroys every remaining record and cancels the registry token.
// Records must be idle with empty queues; destroying a busy record panics
// (callers flush and drain first). Close is idempotent, and the registry
// must not be used afterwards.
func (r *Registry[W]) Close() {
	if r.closed {
		return
	}
	r.closed = true
	for handle, rec := range r.records {
		delete(r.records, handle)
		rec.destroy()
	}
	r.cancel()
	Logger().Debug("registry closed")
}

// Context returns the registry-wide cancellation token. Module operations
// run under it; Flush and Close cancel it.
func (r *Registry[W]) Context() context.Context {
	return r.ctx
}

// Len returns the number of live records.
func (r *Registry[W]) Len() int {
	return len(r.records)
}

// Each calls fn for every record until fn returns false.
func (r *Registry[W]) Each(fn func(handle any, rec *Record[W]) bool) {
	for handle, rec := range r.records {
		if !fn(handle, rec) {
			return
		}
	}
}

// Scheduled returns the total number of record-bound operations started.
func (r *Registry[W]) Scheduled() uint64 {
	return r.scheduled
}

// Completed returns the total number of record-bound operations finished.
func (r *Registry[W]) Completed() uint64 {
	return r.completed
}

// retire drops the record for handle after its wrapper became unreachable.
// Runs on the runtime thread via the GC cleanup's post; the handle may
// legitimately be gone already if Close got there first.
func (r *Registry[W]) retire(handle any) {
	rec, ok := r.records[handle]
	if !ok {
		return
	}
	delete(r.records, handle)
	rec.destroy()
	Logger().Debug("record retired", zap.Any("handle", handle))
}
