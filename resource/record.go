package resource

import (
	"context"
	"fmt"
	"runtime"
	"weak"
)

// Record is the registry's view of one live resource: the native handle, a
// weak reference to the script wrapper, the record's cancellation token, and
// the exclusivity state (how many operations are executing, and the FIFO of
// operations waiting their turn).
//
// Records are confined to the runtime thread like the registry that owns
// them.
type Record[W any] struct {
	registry *Registry[W]
	handle   any
	owner    any
	wrapper  weak.Pointer[W]
	release  runtime.Cleanup
	ctx      context.Context
	cancel   context.CancelFunc
	active   int
	pending  []*Operation[W]
}

// Handle returns the native handle the record was registered under.
func (rec *Record[W]) Handle() any {
	return rec.handle
}

// Owner returns the owning module identity passed to Add.
func (rec *Record[W]) Owner() any {
	return rec.owner
}

// Context returns the record's cancellation token. Operation bodies receive
// it; Cancel and Flush cancel it.
func (rec *Record[W]) Context() context.Context {
	return rec.ctx
}

// Canceled reports whether the record's token has been signaled.
func (rec *Record[W]) Canceled() bool {
	return rec.ctx.Err() != nil
}

// Active returns the number of operations currently executing against the
// record. The exclusivity discipline keeps this at 0 or 1 for user-visible
// work; it counts synthetic wait operations too.
func (rec *Record[W]) Active() int {
	return rec.active
}

// Queued returns the number of operations parked in the record's FIFO.
func (rec *Record[W]) Queued() int {
	return len(rec.pending)
}

// Wrapper returns a strong reference to the script wrapper, or false if the
// GC has already collected it.
func (rec *Record[W]) Wrapper() (*W, bool) {
	w := rec.wrapper.Value()
	return w, w != nil
}

// destroy finalizes a record on its way out of the registry. A record may
// only be destroyed when no operation references it; operations hold the
// wrapper strongly, so in correct usage the GC cannot retire a busy record
// and this panic marks a caller-contract violation (typically destroying a
// registry without draining it).
func (rec *Record[W]) destroy() {
	if rec.active != 0 || len(rec.pending) != 0 {
		panic(fmt.Sprintf("resource: record %v destroyed with %d active and %d queued operations",
			rec.handle, rec.active, len(rec.pending)))
	}
	rec.release.Stop()
	rec.cancel()
	if fn := rec.registry.onDestroy; fn != nil {
		fn(rec.handle, rec.owner)
	}
}
