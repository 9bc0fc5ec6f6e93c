// Package resource schedules asynchronous operations against native
// resources on behalf of an embedded script runtime.
//
// A Registry maps opaque native handles to Records. Each record remembers
// its script wrapper (weakly), its cancellation token, and its exclusivity
// state. Operations bound to a record execute at most one at a time, in FIFO
// order; operations may further declare that they must not start before
// other records have gone idle at least once.
//
// # Lifecycle
//
// Wrap a native handle and register it:
//
//	rec := registry.Add(wrapper, handle, module)
//
// Schedule work against it:
//
//	op := rec.NewOperation(callback,
//		func(ctx context.Context, op *resource.Operation[W]) {
//			// pool worker: native work; poll ctx for cancellation
//		},
//		func(op *resource.Operation[W]) {
//			// runtime thread: publish results before accounting runs
//		},
//	)
//	op.ScheduleWhenIdle()
//
// When the script drops the wrapper and the GC notices, the record retires
// itself on the runtime thread. Operations hold the wrapper strongly, so a
// record always outlives every operation bound to it; a record destroyed
// while busy is a caller-contract violation and panics.
//
// # Exclusivity and dependencies
//
// Schedule starts an operation unconditionally. ScheduleWhenIdle is the
// ordering-aware entry: the operation waits its turn in the record's FIFO,
// and first waits for every dependency record to have been idle at least
// once. Dependencies are expressed as synthetic wait operations that take a
// normal FIFO slot on the dependency, so "A went idle" and "A's queue
// advanced" are the same event and starvation cannot tell them apart. Idle
// once is the whole promise: a dependency may be busy again by the time the
// operation starts.
//
// # Cancellation
//
// Each record carries an independent token; the registry carries one more
// for module operations. Cancel and Flush only signal. Nothing is ever
// removed from a queue by cancellation; bodies observe their token and
// complete normally, which keeps the accounting exact.
//
// # Threading
//
// Registry and record state is confined to the runtime thread and carries no
// locks. Operation bodies run on pool workers and must not touch that state;
// completions, cleanup hooks, and queue advancement all run back on the
// runtime thread. One operation per record at a time also means a body never
// races another body on the same resource.
//
// # Pinning
//
// Every operation, synthetic ones included, pins the runtime between
// creation and completion. After any drained workload the pin counter is
// back where it started, which is what hosts wait on before tearing down.
package resource
