// Package scripthost schedules asynchronous operations against script-owned
// native resources.
//
// Scripts hold lightweight wrapper objects for native resources (sockets,
// files, buffers). Operations on one resource run strictly in submission
// order, one at a time, while different resources proceed in parallel on a
// worker pool. Completions, script callbacks, and all bookkeeping re-enter a
// single runtime thread, so no registry or record state is ever locked.
//
// # Architecture Overview
//
// The module is organized into focused packages:
//
//	scripthost/          Root package documentation
//	├── sched/           Runtime thread, worker pool, and the job pipeline
//	├── pin/             Keep-alive counter tying host lifetime to pending work
//	├── resource/        Registry of records: exclusivity, FIFO queues, weak
//	│                    wrappers, dependency barriers, cancellation tokens
//	├── errors/          Structured error types for host boundaries
//	├── luahost/         gopher-lua host exposing a blob store to scripts
//	└── cmd/run/         CLI runner with an interactive monitor
//
// # Quick Start
//
// Run a script against the embedded host:
//
//	host, err := luahost.New(luahost.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Close(ctx)
//
//	err = host.RunString(ctx, `
//	    local b = blobs.open("greeting")
//	    b:write("hello", function(err, n) print("wrote", n) end)
//	`)
//	host.Drain(ctx)
//
// # Guarantees
//
// Per-resource exclusivity: at most one operation executes against a record
// at any instant; the rest wait in a FIFO queue.
//
// Dependencies: an operation scheduled with dependencies does not begin
// until each dependency has been observed idle at least once. The barrier is
// one-shot, not a lock.
//
// Cancellation is cooperative: cancelling a record signals its token and
// nothing else. Queued operations still run; bodies decide what the signal
// means.
//
// Liveness: operations hold their wrapper strongly, so the garbage collector
// can only retire records that are idle with empty queues. A live script
// reference or an in-flight operation both keep the record alive.
package scripthost
