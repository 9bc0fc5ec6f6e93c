// Package luahost embeds a gopher-lua interpreter behind the operation
// scheduler and exposes one demonstration native resource, a store of named
// byte buffers, to scripts as asynchronous objects.
//
// The host wires the full stack together: a sched.Scheduler whose runtime
// thread owns the interpreter and all registry state, a worker pool running
// operation bodies, and a resource.Registry keyed by blob id whose wrappers
// are Lua tables. Scripts observe the scheduler's guarantees directly:
// operations on one blob run in submission order, one at a time; copyfrom
// waits for its source to go idle before starting; cancel is a signal that
// bodies observe rather than a queue purge.
//
// # Script API
//
//	local b = blobs.open("greeting")
//	b:write("hello", function(err, size) ... end)
//	b:read(function(err, data) ... end)
//
//	local c = blobs.open("copy")
//	c:copyfrom(b, function(err, size) ... end)
//
//	b:cancel()
//	blobs.stats(function(err, count, bytes) ... end)
//	blobs.flush()
//
// Callbacks run on the runtime thread after the operation's body has
// finished on a worker. err is nil on success and "canceled" when the
// body observed the record's token instead of doing its work.
//
// # Lifecycle
//
// A wrapper table dropped by the script (and collected by the garbage
// collector) retires its record and releases the backing buffer through the
// registry's destroy hook. Operations in flight hold the wrapper strongly,
// so a busy blob never disappears underneath its own callbacks.
//
// Host methods are safe from any goroutine; script execution, snapshots,
// and teardown all funnel through the runtime thread.
package luahost
