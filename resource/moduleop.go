package resource

import (
	"context"

	"github.com/wippyai/script-host/pin"
	"github.com/wippyai/script-host/sched"
)

// ModuleOperation is asynchronous work tied to a module rather than to any
// record: enumerations, global fences, bulk teardown. It follows the same
// create/schedule/complete contract as Operation, including the cleanup hook
// and runtime pinning, but it competes with nothing: no exclusivity, no
// queue, no dependencies. Its cancellation token is the registry-wide one,
// so Flush reaches module-level work too.
type ModuleOperation struct {
	owner    any
	ctx      context.Context
	pins     *pin.Counter
	callback any
	job      *sched.Job
	perform  func(ctx context.Context, m *ModuleOperation)
	cleanup  func(m *ModuleOperation)
}

// NewModuleOperation creates a module operation owned by owner. callback is
// retained until completion; perform and cleanup may each be nil.
func (r *Registry[W]) NewModuleOperation(owner any, callback any, perform func(context.Context, *ModuleOperation), cleanup func(*ModuleOperation)) *ModuleOperation {
	m := &ModuleOperation{
		owner:    owner,
		ctx:      r.ctx,
		pins:     r.pins,
		callback: callback,
		perform:  perform,
		cleanup:  cleanup,
	}
	r.pins.Pin()

	var body func()
	if perform != nil {
		body = func() { m.perform(m.ctx, m) }
	}
	m.job = r.sched.NewJob(body, m.complete)
	return m
}

// Owner returns the owning module identity.
func (m *ModuleOperation) Owner() any {
	return m.owner
}

// Callback returns the retained completion handler. Nil after completion.
func (m *ModuleOperation) Callback() any {
	return m.callback
}

// Context returns the registry-wide cancellation token.
func (m *ModuleOperation) Context() context.Context {
	return m.ctx
}

// Schedule starts the operation immediately; module operations never wait.
func (m *ModuleOperation) Schedule() {
	m.job.Start()
}

func (m *ModuleOperation) complete() {
	if m.cleanup != nil {
		m.cleanup(m)
	}
	m.callback = nil
	m.perform = nil
	m.cleanup = nil
	m.pins.Unpin()
}
