package luahost

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/script-host/errors"
	"github.com/wippyai/script-host/pin"
	"github.com/wippyai/script-host/resource"
	"github.com/wippyai/script-host/sched"
)

// Config carries host construction options. The zero value is usable.
type Config struct {
	// Workers sets the pool size for operation bodies. Zero or negative
	// means one worker per CPU.
	Workers int

	// OpDelay simulates native work latency inside operation bodies. Bodies
	// watch their cancellation token while waiting, so a signaled record
	// turns the remaining delay into an early return. Zero disables it.
	OpDelay time.Duration

	// Logger receives host events. nil disables logging.
	Logger *zap.Logger
}

// Host embeds a Lua interpreter behind a scheduler and exposes a blob store
// to scripts as asynchronous object operations. Interpreter access is
// confined to the scheduler's runtime thread; Host methods may be called
// from any goroutine.
type Host struct {
	logger  *zap.Logger
	sched   *sched.Scheduler
	pins    *pin.Counter
	objects *resource.Registry[lua.LTable]
	state   *lua.LState
	store   *blobStore
	delay   time.Duration
	closed  atomic.Bool
}

// New starts the scheduler, creates the interpreter, and installs the blobs
// module into its globals.
func New(cfg Config) (*Host, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Host{
		logger: logger,
		sched:  sched.New(cfg.Workers),
		pins:   pin.NewCounter(),
		state:  lua.NewState(),
		store:  newBlobStore(),
		delay:  cfg.OpDelay,
	}
	h.objects = resource.NewRegistry[lua.LTable](h.sched, h.pins)

	if err := h.sched.Do(context.Background(), func() {
		h.objects.OnDestroy(func(handle, _ any) {
			h.store.remove(handle.(uint64))
			h.logger.Debug("blob released", zap.Any("id", handle))
		})
		h.installBlobs()
	}); err != nil {
		h.sched.Close(context.Background())
		h.state.Close()
		return nil, err
	}
	h.logger.Debug("script host ready", zap.Int("workers", h.sched.Workers()))
	return h, nil
}

// RunString executes src on the runtime thread. Script failures come back
// as script errors; ctx bounds the wait for the runtime thread, not the
// script body itself.
func (h *Host) RunString(ctx context.Context, src string) error {
	return h.run(ctx, "inline script", func() error { return h.state.DoString(src) })
}

// RunFile executes the script at path on the runtime thread.
func (h *Host) RunFile(ctx context.Context, path string) error {
	return h.run(ctx, path, func() error { return h.state.DoFile(path) })
}

func (h *Host) run(ctx context.Context, what string, do func() error) error {
	var scriptErr error
	if err := h.sched.Do(ctx, func() { scriptErr = do() }); err != nil {
		return err
	}
	if scriptErr != nil {
		return errors.Script(what, scriptErr)
	}
	return nil
}

// Drain blocks until every outstanding operation has completed and its
// callback has been dispatched, or until ctx expires.
func (h *Host) Drain(ctx context.Context) error {
	if err := h.pins.Wait(ctx); err != nil {
		return errors.Wrap(errors.PhaseHost, errors.Classify(err), err, "drain interrupted with operations in flight")
	}
	return nil
}

// Stats is a point-in-time view of the host taken on the runtime thread.
type Stats struct {
	Blobs     []BlobStat
	Records   int
	Pins      int
	Scheduled uint64
	Completed uint64
	Workers   int
}

// BlobStat describes one live blob record.
type BlobStat struct {
	ID       uint64
	Name     string
	Size     int
	Active   int
	Queued   int
	Canceled bool
}

// Snapshot collects per-blob state and host counters. It executes on the
// runtime thread, so the view it returns is consistent with respect to
// script execution and completions.
func (h *Host) Snapshot(ctx context.Context) (*Stats, error) {
	st := &Stats{Workers: h.sched.Workers()}
	err := h.sched.Do(ctx, func() {
		st.Records = h.objects.Len()
		st.Scheduled = h.objects.Scheduled()
		st.Completed = h.objects.Completed()
		h.objects.Each(func(handle any, rec *resource.Record[lua.LTable]) bool {
			id := handle.(uint64)
			stat := BlobStat{
				ID:       id,
				Active:   rec.Active(),
				Queued:   rec.Queued(),
				Canceled: rec.Canceled(),
			}
			if name, size, ok := h.store.stat(id); ok {
				stat.Name, stat.Size = name, size
			}
			st.Blobs = append(st.Blobs, stat)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	st.Pins = h.pins.Count()
	sort.Slice(st.Blobs, func(i, j int) bool { return st.Blobs[i].ID < st.Blobs[j].ID })
	return st, nil
}

// Close tears the host down: signal every cancellation token, wait for
// outstanding operations, destroy the registry, stop the scheduler, and
// close the interpreter. Subsequent calls are no-ops.
//
// If ctx expires during the drain, the registry is left unclosed rather
// than destroyed busy, and the returned error says so.
func (h *Host) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs error
	errs = multierr.Append(errs, h.sched.Do(ctx, func() { h.objects.Flush() }))

	drained := h.Drain(ctx)
	errs = multierr.Append(errs, drained)
	if drained == nil {
		errs = multierr.Append(errs, h.sched.Do(ctx, func() { h.objects.Close() }))
	} else {
		h.logger.Warn("leaving registry open, operations still in flight", zap.Error(drained))
	}

	schedErr := h.sched.Close(ctx)
	errs = multierr.Append(errs, schedErr)
	if schedErr == nil {
		// Nothing can reach the interpreter once both queues have drained.
		h.state.Close()
	} else {
		h.logger.Warn("leaving interpreter open, scheduler not drained", zap.Error(schedErr))
	}
	return errs
}

// dispatch invokes a retained script callback on the runtime thread. A nil
// callback is allowed; errors raised inside the callback are logged, never
// propagated.
func (h *Host) dispatch(cb any, args ...lua.LValue) {
	fn, _ := cb.(*lua.LFunction)
	if fn == nil {
		return
	}
	if err := h.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		h.logger.Warn("completion callback failed", zap.Error(err))
	}
}

// simulate burns the configured operation latency and reports whether the
// token fired first, in which case the body should skip its work.
func (h *Host) simulate(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	if h.delay <= 0 {
		return false
	}
	t := time.NewTimer(h.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
