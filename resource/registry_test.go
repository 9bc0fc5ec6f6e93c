package resource

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/wippyai/script-host/pin"
	"github.com/wippyai/script-host/sched"
)

// wrapper stands in for a script-side wrapper object (a table, a JS object).
type wrapper struct {
	name string
}

func newRig() (*sched.Scheduler, *pin.Counter, *Registry[wrapper]) {
	s := sched.New(4)
	pins := pin.NewCounter()
	return s, pins, NewRegistry[wrapper](s, pins)
}

// onRuntime runs fn on the runtime thread and waits for it. Registry and
// record state may only be touched there.
func onRuntime(t testing.TB, s *sched.Scheduler, fn func()) {
	t.Helper()
	if err := s.Do(context.Background(), fn); err != nil {
		t.Fatalf("runtime thread call failed: %v", err)
	}
}

// waitCond polls cond on the runtime thread until it holds or the deadline
// passes.
func waitCond(t testing.TB, s *sched.Scheduler, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ok := false
		onRuntime(t, s, func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", desc)
}

func TestRegistry_AddAndLookup(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	w := &wrapper{name: "listener"}
	onRuntime(t, s, func() {
		rec := r.Add(w, uint64(7), "socket")

		got, ok := r.Lookup(uint64(7))
		if !ok || got != rec {
			t.Error("lookup did not return the added record")
		}
		if rec.Handle() != uint64(7) {
			t.Errorf("Handle() = %v, want 7", rec.Handle())
		}
		if rec.Owner() != "socket" {
			t.Errorf("Owner() = %v, want socket", rec.Owner())
		}
		if rec.Active() != 0 || rec.Queued() != 0 {
			t.Errorf("fresh record active=%d queued=%d, want 0/0", rec.Active(), rec.Queued())
		}
		if rec.Canceled() {
			t.Error("fresh record reports canceled")
		}
		if got, ok := rec.Wrapper(); !ok || got != w {
			t.Error("Wrapper() did not return the live wrapper")
		}
		if r.Len() != 1 {
			t.Errorf("Len() = %d, want 1", r.Len())
		}
	})
}

func TestRegistry_LookupUnknown(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	onRuntime(t, s, func() {
		if _, ok := r.Lookup("nope"); ok {
			t.Error("lookup of unknown handle reported found")
		}
	})
}

func TestRegistry_Cancel(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	w := &wrapper{}
	onRuntime(t, s, func() {
		rec := r.Add(w, 1, nil)

		if !r.Cancel(1) {
			t.Error("cancel of known handle reported not found")
		}
		if !rec.Canceled() {
			t.Error("record token not canceled")
		}
		select {
		case <-rec.Context().Done():
		default:
			t.Error("record context not done after cancel")
		}

		// Cancellation never removes the record.
		if _, ok := r.Lookup(1); !ok {
			t.Error("canceled record disappeared from registry")
		}
		// Cancel is level-triggered; a second cancel still finds the record.
		if !r.Cancel(1) {
			t.Error("second cancel reported not found")
		}
	})
}

func TestRegistry_CancelUnknown(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	onRuntime(t, s, func() {
		if r.Cancel("ghost") {
			t.Error("cancel of unknown handle reported found")
		}
	})
}

func TestRegistry_FlushCancelsAllTokens(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	wa, wb := &wrapper{name: "a"}, &wrapper{name: "b"}
	onRuntime(t, s, func() {
		a := r.Add(wa, "a", nil)
		b := r.Add(wb, "b", nil)

		r.Flush()

		if !a.Canceled() || !b.Canceled() {
			t.Error("flush did not cancel every record token")
		}
		if r.Context().Err() == nil {
			t.Error("flush did not cancel the registry-wide token")
		}
		if r.Len() != 2 {
			t.Errorf("flush removed records: Len() = %d, want 2", r.Len())
		}
	})
}

func TestRegistry_CloseDestroysIdleRecords(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	wa, wb := &wrapper{}, &wrapper{}
	onRuntime(t, s, func() {
		a := r.Add(wa, 1, nil)
		r.Add(wb, 2, nil)

		r.Close()

		if r.Len() != 0 {
			t.Errorf("Len() after close = %d, want 0", r.Len())
		}
		if !a.Canceled() {
			t.Error("close did not cancel record token")
		}
		if r.Context().Err() == nil {
			t.Error("close did not cancel the registry token")
		}

		// Idempotent.
		r.Close()
	})
}

func TestRegistry_CloseBusyRecordPanics(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	release := make(chan struct{})
	defer close(release)

	w := &wrapper{}
	onRuntime(t, s, func() {
		rec := r.Add(w, 1, nil)
		op := rec.NewOperation(nil, func(ctx context.Context, _ *Operation[wrapper]) {
			<-release
		}, nil)
		op.ScheduleWhenIdle()
	})

	waitCond(t, s, "operation running", func() bool {
		rec, _ := r.Lookup(1)
		return rec.Active() == 1
	})

	var recovered any
	onRuntime(t, s, func() {
		defer func() { recovered = recover() }()
		r.Close()
	})
	if recovered == nil {
		t.Fatal("closing a registry with a busy record did not panic")
	}
}

func TestRegistry_AddDuplicateHandlePanics(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	wa, wb := &wrapper{}, &wrapper{}
	var recovered any
	onRuntime(t, s, func() {
		r.Add(wa, 1, nil)
		defer func() { recovered = recover() }()
		r.Add(wb, 1, nil)
	})
	if recovered == nil {
		t.Fatal("re-adding a live handle did not panic")
	}
}

func TestRegistry_AddNilWrapperPanics(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	var recovered any
	onRuntime(t, s, func() {
		defer func() { recovered = recover() }()
		r.Add(nil, 1, nil)
	})
	if recovered == nil {
		t.Fatal("adding a nil wrapper did not panic")
	}
}

func TestRegistry_WrapperCollectionRetiresRecord(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	var rec *Record[wrapper]
	func() {
		w := &wrapper{name: "short-lived"}
		onRuntime(t, s, func() {
			rec = r.Add(w, uint64(9), nil)
		})
	}()

	// No strong references remain; the GC cleanup should post retirement to
	// the runtime thread. Cleanups run asynchronously after collection, so
	// poll with explicit GC cycles.
	deadline := time.Now().Add(10 * time.Second)
	for {
		runtime.GC()
		var n int
		onRuntime(t, s, func() { n = r.Len() })
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("record was not retired after its wrapper became unreachable")
		}
		time.Sleep(10 * time.Millisecond)
	}

	onRuntime(t, s, func() {
		if !rec.Canceled() {
			t.Error("retired record's token was not canceled")
		}
		if _, ok := r.Lookup(uint64(9)); ok {
			t.Error("retired handle still resolves")
		}
	})
}

func TestRegistry_FlushThenCloseAfterDrain(t *testing.T) {
	s, pins, r := newRig()
	defer s.Close(context.Background())

	w := &wrapper{name: "flushed"}
	onRuntime(t, s, func() {
		rec := r.Add(w, "h", nil)
		for i := 0; i < 8; i++ {
			op := rec.NewOperation(nil,
				func(ctx context.Context, _ *Operation[wrapper]) {
					// Never looks at the token; completion must run anyway.
				},
				nil,
			)
			op.ScheduleWhenIdle()
		}
		r.Flush()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pins.Wait(ctx); err != nil {
		t.Fatalf("operations did not drain after flush: %v", err)
	}

	onRuntime(t, s, func() {
		r.Close()
		if r.Len() != 0 {
			t.Errorf("Len() = %d after Close, want 0", r.Len())
		}
	})
	runtime.KeepAlive(w)
}

func TestRegistry_OnDestroyReleasesHandles(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	released := make(map[any]int)
	onRuntime(t, s, func() {
		r.OnDestroy(func(handle, owner any) {
			released[handle]++
			if owner != "store" {
				t.Errorf("OnDestroy owner = %v, want store", owner)
			}
		})
	})

	// One record dies by collection, one by Close. Both must release their
	// handle exactly once.
	keep := &wrapper{name: "kept"}
	func() {
		w := &wrapper{name: "dropped"}
		onRuntime(t, s, func() {
			r.Add(w, "dropped", "store")
			r.Add(keep, "kept", "store")
		})
	}()

	deadline := time.Now().Add(10 * time.Second)
	for {
		runtime.GC()
		var n int
		onRuntime(t, s, func() { n = released["dropped"] })
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("collected record never released its handle")
		}
		time.Sleep(10 * time.Millisecond)
	}

	onRuntime(t, s, func() {
		r.Close()
		if released["dropped"] != 1 || released["kept"] != 1 {
			t.Errorf("release counts = %v, want exactly one per handle", released)
		}
	})
	runtime.KeepAlive(keep)
}

func TestRegistry_CloseBeforeCollectionIsSafe(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	func() {
		w := &wrapper{}
		onRuntime(t, s, func() {
			r.Add(w, 1, nil)
			r.Close()
		})
	}()

	// Dropping the wrapper after Close must not trip anything: destroy
	// stopped the GC cleanup, and retire tolerates missing handles anyway.
	runtime.GC()
	time.Sleep(20 * time.Millisecond)
	runtime.GC()

	onRuntime(t, s, func() {
		if r.Len() != 0 {
			t.Errorf("Len() = %d, want 0", r.Len())
		}
	})
}
