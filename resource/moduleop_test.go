package resource

import (
	"context"
	"testing"
	"time"
)

func TestModuleOperation_RunsAndReleases(t *testing.T) {
	s, pins, r := newRig()
	defer s.Close(context.Background())

	var m *ModuleOperation
	done := make(chan struct{})
	bodyRan := false

	onRuntime(t, s, func() {
		m = r.NewModuleOperation("sockets", "cb",
			func(ctx context.Context, m *ModuleOperation) {
				bodyRan = true
				if m.Callback() != "cb" {
					t.Error("callback not retained during body")
				}
			},
			func(m *ModuleOperation) {
				if m.Callback() != "cb" {
					t.Error("callback released before cleanup")
				}
				close(done)
			},
		)
		if m.Owner() != "sockets" {
			t.Errorf("Owner() = %v, want sockets", m.Owner())
		}
		m.Schedule()
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("module operation did not complete")
	}

	onRuntime(t, s, func() {
		if !bodyRan {
			t.Error("body never ran")
		}
		if m.Callback() != nil {
			t.Error("callback still held after completion")
		}
		if pins.Count() != 0 {
			t.Errorf("pins = %d after completion, want 0", pins.Count())
		}
	})
}

func TestModuleOperation_SharesRegistryToken(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	observed := make(chan error, 1)
	onRuntime(t, s, func() {
		m := r.NewModuleOperation(nil, nil,
			func(ctx context.Context, _ *ModuleOperation) {
				<-ctx.Done()
				observed <- ctx.Err()
			}, nil)
		m.Schedule()
		r.Flush()
	})

	select {
	case err := <-observed:
		if err != context.Canceled {
			t.Fatalf("body observed %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("flush did not reach the module operation's token")
	}
}

func TestModuleOperation_NoExclusivity(t *testing.T) {
	s, _, r := newRig()
	defer s.Close(context.Background())

	// Two bodies that each wait for the other prove module operations are
	// not serialized against anything.
	aStarted := make(chan struct{})
	bStarted := make(chan struct{})
	bothDone := make(chan struct{})
	remaining := 2

	onRuntime(t, s, func() {
		finish := func(*ModuleOperation) {
			remaining--
			if remaining == 0 {
				close(bothDone)
			}
		}
		r.NewModuleOperation(nil, nil, func(context.Context, *ModuleOperation) {
			close(aStarted)
			<-bStarted
		}, finish).Schedule()
		r.NewModuleOperation(nil, nil, func(context.Context, *ModuleOperation) {
			close(bStarted)
			<-aStarted
		}, finish).Schedule()
	})

	select {
	case <-bothDone:
	case <-time.After(5 * time.Second):
		t.Fatal("module operations serialized or deadlocked")
	}
}
