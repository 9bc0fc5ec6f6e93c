package luahost

import (
	"context"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/script-host/resource"
)

// blob is one native resource: a named mutable byte buffer.
type blob struct {
	id   uint64
	name string
	data []byte
}

// blobStore is the native side of every blob. The registry orders operations
// per blob; the store's lock covers memory safety for accesses that run
// concurrently with bodies, such as snapshots, totals, and cross-blob reads.
type blobStore struct {
	mu     sync.RWMutex
	nextID uint64
	blobs  map[uint64]*blob
}

func newBlobStore() *blobStore {
	return &blobStore{blobs: make(map[uint64]*blob)}
}

func (st *blobStore) create(name string) *blob {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextID++
	b := &blob{id: st.nextID, name: name}
	st.blobs[b.id] = b
	return b
}

func (st *blobStore) get(id uint64) (*blob, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	b, ok := st.blobs[id]
	return b, ok
}

func (st *blobStore) remove(id uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.blobs, id)
}

func (st *blobStore) stat(id uint64) (name string, size int, ok bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	b, ok := st.blobs[id]
	if !ok {
		return "", 0, false
	}
	return b.name, len(b.data), true
}

// replace swaps the blob's contents and returns the new length.
func (st *blobStore) replace(b *blob, p []byte) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	b.data = append(b.data[:0:0], p...)
	return len(b.data)
}

// appendTo extends the blob and returns the new length.
func (st *blobStore) appendTo(b *blob, p []byte) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	b.data = append(b.data, p...)
	return len(b.data)
}

// snapshot copies the blob's contents out.
func (st *blobStore) snapshot(b *blob) []byte {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]byte(nil), b.data...)
}

// copy clones src's contents into dst and returns the byte count. Bodies
// capture both *blob pointers at schedule time, so the copy stays valid
// even if a record retires while the operation is in flight.
func (st *blobStore) copy(dst, src *blob) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	dst.data = append(dst.data[:0:0], src.data...)
	return len(dst.data)
}

// totals reports the blob count and summed contents size.
func (st *blobStore) totals() (count, bytes int) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	count = len(st.blobs)
	for _, b := range st.blobs {
		bytes += len(b.data)
	}
	return count, bytes
}

// installBlobs publishes the blobs module into the interpreter's globals.
// Runs once on the runtime thread during New.
func (h *Host) installBlobs() {
	L := h.state
	mod := L.NewTable()
	L.SetField(mod, "open", L.NewFunction(h.luaOpen))
	L.SetField(mod, "stats", L.NewFunction(h.luaStats))
	L.SetField(mod, "flush", L.NewFunction(h.luaFlush))
	L.SetGlobal("blobs", mod)
}

// luaOpen creates a blob, wraps it in a method table, and registers the
// wrapper so the record retires once the script lets go of it.
func (h *Host) luaOpen(L *lua.LState) int {
	name := L.CheckString(1)
	b := h.store.create(name)

	wrapper := L.NewTable()
	L.SetField(wrapper, "_id", lua.LNumber(b.id))
	L.SetField(wrapper, "write", L.NewFunction(h.luaWrite))
	L.SetField(wrapper, "append", L.NewFunction(h.luaAppend))
	L.SetField(wrapper, "read", L.NewFunction(h.luaRead))
	L.SetField(wrapper, "copyfrom", L.NewFunction(h.luaCopyFrom))
	L.SetField(wrapper, "cancel", L.NewFunction(h.luaCancel))
	L.SetField(wrapper, "id", L.NewFunction(h.luaID))
	L.SetField(wrapper, "size", L.NewFunction(h.luaSize))

	h.objects.Add(wrapper, b.id, "blobs")
	h.logger.Debug("blob opened", zap.Uint64("id", b.id), zap.String("name", name))
	L.Push(wrapper)
	return 1
}

// self resolves a method receiver back to its record and blob, raising a
// script error if the blob is gone.
func (h *Host) self(L *lua.LState) (*resource.Record[lua.LTable], *blob) {
	t := L.CheckTable(1)
	id := uint64(lua.LVAsNumber(L.GetField(t, "_id")))
	rec, ok := h.objects.Lookup(id)
	if !ok {
		L.RaiseError("blob %d is closed", id)
		return nil, nil
	}
	b, ok := h.store.get(id)
	if !ok {
		L.RaiseError("blob %d has no backing store", id)
		return nil, nil
	}
	return rec, b
}

// optCallback fetches an optional function argument.
func optCallback(L *lua.LState, n int) *lua.LFunction {
	if L.GetTop() < n || L.Get(n) == lua.LNil {
		return nil
	}
	return L.CheckFunction(n)
}

// retained converts an optional callback into the operation's retained
// reference, keeping the absence of one a nil interface.
func retained(fn *lua.LFunction) any {
	if fn == nil {
		return nil
	}
	return fn
}

func errValue(canceled bool) lua.LValue {
	if canceled {
		return lua.LString("canceled")
	}
	return lua.LNil
}

// luaWrite schedules an exclusive replace of the blob's contents.
// cb(err, size) runs on the runtime thread after the body finishes.
func (h *Host) luaWrite(L *lua.LState) int {
	rec, b := h.self(L)
	data := []byte(L.CheckString(2))
	cb := optCallback(L, 3)

	var n int
	var canceled bool
	op := rec.NewOperation(retained(cb),
		func(ctx context.Context, _ *resource.Operation[lua.LTable]) {
			if canceled = h.simulate(ctx); canceled {
				return
			}
			n = h.store.replace(b, data)
		},
		func(op *resource.Operation[lua.LTable]) {
			h.dispatch(op.Callback(), errValue(canceled), lua.LNumber(n))
		},
	)
	op.ScheduleWhenIdle()
	return 0
}

// luaAppend schedules an exclusive append. cb(err, size) as for write.
func (h *Host) luaAppend(L *lua.LState) int {
	rec, b := h.self(L)
	data := []byte(L.CheckString(2))
	cb := optCallback(L, 3)

	var n int
	var canceled bool
	op := rec.NewOperation(retained(cb),
		func(ctx context.Context, _ *resource.Operation[lua.LTable]) {
			if canceled = h.simulate(ctx); canceled {
				return
			}
			n = h.store.appendTo(b, data)
		},
		func(op *resource.Operation[lua.LTable]) {
			h.dispatch(op.Callback(), errValue(canceled), lua.LNumber(n))
		},
	)
	op.ScheduleWhenIdle()
	return 0
}

// luaRead schedules an exclusive read. cb(err, data) receives a copy of the
// contents.
func (h *Host) luaRead(L *lua.LState) int {
	rec, b := h.self(L)
	cb := optCallback(L, 2)

	var data []byte
	var canceled bool
	op := rec.NewOperation(retained(cb),
		func(ctx context.Context, _ *resource.Operation[lua.LTable]) {
			if canceled = h.simulate(ctx); canceled {
				return
			}
			data = h.store.snapshot(b)
		},
		func(op *resource.Operation[lua.LTable]) {
			h.dispatch(op.Callback(), errValue(canceled), lua.LString(data))
		},
	)
	op.ScheduleWhenIdle()
	return 0
}

// luaCopyFrom schedules a copy into the receiver that will not begin until
// the source record has gone idle at least once. The barrier is one-shot,
// not a lock; scripts serialize their own writes against a pending copy.
func (h *Host) luaCopyFrom(L *lua.LState) int {
	rec, b := h.self(L)
	srcTable := L.CheckTable(2)
	srcID := uint64(lua.LVAsNumber(L.GetField(srcTable, "_id")))
	cb := optCallback(L, 3)

	if srcID == b.id {
		L.RaiseError("blob %d: cannot copy from itself", b.id)
		return 0
	}
	srcRec, ok := h.objects.Lookup(srcID)
	if !ok {
		L.RaiseError("blob %d is closed", srcID)
		return 0
	}
	src, ok := h.store.get(srcID)
	if !ok {
		L.RaiseError("blob %d has no backing store", srcID)
		return 0
	}

	var n int
	var canceled bool
	op := rec.NewOperation(retained(cb),
		func(ctx context.Context, _ *resource.Operation[lua.LTable]) {
			if canceled = h.simulate(ctx); canceled {
				return
			}
			n = h.store.copy(b, src)
		},
		func(op *resource.Operation[lua.LTable]) {
			h.dispatch(op.Callback(), errValue(canceled), lua.LNumber(n))
		},
	)
	op.ScheduleWhenIdle(srcRec)
	return 0
}

// luaCancel signals the blob's token and reports whether the record was
// found. Queued operations still run; bodies decide what the signal means.
func (h *Host) luaCancel(L *lua.LState) int {
	_, b := h.self(L)
	L.Push(lua.LBool(h.objects.Cancel(b.id)))
	return 1
}

func (h *Host) luaID(L *lua.LState) int {
	_, b := h.self(L)
	L.Push(lua.LNumber(b.id))
	return 1
}

// luaSize reads the current size directly; it is a runtime-thread accessor,
// not an operation, so it never queues behind pending work.
func (h *Host) luaSize(L *lua.LState) int {
	_, b := h.self(L)
	_, size, _ := h.store.stat(b.id)
	L.Push(lua.LNumber(size))
	return 1
}

// luaStats schedules a module operation reporting the store's totals.
// cb(err, count, bytes). Module operations skip exclusivity and run under
// the registry-wide token.
func (h *Host) luaStats(L *lua.LState) int {
	cb := optCallback(L, 1)

	var count, bytes int
	var canceled bool
	m := h.objects.NewModuleOperation("blobs", retained(cb),
		func(ctx context.Context, _ *resource.ModuleOperation) {
			if canceled = h.simulate(ctx); canceled {
				return
			}
			count, bytes = h.store.totals()
		},
		func(m *resource.ModuleOperation) {
			h.dispatch(m.Callback(), errValue(canceled), lua.LNumber(count), lua.LNumber(bytes))
		},
	)
	m.Schedule()
	return 0
}

// luaFlush signals every record token plus the registry token.
func (h *Host) luaFlush(L *lua.LState) int {
	h.objects.Flush()
	return 0
}
