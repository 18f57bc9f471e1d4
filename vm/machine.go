package vm

import "fmt"

// Machine is one embeddable scripting runtime handle: a value stack, a
// call-frame stack, a globals table, a registry table, and per-type
// metatables for non-aggregate types. The visitor spec treats two Machine
// values, H (host) and D (debugger), as pre-existing and independent (spec
// §1); Machine is what makes that concrete enough to exercise.
type Machine struct {
	Name string

	Stack   *Stack
	Frames  []*Frame
	Globals *Table
	Registry *Table

	typeMetatables [int(TypeThread) + 1]*Table

	gcBytes int64

	mainThread    *Thread
	currentThread *Thread
}

// NewMachine returns a fresh machine with empty globals and registry
// tables and a stack at the default height limit.
func NewMachine(name string) *Machine {
	m := &Machine{
		Name:     name,
		Stack:    NewStack(),
		Globals:  NewTable(),
		Registry: NewTable(),
	}
	m.mainThread = NewThread()
	m.mainThread.Status = ThreadRunning
	m.currentThread = m.mainThread
	return m
}

// CurrentThread returns the machine's currently running thread (the main
// thread unless a coroutine has been resumed into foreground).
func (m *Machine) CurrentThread() *Thread { return m.currentThread }

// MainThread returns the machine's main (non-coroutine) thread.
func (m *Machine) MainThread() *Thread { return m.mainThread }

// PushFrame appends f as the machine's new top call frame.
func (m *Machine) PushFrame(f *Frame) {
	m.Frames = append(m.Frames, f)
}

// PopFrame removes and returns the machine's top call frame, or nil if
// there is none.
func (m *Machine) PopFrame() *Frame {
	n := len(m.Frames)
	if n == 0 {
		return nil
	}
	f := m.Frames[n-1]
	m.Frames = m.Frames[:n-1]
	return f
}

// FrameAt returns the frame at level (0 = currently running), or nil if
// level is out of range. Matches the getinfo/getlocal level convention
// (spec §4.6).
func (m *Machine) FrameAt(level int) *Frame {
	n := len(m.Frames)
	idx := n - 1 - level
	if idx < 0 || idx >= n {
		return nil
	}
	return m.Frames[idx]
}

// Depth returns the number of active call frames.
func (m *Machine) Depth() int { return len(m.Frames) }

// GetMetatable returns v's metatable: its own, for an aggregate type
// (table or userdata), or the machine-wide synthetic metatable registered
// for v's type otherwise (spec §3.1, METATABLE segment on a non-aggregate
// value addresses this shared table, mirroring how a string or boolean
// metatable works in a C-embeddable VM).
func (m *Machine) GetMetatable(v Value) *Table {
	if v.Type().IsAggregate() {
		switch v.Type() {
		case TypeTable:
			return v.AsTable().Metatable()
		case TypeUserdata:
			return v.AsUserdata().Metatable()
		}
	}
	return m.typeMetatables[v.Type()]
}

// GetTypeMetatable returns the machine-wide shared metatable registered for
// t directly, with no value in hand — the building block a root METATABLE
// ref (one built by ref.NewMetatableOf, addressing a bare scalar's shared
// metatable rather than an aggregate's own) resolves through. Returns nil
// for an aggregate type, which has no single shared metatable to return.
func (m *Machine) GetTypeMetatable(t Type) *Table {
	if t.IsAggregate() {
		return nil
	}
	return m.typeMetatables[t]
}

// SetTypeMetatable installs mt as the shared metatable for every value of
// the given non-aggregate type. Calling it with an aggregate type is a
// programmer error, matching the host's own restriction.
func (m *Machine) SetTypeMetatable(t Type, mt *Table) error {
	if t.IsAggregate() {
		return fmt.Errorf("type %s has per-value metatables, not a shared one", t)
	}
	m.typeMetatables[t] = mt
	return nil
}

// Call invokes fn with args on m, pushing and popping a call frame around
// the invocation so that debug info and locals are visible mid-call to any
// concurrently inspecting visitor operation.
func (m *Machine) Call(fn *Function, args []Value) ([]Value, error) {
	if fn == nil {
		return nil, fmt.Errorf("call of nil function")
	}
	if err := m.Stack.CheckSpace(1); err != nil {
		return nil, err
	}
	frame := NewFrame(fn, len(args))
	copy(frame.Locals, args)
	m.PushFrame(frame)
	defer m.PopFrame()
	return fn.Call(m, args)
}

// ProtectedCall invokes fn the way the host's own protected-call primitive
// would: a raised Go error or panic is captured rather than propagated, and
// reported back as (nil, false, message), matching the "Host exception"
// error class (spec §7) that the visitor's own operations must in turn
// catch and translate to (false, message) rather than let escape to D.
func (m *Machine) ProtectedCall(fn *Function, args []Value) (results []Value, ok bool, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			errMsg = fmt.Sprintf("%v", r)
		}
	}()
	res, err := m.Call(fn, args)
	if err != nil {
		return nil, false, err.Error()
	}
	return res, true, ""
}

// AllocBytes records n bytes of simulated allocation against the machine's
// GC accounting, used only to give gccount (spec §4.6) something to report.
func (m *Machine) AllocBytes(n int64) { m.gcBytes += n }

// FreeBytes records n bytes of simulated collection.
func (m *Machine) FreeBytes(n int64) {
	m.gcBytes -= n
	if m.gcBytes < 0 {
		m.gcBytes = 0
	}
}

// GCCountBytes returns the machine's simulated heap usage in bytes (spec
// §4.6, gccount). A Lua-family collectgarbage("count") reports kilobytes
// with a fractional remainder standing in for the leftover bytes; the
// spec's own resolution of that ambiguity (§9) is the plain total byte
// count, so no such (k<<10)+b split is reconstructed here.
func (m *Machine) GCCountBytes() int64 {
	return m.gcBytes
}
