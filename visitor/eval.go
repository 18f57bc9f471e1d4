package visitor

import (
	"github.com/opaqueref/visitor/ref"
	"github.com/opaqueref/visitor/vm"
)

// resolve is the reference evaluation algorithm (spec §4.1, component B),
// grounded on rdebug_visitor.cpp's eval_value_: it walks r from its root
// outward, resolving each segment against the value its parent resolved
// to. found is false for an Absence (spec §7): a missing frame, a
// vacated stack slot, an unset upvalue/uservalue slot, or a dead raw table
// bucket. err is non-nil only for a Programmer-error (segment applied to a
// value of the wrong shape) or a Stack-overflow, both of which raise.
func resolve(h *vm.Machine, r *ref.Ref) (vm.Value, bool, error) {
	if r.Kind == ref.Metatable && r.Parent == nil {
		mt := h.GetTypeMetatable(r.HostType)
		if mt == nil {
			return vm.Nil, false, nil
		}
		return vm.TableValue(mt), true, nil
	}

	switch r.Kind {
	case ref.Global:
		return vm.TableValue(h.Globals), true, nil
	case ref.Registry:
		return vm.TableValue(h.Registry), true, nil
	case ref.FrameLocal:
		f := h.FrameAt(r.Frame)
		if f == nil {
			return vm.Nil, false, nil
		}
		v, ok := f.Local(r.Slot)
		return v, ok, nil
	case ref.FrameFunc:
		f := h.FrameAt(r.Frame)
		if f == nil {
			return vm.Nil, false, nil
		}
		return f.FuncValue(), true, nil
	case ref.Stack:
		v, ok := h.Stack.Get(r.Slot)
		return v, ok, nil
	}

	parent, found, err := resolve(h, r.Parent)
	if err != nil || !found {
		return vm.Nil, false, err
	}

	switch r.Kind {
	case ref.Upvalue:
		fn := parent.AsFunction()
		if fn == nil {
			return vm.Nil, false, programmerError("upvalue", "parent is a %s, not a function", parent.Type())
		}
		_, v, ok := fn.Upvalue(r.Slot)
		return v, ok, nil
	case ref.Metatable:
		mt := h.GetMetatable(parent)
		if mt == nil {
			return vm.Nil, false, nil
		}
		return vm.TableValue(mt), true, nil
	case ref.Uservalue:
		ud := parent.AsUserdata()
		if ud == nil {
			return vm.Nil, false, programmerError("uservalue", "parent is a %s, not userdata", parent.Type())
		}
		v, ok := ud.Uservalue(r.Slot)
		return v, ok, nil
	case ref.IndexInt:
		t := parent.AsTable()
		if t == nil {
			return vm.Nil, false, programmerError("index", "parent is a %s, not a table", parent.Type())
		}
		return t.Get(vm.Int(r.IntKey)), true, nil
	case ref.IndexStr:
		t := parent.AsTable()
		if t == nil {
			return vm.Nil, false, programmerError("index", "parent is a %s, not a table", parent.Type())
		}
		return t.Get(vm.String(r.StrKey)), true, nil
	case ref.IndexKey:
		t := parent.AsTable()
		if t == nil {
			return vm.Nil, false, programmerError("tablekey", "parent is a %s, not a table", parent.Type())
		}
		k, ok := t.GetKeyAt(r.Slot)
		return k, ok, nil
	case ref.IndexVal:
		t := parent.AsTable()
		if t == nil {
			return vm.Nil, false, programmerError("tablehashv", "parent is a %s, not a table", parent.Type())
		}
		v, ok := t.GetValueAt(r.Slot)
		return v, ok, nil
	}
	return vm.Nil, false, programmerError("eval", "unhandled ref kind %v", r.Kind)
}

// Eval evaluates r against h, pushing the result onto h's stack on success.
// It preserves the net-stack-delta invariant the spec requires of
// component B: exactly 0 on failure (absence or error), exactly +1 on
// success.
func Eval(h *vm.Machine, r *ref.Ref) (bool, error) {
	v, found, err := resolve(h, r)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := h.Stack.Push(v); err != nil {
		return false, err
	}
	return true, nil
}

// writable reports whether r's kind can be the target of Assign. GLOBAL,
// REGISTRY, FRAME_FUNC, STACK and INDEX_KEY are never assignable (spec
// §4.3, mirroring assign_value's exact rejection list): a script cannot
// replace the globals table wholesale, rebind a live call's function
// object, resize the raw H stack, or overwrite a table's own key.
func writable(k ref.Kind) bool {
	switch k {
	case ref.Global, ref.Registry, ref.FrameFunc, ref.Stack, ref.IndexKey:
		return false
	default:
		return true
	}
}

// Assign is the reference assignment algorithm (spec §4.3, component C).
// success is false, with no error, for an Assignment refusal: a
// structurally unwritable ref kind, a missing frame, or an out-of-range
// slot. err is non-nil only for a Programmer-error (parent value has the
// wrong shape for the requested write).
func Assign(h *vm.Machine, r *ref.Ref, v vm.Value) (bool, error) {
	if !writable(r.Kind) {
		return false, nil
	}
	if r.Kind == ref.Metatable && r.Parent == nil {
		// The shared per-type metatable for a non-aggregate value has no
		// host location of its own to overwrite: rebinding it would be a
		// machine-wide setmetatable-on-type, out of scope for a single
		// reference's assignment (spec §4.3, §7 assignment refusal).
		return false, nil
	}
	switch r.Kind {
	case ref.FrameLocal:
		f := h.FrameAt(r.Frame)
		if f == nil {
			return false, nil
		}
		return f.SetLocal(r.Slot, v), nil
	}

	parent, found, err := resolve(h, r.Parent)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	switch r.Kind {
	case ref.Upvalue:
		fn := parent.AsFunction()
		if fn == nil {
			return false, programmerError("assign", "parent is a %s, not a function", parent.Type())
		}
		return fn.SetUpvalue(r.Slot, v), nil
	case ref.Metatable:
		// A non-aggregate parent (anything but a table or userdata) is an
		// assignment refusal, not a rewrite of the machine-wide shared
		// metatable for its type: the distilled spec lists "non-aggregate
		// METATABLE" under assignment refusal (§4.3, §7) even though the
		// original setmetatable-on-type behavior the C++ implementation
		// allows would install one. This module honors the spec's refusal.
		if !parent.Type().IsAggregate() {
			return false, nil
		}
		var mt *vm.Table
		if !v.IsNil() {
			mt = v.AsTable()
			if mt == nil {
				return false, programmerError("assign", "metatable value is a %s, not a table or nil", v.Type())
			}
		}
		switch parent.Type() {
		case vm.TypeTable:
			parent.AsTable().SetMetatable(mt)
		case vm.TypeUserdata:
			parent.AsUserdata().SetMetatable(mt)
		}
		return true, nil
	case ref.Uservalue:
		ud := parent.AsUserdata()
		if ud == nil {
			return false, programmerError("assign", "parent is a %s, not userdata", parent.Type())
		}
		return ud.SetUservalue(r.Slot, v), nil
	case ref.IndexInt:
		t := parent.AsTable()
		if t == nil {
			return false, programmerError("assign", "parent is a %s, not a table", parent.Type())
		}
		t.Set(vm.Int(r.IntKey), v)
		return true, nil
	case ref.IndexStr:
		t := parent.AsTable()
		if t == nil {
			return false, programmerError("assign", "parent is a %s, not a table", parent.Type())
		}
		t.Set(vm.String(r.StrKey), v)
		return true, nil
	case ref.IndexVal:
		t := parent.AsTable()
		if t == nil {
			return false, programmerError("assign", "parent is a %s, not a table", parent.Type())
		}
		return t.SetValueAt(r.Slot, v), nil
	}
	return false, programmerError("assign", "unhandled ref kind %v", r.Kind)
}
