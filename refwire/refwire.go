// Package refwire serializes ref.Ref values to and from a compact binary
// wire format, for a transport that must hand a reference blob to a remote
// debugger process rather than keep it as an in-process Go pointer chain.
// Package dap does not use it: it hands out integer variablesReference
// handles instead.
package refwire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/opaqueref/visitor/ref"
	"github.com/opaqueref/visitor/vm"
)

// segment is the flat, msgpack-friendly encoding of one ref.Ref node. A
// whole path encodes as a slice of these in root-to-leaf order (ref.Chain),
// since msgpack has no native notion of the parent-pointer structure
// ref.Ref uses in memory.
type segment struct {
	Kind     uint8  `msgpack:"k"`
	Frame    int    `msgpack:"f,omitempty"`
	Slot     int    `msgpack:"s,omitempty"`
	IntKey   int64  `msgpack:"i,omitempty"`
	StrKey   string `msgpack:"t,omitempty"`
	HostType uint8  `msgpack:"h,omitempty"`
}

// Marshal encodes r as a self-contained byte blob suitable for handing to
// a remote debugger client, matching the "opaque" contract of spec §3: the
// recipient must not need to interpret its bytes, only send it back
// unmodified with a later request.
func Marshal(r *ref.Ref) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("refwire: nil reference")
	}
	chain := r.Chain()
	segs := make([]segment, len(chain))
	for i, s := range chain {
		segs[i] = segment{
			Kind:     uint8(s.Kind),
			Frame:    s.Frame,
			Slot:     s.Slot,
			IntKey:   s.IntKey,
			StrKey:   s.StrKey,
			HostType: uint8(s.HostType),
		}
	}
	return marshalSegments(segs)
}

func marshalSegments(segs []segment) ([]byte, error) {
	return msgpack.Marshal(segs)
}

// Unmarshal decodes a blob produced by Marshal back into a *ref.Ref.
func Unmarshal(data []byte) (*ref.Ref, error) {
	var segs []segment
	if err := msgpack.Unmarshal(data, &segs); err != nil {
		return nil, fmt.Errorf("refwire: %w", err)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("refwire: empty reference")
	}
	var cur *ref.Ref
	for i, s := range segs {
		k := ref.Kind(s.Kind)
		if i == 0 {
			root, err := rootFromSegment(k, s)
			if err != nil {
				return nil, err
			}
			cur = root
			continue
		}
		next, err := childFromSegment(cur, k, s)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// rootFromSegment decodes a wire segment known to be the first in its chain,
// i.e. the innermost, root segment. Every root kind but METATABLE is unconditionally valid
// here; METATABLE is a root only when it names a non-aggregate host_type
// (spec §3.1) — an aggregate host_type in root position means the sender
// encoded an inner, parent-anchored METATABLE without its parent, which
// this rejects as malformed rather than silently dropping the parent.
func rootFromSegment(k ref.Kind, s segment) (*ref.Ref, error) {
	switch k {
	case ref.Global:
		return ref.NewGlobal(), nil
	case ref.Registry:
		return ref.NewRegistry(), nil
	case ref.FrameLocal:
		return ref.NewFrameLocal(s.Frame, s.Slot), nil
	case ref.FrameFunc:
		return ref.NewFrameFunc(s.Frame), nil
	case ref.Stack:
		return ref.NewStack(s.Slot), nil
	case ref.Metatable:
		t := vm.Type(s.HostType)
		if t.IsAggregate() {
			return nil, fmt.Errorf("refwire: root METATABLE segment names aggregate host_type %s, which requires a parent", t)
		}
		return ref.NewMetatableOf(t), nil
	}
	return nil, fmt.Errorf("refwire: first segment %v is not a valid root", k)
}

func childFromSegment(parent *ref.Ref, k ref.Kind, s segment) (*ref.Ref, error) {
	switch k {
	case ref.Upvalue:
		return parent.Upvalue(s.Slot), nil
	case ref.Metatable:
		return parent.Metatable(vm.Type(s.HostType)), nil
	case ref.Uservalue:
		return parent.Uservalue(s.Slot), nil
	case ref.IndexInt:
		return parent.IndexInt(s.IntKey), nil
	case ref.IndexStr:
		return parent.IndexStr(s.StrKey), nil
	case ref.IndexKey:
		return parent.IndexKey(s.Slot), nil
	case ref.IndexVal:
		return parent.IndexVal(s.Slot), nil
	}
	return nil, fmt.Errorf("refwire: segment kind %v cannot be a non-root", k)
}
