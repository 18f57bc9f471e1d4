// Package ref implements the opaque reference blob (spec §3): an
// immutable, self-describing path into a value living in some *vm.Machine,
// built debugger-side and handed back to host-side evaluation.
//
// A Ref is a cons-list of segments running from the outermost (leaf, the
// thing D actually wants) inward to the innermost root (GLOBAL, REGISTRY,
// a frame slot, or an absolute stack index). It is represented as a
// pointer-linked struct rather than a packed byte buffer (Design Notes §9)
// so that a table walker producing thousands of sibling refs off one shared
// prefix — one INDEX_KEY/INDEX_VAL child per bucket — pays O(1) per child
// instead of O(depth) for a copy of the whole prefix.
package ref

import (
	"fmt"

	"github.com/opaqueref/visitor/vm"
)

// Kind identifies a segment's role in a path (spec §3.1).
type Kind uint8

// Segment kinds. FrameLocal, FrameFunc, Global, Registry and Stack are always
// root segments (Parent == nil). Metatable is a root when built by
// NewMetatableOf (see (*Ref).IsRoot); every other kind must have a non-nil
// Parent.
const (
	FrameLocal Kind = iota
	FrameFunc
	Upvalue
	Global
	Registry
	Metatable
	Uservalue
	IndexInt
	IndexStr
	IndexKey
	IndexVal
	Stack
)

var kindNames = [...]string{
	FrameLocal: "FRAME_LOCAL",
	FrameFunc:  "FRAME_FUNC",
	Upvalue:    "UPVALUE",
	Global:     "GLOBAL",
	Registry:   "REGISTRY",
	Metatable:  "METATABLE",
	Uservalue:  "USERVALUE",
	IndexInt:   "INDEX_INT",
	IndexStr:   "INDEX_STR",
	IndexKey:   "INDEX_KEY",
	IndexVal:   "INDEX_VAL",
	Stack:      "STACK",
}

func (k Kind) String() string {
	if int(k) >= len(kindNames) {
		return "UNKNOWN"
	}
	return kindNames[k]
}

// IsRoot reports whether k is unconditionally legal as a path's innermost
// segment. METATABLE is conditionally so — see (*Ref).IsRoot — and
// therefore never appears here even though a Metatable-kind Ref built by
// NewMetatableOf is itself a root.
func (k Kind) IsRoot() bool {
	switch k {
	case FrameLocal, FrameFunc, Global, Registry, Stack:
		return true
	default:
		return false
	}
}

// IsRoot reports whether r is legal as a path's innermost segment. Every
// kind Kind.IsRoot names is unconditionally so. METATABLE additionally
// qualifies exactly when it has no Parent: a non-aggregate METATABLE (spec
// §3.1, §4.1) denotes the machine-wide shared metatable for its host_type
// rather than an inner value's own metatable, and is itself terminal —
// unlike an aggregate METATABLE, which always has a Parent it refines.
func (r *Ref) IsRoot() bool {
	if r.Kind == Metatable {
		return r.Parent == nil
	}
	return r.Kind.IsRoot()
}

// Ref is one immutable path segment plus a pointer to its parent (the
// segment one step closer to the root). A *Ref value IS the full path: to
// address the parent's whole subpath, share the pointer; never mutate a
// Ref in place once constructed.
type Ref struct {
	Kind   Kind
	Parent *Ref

	Frame int // FrameLocal, FrameFunc: call-stack level (0 = innermost)
	Slot  int // FrameLocal: local index; Upvalue: upvalue index; Uservalue: uservalue slot; IndexKey/IndexVal: raw bucket index; Stack: absolute stack index

	IntKey int64  // IndexInt: the integer table key
	StrKey string // IndexStr: the string table key

	HostType vm.Type // Metatable: the type of the value the metatable was fetched from
}

func (r *Ref) String() string {
	if r == nil {
		return "<nil ref>"
	}
	switch r.Kind {
	case FrameLocal:
		return fmt.Sprintf("FRAME_LOCAL(frame=%d, slot=%d)", r.Frame, r.Slot)
	case FrameFunc:
		return fmt.Sprintf("FRAME_FUNC(frame=%d)", r.Frame)
	case Global:
		return "GLOBAL"
	case Registry:
		return "REGISTRY"
	case Stack:
		return fmt.Sprintf("STACK(index=%d)", r.Slot)
	case Upvalue:
		return fmt.Sprintf("%s.UPVALUE(%d)", r.Parent, r.Slot)
	case Metatable:
		if r.Parent == nil {
			return fmt.Sprintf("METATABLE(host_type=%s)", r.HostType)
		}
		return fmt.Sprintf("%s.METATABLE(host_type=%s)", r.Parent, r.HostType)
	case Uservalue:
		return fmt.Sprintf("%s.USERVALUE(%d)", r.Parent, r.Slot)
	case IndexInt:
		return fmt.Sprintf("%s[%d]", r.Parent, r.IntKey)
	case IndexStr:
		return fmt.Sprintf("%s[%q]", r.Parent, r.StrKey)
	case IndexKey:
		return fmt.Sprintf("%s.INDEX_KEY(%d)", r.Parent, r.Slot)
	case IndexVal:
		return fmt.Sprintf("%s.INDEX_VAL(%d)", r.Parent, r.Slot)
	default:
		return "<invalid ref>"
	}
}

// Depth returns the number of segments in r's path, root inclusive.
func (r *Ref) Depth() int {
	n := 0
	for cur := r; cur != nil; cur = cur.Parent {
		n++
	}
	return n
}

// Chain returns r's segments in root-to-leaf order — the order evaluation
// (spec §4.1) actually walks in, despite the cons-list being built and
// stored leaf-to-root.
func (r *Ref) Chain() []*Ref {
	chain := make([]*Ref, 0, r.Depth())
	for cur := r; cur != nil; cur = cur.Parent {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Root roots for FRAME_LOCAL, FRAME_FUNC, GLOBAL, REGISTRY and STACK.

// NewGlobal builds a root ref addressing the machine's globals table.
func NewGlobal() *Ref { return &Ref{Kind: Global} }

// NewRegistry builds a root ref addressing the machine's registry table.
func NewRegistry() *Ref { return &Ref{Kind: Registry} }

// NewFrameLocal builds a root ref addressing local slot `slot` (1-based) of
// the call frame `frame` levels up from the currently running one.
func NewFrameLocal(frame, slot int) *Ref {
	return &Ref{Kind: FrameLocal, Frame: frame, Slot: slot}
}

// NewFrameFunc builds a root ref addressing the function object running in
// call frame `frame`.
func NewFrameFunc(frame int) *Ref {
	return &Ref{Kind: FrameFunc, Frame: frame}
}

// NewStack builds a root ref addressing absolute stack slot `index` of the
// machine being evaluated against.
func NewStack(index int) *Ref {
	return &Ref{Kind: Stack, Slot: index}
}

// NewMetatableOf builds a root ref addressing the machine-wide shared
// metatable for hostType, the case where a value never had a host
// location of its own to anchor an inner ref to — a bare scalar handed
// straight to getmetatable (spec §3.1, §4.1: "if host_type ∉ {table,
// userdata} push a synthetic value of that type... then fetch metatable").
// hostType must not be TypeTable or TypeUserdata: those carry a per-value
// metatable reachable only through Metatable's parent-anchored form.
func NewMetatableOf(hostType vm.Type) *Ref {
	return &Ref{Kind: Metatable, HostType: hostType}
}

// Child constructors. Each takes the parent path being extended and
// returns a brand new leaf; parent is never mutated or walked eagerly.

// Upvalue extends parent (which must resolve to a function) to address its
// n'th upvalue (1-based).
func (parent *Ref) Upvalue(n int) *Ref {
	return &Ref{Kind: Upvalue, Parent: parent, Slot: n}
}

// Metatable extends parent to address its metatable. hostType is the
// runtime type parent resolved to at the time the caller fetched it (spec
// §3.1's METATABLE host_type payload) — for a table or userdata parent
// this is redundant with the value's own per-instance metatable, but it
// still records what kind of aggregate produced the child, matching
// child_metatable(inner, host_type). For a bare scalar with no host
// location of its own, use NewMetatableOf instead: it builds the
// equivalent root ref directly from a type, with no parent to resolve.
func (parent *Ref) Metatable(hostType vm.Type) *Ref {
	return &Ref{Kind: Metatable, Parent: parent, HostType: hostType}
}

// Uservalue extends parent (which must resolve to userdata) to address its
// n'th uservalue slot (1-based).
func (parent *Ref) Uservalue(n int) *Ref {
	return &Ref{Kind: Uservalue, Parent: parent, Slot: n}
}

// IndexInt extends parent (which must resolve to a table) to address the
// value at integer key k.
func (parent *Ref) IndexInt(k int64) *Ref {
	return &Ref{Kind: IndexInt, Parent: parent, IntKey: k}
}

// IndexStr extends parent (which must resolve to a table) to address the
// value at string key s.
func (parent *Ref) IndexStr(s string) *Ref {
	return &Ref{Kind: IndexStr, Parent: parent, StrKey: s}
}

// IndexKey extends parent (which must resolve to a table) to address the
// key stored at raw bucket index i, bypassing normal iteration so that dead
// or NaN keys remain reachable (spec §4.5).
func (parent *Ref) IndexKey(i int) *Ref {
	return &Ref{Kind: IndexKey, Parent: parent, Slot: i}
}

// IndexVal extends parent (which must resolve to a table) to address the
// value stored at raw bucket index i.
func (parent *Ref) IndexVal(i int) *Ref {
	return &Ref{Kind: IndexVal, Parent: parent, Slot: i}
}
