package visitor

import (
	"math"
	"reflect"
	"runtime"

	"github.com/opaqueref/visitor/ref"
	"github.com/opaqueref/visitor/vm"
)

// This file implements the operation surface (spec §4.6, component E): the
// ~29 named operations a D script calls to drive evaluation, assignment,
// marshalling and table walking. Each operation returns Go-native results
// rather than pushing/popping D's stack directly — a D-side binding layer
// (outside this package's scope, matching the original's luadbgL_Reg
// wrapper) is responsible for translating these into D stack effects.
//
// "Absence" operations (spec §7) return their zero value and ok == false,
// never an error. Programmer-error and Stack-overflow both return a
// non-nil error and must be raised D-side rather than swallowed. Every
// operation below that touches host state opens with a call to v.logOp,
// per SPEC_FULL.md's ambient logging contract.

// TableHashUnbounded is the max argument to pass to TableHash/TableHashV
// for "no cap" — the enumerating table walk's equivalent of tablehash's
// optional maxn argument defaulting to the largest representable count
// (rdebug_visitor.cpp:872, luadbgL_optinteger(L, 2, UINT_MAX)).
const TableHashUnbounded = math.MaxInt

// maxFrameLevel and maxSlot bound the frame/slot arguments getlocal and
// getupvalue accept (spec §4.6, §8): frame ∈ [0, 2¹⁶−1], |slot| ∈ [1,
// 2⁸−1]. Anything outside these ranges is a programmer-error, not an
// absence — the caller passed a value the interface never promises to
// accept, as opposed to a value that merely doesn't resolve right now.
const (
	maxFrameLevel = 1<<16 - 1
	maxSlot       = 1<<8 - 1
)

func validFrameLevel(frame int) bool {
	return frame >= 0 && frame <= maxFrameLevel
}

func validSlot(n int) bool {
	if n < 0 {
		n = -n
	}
	return n >= 1 && n <= maxSlot
}

// GetLocal returns the declared name and a Ref addressing local slot n of
// the frame at the given call-stack level, without copying its value.
func (v *Visitor) GetLocal(frame, n int) (name string, r *ref.Ref, ok bool, err error) {
	if !validFrameLevel(frame) {
		return "", nil, false, programmerError("getlocal", "frame %d out of range [0,%d]", frame, maxFrameLevel)
	}
	if !validSlot(n) {
		return "", nil, false, programmerError("getlocal", "slot %d out of range [-%d,-1] or [1,%d]", n, maxSlot, maxSlot)
	}
	r = ref.NewFrameLocal(frame, n)
	v.logOp("getlocal", r)
	f := v.H.FrameAt(frame)
	if f == nil {
		return "", nil, false, nil
	}
	if _, exists := f.Local(n); !exists {
		return "", nil, false, nil
	}
	return f.Func.LocalName(n), r, true, nil
}

// GetLocalValue returns local slot n's current value, marshalled for D.
func (v *Visitor) GetLocalValue(frame, n int, byRef bool) (MarshalResult, bool, error) {
	if !validFrameLevel(frame) {
		return MarshalResult{}, false, programmerError("getlocalv", "frame %d out of range [0,%d]", frame, maxFrameLevel)
	}
	if !validSlot(n) {
		return MarshalResult{}, false, programmerError("getlocalv", "slot %d out of range [-%d,-1] or [1,%d]", n, maxSlot, maxSlot)
	}
	r := ref.NewFrameLocal(frame, n)
	v.logOp("getlocalv", r)
	return v.valueAt(r, byRef)
}

// GetUpvalue returns the declared name and a Ref addressing upvalue n of
// the function running in the frame at the given call-stack level.
func (v *Visitor) GetUpvalue(frame, n int) (name string, r *ref.Ref, ok bool, err error) {
	if !validFrameLevel(frame) {
		return "", nil, false, programmerError("getupvalue", "frame %d out of range [0,%d]", frame, maxFrameLevel)
	}
	if !validSlot(n) {
		return "", nil, false, programmerError("getupvalue", "index %d out of range [-%d,-1] or [1,%d]", n, maxSlot, maxSlot)
	}
	v.logOp("getupvalue", ref.NewFrameFunc(frame))
	f := v.H.FrameAt(frame)
	if f == nil || f.Func == nil {
		return "", nil, false, nil
	}
	uvName, _, exists := f.Func.Upvalue(n)
	if !exists {
		return "", nil, false, nil
	}
	return uvName, ref.NewFrameFunc(frame).Upvalue(n), true, nil
}

// GetUpvalueValue returns upvalue n's current value, marshalled for D.
func (v *Visitor) GetUpvalueValue(frame, n int, byRef bool) (MarshalResult, bool, error) {
	if !validFrameLevel(frame) {
		return MarshalResult{}, false, programmerError("getupvaluev", "frame %d out of range [0,%d]", frame, maxFrameLevel)
	}
	if !validSlot(n) {
		return MarshalResult{}, false, programmerError("getupvaluev", "index %d out of range [-%d,-1] or [1,%d]", n, maxSlot, maxSlot)
	}
	r := ref.NewFrameFunc(frame).Upvalue(n)
	v.logOp("getupvaluev", r)
	return v.valueAt(r, byRef)
}

// GetMetatable returns a Ref addressing parent's metatable (spec §4.6,
// getmetatable). parent must already resolve to a live host value; its
// runtime type becomes the METATABLE segment's host_type payload (spec
// §3.1), matching child_metatable(inner, host_type).
func (v *Visitor) GetMetatable(parent *ref.Ref) (*ref.Ref, bool, error) {
	v.logOp("getmetatable", parent)
	pv, found, err := resolve(v.H, parent)
	if err != nil || !found {
		return nil, found, err
	}
	r := parent.Metatable(pv.Type())
	_, found, err = resolve(v.H, r)
	if err != nil || !found {
		return nil, found, err
	}
	return r, true, nil
}

// GetMetatableValue returns parent's metatable, marshalled for D.
func (v *Visitor) GetMetatableValue(parent *ref.Ref, byRef bool) (MarshalResult, bool, error) {
	v.logOp("getmetatablev", parent)
	pv, found, err := resolve(v.H, parent)
	if err != nil || !found {
		return MarshalResult{}, found, err
	}
	return v.valueAt(parent.Metatable(pv.Type()), byRef)
}

// GetMetatableOfType returns a Ref addressing the shared metatable of a
// bare scalar of the given type — a value with no host location of its
// own, e.g. a literal string constant handed straight to getmetatable
// without ever having been eval'd against H (spec §4.1, end-to-end
// scenario "getmetatable of a bare scalar"). hostType must not be
// TypeTable or TypeUserdata: those carry their own per-value metatable
// and need a resolvable parent instead, via GetMetatable.
func (v *Visitor) GetMetatableOfType(hostType vm.Type) (*ref.Ref, bool, error) {
	r := ref.NewMetatableOf(hostType)
	v.logOp("getmetatable", r)
	_, found, err := resolve(v.H, r)
	if err != nil || !found {
		return nil, found, err
	}
	return r, true, nil
}

// GetMetatableValueOfType is GetMetatableOfType's marshalled-value
// counterpart.
func (v *Visitor) GetMetatableValueOfType(hostType vm.Type, byRef bool) (MarshalResult, bool, error) {
	r := ref.NewMetatableOf(hostType)
	v.logOp("getmetatablev", r)
	return v.valueAt(r, byRef)
}

// GetUservalue returns a Ref addressing uservalue slot n of the userdata
// parent resolves to.
func (v *Visitor) GetUservalue(parent *ref.Ref, n int) (*ref.Ref, bool, error) {
	r := parent.Uservalue(n)
	v.logOp("getuservalue", r)
	_, found, err := resolve(v.H, r)
	if err != nil || !found {
		return nil, found, err
	}
	return r, true, nil
}

// GetUservalueValue returns uservalue slot n's value, marshalled for D.
func (v *Visitor) GetUservalueValue(parent *ref.Ref, n int, byRef bool) (MarshalResult, bool, error) {
	r := parent.Uservalue(n)
	v.logOp("getuservaluev", r)
	return v.valueAt(r, byRef)
}

// Index returns a Ref addressing parent[key] (key an integer or a string).
// Any other key type is rejected with a programmer error; an entry under
// such a key is reachable only through a raw table walk (TableHash), which
// addresses its bucket directly.
func (v *Visitor) Index(parent *ref.Ref, key vm.Value) (*ref.Ref, bool, error) {
	var r *ref.Ref
	switch key.Type() {
	case vm.TypeInteger:
		r = parent.IndexInt(key.AsInt())
	case vm.TypeString:
		r = parent.IndexStr(key.AsString())
	default:
		return nil, false, programmerError("index", "unsupported key type %s", key.Type())
	}
	v.logOp("index", r)
	_, found, err := resolve(v.H, r)
	if err != nil || !found {
		return nil, found, err
	}
	return r, true, nil
}

// IndexValue returns parent[key]'s value, marshalled for D.
func (v *Visitor) IndexValue(parent *ref.Ref, key vm.Value, byRef bool) (MarshalResult, bool, error) {
	r, found, err := v.Index(parent, key)
	if err != nil || !found {
		return MarshalResult{}, found, err
	}
	return v.valueAt(r, byRef)
}

// Field is Index specialized for string keys, the common case of reading a
// named table field.
func (v *Visitor) Field(parent *ref.Ref, name string) (*ref.Ref, bool, error) {
	return v.Index(parent, vm.String(name))
}

// FieldValue is IndexValue specialized for string keys.
func (v *Visitor) FieldValue(parent *ref.Ref, name string, byRef bool) (MarshalResult, bool, error) {
	return v.IndexValue(parent, vm.String(name), byRef)
}

// TableHashV enumerates parent's hash-part entries plus its zero-key entry
// as a flat [k, v, k, v, …] slice of marshalled values (spec §4.6,
// tablehashv), walking raw buckets rather than relying on normal
// iteration so dead and NaN keys stay visible (spec §4.5, §8 scenario 5).
// Enumeration stops once max entries have been emitted; max <= 0 yields an
// empty slice even against a non-empty table (spec §8: tablehash(t, 0)).
// Pass TableHashUnbounded for "no cap".
func (v *Visitor) TableHashV(parent *ref.Ref, max int) ([]MarshalResult, error) {
	return v.tableHash(parent, max, false)
}

// TableHash is TableHashV's reference-returning counterpart (spec §4.6,
// tablehash). Because a raw table key has no location a plain scalar ref
// can stand in for the way a table value's does, each entry emits its key
// twice — once as a stable INDEX_KEY reference a dead or NaN key remains
// addressable through, once as its own marshalled value — followed by the
// entry's INDEX_VAL reference, grounded on tablehash's double key push
// over combine_key/combine_val (rdebug_visitor.cpp:874-919).
func (v *Visitor) TableHash(parent *ref.Ref, max int) ([]MarshalResult, error) {
	return v.tableHash(parent, max, true)
}

func (v *Visitor) tableHash(parent *ref.Ref, max int, getref bool) ([]MarshalResult, error) {
	op := "tablehashv"
	if getref {
		op = "tablehash"
	}
	v.logOp(op, parent)

	pv, found, err := resolve(v.H, parent)
	if err != nil || !found {
		return nil, err
	}
	t := pv.AsTable()
	if t == nil {
		return nil, programmerError(op, "value is a %s, not a table", pv.Type())
	}

	var out []MarshalResult
	n := 0

	// emitBucket handles a hash-part entry, where both key and value live
	// behind their own raw bucket ref (spec §4.5): the key itself needs a
	// ref, not just its value, because a NaN or dead key can't reliably be
	// re-found by value the way an ordinary scalar can.
	emitBucket := func(keyRef, valRef *ref.Ref) (bool, error) {
		if n >= max {
			return false, nil
		}
		keyVal, keyOK, err := v.valueAt(keyRef, false)
		if err != nil {
			return false, err
		}
		if !keyOK {
			return true, nil
		}
		n++
		if getref {
			out = append(out, MarshalResult{Ref: keyRef}, keyVal, MarshalResult{Ref: valRef})
			return true, nil
		}
		valVal, valOK, err := v.valueAt(valRef, false)
		if err != nil {
			return false, err
		}
		if !valOK {
			valVal = MarshalResult{Scalar: true, Value: vm.Nil}
		}
		out = append(out, keyVal, valVal)
		return true, nil
	}

	for i := 0; i < t.HashSize(); i++ {
		cont, err := emitBucket(parent.IndexKey(i), parent.IndexVal(i))
		if err != nil {
			return nil, err
		}
		if !cont {
			return out, nil
		}
	}

	// The zero-key slot (spec §4.5) is structurally separate from the hash
	// buckets and has no raw bucket index of its own: its key is always
	// the literal integer 0, so unlike a hash-part key it needs no ref of
	// its own to stay addressable. Only its value is reached through a
	// ref, via IndexInt(0)'s existing zero-key special case in resolve.
	if t.HasZero() && n < max {
		valRef := parent.IndexInt(0)
		zeroKey := MarshalResult{Scalar: true, Value: vm.Int(0)}
		if getref {
			n++
			out = append(out, zeroKey, MarshalResult{Ref: valRef})
		} else {
			valVal, valOK, err := v.valueAt(valRef, false)
			if err != nil {
				return nil, err
			}
			if !valOK {
				valVal = MarshalResult{Scalar: true, Value: vm.Nil}
			}
			n++
			out = append(out, zeroKey, valVal)
		}
	}
	return out, nil
}

// TableHashValue returns the key and value stored at raw bucket index i,
// marshalled for D. The value may legitimately be absent (a dead key)
// even when the key itself resolves.
func (v *Visitor) TableHashValue(parent *ref.Ref, i int, byRef bool) (key, val MarshalResult, keyOK, valOK bool, err error) {
	v.logOp("tablehashvalue", parent)
	keyRes, keyOK, err := v.valueAt(parent.IndexKey(i), byRef)
	if err != nil || !keyOK {
		return MarshalResult{}, MarshalResult{}, keyOK, false, err
	}
	valRes, valOK, err := v.valueAt(parent.IndexVal(i), byRef)
	if err != nil {
		return keyRes, MarshalResult{}, true, false, err
	}
	return keyRes, valRes, true, valOK, nil
}

// TableSize reports parent's array size, hash size, and whether it has a
// value under the reserved zero key (spec §4.5).
func (v *Visitor) TableSize(parent *ref.Ref) (arraySize, hashSize int, hasZero bool, err error) {
	v.logOp("tablesize", parent)
	pv, found, err := resolve(v.H, parent)
	if err != nil || !found {
		return 0, 0, false, err
	}
	t := pv.AsTable()
	if t == nil {
		return 0, 0, false, programmerError("tablesize", "value is a %s, not a table", pv.Type())
	}
	return t.ArraySize(), t.HashSize(), t.HasZero(), nil
}

// TableKey scans parent's hash buckets forward from startBucket, returning
// the first string-typed key found along with the bucket index one past
// it — the cursor a caller passes back in as the next startBucket to
// resume the scan (spec §4.6, tablekey; lclient_tablekey,
// rdebug_visitor.cpp:955). ok is false once the scan reaches the end of
// the hash part without finding a string key.
func (v *Visitor) TableKey(parent *ref.Ref, startBucket int) (key string, nextBucket int, ok bool, err error) {
	v.logOp("tablekey", parent)
	pv, found, err := resolve(v.H, parent)
	if err != nil || !found {
		return "", 0, false, err
	}
	t := pv.AsTable()
	if t == nil {
		return "", 0, false, programmerError("tablekey", "value is a %s, not a table", pv.Type())
	}
	for i := startBucket; i < t.HashSize(); i++ {
		k, hasKey := t.GetKeyAt(i)
		if !hasKey {
			continue
		}
		if k.Type() == vm.TypeString {
			return k.AsString(), i + 1, true, nil
		}
	}
	return "", 0, false, nil
}

// UdRead reads count bytes at offset from the userdata parent resolves to.
func (v *Visitor) UdRead(parent *ref.Ref, offset, count int) ([]byte, error) {
	v.logOp("udread", parent)
	pv, found, err := resolve(v.H, parent)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	ud := pv.AsUserdata()
	if ud == nil {
		return nil, programmerError("udread", "value is a %s, not userdata", pv.Type())
	}
	return ud.Read(offset, count), nil
}

// UdWrite writes data at offset into the userdata parent resolves to.
func (v *Visitor) UdWrite(parent *ref.Ref, offset int, data []byte, partial bool) (n int, ok bool, err error) {
	v.logOp("udwrite", parent)
	pv, found, err := resolve(v.H, parent)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}
	ud := pv.AsUserdata()
	if ud == nil {
		return 0, false, programmerError("udwrite", "value is a %s, not userdata", pv.Type())
	}
	n, wrote := ud.Write(offset, data, partial)
	return n, wrote, nil
}

// valueAt resolves r and marshals the result for D in one step; the
// building block every get*Value/*Value operation above shares.
func (v *Visitor) valueAt(r *ref.Ref, byRef bool) (MarshalResult, bool, error) {
	hv, found, err := resolve(v.H, r)
	if err != nil || !found {
		return MarshalResult{}, found, err
	}
	return v.CopyHostToDebugger(hv, byRef), true, nil
}

// Value is the general-purpose "give me this value" entry point (spec
// §4.6): resolves r and marshals it exactly as valueAt does. It exists as
// its own named operation because it is the one D scripts call on refs
// they already hold, as opposed to refs freshly built by one of the get*
// family.
func (v *Visitor) Value(r *ref.Ref, byRef bool) (MarshalResult, bool, error) {
	v.logOp("value", r)
	return v.valueAt(r, byRef)
}

// Assign writes dVal (optionally backed by srcRef, for a non-scalar
// source) to the host location r addresses.
func (v *Visitor) Assign(r *ref.Ref, dVal vm.Value, srcRef *ref.Ref) (bool, error) {
	v.logOp("assign", r)
	hv, err := v.CopyDebuggerToHost(dVal, srcRef)
	if err != nil {
		return false, err
	}
	return Assign(v.H, r, hv)
}

// Type returns the runtime type of the value r addresses.
func (v *Visitor) Type(r *ref.Ref) (vm.Type, bool, error) {
	v.logOp("type", r)
	hv, found, err := resolve(v.H, r)
	if err != nil || !found {
		return vm.TypeNil, found, err
	}
	return hv.Type(), true, nil
}

// Load compiles source into a callable D-side function (spec §4.6, load).
func (v *Visitor) Load(source, chunkName string) (*vm.Function, error) {
	v.logOp("load", nil)
	return vm.LoadString(source, chunkName)
}

// EvalSource compiles and immediately runs source against D. It backs the
// free-form "evaluate an expression" convenience a DAP client's watch/hover
// box needs (package dap's onEvaluate) and is deliberately D-only — this is
// not the spec's eval operation (spec §4.6), which runs an existing H-side
// function reference under a protected call on H; see Eval for that.
func (v *Visitor) EvalSource(source string) (MarshalResult, error) {
	v.logOp("evalsource", nil)
	fn, err := vm.LoadString(source, "eval")
	if err != nil {
		return MarshalResult{}, err
	}
	results, ok, msg := v.D.ProtectedCall(fn, nil)
	if !ok {
		return MarshalResult{}, &HostError{Message: msg}
	}
	if len(results) == 0 {
		return MarshalResult{Scalar: true, Value: vm.Nil}, nil
	}
	return v.CopyHostToDebugger(results[0], false), nil
}

// Arg pairs a D-side argument value with an optional reference to its
// host-side origin, mirroring how Assign's dVal/srcRef pair lets a
// non-scalar D value be resolved back to the host value it stands for
// (spec §4.4). Eval and Watch use it to marshal their argument lists
// D→H one slot at a time (eval_copy_args, rdebug_visitor.cpp:1426).
type Arg struct {
	Value vm.Value
	Ref   *ref.Ref
}

// evalArgs marshals a D-side argument list to host values, sharing logic
// between Eval and Watch.
func (v *Visitor) evalArgs(args []Arg) ([]vm.Value, error) {
	hostArgs := make([]vm.Value, len(args))
	for i, a := range args {
		hv, err := v.CopyDebuggerToHost(a.Value, a.Ref)
		if err != nil {
			return nil, err
		}
		hostArgs[i] = hv
	}
	return hostArgs, nil
}

// Eval runs the host function fnRef addresses with args under a protected
// call on H (spec §4.6, eval; end-to-end scenario 3), grounded on
// lclient_eval (rdebug_visitor.cpp:1452): fnRef must resolve to a
// function on H, not D, because eval's whole point is running host code
// with the host's own view of the world. ok is false, with no error, when
// the protected call itself failed inside H (the Host exception class,
// spec §7): result then carries the captured error message as a scalar
// string instead of the call's actual return value.
func (v *Visitor) Eval(fnRef *ref.Ref, args ...Arg) (ok bool, result MarshalResult, err error) {
	v.logOp("eval", fnRef)
	fv, found, err := resolve(v.H, fnRef)
	if err != nil {
		return false, MarshalResult{}, err
	}
	if !found {
		return false, MarshalResult{}, nil
	}
	fn := fv.AsFunction()
	if fn == nil {
		return false, MarshalResult{}, programmerError("eval", "value is a %s, not a function", fv.Type())
	}
	hostArgs, err := v.evalArgs(args)
	if err != nil {
		return false, MarshalResult{}, err
	}
	results, callOK, msg := v.H.ProtectedCall(fn, hostArgs)
	if !callOK {
		return false, MarshalResult{Scalar: true, Value: vm.String(msg)}, nil
	}
	if len(results) == 0 {
		return true, MarshalResult{Scalar: true, Value: vm.Nil}, nil
	}
	return true, v.CopyHostToDebugger(results[0], false), nil
}

// CoStatus returns the coroutine status of the thread r addresses.
func (v *Visitor) CoStatus(r *ref.Ref) (string, bool, error) {
	v.logOp("costatus", r)
	hv, found, err := resolve(v.H, r)
	if err != nil || !found {
		return "", found, err
	}
	th := hv.AsThread()
	if th == nil {
		return "", false, programmerError("costatus", "value is a %s, not a thread", hv.Type())
	}
	return th.Status.String(), true, nil
}

// GCCount reports H's simulated heap usage in bytes (spec §4.6, gccount).
func (v *Visitor) GCCount() int64 {
	v.logOp("gccount", nil)
	return v.H.GCCountBytes()
}

// CFunctionInfo symbolizes the native function r addresses. The original
// implementation resolves an arbitrary C function pointer through a
// platform symbolizer (out of scope per spec §1); the idiomatic Go
// analogue that stays in scope is resolving our own process's Go function
// value through runtime.FuncForPC, which only ever symbolizes code this
// binary itself compiled in.
func (v *Visitor) CFunctionInfo(r *ref.Ref) (name string, ok bool, err error) {
	v.logOp("cfunctioninfo", r)
	hv, found, err := resolve(v.H, r)
	if err != nil || !found {
		return "", found, err
	}
	fn := hv.AsFunction()
	if fn == nil || !fn.IsNative() {
		return "", false, programmerError("cfunctioninfo", "value is not a C function")
	}
	if pc := reflect.ValueOf(fn.Native).Pointer(); pc != 0 {
		if rf := runtime.FuncForPC(pc); rf != nil {
			return rf.Name(), true, nil
		}
	}
	return fn.Name, true, nil
}
