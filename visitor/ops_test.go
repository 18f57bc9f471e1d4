package visitor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opaqueref/visitor/ref"
	"github.com/opaqueref/visitor/vm"
)

func TestTableWalkerSurfacesDeadAndNaNKeys(t *testing.T) {
	v := newTestVisitor()
	table := vm.NewTable()
	table.Set(vm.String("live"), vm.Int(1))
	table.Set(vm.String("dead"), vm.Int(2))
	table.Set(vm.String("dead"), vm.Nil) // dies but stays addressable
	table.Set(vm.Float(math.NaN()), vm.String("orphan"))
	v.H.Globals.Set(vm.String("t"), vm.TableValue(table))

	root := ref.NewGlobal().IndexStr("t")
	_, hashSize, _, err := v.TableSize(root)
	require.NoError(t, err)
	require.Equal(t, 3, hashSize)

	sawDead, sawNaN := false, false
	for i := 0; i < hashSize; i++ {
		key, val, keyOK, valOK, err := v.TableHashValue(root, i, false)
		require.NoError(t, err)
		require.True(t, keyOK)
		if key.Scalar && key.Value.Type() == vm.TypeString && key.Value.AsString() == "dead" {
			assert.False(t, valOK)
			sawDead = true
		}
		if key.Scalar && key.Value.Type() == vm.TypeFloat && math.IsNaN(key.Value.AsFloat()) {
			assert.True(t, valOK)
			assert.Equal(t, "orphan", val.Value.AsString())
			sawNaN = true
		}
	}
	assert.True(t, sawDead)
	assert.True(t, sawNaN)
}

func TestGetLocalReturnsDeclaredName(t *testing.T) {
	v := newTestVisitor()
	fn := &vm.Function{Name: "main", LocalNames: []string{"count"}}
	frame := vm.NewFrame(fn, 1)
	frame.SetLocal(1, vm.Int(3))
	v.H.PushFrame(frame)

	name, r, ok, err := v.GetLocal(0, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "count", name)
	assert.Equal(t, ref.FrameLocal, r.Kind)
}

func TestGetLocalRejectsOutOfRangeFrameAndSlot(t *testing.T) {
	v := newTestVisitor()

	_, _, ok, err := v.GetLocal(-1, 1)
	assert.False(t, ok)
	require.Error(t, err)
	var pe *ProgrammerError
	assert.ErrorAs(t, err, &pe)

	_, _, ok, err = v.GetLocal(0, 0)
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorAs(t, err, &pe)

	_, _, ok, err = v.GetLocal(0, 256)
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorAs(t, err, &pe)
}

func TestUdReadWriteRoundtrip(t *testing.T) {
	v := newTestVisitor()
	ud := vm.NewUserdata("blob", make([]byte, 4), 0)
	v.H.Globals.Set(vm.String("buf"), vm.UserdataValue(ud))

	root := ref.NewGlobal().IndexStr("buf")
	n, ok, err := v.UdWrite(root, 0, []byte{1, 2, 3}, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, n)

	data, err := v.UdRead(root, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestCoStatusReportsThreadState(t *testing.T) {
	v := newTestVisitor()
	th := vm.NewThread()
	v.H.Globals.Set(vm.String("co"), vm.ThreadValue(th))

	status, ok, err := v.CoStatus(ref.NewGlobal().IndexStr("co"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "suspended", status)
}

func TestTypeOperation(t *testing.T) {
	v := newTestVisitor()
	v.H.Globals.Set(vm.String("n"), vm.Int(1))
	typ, ok, err := v.Type(ref.NewGlobal().IndexStr("n"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vm.TypeInteger, typ)
}

func TestEvalSourceArithmetic(t *testing.T) {
	v := newTestVisitor()
	res, err := v.EvalSource("1 + 2 * 3")
	require.NoError(t, err)
	require.True(t, res.Scalar)
	assert.Equal(t, int64(7), res.Value.AsInt())
}

func TestEvalRunsHostFunctionUnderProtectedCall(t *testing.T) {
	v := newTestVisitor()
	v.H.Globals.Set(vm.String("inner"), vm.FunctionValue(vm.NewNativeFunction("inner", func(m *vm.Machine, args []vm.Value) ([]vm.Value, error) {
		return []vm.Value{vm.Int(args[0].AsInt() + 1)}, nil
	})))

	ok, result, err := v.Eval(ref.NewGlobal().IndexStr("inner"), Arg{Value: vm.Int(41)})
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, result.Scalar)
	assert.Equal(t, int64(42), result.Value.AsInt())
}

func TestEvalCapturesHostErrorAsFalseAndMessage(t *testing.T) {
	v := newTestVisitor()
	v.H.Globals.Set(vm.String("boom"), vm.FunctionValue(vm.NewNativeFunction("boom", func(m *vm.Machine, args []vm.Value) ([]vm.Value, error) {
		panic("kaboom")
	})))

	ok, result, err := v.Eval(ref.NewGlobal().IndexStr("boom"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, result.Value.AsString(), "kaboom")
}

func TestEvalRejectsNonFunctionTarget(t *testing.T) {
	v := newTestVisitor()
	v.H.Globals.Set(vm.String("x"), vm.Int(1))

	_, _, err := v.Eval(ref.NewGlobal().IndexStr("x"))
	require.Error(t, err)
	var pe *ProgrammerError
	assert.ErrorAs(t, err, &pe)
}

func TestCFunctionInfoSymbolizesNativeFunction(t *testing.T) {
	v := newTestVisitor()
	fn := vm.NewNativeFunction("double", func(mm *vm.Machine, args []vm.Value) ([]vm.Value, error) {
		return []vm.Value{vm.Int(args[0].AsInt() * 2)}, nil
	})
	v.H.Globals.Set(vm.String("double"), vm.FunctionValue(fn))

	name, ok, err := v.CFunctionInfo(ref.NewGlobal().IndexStr("double"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, name)
}

func TestCFunctionInfoRejectsNonCFunction(t *testing.T) {
	v := newTestVisitor()
	v.H.Globals.Set(vm.String("x"), vm.Int(1))

	_, ok, err := v.CFunctionInfo(ref.NewGlobal().IndexStr("x"))
	assert.False(t, ok)
	require.Error(t, err)
	var pe *ProgrammerError
	assert.ErrorAs(t, err, &pe)
}

func TestTableHashVEnumeratesAllBucketsPlusZero(t *testing.T) {
	v := newTestVisitor()
	table := vm.NewTable()
	table.Set(vm.String("a"), vm.Int(1))
	table.Set(vm.String("b"), vm.Int(2))
	table.Set(vm.Int(0), vm.String("zero"))
	v.H.Globals.Set(vm.String("t"), vm.TableValue(table))

	root := ref.NewGlobal().IndexStr("t")
	entries, err := v.TableHashV(root, TableHashUnbounded)
	require.NoError(t, err)
	require.Len(t, entries, 6) // 2 hash pairs + the zero-key pair

	sawZero := false
	for i := 0; i+1 < len(entries); i += 2 {
		if entries[i].Scalar && entries[i].Value.Type() == vm.TypeInteger && entries[i].Value.AsInt() == 0 {
			assert.Equal(t, "zero", entries[i+1].Value.AsString())
			sawZero = true
		}
	}
	assert.True(t, sawZero)
}

func TestTableHashVZeroCapReturnsEmpty(t *testing.T) {
	v := newTestVisitor()
	table := vm.NewTable()
	table.Set(vm.String("a"), vm.Int(1))
	v.H.Globals.Set(vm.String("t"), vm.TableValue(table))

	entries, err := v.TableHashV(ref.NewGlobal().IndexStr("t"), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTableHashCapLimitsEntryCount(t *testing.T) {
	v := newTestVisitor()
	table := vm.NewTable()
	table.Set(vm.String("a"), vm.Int(1))
	table.Set(vm.String("b"), vm.Int(2))
	table.Set(vm.String("c"), vm.Int(3))
	v.H.Globals.Set(vm.String("t"), vm.TableValue(table))

	entries, err := v.TableHashV(ref.NewGlobal().IndexStr("t"), 2)
	require.NoError(t, err)
	assert.Len(t, entries, 4) // 2 entries * (key, value)
}

func TestTableHashRefVariantEmitsKeyTwiceThenValueRef(t *testing.T) {
	v := newTestVisitor()
	table := vm.NewTable()
	table.Set(vm.String("only"), vm.Int(9))
	v.H.Globals.Set(vm.String("t"), vm.TableValue(table))

	entries, err := v.TableHash(ref.NewGlobal().IndexStr("t"), TableHashUnbounded)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.NotNil(t, entries[0].Ref)
	assert.Equal(t, ref.IndexKey, entries[0].Ref.Kind)
	assert.True(t, entries[1].Scalar)
	assert.Equal(t, "only", entries[1].Value.AsString())
	require.NotNil(t, entries[2].Ref)
	assert.Equal(t, ref.IndexVal, entries[2].Ref.Kind)
}

func TestTableKeyScansForwardToNextStringKey(t *testing.T) {
	v := newTestVisitor()
	table := vm.NewTable()
	table.Set(vm.Int(100), vm.Int(1)) // non-string key, must be skipped
	table.Set(vm.String("name"), vm.Int(2))
	v.H.Globals.Set(vm.String("t"), vm.TableValue(table))

	root := ref.NewGlobal().IndexStr("t")
	key, next, ok, err := v.TableKey(root, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "name", key)

	_, _, ok, err = v.TableKey(root, next)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetMetatableOfTypeReturnsSharedScalarMetatable(t *testing.T) {
	v := newTestVisitor()
	mt := vm.NewTable()
	mt.Set(vm.String("__tostring"), vm.Int(1))
	require.NoError(t, v.H.SetTypeMetatable(vm.TypeString, mt))

	r, ok, err := v.GetMetatableOfType(vm.TypeString)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, r.IsRoot())

	val, found, err := v.GetMetatableValueOfType(vm.TypeString, false)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ref.Metatable, r.Kind)
	assert.False(t, val.Scalar)
}

func TestAssignRefusesRootScalarMetatable(t *testing.T) {
	v := newTestVisitor()
	mt := vm.NewTable()
	ok, err := v.Assign(ref.NewMetatableOf(vm.TypeString), vm.TableValue(mt), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
