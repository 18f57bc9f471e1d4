package visitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opaqueref/visitor/ref"
	"github.com/opaqueref/visitor/vm"
)

func newHostWithFrame() (*vm.Machine, *vm.Frame) {
	h := vm.NewMachine("host")
	fn := &vm.Function{Name: "main", LocalNames: []string{"x"}}
	frame := vm.NewFrame(fn, 1)
	frame.SetLocal(1, vm.Int(7))
	h.PushFrame(frame)
	return h, frame
}

func TestEvalFrameLocal(t *testing.T) {
	h, _ := newHostWithFrame()
	before := h.Stack.Top()

	ok, err := Eval(h, ref.NewFrameLocal(0, 1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before+1, h.Stack.Top())
	top, _ := h.Stack.Pop()
	assert.Equal(t, int64(7), top.AsInt())
}

func TestEvalAbsenceLeavesStackUnchanged(t *testing.T) {
	h, _ := newHostWithFrame()
	before := h.Stack.Top()

	ok, err := Eval(h, ref.NewFrameLocal(0, 99))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, h.Stack.Top())
}

func TestEvalProgrammerErrorLeavesStackUnchanged(t *testing.T) {
	h, _ := newHostWithFrame()
	before := h.Stack.Top()

	// FRAME_LOCAL resolves to an integer, not a function: UPVALUE on it
	// is a shape mismatch, not a mere absence.
	ok, err := Eval(h, ref.NewFrameLocal(0, 1).Upvalue(1))
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, h.Stack.Top())
	var pe *ProgrammerError
	assert.ErrorAs(t, err, &pe)
}

func TestEvalGlobalTableIndex(t *testing.T) {
	h := vm.NewMachine("host")
	h.Globals.Set(vm.String("score"), vm.Int(100))

	ok, err := Eval(h, ref.NewGlobal().IndexStr("score"))
	require.NoError(t, err)
	require.True(t, ok)
	top, _ := h.Stack.Pop()
	assert.Equal(t, int64(100), top.AsInt())
}

func TestAssignRejectsUnwritableRootsAndIndexKey(t *testing.T) {
	h := vm.NewMachine("host")
	unwritable := []*ref.Ref{
		ref.NewGlobal(),
		ref.NewRegistry(),
		ref.NewFrameFunc(0),
		ref.NewStack(1),
		ref.NewGlobal().IndexStr("x").IndexKey(0),
	}
	for _, r := range unwritable {
		ok, err := Assign(h, r, vm.Int(1))
		assert.NoError(t, err)
		assert.False(t, ok, r.String())
	}
}

func TestAssignFrameLocalWrites(t *testing.T) {
	h, frame := newHostWithFrame()
	ok, err := Assign(h, ref.NewFrameLocal(0, 1), vm.Int(9))
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := frame.Local(1)
	assert.Equal(t, int64(9), v.AsInt())
}

func TestAssignIndexIntCreatesEntry(t *testing.T) {
	h := vm.NewMachine("host")
	h.Globals.Set(vm.String("t"), vm.TableValue(vm.NewTable()))

	ok, err := Assign(h, ref.NewGlobal().IndexStr("t").IndexInt(5), vm.String("hi"))
	require.NoError(t, err)
	require.True(t, ok)

	inner := h.Globals.Get(vm.String("t")).AsTable()
	assert.Equal(t, "hi", inner.Get(vm.Int(5)).AsString())
}

func TestAssignMetatableOnNonAggregateIsRefused(t *testing.T) {
	h := vm.NewMachine("host")
	h.Stack.Push(vm.String("s"))
	mt := vm.NewTable()
	mt.Set(vm.String("__tostring"), vm.Bool(true))

	ok, err := Assign(h, ref.NewStack(-1).Metatable(vm.TypeString), vm.TableValue(mt))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, h.GetMetatable(vm.String("s")))
}

func TestResolveRootMetatableFetchesSharedScalarMetatable(t *testing.T) {
	h := vm.NewMachine("host")
	mt := vm.NewTable()
	mt.Set(vm.String("__tostring"), vm.Bool(true))
	require.NoError(t, h.SetTypeMetatable(vm.TypeString, mt))

	ok, err := Eval(h, ref.NewMetatableOf(vm.TypeString))
	require.NoError(t, err)
	require.True(t, ok)
	top, _ := h.Stack.Pop()
	assert.Same(t, mt, top.AsTable())
}

func TestResolveRootMetatableAbsentWhenNoneRegistered(t *testing.T) {
	h := vm.NewMachine("host")

	_, found, err := resolve(h, ref.NewMetatableOf(vm.TypeBoolean))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAssignMetatableOnAggregateWrites(t *testing.T) {
	h := vm.NewMachine("host")
	table := vm.NewTable()
	h.Globals.Set(vm.String("t"), vm.TableValue(table))
	mt := vm.NewTable()

	ok, err := Assign(h, ref.NewGlobal().IndexStr("t").Metatable(vm.TypeTable), vm.TableValue(mt))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, mt, table.Metatable())
}
