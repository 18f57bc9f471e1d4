package visitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opaqueref/visitor/ref"
	"github.com/opaqueref/visitor/vm"
)

func newTestVisitor() *Visitor {
	h := vm.NewMachine("host")
	d := vm.NewMachine("debugger")
	return New(h, d)
}

func TestCopyHostToDebuggerScalarsCopyByValue(t *testing.T) {
	v := newTestVisitor()
	res := v.CopyHostToDebugger(vm.Int(5), true)
	assert.True(t, res.Scalar)
	assert.Equal(t, int64(5), res.Value.AsInt())
}

func TestCopyHostToDebuggerNonScalarByRefAnchors(t *testing.T) {
	v := newTestVisitor()
	table := vm.NewTable()
	res := v.CopyHostToDebugger(vm.TableValue(table), true)
	require.NotNil(t, res.Ref)

	// The anchor keeps the table alive and re-addressable through H's own
	// registry, independent of any other reference to it.
	back, found, err := resolve(v.H, res.Ref)
	require.NoError(t, err)
	require.True(t, found)
	assert.Same(t, table, back.AsTable())
}

func TestCopyHostToDebuggerNonScalarWithoutRefFallsBackToDescriptor(t *testing.T) {
	v := newTestVisitor()
	res := v.CopyHostToDebugger(vm.TableValue(vm.NewTable()), false)
	assert.False(t, res.Scalar)
	assert.Nil(t, res.Ref)
	assert.Contains(t, res.Descriptor, "table:")
}

func TestUnrefReleasesAnchorForReuse(t *testing.T) {
	v := newTestVisitor()
	res1 := v.CopyHostToDebugger(vm.TableValue(vm.NewTable()), true)
	v.Unref(res1.Ref.IntKey)
	res2 := v.CopyHostToDebugger(vm.TableValue(vm.NewTable()), true)
	assert.Equal(t, res1.Ref.IntKey, res2.Ref.IntKey)
}

func TestWatchAndCleanWatch(t *testing.T) {
	v := newTestVisitor()
	v.H.Globals.Set(vm.String("makePoint"), vm.FunctionValue(vm.NewNativeFunction("makePoint", func(m *vm.Machine, args []vm.Value) ([]vm.Value, error) {
		t := vm.NewTable()
		t.Set(vm.String("x"), vm.Int(1))
		return []vm.Value{vm.TableValue(t)}, nil
	})))

	ok, refs, msg, err := v.Watch(ref.NewGlobal().IndexStr("makePoint"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, msg)
	require.Len(t, refs, 1)

	_, found, err := resolve(v.H, refs[0])
	require.NoError(t, err)
	require.True(t, found)

	v.CleanWatch()
	_, found, err = resolve(v.H, refs[0])
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWatchReportsHostErrorWithoutRaising(t *testing.T) {
	v := newTestVisitor()
	v.H.Globals.Set(vm.String("boom"), vm.FunctionValue(vm.NewNativeFunction("boom", func(m *vm.Machine, args []vm.Value) ([]vm.Value, error) {
		panic("kaboom")
	})))

	ok, refs, msg, err := v.Watch(ref.NewGlobal().IndexStr("boom"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, refs)
	assert.Contains(t, msg, "kaboom")
}

func TestCopyDebuggerToHostDelegatesNonScalarToReference(t *testing.T) {
	v := newTestVisitor()
	table := vm.NewTable()
	table.Set(vm.String("k"), vm.Int(1))
	src := v.CopyHostToDebugger(vm.TableValue(table), true)

	placeholder := vm.TableValue(vm.NewTable()) // stand-in D-side proxy; only src.Ref should matter
	hv, err := v.CopyDebuggerToHost(placeholder, src.Ref)
	require.NoError(t, err)
	assert.Same(t, table, hv.AsTable())
}

func TestCopyDebuggerToHostRejectsNonScalarWithoutReference(t *testing.T) {
	v := newTestVisitor()
	_, err := v.CopyDebuggerToHost(vm.ThreadValue(vm.NewThread()), nil)
	assert.Error(t, err)
}

func TestCopyDebuggerToHostRebuildsTableRecursively(t *testing.T) {
	v := newTestVisitor()
	inner := vm.NewTable()
	inner.Set(vm.String("y"), vm.Int(2))
	dTable := vm.NewTable()
	dTable.Set(vm.Int(1), vm.String("a"))
	dTable.Set(vm.String("nested"), vm.TableValue(inner))

	hv, err := v.CopyDebuggerToHost(vm.TableValue(dTable), nil)
	require.NoError(t, err)
	hTable := hv.AsTable()
	require.NotNil(t, hTable)
	assert.NotSame(t, dTable, hTable)
	assert.Equal(t, "a", hTable.Get(vm.Int(1)).AsString())
	assert.Equal(t, int64(2), hTable.Get(vm.String("nested")).AsTable().Get(vm.String("y")).AsInt())
}
