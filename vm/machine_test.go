package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMachineHasRunningMainThread(t *testing.T) {
	m := NewMachine("host")
	assert.Equal(t, ThreadRunning, m.CurrentThread().Status)
	assert.Same(t, m.MainThread(), m.CurrentThread())
}

func TestMachineFrameAtUsesLevelZeroAsTop(t *testing.T) {
	m := NewMachine("host")
	f1 := NewFrame(nil, 0)
	f2 := NewFrame(nil, 0)
	m.PushFrame(f1)
	m.PushFrame(f2)

	assert.Same(t, f2, m.FrameAt(0))
	assert.Same(t, f1, m.FrameAt(1))
	assert.Nil(t, m.FrameAt(2))
	assert.Equal(t, 2, m.Depth())
}

func TestMachineGetMetatableUsesOwnForAggregatesAndSharedOtherwise(t *testing.T) {
	m := NewMachine("host")
	table := NewTable()
	ownMeta := NewTable()
	table.SetMetatable(ownMeta)
	assert.Same(t, ownMeta, m.GetMetatable(TableValue(table)))

	sharedMeta := NewTable()
	require.NoError(t, m.SetTypeMetatable(TypeString, sharedMeta))
	assert.Same(t, sharedMeta, m.GetMetatable(String("x")))
}

func TestMachineSetTypeMetatableRejectsAggregateTypes(t *testing.T) {
	m := NewMachine("host")
	err := m.SetTypeMetatable(TypeTable, NewTable())
	assert.Error(t, err)
}

func TestMachineCallPushesAndPopsFrameWithArgsAsLocals(t *testing.T) {
	m := NewMachine("host")
	var sawDepth int
	fn := NewNativeFunction("f", func(mm *Machine, args []Value) ([]Value, error) {
		sawDepth = mm.Depth()
		return []Value{args[0]}, nil
	})

	results, err := m.Call(fn, []Value{Int(42)})
	require.NoError(t, err)
	assert.Equal(t, int64(42), results[0].AsInt())
	assert.Equal(t, 1, sawDepth)
	assert.Equal(t, 0, m.Depth())
}

func TestMachineProtectedCallRecoversPanic(t *testing.T) {
	m := NewMachine("host")
	fn := NewNativeFunction("boom", func(mm *Machine, args []Value) ([]Value, error) {
		panic("kaboom")
	})

	results, ok, msg := m.ProtectedCall(fn, nil)
	assert.False(t, ok)
	assert.Nil(t, results)
	assert.Contains(t, msg, "kaboom")
}

func TestMachineProtectedCallReportsError(t *testing.T) {
	m := NewMachine("host")
	fn := NewNativeFunction("fails", func(mm *Machine, args []Value) ([]Value, error) {
		return nil, assertError{}
	})

	_, ok, msg := m.ProtectedCall(fn, nil)
	assert.False(t, ok)
	assert.Equal(t, "boom", msg)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestMachineGCCountBytesTracksAllocAndFree(t *testing.T) {
	m := NewMachine("host")
	m.AllocBytes(2048)
	assert.Equal(t, int64(2048), m.GCCountBytes())

	m.FreeBytes(4096)
	assert.Equal(t, int64(0), m.GCCountBytes())
}
