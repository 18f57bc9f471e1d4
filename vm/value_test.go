package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueConstructorsRoundtrip(t *testing.T) {
	assert.True(t, Nil.IsNil())
	assert.Equal(t, TypeBoolean, Bool(true).Type())
	assert.True(t, Bool(true).AsBool())
	assert.Equal(t, int64(42), Int(42).AsInt())
	assert.Equal(t, 3.5, Float(3.5).AsFloat())
	assert.Equal(t, "hi", String("hi").AsString())
}

func TestFunctionValueSplitsNativeFromClosure(t *testing.T) {
	native := NewNativeFunction("f", func(m *Machine, args []Value) ([]Value, error) { return nil, nil })
	assert.Equal(t, TypeCFunction, FunctionValue(native).Type())

	closure := NewClosure("g", nil, nil, func(m *Machine, upvalues, args []Value) ([]Value, error) { return nil, nil })
	assert.Equal(t, TypeFunction, FunctionValue(closure).Type())
}

func TestRawEqualNaNIsNeverEqual(t *testing.T) {
	nan := Float(math.NaN())
	assert.False(t, RawEqual(nan, nan))
}

func TestRawEqualTableIdentity(t *testing.T) {
	t1 := NewTable()
	t2 := NewTable()
	assert.True(t, RawEqual(TableValue(t1), TableValue(t1)))
	assert.False(t, RawEqual(TableValue(t1), TableValue(t2)))
}

func TestNilWrappersCollapseToNil(t *testing.T) {
	assert.True(t, TableValue(nil).IsNil())
	assert.True(t, FunctionValue(nil).IsNil())
	assert.True(t, UserdataValue(nil).IsNil())
	assert.True(t, ThreadValue(nil).IsNil())
}
