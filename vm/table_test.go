package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableArrayGrowsContiguously(t *testing.T) {
	tbl := NewTable()
	tbl.Set(Int(1), String("a"))
	tbl.Set(Int(2), String("b"))
	require.Equal(t, 2, tbl.ArraySize())
	assert.Equal(t, "a", tbl.Get(Int(1)).AsString())
	assert.Equal(t, "b", tbl.Get(Int(2)).AsString())
}

func TestTableHashAbsorbsContiguousIntKeyOnArrayExtension(t *testing.T) {
	tbl := NewTable()
	tbl.Set(Int(1), String("a"))
	tbl.Set(Int(3), String("c")) // goes to hash part: not contiguous yet
	tbl.Set(Int(2), String("b")) // extends array to 2, then should absorb key 3
	assert.Equal(t, 3, tbl.ArraySize())
	assert.Equal(t, "c", tbl.Get(Int(3)).AsString())
}

func TestTableZeroKeyShortcut(t *testing.T) {
	tbl := NewTable()
	assert.False(t, tbl.HasZero())
	tbl.Set(Int(0), String("zero"))
	assert.True(t, tbl.HasZero())
	v, ok := tbl.GetZero()
	require.True(t, ok)
	assert.Equal(t, "zero", v.AsString())
}

func TestTableDeadKeyStaysAddressableByRawIndex(t *testing.T) {
	tbl := NewTable()
	tbl.Set(String("k"), Int(1))
	tbl.Set(String("k"), Nil) // clears the value but keeps the key live in the bucket

	assert.True(t, tbl.Get(String("k")).IsNil())
	key, hasKey := tbl.GetKeyAt(0)
	require.True(t, hasKey)
	assert.Equal(t, "k", key.AsString())
	_, hasVal := tbl.GetValueAt(0)
	assert.False(t, hasVal)
}

func TestTableNaNKeyUnreachableByGetButVisibleToWalker(t *testing.T) {
	tbl := NewTable()
	nan := Float(math.NaN())
	tbl.Set(nan, String("orphan"))

	assert.True(t, tbl.Get(nan).IsNil())

	k, v, ok := tbl.GetKV(0)
	require.True(t, ok)
	assert.True(t, math.IsNaN(k.AsFloat()))
	assert.Equal(t, "orphan", v.AsString())
}

func TestTableSetValueAtLeavesKeyInPlace(t *testing.T) {
	tbl := NewTable()
	tbl.Set(String("k"), Int(1))
	ok := tbl.SetValueAt(0, Int(2))
	require.True(t, ok)
	assert.Equal(t, int64(2), tbl.Get(String("k")).AsInt())
}
