package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefPoolAcquireAssignsIncreasingKeys(t *testing.T) {
	table := NewTable()
	pool := NewRefPool(table)

	k1 := pool.Acquire(String("a"))
	k2 := pool.Acquire(String("b"))

	assert.Less(t, k1, k2)
	assert.Equal(t, "a", pool.Get(k1).AsString())
	assert.Equal(t, "b", pool.Get(k2).AsString())
}

func TestRefPoolReleaseRecyclesKey(t *testing.T) {
	table := NewTable()
	pool := NewRefPool(table)

	k1 := pool.Acquire(String("a"))
	pool.Release(k1)

	assert.True(t, pool.Get(k1).IsNil())

	k2 := pool.Acquire(String("b"))
	assert.Equal(t, k1, k2, "released key should be reused before minting a new one")
}

func TestRefPoolBacksOntoProvidedTable(t *testing.T) {
	table := NewTable()
	pool := NewRefPool(table)

	k := pool.Acquire(String("anchored"))
	assert.Equal(t, "anchored", table.Get(Int(k)).AsString())
}
