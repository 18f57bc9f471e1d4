package vm

// RefPool assigns small recycled integer keys to values held live in an
// anchor table, the "standard reference mechanism" the visitor spec
// mentions (§4.7) for __debugger_ref/__debugger_watch: acquiring a key
// reuses the most recently released one before growing, matching the
// luaL_ref/luaL_unref free-list convention the original implementation
// relies on (original_source/src/luadebug/rdebug_visitor.cpp, ref_value /
// unref_value).
type RefPool struct {
	table *Table
	free  []int64
	next  int64
}

// NewRefPool returns a pool that stores its live entries in table (the
// anchor table itself; callers are expected to pass __debugger_ref's or
// __debugger_watch's backing *Table).
func NewRefPool(table *Table) *RefPool {
	return &RefPool{table: table, next: 1}
}

// Acquire stores v under a fresh (or recycled) integer key and returns it.
func (p *RefPool) Acquire(v Value) int64 {
	var key int64
	if n := len(p.free); n > 0 {
		key = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		key = p.next
		p.next++
	}
	p.table.Set(Int(key), v)
	return key
}

// Release clears key's slot and returns it to the free list for reuse.
func (p *RefPool) Release(key int64) {
	p.table.Set(Int(key), Nil)
	p.free = append(p.free, key)
}

// Get returns the value stored under key.
func (p *RefPool) Get(key int64) Value {
	return p.table.Get(Int(key))
}
