package vm

// Table is a host table. It keeps a Lua-shaped split between a dense array
// part (contiguous positive integer keys starting at 1) and a hash part,
// because the visitor's table walker (spec §4.5) must address entries by
// raw bucket index rather than by key — something a plain Go map cannot
// do (compare lisp/maps.go's sortedMapKeys, which can only walk keys, not
// slots). A hash slot can be "occupied but empty": raw-setting a key to nil
// clears its value while the slot (and its key) remains addressable by
// index, mirroring a Lua table's dead keys and letting the walker surface
// buckets that ordinary iteration would skip (spec §8, scenario 5).
type Table struct {
	array []Value

	hashKeys   []Value
	hashVals   []Value
	hashLive   []bool

	hasZero bool
	zero    Value

	meta *Table
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// Metatable returns t's metatable, or nil.
func (t *Table) Metatable() *Table { return t.meta }

// SetMetatable installs mt (which may be nil) as t's metatable.
func (t *Table) SetMetatable(mt *Table) { t.meta = mt }

// ArraySize returns the number of slots in the array part.
func (t *Table) ArraySize() int { return len(t.array) }

// HashSize returns the number of slots in the hash part (including
// occupied-but-empty tombstoned slots).
func (t *Table) HashSize() int { return len(t.hashKeys) }

// HasZero reports whether t has a value stored under the dedicated
// zero-key shortcut slot (spec §4.5, get_zero/has_zero). This models the
// LuaJIT/Lua5.x optimization of special-casing the integer key 0, which
// would otherwise not belong to a 1-based array part.
func (t *Table) HasZero() bool { return t.hasZero }

// GetZero returns the value under the zero-key shortcut, or Nil, false if
// unset.
func (t *Table) GetZero() (Value, bool) {
	if !t.hasZero {
		return Nil, false
	}
	return t.zero, true
}

func (t *Table) setZero(v Value) {
	if v.IsNil() {
		t.hasZero = false
		t.zero = Nil
		return
	}
	t.hasZero = true
	t.zero = v
}

// Get performs a raw (no metamethod) lookup of key.
func (t *Table) Get(key Value) Value {
	if key.Type() == TypeInteger {
		if key.AsInt() == 0 {
			v, _ := t.GetZero()
			return v
		}
		if n := key.AsInt(); n >= 1 && int(n) <= len(t.array) {
			return t.array[n-1]
		}
	}
	for i, k := range t.hashKeys {
		if t.hashLive[i] && RawEqual(k, key) {
			return t.hashVals[i]
		}
	}
	return Nil
}

// Set performs a raw (no metamethod) assignment. Setting a value to Nil
// does not remove the key from the hash part (it becomes a dead key,
// still visible to the walker) except at the tail of the array part,
// where trailing nils are trimmed to keep ArraySize meaningful.
func (t *Table) Set(key, val Value) {
	if key.Type() == TypeInteger {
		n := key.AsInt()
		if n == 0 {
			t.setZero(val)
			return
		}
		if n >= 1 && int(n) <= len(t.array) {
			t.array[n-1] = val
			t.trimArrayTail()
			return
		}
		if int(n) == len(t.array)+1 && !val.IsNil() {
			t.array = append(t.array, val)
			t.absorbFromHash()
			return
		}
	}
	for i, k := range t.hashKeys {
		if t.hashLive[i] && RawEqual(k, key) {
			// key stays even when val is nil: a dead key remains
			// addressable by raw index (spec §8, scenario 5).
			t.hashVals[i] = val
			t.hashLive[i] = !val.IsNil()
			return
		}
	}
	if val.IsNil() {
		return
	}
	t.hashKeys = append(t.hashKeys, key)
	t.hashVals = append(t.hashVals, val)
	t.hashLive = append(t.hashLive, true)
}

func (t *Table) trimArrayTail() {
	for len(t.array) > 0 && t.array[len(t.array)-1].IsNil() {
		t.array = t.array[:len(t.array)-1]
	}
}

// absorbFromHash moves any hash-part integer keys that now extend the
// array part contiguously into the array, matching how a real Lua table
// migrates keys between parts on rehash.
func (t *Table) absorbFromHash() {
	for {
		next := Int(int64(len(t.array) + 1))
		moved := false
		for i, k := range t.hashKeys {
			if t.hashLive[i] && k.Type() == TypeInteger && k.AsInt() == next.AsInt() {
				t.array = append(t.array, t.hashVals[i])
				t.hashLive[i] = false
				moved = true
				break
			}
		}
		if !moved {
			return
		}
	}
}

// GetKeyAt returns the key stored at raw bucket index i (0-based, within
// [0, HashSize())), or false if i is out of range. The slot may be
// occupied-but-empty (a dead key); callers that need "is there a live
// value" should also check GetValueAt.
func (t *Table) GetKeyAt(i int) (Value, bool) {
	if i < 0 || i >= len(t.hashKeys) {
		return Nil, false
	}
	return t.hashKeys[i], true
}

// GetValueAt returns the value stored at raw bucket index i, or false if
// the bucket is empty (unoccupied or its key was cleared).
func (t *Table) GetValueAt(i int) (Value, bool) {
	if i < 0 || i >= len(t.hashVals) || !t.hashLive[i] {
		return Nil, false
	}
	return t.hashVals[i], true
}

// GetKV returns both the key and value at raw bucket index i. ok is false
// if the bucket is empty.
func (t *Table) GetKV(i int) (key, val Value, ok bool) {
	k, hasKey := t.GetKeyAt(i)
	if !hasKey {
		return Nil, Nil, false
	}
	v, hasVal := t.GetValueAt(i)
	if !hasVal {
		return k, Nil, false
	}
	return k, v, true
}

// SetValueAt writes the value at raw bucket index i, leaving the key
// unchanged. Returns false if i is out of range.
func (t *Table) SetValueAt(i int, v Value) bool {
	if i < 0 || i >= len(t.hashVals) {
		return false
	}
	t.hashVals[i] = v
	t.hashLive[i] = !v.IsNil()
	return true
}
