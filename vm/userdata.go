package vm

// Userdata is an opaque host blob: a raw byte buffer plus a fixed number of
// "uservalue" slots (arbitrary host values attached to the userdata) and an
// optional metatable. udread/udwrite (spec §4.6) address the byte buffer
// directly; USERVALUE segments (spec §3.1) address the slots.
type Userdata struct {
	TypeName   string
	Data       []byte
	uservalues []Value
	meta       *Table
}

// NewUserdata allocates userdata that uses data as its byte buffer and has
// numUservalues uservalue slots (all nil initially).
func NewUserdata(typeName string, data []byte, numUservalues int) *Userdata {
	return &Userdata{
		TypeName:   typeName,
		Data:       data,
		uservalues: make([]Value, numUservalues),
	}
}

// Metatable returns u's metatable, or nil.
func (u *Userdata) Metatable() *Table { return u.meta }

// SetMetatable installs mt (which may be nil) as u's metatable.
func (u *Userdata) SetMetatable(mt *Table) { u.meta = mt }

// NumUservalues returns the number of uservalue slots u carries.
func (u *Userdata) NumUservalues() int { return len(u.uservalues) }

// Uservalue returns uservalue slot i (1-based). ok is false if out of range.
func (u *Userdata) Uservalue(i int) (Value, bool) {
	if i < 1 || i > len(u.uservalues) {
		return Nil, false
	}
	return u.uservalues[i-1], true
}

// SetUservalue writes uservalue slot i (1-based). Returns false if out of range.
func (u *Userdata) SetUservalue(i int, v Value) bool {
	if i < 1 || i > len(u.uservalues) {
		return false
	}
	u.uservalues[i-1] = v
	return true
}

// Read returns a clipped copy of u.Data[offset:offset+count], clamped so
// that offset+count never exceeds len(Data). Returns an empty slice if
// offset is at or past the end of the buffer (spec §8, udread boundary
// behavior).
func (u *Userdata) Read(offset, count int) []byte {
	if offset < 0 || offset >= len(u.Data) || count <= 0 {
		return nil
	}
	end := offset + count
	if end > len(u.Data) {
		end = len(u.Data)
	}
	out := make([]byte, end-offset)
	copy(out, u.Data[offset:end])
	return out
}

// Write copies data into u.Data starting at offset. If partial is true, it
// writes as many bytes as fit and returns the count written. If partial is
// false, it writes only if the whole range fits, returning whether it did
// (spec §8, udwrite boundary behavior).
func (u *Userdata) Write(offset int, data []byte, partial bool) (n int, wrote bool) {
	if offset < 0 || offset > len(u.Data) {
		return 0, false
	}
	room := len(u.Data) - offset
	if !partial {
		if len(data) > room {
			return 0, false
		}
		copy(u.Data[offset:], data)
		return len(data), true
	}
	n = len(data)
	if n > room {
		n = room
	}
	copy(u.Data[offset:offset+n], data[:n])
	return n, true
}
