// Package idspace implements the bounded 16-bit identifier allocator shared
// by the topic, message, request, and registration id spaces.
package idspace

import "fmt"

// MaxID is the largest value a 16-bit identifier may take.
const MaxID = uint16(0xFFFF)

// Next scans from cursor+1, wrapping around, and returns the first id not
// present in used. allowMax controls whether MaxID itself may be returned;
// topic and retain spaces pass false, message/request/registration spaces
// pass true. Next returns (0, false) when the space is full.
//
// The presence of 0 in used is a programmer error: 0 always means "none"
// and must never be allocated.
func Next(used map[uint16]struct{}, cursor uint16, allowMax bool) (uint16, bool) {
	if _, ok := used[0]; ok {
		panic("idspace: id 0 present in used set")
	}
	if !allowMax {
		if _, ok := used[MaxID]; ok {
			panic("idspace: MaxID present in a space that disallows it")
		}
	}

	top := MaxID
	if !allowMax {
		top = MaxID - 1
	}

	limit := uint32(top)
	start := uint32(cursor) + 1
	for i := uint32(0); i <= limit; i++ {
		candidate := (start + i) % (limit + 1)
		if candidate == 0 {
			continue
		}
		id := uint16(candidate)
		if _, taken := used[id]; !taken {
			return id, true
		}
	}
	return 0, false
}

// Congested reports whether the space identified by used (with the same
// allowMax policy as Next) has no more free ids.
func Congested(used map[uint16]struct{}, allowMax bool) bool {
	top := MaxID
	if !allowMax {
		top = MaxID - 1
	}
	return uint32(len(used)) >= uint32(top)
}

// CheckMirror panics if set's size differs from mirrorLen, the number of
// keys in the map set mirrors; it is used to assert the "used set mirrors
// map keys" invariant held by every id-keyed table in this codebase. Only
// the sizes are compared, not the keys themselves.
func CheckMirror(name string, set map[uint16]struct{}, mirrorLen int) {
	if len(set) != mirrorLen {
		panic(fmt.Sprintf("idspace: %s mirror mismatch: set has %d, map has %d", name, len(set), mirrorLen))
	}
}
