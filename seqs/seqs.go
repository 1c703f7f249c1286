// Package seqs implements RFC 793/RFC 1323 sequence number arithmetic:
// 32-bit values that wrap around and must be compared modulo 2**32
// rather than as plain integers.
package seqs

import "fmt"

// Value is a TCP sequence or acknowledgment number. Arithmetic on Value
// wraps modulo 2**32 as required by RFC 793 S3.3.
type Value uint32

// Size is a TCP window or segment length, which cannot itself wrap
// (it is always less than 2**16 in this engine, since window scaling
// is a Non-goal).
type Size uint16

// Add returns v+delta with wraparound.
func Add(v Value, delta Size) Value { return v + Value(delta) }

// Sub returns the wrapped difference v-delta.
func Sub(v Value, delta Size) Value { return v - Value(delta) }

// LessThan reports whether v occurs before w in sequence space, using
// the RFC 1323 trick: a sequence number is "before" another if it lies
// within 2**31 of it on the left.
func (v Value) LessThan(w Value) bool {
	return int32(v-w) < 0
}

// LessThanEq reports whether v equals w or occurs before it.
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// InWindow reports whether v lies in the half-open window [nxt, nxt+wnd),
// which is the RCV/SND acceptability window used throughout RFC 793 S3.3.
// A zero-size window only ever contains nxt itself.
func (v Value) InWindow(nxt Value, wnd Size) bool {
	if wnd == 0 {
		return v == nxt
	}
	return IsBetweenWrapped(nxt-1, v, Add(nxt, wnd))
}

func (v Value) String() string { return fmt.Sprintf("%d", uint32(v)) }

// wrappingLT implements the RFC 1323 "is a before b" rule:
//
//	TCP determines if a data segment is "old" or "new" by testing
//	whether its sequence number is within 2**31 bytes of the left edge
//	of the window, and if it is not, discarding the data as "old".
func wrappingLT(a, b Value) bool {
	return int32(a-b) < 0
}

// IsBetweenWrapped reports whether x lies strictly between start and
// end in wrapped sequence space (start < x < end). Both comparisons
// are strict: x == start and x == end both yield false.
func IsBetweenWrapped(start, x, end Value) bool {
	return wrappingLT(start, x) && wrappingLT(x, end)
}
