// Package addr defines the Address type shared by every core subsystem:
// the scanner, the pointer map, the resolver, and the code anchor
// extractor all key their data structures on addr.Address.
package addr

import "fmt"

// Address is a byte position in the target's virtual address space.
// The toolkit assumes a little-endian 64-bit (or 32-bit, zero-extended)
// target.
type Address uint64

// String renders the address the way the rest of the toolkit prints it:
// lower-case hex with a 0x prefix.
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Add returns a+n, saturating at the top of the 64-bit space instead of
// wrapping.
func (a Address) Add(n uint64) Address {
	if n > ^uint64(0)-uint64(a) {
		return Address(^uint64(0))
	}
	return a + Address(n)
}

// Sub returns a-n, saturating at zero instead of wrapping.
func (a Address) Sub(n uint64) Address {
	if n > uint64(a) {
		return 0
	}
	return a - Address(n)
}

// SignedDiff computes a-b as a signed 64-bit quantity, saturating on
// overflow in either direction rather than wrapping.
func SignedDiff(a, b Address) int64 {
	if a >= b {
		d := uint64(a - b)
		if d > uint64(1)<<63-1 {
			return 1<<63 - 1
		}
		return int64(d)
	}
	d := uint64(b - a)
	if d > uint64(1)<<63 {
		return -(1 << 63)
	}
	return -int64(d)
}

// Range is a half-open byte range [Base, Base+Length).
type Range struct {
	Base   Address
	Length uint64
}

// End returns the exclusive end of the range.
func (r Range) End() Address {
	return r.Base.Add(r.Length)
}

// Contains reports whether a lies within [Base, End).
func (r Range) Contains(a Address) bool {
	return a >= r.Base && a < r.End()
}
