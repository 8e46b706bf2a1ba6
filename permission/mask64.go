package permission

import "math/bits"

const maskBits = 64

// Mask64 is a fixed-width permission bitmask.
type Mask64 uint64

func (m Mask64) Has(bit int) bool {
	if bit < 0 || bit >= maskBits {
		return false
	}
	return (m & (1 << bit)) != 0
}

func (m *Mask64) Set(bit int) {
	if bit < 0 || bit >= maskBits {
		return
	}
	*m |= (1 << bit)
}

func (m *Mask64) Clear(bit int) {
	if bit < 0 || bit >= maskBits {
		return
	}
	*m &^= (1 << bit)
}

// Count returns the number of set bits.
func (m Mask64) Count() int {
	return bits.OnesCount64(uint64(m))
}

// Subset reports whether every bit of m is also set in other.
func (m Mask64) Subset(other Mask64) bool {
	return m&^other == 0
}

func (m Mask64) Raw() uint64 {
	return uint64(m)
}
