// Package bits provides 1-indexed bit helpers (bit 1 is the least
// significant bit, bit 8 the most significant), the numbering used by
// memory card datasheets.
package bits

import mathbits "math/bits"

// Bit returns a byte with only the n-th bit set (1 to 8).
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

// IsSet checks if the n-th bit is set (1 to 8).
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// GetRange extracts the value from a range of bits (e.g., bits 4 to 3).
// Example: GetRange(0b00001100, 4, 3) returns 3 (0b11)
func GetRange(b byte, high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}

	width := high - low + 1
	mask := byte((1 << width) - 1)

	return (b >> (low - 1)) & mask
}

// Set returns b with the n-th bit set.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// Clear returns b with the n-th bit cleared.
func Clear(b byte, n uint) byte {
	return b &^ Bit(n)
}

// Count returns the number of set bits in b.
func Count(b byte) int {
	return mathbits.OnesCount8(b)
}

// Unpack expands data into one flag per bit, least significant bit first.
// A flag is true when the bit equals want, so Unpack(pm, false) yields
// "bit clear" flags for active-low registers.
func Unpack(data []byte, want bool) []bool {
	out := make([]bool, 0, len(data)*8)
	for _, b := range data {
		for n := uint(1); n <= 8; n++ {
			out = append(out, IsSet(b, n) == want)
		}
	}
	return out
}
