package card

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/wikilift/sle-suite-pro/pkg/bits"
)

// SecurityMemory is the decoded security area of a card: the error counter
// followed by the programmable security code (PSC).
//
//	2-wire: [counter, PSC1, PSC2, PSC3]  (counter bits 3..1 are the attempts)
//	3-wire: [counter, PSC1, PSC2]        (every counter bit is an attempt)
//
// A 2-wire card only exposes the PSC after a successful presentation and
// returns 00 00 00 otherwise.
type SecurityMemory struct {
	Family  Family
	Counter byte
	PIN     []byte
}

// ParseSecurityMemory decodes the raw register for the family.
func ParseSecurityMemory(f Family, raw []byte) (SecurityMemory, error) {
	if len(raw) < 1+f.PINLength() {
		return SecurityMemory{}, fmt.Errorf("%w: security memory is %d bytes, want %d", ErrCardRead, len(raw), 1+f.PINLength())
	}
	return SecurityMemory{
		Family:  f,
		Counter: raw[0],
		PIN:     append([]byte(nil), raw[1:1+f.PINLength()]...),
	}, nil
}

// RemainingAttempts counts the set attempt bits of the error counter.
func (s SecurityMemory) RemainingAttempts() int {
	return bits.Count(s.Counter & s.Family.counterMask())
}

// IsLocked reports an error counter of 00. A 2-wire counter with only its
// unused upper bits set still reads the PIN back, so it is not locked.
func (s SecurityMemory) IsLocked() bool {
	return s.Counter == 0
}

// PINVisible reports whether the PSC bytes hold something other than the
// 00 sentinel the chip returns when it hides the code.
func (s SecurityMemory) PINVisible() bool {
	return len(s.PIN) > 0 && !bytes.Equal(s.PIN, make([]byte, len(s.PIN)))
}

// Bytes re-encodes the register in its raw layout.
func (s SecurityMemory) Bytes() []byte {
	return append([]byte{s.Counter}, s.PIN...)
}

func (s SecurityMemory) String() string {
	return fmt.Sprintf("counter=%02X (%d attempts) PSC=% X", s.Counter, s.RemainingAttempts(), s.PIN)
}

// ProtectionBitmap holds one "protected" flag per byte address. 2-wire chips
// only cover addresses 0..31; 3-wire chips cover the whole memory.
type ProtectionBitmap []bool

// DecodeProtection expands protection memory bytes, least significant bit
// first. A clear bit marks a protected byte.
func DecodeProtection(pm []byte) ProtectionBitmap {
	return ProtectionBitmap(bits.Unpack(pm, false))
}

// Protected reports the flag of addr. Addresses outside the bitmap are free.
func (p ProtectionBitmap) Protected(addr int) bool {
	return addr >= 0 && addr < len(p) && p[addr]
}

// Count returns the number of protected addresses.
func (p ProtectionBitmap) Count() int {
	n := 0
	for _, v := range p {
		if v {
			n++
		}
	}
	return n
}

// Free returns the number of addresses that can still be protected.
func (p ProtectionBitmap) Free() int {
	return len(p) - p.Count()
}

// Addresses lists the protected addresses in ascending order.
func (p ProtectionBitmap) Addresses() []int {
	var out []int
	for addr, v := range p {
		if v {
			out = append(out, addr)
		}
	}
	return out
}

// Run is a contiguous range of addresses.
type Run struct {
	Start int
	Len   int
}

// End returns the address following the run.
func (r Run) End() int {
	return r.Start + r.Len
}

// Coalesce sorts and de-duplicates addrs and merges them into maximal
// contiguous runs: {3,4,5,9} gives [3..5] and [9..9].
func Coalesce(addrs []int) []Run {
	if len(addrs) == 0 {
		return nil
	}

	sorted := append([]int(nil), addrs...)
	sort.Ints(sorted)

	runs := []Run{{Start: sorted[0], Len: 1}}
	for _, a := range sorted[1:] {
		last := &runs[len(runs)-1]
		switch {
		case a < last.End():
			// duplicate
		case a == last.End():
			last.Len++
		default:
			runs = append(runs, Run{Start: a, Len: 1})
		}
	}
	return runs
}
