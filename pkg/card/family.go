package card

import (
	"fmt"
	"strings"
)

// Family identifies a memory card chip family. It selects the wire protocol,
// the memory size and the PIN length.
type Family int

const (
	Unknown Family = iota
	SLE4442
	SLE5542
	SLE4428
	SLE5528
)

// Wire is the low-level protocol spoken by the chip.
type Wire int

const (
	WireUnknown Wire = iota
	TwoWire
	ThreeWire
)

var familyNames = map[Family]string{
	Unknown: "Unknown",
	SLE4442: "SLE4442",
	SLE5542: "SLE5542",
	SLE4428: "SLE4428",
	SLE5528: "SLE5528",
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// Wire returns the protocol family of the chip.
func (f Family) Wire() Wire {
	switch f {
	case SLE4442, SLE5542:
		return TwoWire
	case SLE4428, SLE5528:
		return ThreeWire
	default:
		return WireUnknown
	}
}

// MemorySize returns the main memory size in bytes (0 for Unknown).
func (f Family) MemorySize() int {
	switch f.Wire() {
	case TwoWire:
		return 256
	case ThreeWire:
		return 1024
	default:
		return 0
	}
}

// PINLength returns the length of the programmable security code.
func (f Family) PINLength() int {
	switch f.Wire() {
	case TwoWire:
		return 3
	case ThreeWire:
		return 2
	default:
		return 0
	}
}

// counterMask selects the error counter bits that count attempts.
func (f Family) counterMask() byte {
	if f.Wire() == TwoWire {
		return 0x07
	}
	return 0xFF
}

func (w Wire) String() string {
	switch w {
	case TwoWire:
		return "2-wire"
	case ThreeWire:
		return "3-wire"
	default:
		return "unknown"
	}
}

// ParseFamily parses a family name such as "sle4442" or "5528".
// The empty string parses as Unknown.
func ParseFamily(s string) (Family, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return Unknown, nil
	}
	if !strings.HasPrefix(name, "SLE") {
		name = "SLE" + name
	}
	for f, n := range familyNames {
		if strings.ToUpper(n) == name {
			return f, nil
		}
	}
	if name == "SLEUNKNOWN" {
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown card family %q", s)
}
