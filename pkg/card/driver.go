package card

import (
	"io"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
)

// Transport is the reader connection a driver is bound to.
type Transport interface {
	apdu.Transmitter
	ATR() ([]byte, error)
}

// Driver is the family-independent view of a memory card. One implementation
// exists per wire protocol and is chosen once, from the detected family.
type Driver interface {
	Family() Family
	Size() int
	IsAuthenticated() bool

	ReadAll() ([]byte, error)
	ReadRange(start, length int) ([]byte, error)
	ReadSecurityMemory() (SecurityMemory, error)
	ProtectionBitmap() (ProtectionBitmap, error)

	Authenticate(pin []byte) error
	ChangePIN(pin []byte) error
	WriteBytes(addr int, data []byte) error
	ProtectByte(addr int) error
	SetProtectionBits(addrs []int) error

	Memory() []byte
	ImportImage(r io.Reader) error
	ExportImage(w io.Writer) error
	Reset()
}
