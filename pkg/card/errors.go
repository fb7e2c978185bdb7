package card

import (
	"errors"
	"fmt"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
)

// Expected negative outcomes. Callers decide the next step (prompt for a PIN,
// authenticate first, abandon).
var (
	ErrCardLocked       = errors.New("card is locked: no presentation attempts left")
	ErrPinUnreadable    = errors.New("PIN is not readable from security memory")
	ErrPinNotFound      = errors.New("PIN not found")
	ErrInvalidPinLength = errors.New("invalid PIN length")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrWriteBlocked     = errors.New("write blocked: card not authenticated")
	ErrNotSupported     = errors.New("operation not supported by this card family")
	ErrCardRead         = errors.New("card read returned no data")
	ErrProtectFailed    = errors.New("protection bit not set")
)

// TransportError is the reader connection failure type.
type TransportError = apdu.TransportError

// ProtocolError reports a command the reader or the card refused (SW1 != 90).
type ProtocolError struct {
	Status  apdu.StatusWord
	Context string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Context, e.Status.Verbose())
}

// AuthenticationError reports a rejected PIN presentation, or a presentation
// the card accepted but whose security memory readback does not match.
type AuthenticationError struct {
	Status    apdu.StatusWord
	Remaining int // attempts left after the presentation, -1 when unknown
	Reason    string
}

func (e *AuthenticationError) Error() string {
	msg := fmt.Sprintf("authentication failed: %s (SW=%04X)", e.Reason, uint16(e.Status))
	if e.Remaining >= 0 {
		msg += fmt.Sprintf(", %d attempts left", e.Remaining)
	}
	return msg
}

// CheckPIN validates the PIN length for the family.
func CheckPIN(f Family, pin []byte) error {
	if len(pin) != f.PINLength() {
		return fmt.Errorf("%w: got %d bytes, %s needs %d", ErrInvalidPinLength, len(pin), f, f.PINLength())
	}
	return nil
}
