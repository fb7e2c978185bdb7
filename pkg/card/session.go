/*
Package card implements the protocol layer shared by the memory card drivers.

A Session owns everything learned from one connection: the memory image, the
security register and the authentication state. Nothing is
cached across connections; Reset drops it all.

The base session speaks the reader's byte-oriented 2-wire commands (READ
MEMORY, WRITE MEMORY, PRESENT CODE...). Family drivers embed it and replace
the operations their chip performs differently.

# Error model

  - *TransportError: the reader connection failed. Always fatal to the operation.
  - *ProtocolError: the reader answered with SW1 != 90.
  - *AuthenticationError: the PIN presentation was rejected or did not verify.
  - Sentinels (ErrWriteBlocked, ErrCardLocked...): expected negative outcomes.

No command is ever re-sent automatically: a second PRESENT CODE burns another
attempt of the card's error counter.
*/
package card

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
)

// Chunk limits of the reader firmware.
const (
	MaxReadChunk  = 240
	MaxWriteChunk = 16
)

// Session is the protocol state bound to one card connection.
type Session struct {
	Client *apdu.Client

	log           *slog.Logger
	family        Family
	memory        []byte
	security      *SecurityMemory
	authenticated bool
}

// NewSession creates a session for the family. A nil logger discards output.
func NewSession(client *apdu.Client, family Family, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Session{
		Client: client,
		log:    logger.With("family", family.String()),
		family: family,
	}
	s.Reset()
	return s
}

// Family returns the chip family the session was created for.
func (s *Session) Family() Family { return s.family }

// Size returns the main memory size.
func (s *Session) Size() int { return len(s.memory) }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.log }

// IsAuthenticated reports whether a PIN was verified on this connection.
func (s *Session) IsAuthenticated() bool { return s.authenticated }

// SetAuthenticated is used by drivers running their own verification sequence.
func (s *Session) SetAuthenticated(v bool) {
	if v != s.authenticated {
		s.log.Info("authentication state changed", "authenticated", v)
	}
	s.authenticated = v
}

// Memory returns a copy of the memory image.
func (s *Session) Memory() []byte {
	return append([]byte(nil), s.memory...)
}

// StoreMemory copies data into the memory image at addr.
func (s *Session) StoreMemory(addr int, data []byte) {
	if addr < 0 || addr >= len(s.memory) {
		return
	}
	copy(s.memory[addr:], data)
}

// CachedSecurityMemory returns the last security memory read, if any.
func (s *Session) CachedSecurityMemory() (SecurityMemory, bool) {
	if s.security == nil {
		return SecurityMemory{}, false
	}
	return *s.security, true
}

// CacheSecurityMemory replaces the cached security register.
func (s *Session) CacheSecurityMemory(sm SecurityMemory) {
	s.security = &sm
}

// Reset drops every piece of state learned from the card. It must be called
// when the connection is lost.
func (s *Session) Reset() {
	s.memory = bytes.Repeat([]byte{0xFF}, s.family.MemorySize())
	s.security = nil
	s.authenticated = false
}

// CheckRange validates [addr, addr+length) against the memory size.
func (s *Session) CheckRange(addr, length int) error {
	if addr < 0 || length < 0 || addr+length > len(s.memory) {
		return fmt.Errorf("%w: [%d, %d) outside 0..%d", ErrInvalidAddress, addr, addr+length, len(s.memory))
	}
	return nil
}

// TransmitChecked sends cmd and returns the response data. Any status other
// than SW1 = 90 becomes a *ProtocolError carrying context.
func (s *Session) TransmitChecked(cmd *apdu.Command, context string) ([]byte, error) {
	resp, err := s.Client.Send(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Status.IsSuccess() {
		s.log.Debug("command refused", "op", context, "sw", resp.Status.String())
		return nil, &ProtocolError{Status: resp.Status, Context: context}
	}
	return resp.Data, nil
}

// ReadRange reads length bytes starting at start in chunks of at most
// MaxReadChunk bytes. The address advances by the bytes actually returned,
// so short reads are resumed.
func (s *Session) ReadRange(start, length int) ([]byte, error) {
	if err := s.CheckRange(start, length); err != nil {
		return nil, err
	}

	out := make([]byte, 0, length)
	pos := start
	remaining := length

	for remaining > 0 {
		chunk := min(remaining, MaxReadChunk)
		data, err := s.TransmitChecked(apdu.ReadBinary(uint16(pos), chunk), fmt.Sprintf("read [%d:%d]", pos, chunk))
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w at address %d", ErrCardRead, pos)
		}
		if len(data) > chunk {
			data = data[:chunk]
		}

		out = append(out, data...)
		pos += len(data)
		remaining -= len(data)
	}

	return out, nil
}

// ReadAll reads the whole main memory into the image.
func (s *Session) ReadAll() ([]byte, error) {
	if len(s.memory) <= 0 {
		return nil, fmt.Errorf("%w: memory size unknown for %s", ErrCardRead, s.family)
	}

	s.log.Info("reading main memory", "bytes", len(s.memory))
	data, err := s.ReadRange(0, len(s.memory))
	if err != nil {
		return nil, err
	}
	copy(s.memory, data)
	return s.Memory(), nil
}

// ReadSecurityMemory reads the error counter and reference data (FF B1).
func (s *Session) ReadSecurityMemory() (SecurityMemory, error) {
	raw, err := s.TransmitChecked(apdu.ReadSecurityMemory(), "read security memory")
	if err != nil {
		return SecurityMemory{}, err
	}
	sm, err := ParseSecurityMemory(s.family, raw)
	if err != nil {
		return SecurityMemory{}, err
	}
	s.security = &sm
	s.log.Debug("security memory", "counter", fmt.Sprintf("%02X", sm.Counter), "attempts", sm.RemainingAttempts())
	return sm, nil
}

// ReadProtectionMemory reads the raw protection register (FF B2).
func (s *Session) ReadProtectionMemory() ([]byte, error) {
	raw, err := s.TransmitChecked(apdu.ReadProtectionMemory(), "read protection memory")
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), raw...), nil
}


// Authenticate presents the PIN and checks it against the security memory
// readback. The card accepting the VERIFY is not enough: the readback must
// expose the same code.
func (s *Session) Authenticate(pin []byte) error {
	if err := CheckPIN(s.family, pin); err != nil {
		return err
	}

	// The pre-read is advisory. Some readers return a stale counter.
	if before, err := s.ReadSecurityMemory(); err != nil {
		s.log.Warn("security memory unreadable before verify", "err", err)
	} else if before.IsLocked() {
		s.log.Warn("card reports no attempts left, presenting anyway", "err", ErrCardLocked)
	}

	resp, err := s.Client.Send(apdu.Verify(pin))
	if err != nil {
		return err
	}
	if !resp.Status.IsSuccess() {
		s.SetAuthenticated(false)
		return &AuthenticationError{Status: resp.Status, Remaining: -1, Reason: "PIN rejected"}
	}

	after, err := s.ReadSecurityMemory()
	if err != nil {
		return err
	}

	if !bytes.Equal(after.PIN, pin) {
		s.SetAuthenticated(false)
		return &AuthenticationError{
			Status:    resp.Status,
			Remaining: after.RemainingAttempts(),
			Reason:    "security memory readback mismatch",
		}
	}

	s.SetAuthenticated(true)
	s.log.Info("authenticated", "attempts", after.RemainingAttempts())
	return nil
}

// WriteBytes writes data at addr in chunks of at most MaxWriteChunk bytes and
// updates the image after each accepted chunk.
func (s *Session) WriteBytes(addr int, data []byte) error {
	if !s.authenticated {
		return ErrWriteBlocked
	}
	if err := s.CheckRange(addr, len(data)); err != nil {
		return err
	}

	for off := 0; off < len(data); off += MaxWriteChunk {
		chunk := data[off:min(off+MaxWriteChunk, len(data))]
		at := addr + off

		if _, err := s.TransmitChecked(apdu.WriteBinary(uint16(at), chunk), fmt.Sprintf("write [%d:%d]", at, len(chunk))); err != nil {
			return err
		}
		copy(s.memory[at:], chunk)
	}

	s.log.Info("memory written", "addr", addr, "bytes", len(data))
	return nil
}

// ProtectByte is family specific.
func (s *Session) ProtectByte(addr int) error {
	return fmt.Errorf("protect byte %d: %w", addr, ErrNotSupported)
}

// ChangePIN replaces the reference PIN of a 2-wire chip (FF D2).
func (s *Session) ChangePIN(pin []byte) error {
	if err := CheckPIN(s.family, pin); err != nil {
		return err
	}
	if !s.authenticated {
		return ErrWriteBlocked
	}

	if _, err := s.TransmitChecked(apdu.ChangeCode(pin), "change PIN"); err != nil {
		return err
	}

	sm := SecurityMemory{Family: s.family, Counter: s.family.counterMask(), PIN: append([]byte(nil), pin...)}
	if s.security != nil {
		sm.Counter = s.security.Counter
	}
	s.security = &sm
	s.log.Info("PIN changed")
	return nil
}
