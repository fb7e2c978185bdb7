/*
Package sle4428 drives the 3-wire SLE4428 and SLE5528 chips.

The chips have 1024 bytes of memory, each with its own protection bit. The
last three bytes hold the security area:

	1021  error counter (8 attempts, one bit each)
	1022  PSC byte 1
	1023  PSC byte 2

Every native command addresses exactly one byte, so a full read is 1024
exchanges. The reader tunnels them through the 3-wire envelope built by
package apdu.

# Verification sequence

	1. read the error counter (no set bit: the card is locked)
	2. write one counter bit to 0
	3. compare PSC byte 1 at 1022, then PSC byte 2 at 1023
	4. erase the counter back to FF (only possible after a match)
	5. read the counter again: FF means verified
*/
package sle4428

import (
	"fmt"
	"log/slog"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
	"github.com/wikilift/sle-suite-pro/pkg/bits"
	"github.com/wikilift/sle-suite-pro/pkg/card"
)

// ReservedStart is the first address of the security area.
const ReservedStart = int(apdu.AddrErrorCounter)

// Card is an SLE4428/5528 driver bound to one connection.
type Card struct {
	*card.Session

	bitmap      card.ProtectionBitmap
	bitmapKnown bool
}

var _ card.Driver = (*Card)(nil)

// New creates a driver for an SLE4428 or SLE5528. A nil logger discards output.
func New(client *apdu.Client, family card.Family, logger *slog.Logger) (*Card, error) {
	if family.Wire() != card.ThreeWire {
		return nil, fmt.Errorf("sle4428: %s is not a 3-wire family", family)
	}
	c := &Card{Session: card.NewSession(client, family, logger)}
	c.Reset()
	return c, nil
}

// Reset drops the session state and the protection flags.
func (c *Card) Reset() {
	c.Session.Reset()
	c.bitmap = make(card.ProtectionBitmap, c.Size())
	c.bitmapKnown = false
}

// exec sends a 3-wire command and returns n bytes of card data.
func (c *Card) exec(cmd *apdu.Command, context string, n int) ([]byte, error) {
	data, err := c.TransmitChecked(cmd, context)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	payload, err := apdu.ThreeWirePayload(data, n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", context, card.ErrCardRead, err)
	}
	return payload, nil
}

func (c *Card) read9(addr int) (value byte, protected bool, err error) {
	data, err := c.exec(apdu.Read9(uint16(addr)), fmt.Sprintf("read9 [%d]", addr), 2)
	if err != nil {
		return 0, false, err
	}
	// The protection flag is active low.
	return data[0], data[1]&0x01 == 0, nil
}

func (c *Card) read8(addr int) (byte, error) {
	data, err := c.exec(apdu.Read8(uint16(addr)), fmt.Sprintf("read8 [%d]", addr), 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// ReadRange reads one byte per command, together with its protection flag.
func (c *Card) ReadRange(start, length int) ([]byte, error) {
	if err := c.CheckRange(start, length); err != nil {
		return nil, err
	}

	out := make([]byte, length)
	for i := range out {
		v, protected, err := c.read9(start + i)
		if err != nil {
			return nil, err
		}
		out[i] = v
		c.bitmap[start+i] = protected
	}
	return out, nil
}

// ReadAll reads the whole memory and every protection flag.
func (c *Card) ReadAll() ([]byte, error) {
	c.Logger().Info("reading main memory", "bytes", c.Size())

	data, err := c.ReadRange(0, c.Size())
	if err != nil {
		return nil, err
	}
	c.StoreMemory(0, data)
	c.bitmapKnown = true
	return c.Memory(), nil
}

// ProtectionBitmap returns the protection flags, reading the card first if
// they were never read on this connection.
func (c *Card) ProtectionBitmap() (card.ProtectionBitmap, error) {
	if !c.bitmapKnown {
		if _, err := c.ReadAll(); err != nil {
			return nil, err
		}
	}
	return append(card.ProtectionBitmap(nil), c.bitmap...), nil
}

// ReadSecurityMemory reads the counter and both PSC bytes (1021..1023). The
// PSC bytes read as 00 until the card is verified.
func (c *Card) ReadSecurityMemory() (card.SecurityMemory, error) {
	raw := make([]byte, 0, 3)
	for _, addr := range []uint16{apdu.AddrErrorCounter, apdu.AddrPSC1, apdu.AddrPSC2} {
		v, err := c.read8(int(addr))
		if err != nil {
			return card.SecurityMemory{}, err
		}
		raw = append(raw, v)
	}

	sm, err := card.ParseSecurityMemory(c.Family(), raw)
	if err != nil {
		return card.SecurityMemory{}, err
	}
	c.CacheSecurityMemory(sm)
	return sm, nil
}

// Authenticate runs the verification sequence with a 2-byte PSC.
func (c *Card) Authenticate(pin []byte) error {
	if err := card.CheckPIN(c.Family(), pin); err != nil {
		return err
	}

	counter, err := c.read8(ReservedStart)
	if err != nil {
		return err
	}
	if bits.Count(counter) == 0 {
		c.SetAuthenticated(false)
		return card.ErrCardLocked
	}

	// Clear the lowest set bit.
	steps := []struct {
		cmd     *apdu.Command
		context string
	}{
		{apdu.WriteErrorCounter(counter & (counter - 1)), "write error counter"},
		{apdu.CompareVerify(apdu.AddrPSC1, pin[0]), "compare PSC1"},
		{apdu.CompareVerify(apdu.AddrPSC2, pin[1]), "compare PSC2"},
		{apdu.Write3W(apdu.AddrErrorCounter, 0xFF, false), "erase error counter"},
	}
	for _, step := range steps {
		if _, err := c.exec(step.cmd, step.context, 0); err != nil {
			c.SetAuthenticated(false)
			return err
		}
	}

	after, err := c.read8(ReservedStart)
	if err != nil {
		c.SetAuthenticated(false)
		return err
	}
	if after != 0xFF {
		c.SetAuthenticated(false)
		return &card.AuthenticationError{
			Status:    apdu.SW_NO_ERROR,
			Remaining: bits.Count(after),
			Reason:    "error counter not erased",
		}
	}

	c.CacheSecurityMemory(card.SecurityMemory{Family: c.Family(), Counter: after, PIN: append([]byte(nil), pin...)})
	c.SetAuthenticated(true)
	return nil
}

// PresentCode sends the reader-level 2-byte PRESENT CODE and returns the
// status word without interpreting it. PIN recovery uses it as an oracle.
func (c *Card) PresentCode(pin []byte) (apdu.StatusWord, error) {
	if err := card.CheckPIN(c.Family(), pin); err != nil {
		return 0, err
	}
	resp, err := c.Client.Send(apdu.Verify(pin))
	if err != nil {
		return 0, err
	}
	return resp.Status, nil
}

// ChangePIN writes the new PSC bytes at 1022 and 1023.
func (c *Card) ChangePIN(pin []byte) error {
	if err := card.CheckPIN(c.Family(), pin); err != nil {
		return err
	}
	if !c.IsAuthenticated() {
		return card.ErrWriteBlocked
	}

	if _, err := c.exec(apdu.Write3W(apdu.AddrPSC1, pin[0], false), "write PSC1", 0); err != nil {
		return err
	}
	if _, err := c.exec(apdu.Write3W(apdu.AddrPSC2, pin[1], false), "write PSC2", 0); err != nil {
		return err
	}

	c.StoreMemory(int(apdu.AddrPSC1), pin)
	c.CacheSecurityMemory(card.SecurityMemory{Family: c.Family(), Counter: 0xFF, PIN: append([]byte(nil), pin...)})
	c.Logger().Info("PIN changed")
	return nil
}

func (c *Card) checkUserArea(addr, length int) error {
	if err := c.CheckRange(addr, length); err != nil {
		return err
	}
	if addr+length > ReservedStart {
		return fmt.Errorf("%w: [%d, %d) overlaps the security area at %d", card.ErrInvalidAddress, addr, addr+length, ReservedStart)
	}
	return nil
}

// WriteBytes writes data at addr, one byte per command.
func (c *Card) WriteBytes(addr int, data []byte) error {
	return c.write(addr, data, false)
}

// WriteAndProtect writes data and burns the protection bit of every byte in
// the same write cycle.
func (c *Card) WriteAndProtect(addr int, data []byte) error {
	return c.write(addr, data, true)
}

func (c *Card) write(addr int, data []byte, protect bool) error {
	if !c.IsAuthenticated() {
		return card.ErrWriteBlocked
	}
	if err := c.checkUserArea(addr, len(data)); err != nil {
		return err
	}

	for i, b := range data {
		at := addr + i
		if _, err := c.exec(apdu.Write3W(uint16(at), b, protect), fmt.Sprintf("write [%d]", at), 0); err != nil {
			return err
		}
		c.StoreMemory(at, []byte{b})
		if protect {
			c.bitmap[at] = true
		}
	}

	c.Logger().Info("memory written", "addr", addr, "bytes", len(data), "protect", protect)
	return nil
}

// refresh reads addr with its protection flag into the image and bitmap.
func (c *Card) refresh(addr int) (byte, bool, error) {
	value, protected, err := c.read9(addr)
	if err != nil {
		return 0, false, err
	}
	c.StoreMemory(addr, []byte{value})
	c.bitmap[addr] = protected
	return value, protected, nil
}

// checkProtected reads the flags of addrs back and fails on the first one
// still clear.
func (c *Card) checkProtected(addrs []int) error {
	for _, a := range addrs {
		_, protected, err := c.refresh(a)
		if err != nil {
			return err
		}
		if !protected {
			return fmt.Errorf("%w at address %d", card.ErrProtectFailed, a)
		}
	}
	return nil
}

// ProtectByte burns the protection bit of addr. The byte is read first and
// its current value is sent as compare data.
func (c *Card) ProtectByte(addr int) error {
	if err := c.checkUserArea(addr, 1); err != nil {
		return err
	}
	if !c.IsAuthenticated() {
		return card.ErrWriteBlocked
	}

	value, protected, err := c.refresh(addr)
	if err != nil {
		return err
	}
	if protected {
		return nil
	}
	if _, err := c.exec(apdu.CompareAndProtect(uint16(addr), value), fmt.Sprintf("protect byte %d", addr), 0); err != nil {
		return err
	}
	return c.checkProtected([]int{addr})
}

// SetProtectionBits protects every address in addrs. The flags and values
// are read from the card first, already protected addresses are skipped and
// the rest is sent as one WRITE PROTECTION per contiguous run. The flags of
// the touched addresses are read back afterwards.
func (c *Card) SetProtectionBits(addrs []int) error {
	for _, a := range addrs {
		if err := c.checkUserArea(a, 1); err != nil {
			return err
		}
	}
	if !c.IsAuthenticated() {
		return card.ErrWriteBlocked
	}

	var todo []int
	for _, run := range card.Coalesce(addrs) {
		for a := run.Start; a < run.End(); a++ {
			_, protected, err := c.refresh(a)
			if err != nil {
				return err
			}
			if !protected {
				todo = append(todo, a)
			}
		}
	}
	if len(todo) == 0 {
		return nil
	}

	mem := c.Memory()
	for _, run := range card.Coalesce(todo) {
		cmd := apdu.WriteProtection(uint16(run.Start), mem[run.Start:run.End()])
		if _, err := c.TransmitChecked(cmd, fmt.Sprintf("protect [%d:%d]", run.Start, run.Len)); err != nil {
			return err
		}
	}

	if err := c.checkProtected(todo); err != nil {
		return err
	}
	c.Logger().Info("protection bits set", "addresses", len(todo))
	return nil
}
