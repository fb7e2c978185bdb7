// Package sle4442 drives the 2-wire SLE4442 and SLE5542 chips: 256 bytes of
// main memory, 32 protection bits covering addresses 0..31 and a 3-byte PSC
// guarded by a 3-attempt error counter.
package sle4442

import (
	"fmt"
	"log/slog"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
	"github.com/wikilift/sle-suite-pro/pkg/card"
	"github.com/wikilift/sle-suite-pro/pkg/chipdata"
)

// ProtectedArea is the number of leading bytes covered by protection bits.
const ProtectedArea = 32

// Card is an SLE4442/5542 driver bound to one connection.
type Card struct {
	*card.Session
}

var _ card.Driver = (*Card)(nil)

// New creates a driver for an SLE4442 or SLE5542. A nil logger discards output.
func New(client *apdu.Client, family card.Family, logger *slog.Logger) (*Card, error) {
	if family.Wire() != card.TwoWire {
		return nil, fmt.Errorf("sle4442: %s is not a 2-wire family", family)
	}
	return &Card{Session: card.NewSession(client, family, logger)}, nil
}

// SelectCardType tells the reader to run the 2-wire protocol.
func (c *Card) SelectCardType() error {
	_, err := c.TransmitChecked(apdu.SelectCardType(apdu.CardTypeSLE4442), "select card type")
	return err
}

// ReadAll selects the card type then reads the whole memory. Readers that do
// not need the selection may refuse it; that failure is only logged.
func (c *Card) ReadAll() ([]byte, error) {
	if err := c.SelectCardType(); err != nil {
		c.Logger().Warn("select card type failed, reading anyway", "err", err)
	}
	return c.Session.ReadAll()
}

// ProtectionBitmap reads the protection memory and decodes it.
func (c *Card) ProtectionBitmap() (card.ProtectionBitmap, error) {
	pm, err := c.ReadProtectionMemory()
	if err != nil {
		return nil, err
	}
	return card.DecodeProtection(pm), nil
}

func checkProtectable(addr int) error {
	if addr < 0 || addr >= ProtectedArea {
		return fmt.Errorf("%w: only addresses 0..%d carry a protection bit, got %d", card.ErrInvalidAddress, ProtectedArea-1, addr)
	}
	return nil
}

// ProtectByte burns the protection bit of addr with FF D1 00 <addr> 01 FF.
// The chip compares the data with the stored byte, so only an erased byte
// can be protected this way; SetProtectionBits protects written bytes.
func (c *Card) ProtectByte(addr int) error {
	if err := checkProtectable(addr); err != nil {
		return err
	}
	if !c.IsAuthenticated() {
		return card.ErrWriteBlocked
	}

	bitmap, err := c.ProtectionBitmap()
	if err != nil {
		return err
	}
	if bitmap.Protected(addr) {
		return nil
	}
	current, err := c.ReadRange(addr, 1)
	if err != nil {
		return err
	}
	c.StoreMemory(addr, current)
	if current[0] != 0xFF {
		return fmt.Errorf("%w: byte %d holds %02X, protect byte compares with FF", card.ErrProtectFailed, addr, current[0])
	}

	if _, err := c.TransmitChecked(apdu.ProtectByte(uint16(addr)), fmt.Sprintf("protect byte %d", addr)); err != nil {
		return err
	}
	if err := c.verifyProtected([]int{addr}); err != nil {
		return err
	}
	c.Logger().Info("byte protected", "addr", addr)
	return nil
}

// SetProtectionBits protects every address in addrs, skipping the ones
// already protected and sending one WRITE PROTECTION per contiguous run. The
// compare data is read from the card, not taken from the image.
func (c *Card) SetProtectionBits(addrs []int) error {
	for _, a := range addrs {
		if err := checkProtectable(a); err != nil {
			return err
		}
	}
	if !c.IsAuthenticated() {
		return card.ErrWriteBlocked
	}

	bitmap, err := c.ProtectionBitmap()
	if err != nil {
		return err
	}

	var todo []int
	for _, a := range addrs {
		if !bitmap.Protected(a) {
			todo = append(todo, a)
		}
	}
	if len(todo) == 0 {
		return nil
	}

	runs := card.Coalesce(todo)
	for _, run := range runs {
		current, err := c.ReadRange(run.Start, run.Len)
		if err != nil {
			return err
		}
		c.StoreMemory(run.Start, current)

		cmd := apdu.WriteProtection(uint16(run.Start), current)
		if _, err := c.TransmitChecked(cmd, fmt.Sprintf("protect [%d:%d]", run.Start, run.Len)); err != nil {
			return err
		}
	}

	if err := c.verifyProtected(todo); err != nil {
		return err
	}
	c.Logger().Info("protection bits set", "addresses", len(todo))
	return nil
}

// verifyProtected reads the protection memory back and fails on the first
// address whose bit is still set.
func (c *Card) verifyProtected(addrs []int) error {
	bitmap, err := c.ProtectionBitmap()
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if !bitmap.Protected(a) {
			return fmt.Errorf("%w at address %d", card.ErrProtectFailed, a)
		}
	}
	return nil
}

// ChipData decodes the identification block of the memory image.
func (c *Card) ChipData() (*chipdata.Metadata, error) {
	return chipdata.Decode(c.Memory())
}

// ReadPage reads one page from the card and refreshes the image.
func (c *Card) ReadPage(addr int) (*Page, error) {
	if addr%PageSize != 0 {
		return nil, fmt.Errorf("%w: page address %d not a multiple of %d", card.ErrInvalidAddress, addr, PageSize)
	}
	data, err := c.ReadRange(addr, PageSize)
	if err != nil {
		return nil, err
	}
	c.StoreMemory(addr, data)
	return newPage(addr, data), nil
}

// WritePage writes a page back to the card.
func (c *Card) WritePage(p *Page) error {
	if p.Addr%PageSize != 0 {
		return fmt.Errorf("%w: page address %d not a multiple of %d", card.ErrInvalidAddress, p.Addr, PageSize)
	}
	if err := c.WriteBytes(p.Addr, p.Data[:]); err != nil {
		return err
	}
	p.Dirty = false
	return nil
}

// Pages splits the memory image into its 16 pages.
func (c *Card) Pages() []*Page {
	mem := c.Memory()
	pages := make([]*Page, 0, len(mem)/PageSize)
	for addr := 0; addr < len(mem); addr += PageSize {
		pages = append(pages, newPage(addr, mem[addr:addr+PageSize]))
	}
	return pages
}

// PutByte writes a single byte.
func (c *Card) PutByte(addr int, value byte) error {
	return c.WriteBytes(addr, []byte{value})
}
