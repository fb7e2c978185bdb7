package sle4442

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
	"github.com/wikilift/sle-suite-pro/pkg/card"
	"github.com/wikilift/sle-suite-pro/pkg/tlv"
)

// PageSize is the size of a memory page.
const PageSize = 16

// Page is a 16-byte aligned window of main memory. Dirty is set by SetByte
// and cleared once the page is read from or written to the card.
type Page struct {
	Addr  int
	Data  [PageSize]byte
	Dirty bool
}

func newPage(addr int, data []byte) *Page {
	p := &Page{Addr: addr}
	copy(p.Data[:], data)
	return p
}

// End returns the last address covered by the page.
func (p *Page) End() int { return p.Addr + PageSize - 1 }

// SetByte changes one byte of the page and marks it dirty.
func (p *Page) SetByte(index int, value byte) error {
	if index < 0 || index >= PageSize {
		return fmt.Errorf("%w: page index %d", card.ErrInvalidAddress, index)
	}
	p.Data[index] = value
	p.Dirty = true
	return nil
}

// Hex renders the page as "FF FF ...".
func (p *Page) Hex() string { return apdu.FormatHex(p.Data[:]) }

// ASCII renders printable bytes and '.' for the rest.
func (p *Page) ASCII() string { return tlv.MakeSafeASCII(p.Data[:]) }

func (p *Page) String() string {
	mark := ""
	if p.Dirty {
		mark = " *"
	}
	return fmt.Sprintf("%03X  %s  |%s|%s", p.Addr, p.Hex(), p.ASCII(), mark)
}

// ParsePage reads a page back from its Hex form.
func ParsePage(addr int, line string) (*Page, error) {
	if addr%PageSize != 0 {
		return nil, fmt.Errorf("%w: page address %d not a multiple of %d", card.ErrInvalidAddress, addr, PageSize)
	}

	fields := strings.Fields(line)
	if len(fields) != PageSize {
		return nil, fmt.Errorf("page needs %d bytes, got %d", PageSize, len(fields))
	}

	p := &Page{Addr: addr}
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("byte %d: %w", i, err)
		}
		p.Data[i] = byte(v)
	}
	return p, nil
}
