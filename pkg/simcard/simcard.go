// Package simcard provides a virtual memory card behind an ACR38-style
// reader. It answers the same pseudo-APDUs as the hardware and implements
// the reader connection (Transmit, ATR), so drivers and tools can run
// without a card.
//
// The simulation follows the chip datasheets where the behaviour is
// observable through the reader:
//   - writes to protected bytes, or before PIN verification, are silently
//     ignored by the chip (the reader still answers 90 00);
//   - a 2-wire PRESENT CODE always completes with SW 90 <counter>, so only the
//     security memory readback tells a good PIN from a bad one;
//   - the 3-wire 2-byte VERIFY reports a first-byte match when the second
//     byte is 00 (the partial match quirk PIN recovery relies on).
package simcard

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
)

// ErrRemoved is returned by Transmit once the card is pulled out.
var ErrRemoved = errors.New("simcard: card removed")

type wire int

const (
	twoWire wire = iota
	threeWire
)

// Default ATRs of the simulated chips.
var (
	ATR4442 = []byte{0x3B, 0x04, 0xA2, 0x13, 0x10, 0x91}
	ATR4428 = []byte{0x3B, 0x04, 0x28, 0x11, 0x00, 0x91}
)

// Card is a simulated memory card.
type Card struct {
	// ReadLimit caps the bytes returned by one READ MEMORY (0: no cap).
	ReadLimit int
	// Sent records every command received, in order.
	Sent [][]byte
	// Removed makes Transmit fail with ErrRemoved.
	Removed bool

	wire     wire
	atr      []byte
	mem      []byte
	prot     []bool
	psc      []byte
	counter  byte // 2-wire only; 3-wire keeps it in memory at 1021
	unlocked bool
	psc1OK   bool
}

// NewSLE4442 returns an erased 256-byte 2-wire card with the given 3-byte PSC.
func NewSLE4442(psc []byte) *Card {
	return &Card{
		wire:    twoWire,
		atr:     append([]byte(nil), ATR4442...),
		mem:     bytes.Repeat([]byte{0xFF}, 256),
		prot:    make([]bool, 32),
		psc:     append([]byte(nil), psc...),
		counter: 0x07,
	}
}

// NewSLE4428 returns an erased 1024-byte 3-wire card with the given 2-byte PSC.
func NewSLE4428(psc []byte) *Card {
	c := &Card{
		wire: threeWire,
		atr:  append([]byte(nil), ATR4428...),
		mem:  bytes.Repeat([]byte{0xFF}, 1024),
		prot: make([]bool, 1024),
	}
	c.mem[apdu.AddrErrorCounter] = 0xFF
	c.mem[apdu.AddrPSC1] = psc[0]
	c.mem[apdu.AddrPSC2] = psc[1]
	return c
}

// SetATR replaces the answer to reset.
func (c *Card) SetATR(atr []byte) { c.atr = append([]byte(nil), atr...) }

// Load writes data straight into the card memory, bypassing every check.
func (c *Card) Load(addr int, data []byte) { copy(c.mem[addr:], data) }

// Protect burns the protection bit of addr.
func (c *Card) Protect(addr int) { c.prot[addr] = true }

// Memory returns a copy of the card memory.
func (c *Card) Memory() []byte { return append([]byte(nil), c.mem...) }

// Protected reports the protection bit of addr.
func (c *Card) Protected(addr int) bool { return addr < len(c.prot) && c.prot[addr] }

// Counter returns the raw error counter.
func (c *Card) Counter() byte {
	if c.wire == threeWire {
		return c.mem[apdu.AddrErrorCounter]
	}
	return c.counter
}

// SetCounter overwrites the raw error counter.
func (c *Card) SetCounter(v byte) {
	if c.wire == threeWire {
		c.mem[apdu.AddrErrorCounter] = v
		return
	}
	c.counter = v
}

// Unlocked reports whether the PSC was verified.
func (c *Card) Unlocked() bool { return c.unlocked }

// ATR returns the answer to reset.
func (c *Card) ATR() ([]byte, error) {
	if c.Removed {
		return nil, ErrRemoved
	}
	return append([]byte(nil), c.atr...), nil
}

// Close is a no-op, present to match a real reader connection.
func (c *Card) Close() error { return nil }

// Transmit executes one pseudo-APDU and returns data + SW1 SW2.
func (c *Card) Transmit(cmd []byte) ([]byte, error) {
	if c.Removed {
		return nil, ErrRemoved
	}
	c.Sent = append(c.Sent, append([]byte(nil), cmd...))

	if len(cmd) < 4 || cmd[0] != apdu.ClassProprietary {
		return sw(apdu.SW_ERR_CLA_NOT_SUPPORTED), nil
	}

	ins := apdu.InsCode(cmd[1])
	p1, p2 := cmd[2], cmd[3]
	body := cmd[4:]

	switch ins {
	case apdu.INS_SELECT_CARD_TYPE:
		return sw(apdu.SW_NO_ERROR), nil
	case apdu.INS_VERIFY:
		return c.verify(lcData(body)), nil
	}

	addr := int(p1)<<8 | int(p2)

	if c.wire == threeWire {
		switch ins {
		case apdu.INS_TRANSPARENT_EXCHANGE:
			return c.threeWire(lcData(body)), nil
		case apdu.INS_WRITE_PROTECTION:
			c.compareProtect(addr, lcData(body))
			return sw(apdu.SW_NO_ERROR), nil
		}
		return sw(apdu.SW_ERR_INS_INVALID), nil
	}

	switch ins {
	case apdu.INS_READ_BINARY:
		return c.read(addr, le(body)), nil
	case apdu.INS_READ_SECURITY:
		out := []byte{c.counter, 0, 0, 0}
		if c.unlocked {
			copy(out[1:], c.psc)
		}
		return append(out, 0x90, 0x00), nil
	case apdu.INS_READ_PROTECTION:
		return append(c.protectionMemory(), 0x90, 0x00), nil
	case apdu.INS_WRITE_BINARY:
		c.write(addr, lcData(body))
		return sw(apdu.SW_NO_ERROR), nil
	case apdu.INS_WRITE_PROTECTION:
		c.compareProtect(addr, lcData(body))
		return sw(apdu.SW_NO_ERROR), nil
	case apdu.INS_CHANGE_CODE:
		if c.unlocked {
			c.psc = append([]byte(nil), lcData(body)...)
		}
		return sw(apdu.SW_NO_ERROR), nil
	}
	return sw(apdu.SW_ERR_INS_INVALID), nil
}

func (c *Card) read(addr, n int) []byte {
	if addr >= len(c.mem) {
		return sw(apdu.SW_ERR_INCORRECT_PARAMS_P1P2)
	}
	n = min(n, len(c.mem)-addr)
	if c.ReadLimit > 0 {
		n = min(n, c.ReadLimit)
	}
	return append(append([]byte(nil), c.mem[addr:addr+n]...), 0x90, 0x00)
}

func (c *Card) write(addr int, data []byte) {
	if !c.unlocked {
		return
	}
	for i, b := range data {
		a := addr + i
		if a >= len(c.mem) || c.Protected(a) {
			continue
		}
		c.mem[a] = b
	}
}

func (c *Card) compareProtect(addr int, data []byte) {
	if !c.unlocked {
		return
	}
	for i, b := range data {
		a := addr + i
		if a < len(c.prot) && c.mem[a] == b {
			c.prot[a] = true
		}
	}
}

func (c *Card) protectionMemory() []byte {
	pm := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	for a, p := range c.prot {
		if p {
			pm[a/8] &^= 1 << (a % 8)
		}
	}
	return pm
}

func (c *Card) verify(pin []byte) []byte {
	if c.wire == threeWire {
		if len(pin) != 2 {
			return sw(apdu.SW_ERR_WRONG_LENGTH)
		}
		return c.present3W(pin)
	}

	if len(pin) != 3 {
		return sw(apdu.SW_ERR_WRONG_LENGTH)
	}
	if c.counter&0x07 == 0 {
		return []byte{0x90, c.counter}
	}
	if bytes.Equal(pin, c.psc) {
		c.counter = 0x07
		c.unlocked = true
	} else {
		low := c.counter & 0x07
		c.counter = c.counter&^0x07 | low&(low-1)
		c.unlocked = false
	}
	return []byte{0x90, c.counter}
}

func (c *Card) present3W(pin []byte) []byte {
	psc1, psc2 := c.mem[apdu.AddrPSC1], c.mem[apdu.AddrPSC2]
	switch {
	case pin[0] == psc1 && pin[1] == psc2:
		c.unlocked = true
		return sw(apdu.SW_NO_ERROR)
	case pin[0] == psc1 && pin[1] == 0x00:
		return sw(apdu.SW_NO_ERROR)
	default:
		return sw(apdu.SW_WARN_VERIFY_FAILED)
	}
}

func (c *Card) threeWire(payload []byte) []byte {
	if len(payload) != 7 || !bytes.Equal(payload[:4], []byte{0xA6, 0x05, 0xA1, 0x03}) {
		return sw(apdu.SW_ERR_WRONG_PARAMS_NO_INFO)
	}

	ctl, lo, data := payload[4], payload[5], payload[6]
	code := apdu.ThreeWireCode(ctl & 0x3F)
	addr := int(ctl>>6)<<8 | int(lo)

	switch code {
	case apdu.TW_READ_9BITS:
		pb := byte(1)
		if c.prot[addr] {
			pb = 0
		}
		return reply3W(c.readable(addr), pb)
	case apdu.TW_READ_8BITS:
		return reply3W(c.readable(addr))
	case apdu.TW_WRITE_ERASE, apdu.TW_WRITE_ERASE_PROTECT:
		if c.unlocked && !c.prot[addr] {
			c.mem[addr] = data
			if code == apdu.TW_WRITE_ERASE_PROTECT {
				c.prot[addr] = true
			}
		}
	case apdu.TW_WRITE_PROTECT_COMPARE:
		if c.unlocked && c.mem[addr] == data {
			c.prot[addr] = true
		}
	case apdu.TW_WRITE_ERROR_COUNTER:
		if addr == int(apdu.AddrErrorCounter) {
			c.mem[addr] &= data
		}
	case apdu.TW_COMPARE_VERIFY:
		c.compareVerify(addr, data)
	default:
		return sw(apdu.SW_ERR_FUNC_NOT_SUPPORTED)
	}
	return reply3W()
}

func (c *Card) compareVerify(addr int, data byte) {
	if c.mem[apdu.AddrErrorCounter] == 0 {
		return
	}
	switch uint16(addr) {
	case apdu.AddrPSC1:
		c.psc1OK = data == c.mem[addr]
	case apdu.AddrPSC2:
		c.unlocked = c.psc1OK && data == c.mem[addr]
		c.psc1OK = false
	}
}

// readable hides the PSC bytes until the card is unlocked.
func (c *Card) readable(addr int) byte {
	if !c.unlocked && (addr == int(apdu.AddrPSC1) || addr == int(apdu.AddrPSC2)) {
		return 0x00
	}
	return c.mem[addr]
}

func reply3W(data ...byte) []byte {
	out := []byte{0x00, byte(len(data))}
	out = append(out, data...)
	return append(out, 0x90, 0x00)
}

func lcData(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	n := int(body[0])
	if len(body) < 1+n {
		return body[1:]
	}
	return body[1 : 1+n]
}

func le(body []byte) int {
	if len(body) == 0 {
		return 0
	}
	if body[len(body)-1] == 0 {
		return 256
	}
	return int(body[len(body)-1])
}

func sw(s apdu.StatusWord) []byte {
	return []byte{s.SW1(), s.SW2()}
}

// String describes the card for logs.
func (c *Card) String() string {
	kind := "SLE4442"
	if c.wire == threeWire {
		kind = "SLE4428"
	}
	return fmt.Sprintf("simulated %s (% X)", kind, c.atr)
}
