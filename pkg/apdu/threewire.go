package apdu

import "fmt"

// 3-WIRE COMMANDS (SLE4418 / SLE4428 / SLE5528):
//
// The chip's native command is 3 bytes long: a control byte, an address byte
// and a data byte. The control byte carries the 6-bit operation code in
// bits 6-1 and the two upper address bits (A9, A8) in bits 8-7.
//
// The reader tunnels it through a transparent exchange with a fixed envelope:
//
//	FF 70 07 6B 07 A6 05 A1 03 <ctl> <addr> <data> 00
//
// The reply data starts with a 2-byte header that is not part of the card's
// answer.

// ThreeWireCode is the 6-bit operation code of a 3-wire command.
type ThreeWireCode byte

const (
	TW_WRITE_PROTECT_COMPARE ThreeWireCode = 0x30 // write protection bit with data comparison
	TW_WRITE_ERASE_PROTECT   ThreeWireCode = 0x31 // write and erase with protection bit
	TW_WRITE_ERROR_COUNTER   ThreeWireCode = 0x32 // write a bit of the error counter
	TW_WRITE_ERASE           ThreeWireCode = 0x33 // write and erase without protection bit
	TW_READ_9BITS            ThreeWireCode = 0x0C // read data with protection bit
	TW_COMPARE_VERIFY        ThreeWireCode = 0x0D // compare verification data (PSC byte)
	TW_READ_8BITS            ThreeWireCode = 0x0E // read data without protection bit
)

// Fixed addresses of the 3-wire security area.
const (
	AddrErrorCounter uint16 = 1021
	AddrPSC1         uint16 = 1022
	AddrPSC2         uint16 = 1023
)

// ThreeWireResponseHeader is the number of envelope bytes preceding the card data.
const ThreeWireResponseHeader = 2

var threeWireEnvelope = []byte{0xA6, 0x05, 0xA1, 0x03}

// ControlByte merges the operation code with the address bits A9 and A8.
func ControlByte(code ThreeWireCode, addr uint16) byte {
	return byte(code)&0x3F | byte(addr>>8&0x03)<<6
}

// ThreeWire wraps a native 3-wire command into the reader envelope.
func ThreeWire(code ThreeWireCode, addr uint16, data byte) *Command {
	payload := make([]byte, 0, len(threeWireEnvelope)+3)
	payload = append(payload, threeWireEnvelope...)
	payload = append(payload, ControlByte(code, addr), byte(addr), data)

	return NewCommand(INS_TRANSPARENT_EXCHANGE, 0x07, 0x6B, payload, MaxShortLe)
}

// Read9 reads one data byte together with its protection bit.
func Read9(addr uint16) *Command {
	return ThreeWire(TW_READ_9BITS, addr, 0x00)
}

// Read8 reads one data byte without its protection bit.
func Read8(addr uint16) *Command {
	return ThreeWire(TW_READ_8BITS, addr, 0x00)
}

// Write3W writes one byte, optionally burning its protection bit in the same cycle.
func Write3W(addr uint16, value byte, protect bool) *Command {
	code := TW_WRITE_ERASE
	if protect {
		code = TW_WRITE_ERASE_PROTECT
	}
	return ThreeWire(code, addr, value)
}

// CompareAndProtect burns the protection bit of addr if value equals the stored byte.
func CompareAndProtect(addr uint16, value byte) *Command {
	return ThreeWire(TW_WRITE_PROTECT_COMPARE, addr, value)
}

// CompareVerify presents one PSC byte at its slot (AddrPSC1 or AddrPSC2).
func CompareVerify(slot uint16, value byte) *Command {
	return ThreeWire(TW_COMPARE_VERIFY, slot, value)
}

// WriteErrorCounter clears error counter bits (value is the new counter pattern).
func WriteErrorCounter(value byte) *Command {
	return ThreeWire(TW_WRITE_ERROR_COUNTER, AddrErrorCounter, value)
}

// ThreeWirePayload strips the envelope header from a 3-wire reply and
// returns exactly n bytes of card data.
func ThreeWirePayload(data []byte, n int) ([]byte, error) {
	if len(data) < ThreeWireResponseHeader+n {
		return nil, fmt.Errorf("3-wire reply too short: got %d bytes, want %d", len(data), ThreeWireResponseHeader+n)
	}
	return data[ThreeWireResponseHeader : ThreeWireResponseHeader+n], nil
}
