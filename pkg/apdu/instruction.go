package apdu

import "fmt"

// Instruction bytes understood by ACR38-class readers when CLA = 0xFF.
//
// They reuse ISO 7816-4 opcodes where a natural equivalent exists (READ BINARY,
// VERIFY, WRITE BINARY, SELECT) and claim the BER-TLV variants (B1, B2, D1, D2)
// for the memory card specific registers. INS 0x70 is the transparent
// exchange used to tunnel native 3-wire commands.

// InsCode is a typed representation of the instruction byte.
type InsCode byte

const (
	INS_VERIFY               InsCode = 0x20
	INS_TRANSPARENT_EXCHANGE InsCode = 0x70
	INS_SELECT_CARD_TYPE     InsCode = 0xA4
	INS_READ_BINARY          InsCode = 0xB0
	INS_READ_SECURITY        InsCode = 0xB1
	INS_READ_PROTECTION      InsCode = 0xB2
	INS_WRITE_BINARY         InsCode = 0xD0
	INS_WRITE_PROTECTION     InsCode = 0xD1
	INS_CHANGE_CODE          InsCode = 0xD2
)

var insNames = map[InsCode]string{
	INS_VERIFY:               "VERIFY (PRESENT CODE)",
	INS_TRANSPARENT_EXCHANGE: "TRANSPARENT EXCHANGE",
	INS_SELECT_CARD_TYPE:     "SELECT CARD TYPE",
	INS_READ_BINARY:          "READ MEMORY",
	INS_READ_SECURITY:        "READ SECURITY MEMORY",
	INS_READ_PROTECTION:      "READ PROTECTION BITS",
	INS_WRITE_BINARY:         "WRITE MEMORY",
	INS_WRITE_PROTECTION:     "WRITE PROTECTION",
	INS_CHANGE_CODE:          "CHANGE CODE",
}

// String returns the command name of the instruction.
func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("InsCode(%02X)", byte(i))
}

// Verbose returns a human-readable description of the instruction.
func (i InsCode) Verbose() string {
	return fmt.Sprintf("INS: 0x%02X | Command: %s", byte(i), i.String())
}
